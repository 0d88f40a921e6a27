// Package runner implements the process executor (§4.7): it substitutes
// interpolation tokens into a compiled step's command and runs it through a
// POSIX shell, satisfying pkg/scheduler's Executor interface.
package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/effigy/effigy/pkg/shelltoken"
	"github.com/effigy/effigy/pkg/types"
)

// StdioMode selects how a step's stdout/stderr are wired.
type StdioMode int

const (
	// StdioInherit connects the child directly to this process's stdio.
	StdioInherit StdioMode = iota
	// StdioCapture buffers stdout/stderr for inclusion in the RunReport
	// (machine/JSON mode).
	StdioCapture
)

// Executor runs compiled exec steps through a shell, substituting the
// {repo} and {args} interpolation tokens. One Executor is scoped to a
// single invocation: its repo path and passthrough args are fixed for
// every step it runs. Every step is run via a fixed "sh -c" to preserve
// existing script semantics regardless of the invoker's login shell;
// catalog shell_override selects the interactive shell spawned for a
// managed task's opt-in shell tab, a separate concern from step execution.
type Executor struct {
	Repo  string
	Args  []string
	Stdio StdioMode
	Env   []string // extra env vars appended to os.Environ()
}

// Execute implements scheduler.Executor. Ref-kind steps never reach here:
// the graph compiler flattens every reference into the referenced task's
// own exec steps before scheduling.
func (e *Executor) Execute(ctx context.Context, step types.RunStep) (int, string, string, error) {
	command := Substitute(step.Command, e.Repo, e.Args, "")

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), e.Env...)
	WithLocalBinPath(cmd, e.Repo)

	var stdout, stderr bytes.Buffer
	switch e.Stdio {
	case StdioCapture:
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	default:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	runErr := cmd.Run()
	exitCode := 0
	var reportErr error
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			// context cancellation, exec failure to start, etc: surface as
			// an error rather than a synthetic exit code so the scheduler's
			// timeout/failure branches can tell the difference.
			reportErr = runErr
		}
	}
	return exitCode, stdout.String(), stderr.String(), reportErr
}

// Substitute replaces {repo}, {args}, and {request} in a template with
// their shell-quoted values. request is empty for direct task execution;
// the deferral engine supplies it when re-dispatching a failed selector.
// Substitution is purely textual: it never re-expands, and quoting happens
// once here, not at exec time.
func Substitute(template, repo string, args []string, request string) string {
	replacer := strings.NewReplacer(
		"{repo}", shelltoken.Quote(repo),
		"{args}", shelltoken.QuoteAll(args),
		"{request}", shelltoken.Quote(request),
	)
	return replacer.Replace(template)
}

// WithLocalBinPath prepends "<dir>/node_modules/.bin" to PATH when it
// exists, so a manifest command (task step, deferral, or managed process)
// can invoke locally-installed JS tool binaries by bare name without a
// global install.
func WithLocalBinPath(cmd *exec.Cmd, dir string) {
	if dir == "" {
		return
	}
	localBin := filepath.Join(dir, "node_modules", ".bin")
	info, err := os.Stat(localBin)
	if err != nil || !info.IsDir() {
		return
	}
	path := os.Getenv("PATH")
	merged := localBin
	if path != "" {
		merged = localBin + string(os.PathListSeparator) + path
	}
	for i, kv := range cmd.Env {
		if strings.HasPrefix(kv, "PATH=") {
			cmd.Env[i] = "PATH=" + merged
			return
		}
	}
	cmd.Env = append(cmd.Env, "PATH="+merged)
}
