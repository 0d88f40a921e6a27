// Package deferral implements the deferral engine (§4.9): when selector
// resolution fails because no task matches, a catalog (or an implicit root
// rule) may declare a fallback command to hand the whole request to.
package deferral

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/manifest"
	"github.com/effigy/effigy/pkg/runner"
	"github.com/effigy/effigy/pkg/types"
)

// implicitRootTemplate is spawned when no catalog declares [defer].run but
// the root looks like a Composer project still carrying a legacy manifest.
const implicitRootTemplate = "composer global exec effigy -- {request} {args}"

// Command is a resolved deferral target: a command template, the directory
// it runs in, and a human-readable description of why it was picked.
type Command struct {
	Template   string
	WorkingDir string
	Source     string
}

// Select implements the four-tier deferral-source precedence: an explicit
// alias prefix's own catalog first, then the deepest in-scope catalog
// declaring [defer].run, then the shallowest catalog anywhere under root
// declaring it, then the implicit root rule. Returns nil if nothing
// matches.
func Select(explicitAlias string, catalogs []types.Catalog, invocationCwd, root string) *Command {
	if explicitAlias != "" {
		for i := range catalogs {
			if catalogs[i].Alias == explicitAlias && catalogs[i].Defer != nil {
				return fromCatalog(&catalogs[i])
			}
		}
	}

	var inScope []*types.Catalog
	for i := range catalogs {
		if catalogs[i].Defer == nil {
			continue
		}
		if isWithin(catalogs[i].Root, invocationCwd) {
			inScope = append(inScope, &catalogs[i])
		}
	}
	if len(inScope) > 0 {
		sort.Slice(inScope, func(i, j int) bool {
			a, b := inScope[i], inScope[j]
			if a.Depth != b.Depth {
				return a.Depth > b.Depth // deepest first
			}
			if a.Alias != b.Alias {
				return a.Alias < b.Alias
			}
			return a.ManifestPath < b.ManifestPath
		})
		return fromCatalog(inScope[0])
	}

	var anywhere []*types.Catalog
	for i := range catalogs {
		if catalogs[i].Defer != nil {
			anywhere = append(anywhere, &catalogs[i])
		}
	}
	if len(anywhere) > 0 {
		sort.Slice(anywhere, func(i, j int) bool {
			a, b := anywhere[i], anywhere[j]
			if a.Depth != b.Depth {
				return a.Depth < b.Depth // shallowest first
			}
			if a.Alias != b.Alias {
				return a.Alias < b.Alias
			}
			return a.ManifestPath < b.ManifestPath
		})
		return fromCatalog(anywhere[0])
	}

	return inferImplicitRootDeferral(root)
}

func fromCatalog(c *types.Catalog) *Command {
	return &Command{
		Template:   c.Defer.Run,
		WorkingDir: c.Root,
		Source:     "catalog " + c.Alias + " (" + c.ManifestPath + ")",
	}
}

func inferImplicitRootDeferral(root string) *Command {
	hasComposer := fileExists(filepath.Join(root, "composer.json"))
	hasLegacyManifest := fileExists(filepath.Join(root, manifest.LegacyFilename))
	if hasComposer && hasLegacyManifest {
		return &Command{
			Template:   implicitRootTemplate,
			WorkingDir: root,
			Source:     "implicit root deferral (composer.json + " + manifest.LegacyFilename + ")",
		}
	}
	return nil
}

// Run spawns the deferred command, enforcing the loop guard and
// propagating the child's exit code verbatim. request is the originally
// typed selector; args is the passthrough argument list from the
// invocation that failed to resolve.
func Run(ctx context.Context, cmd *Command, request string, args []string) (int, error) {
	if depthRaw := os.Getenv(types.EnvDeferDepth); depthRaw != "" {
		depth, err := strconv.Atoi(depthRaw)
		if err != nil || depth != 0 {
			return 0, &errs.DeferralLoop{Request: request}
		}
	}

	command := runner.Substitute(cmd.Template, cmd.WorkingDir, args, request)

	shell := os.Getenv("SHELL")
	if strings.TrimSpace(shell) == "" {
		shell = "sh"
	}
	shellArg := "-lc"
	if strings.HasSuffix(shell, "zsh") || strings.HasSuffix(shell, "bash") {
		shellArg = "-ic"
	}

	child := exec.CommandContext(ctx, shell, shellArg, command)
	child.Dir = cmd.WorkingDir
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Stdin = os.Stdin
	child.Env = append(os.Environ(), types.EnvDeferDepth+"=1")
	runner.WithLocalBinPath(child, cmd.WorkingDir)

	err := child.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func isWithin(root, cwd string) bool {
	rel, err := filepath.Rel(root, cwd)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
