// Package types defines the core data model shared across effigy's
// resolution, compilation, and execution subsystems.
package types

import (
	"fmt"
	"time"
)

// ResolutionMode records how a Root was determined.
type ResolutionMode string

const (
	ResolutionExplicit     ResolutionMode = "explicit"
	ResolutionAutoNearest  ResolutionMode = "auto_nearest"
	ResolutionAutoPromoted ResolutionMode = "auto_promoted"
)

// RootMarkers are the filesystem entries that identify a candidate root
// directory.
var RootMarkers = []string{"package.json", "composer.json", "Cargo.toml", ".git"}

// Root is the resolved workspace directory for a single invocation.
type Root struct {
	Path     string
	Mode     ResolutionMode
	Marker   string
	Evidence string
}

// Selector is the user-typed target of a run: "task", "catalog/task",
// "./rel/path/task", or "../rel/task".
type Selector struct {
	Raw string
}

func NewSelector(raw string) Selector { return Selector{Raw: raw} }

func (s Selector) String() string { return s.Raw }

// SelectorMode records which precedence tier resolved a Selector.
type SelectorMode string

const (
	ModeExplicitPrefix SelectorMode = "explicit_prefix"
	ModePathPrefix     SelectorMode = "path_prefix"
	ModeCWDNearest     SelectorMode = "cwd_nearest"
	ModeShallowest     SelectorMode = "shallowest"
	ModeBuiltin        SelectorMode = "builtin"
)

// BuiltinNames are the reserved selectors that short-circuit catalog/task
// resolution tiers 3-4.
var BuiltinNames = map[string]bool{
	"help":    true,
	"tasks":   true,
	"test":    true,
	"doctor":  true,
	"init":    true,
	"migrate": true,
	"config":  true,
	"watch":   true,
	"unlock":  true,
}

// Catalog is a directory containing a manifest, providing named tasks.
type Catalog struct {
	Root           string
	ManifestPath   string
	CanonicalPath  string // canonicalized manifest path, used for alias dedup
	Alias          string
	Depth          int
	Tasks          map[string]TaskDef
	Defer          *DeferConfig
	PackageManager PackageManagerConfig
	Test           TestConfig
	ShellOverride  string
}

// DeferConfig is the "[defer]" table of a manifest.
type DeferConfig struct {
	Run string
}

// PackageManagerConfig is the "[package_manager]" table of a manifest.
type PackageManagerConfig struct {
	JS string // "bun" | "pnpm" | "npm" | "node"
}

// TestConfig is the "[test]" table of a manifest.
type TestConfig struct {
	MaxParallel int
	Suites      map[string]string
	Runners     map[string]TestRunner
}

// TestRunner is a "[test.runners]" entry, which may be a bare command
// string or a table with a "command" key.
type TestRunner struct {
	Command string
}

// TaskKind tags the polymorphic TaskDef variant.
type TaskKind string

const (
	TaskKindExec    TaskKind = "exec"
	TaskKindManaged TaskKind = "managed"
	TaskKindAlias   TaskKind = "alias"
)

// TaskDef is one manifest task entry, normalized from any of the compact
// run/compact chain/full table source forms into a uniform sequence of
// RunSteps plus a policy envelope.
type TaskDef struct {
	Kind          TaskKind
	Steps         []RunStep // TaskKindExec
	FailOnNonZero bool      // TaskKindExec, default true
	Concurrent    []ManagedEntry
	Profiles      map[string]ManagedProfile
	Shell         bool   // TaskKindManaged: opt-in shell tab
	AliasSelector string // TaskKindAlias
}

// ManagedEntry is one "concurrent" process descriptor for a managed task,
// handled entirely by the external multi-pane TUI collaborator.
type ManagedEntry struct {
	Name         string
	Task         string
	Run          string
	Start        string
	Tab          string
	StartAfterMs int
}

// ManagedProfile is a "[tasks.<name>.profiles.<profile>]" override set.
type ManagedProfile struct {
	Concurrent []ManagedEntry
}

// RunStepKind tags whether a RunStep executes a shell command or defers
// to another task by selector.
type RunStepKind string

const (
	StepKindExec RunStepKind = "exec"
	StepKindRef  RunStepKind = "ref"
)

// Policy is the per-node envelope controlling timeout, retry, and
// fail-fast cascade behavior.
type Policy struct {
	TimeoutMs    int // 0 = no timeout
	Retry        int // additional attempts after the first
	RetryDelayMs int
	FailFast     bool // default true
}

// DefaultPolicy returns the policy applied when a step omits overrides.
func DefaultPolicy() Policy { return Policy{FailFast: true} }

// RunStep is the compiled form of one run-sequence element.
type RunStep struct {
	ID         string
	DependsOn  []string
	Kind       RunStepKind
	Command    string   // StepKindExec
	Selector   string   // StepKindRef
	InlineArgs []string // StepKindRef: tokenized args, no shell expansion
	Policy     Policy
}

// NodeState is the state-machine position of a compiled node during
// scheduling.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeTimeout   NodeState = "timeout"
	NodeSkipped   NodeState = "skipped"
)

// IsTerminal reports whether a NodeState will never transition further.
func (s NodeState) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeTimeout, NodeSkipped:
		return true
	default:
		return false
	}
}

// NodeRecord is one node's outcome, in admission order, inside a RunReport.
type NodeRecord struct {
	ID       string
	State    NodeState
	ExitCode int
	Attempts int
	Started  time.Time
	Finished time.Time
	Stdout   string // only populated when captured (JSON mode)
	Stderr   string
	Error    string
}

// Duration reports how long the node ran, zero if it never started.
func (n NodeRecord) Duration() time.Duration {
	if n.Started.IsZero() || n.Finished.IsZero() {
		return 0
	}
	return n.Finished.Sub(n.Started)
}

// RunReport is the outcome of one DAG scheduler execution.
type RunReport struct {
	ExitCode int
	Nodes    []NodeRecord
	Started  time.Time
	Finished time.Time
}

// Duration reports the wall-clock time of the whole run.
func (r RunReport) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// LockScopeKind is the category of resource a Lock protects.
type LockScopeKind string

const (
	LockScopeWorkspace LockScopeKind = "workspace"
	LockScopeTask      LockScopeKind = "task"
	LockScopeProfile   LockScopeKind = "profile"
	LockScopeWatch     LockScopeKind = "task:watch"
)

// LockScope identifies the resource a filesystem lock protects.
type LockScope struct {
	Kind LockScopeKind
	Name string // task name, "<task>/<profile>", or watch target
}

// String renders the scope in its canonical form, matching the lock file
// naming convention.
func (s LockScope) String() string {
	switch s.Kind {
	case LockScopeWorkspace:
		return "workspace"
	case LockScopeProfile:
		return fmt.Sprintf("profile:%s", s.Name)
	case LockScopeWatch:
		return fmt.Sprintf("task:watch:%s", s.Name)
	default:
		return fmt.Sprintf("task:%s", s.Name)
	}
}

// ParseLockScope parses a scope string in the form produced by String.
func ParseLockScope(s string) (LockScope, error) {
	if s == "workspace" {
		return LockScope{Kind: LockScopeWorkspace}, nil
	}
	const watchPrefix = "task:watch:"
	if len(s) > len(watchPrefix) && s[:len(watchPrefix)] == watchPrefix {
		return LockScope{Kind: LockScopeWatch, Name: s[len(watchPrefix):]}, nil
	}
	const profilePrefix = "profile:"
	if len(s) > len(profilePrefix) && s[:len(profilePrefix)] == profilePrefix {
		return LockScope{Kind: LockScopeProfile, Name: s[len(profilePrefix):]}, nil
	}
	const taskPrefix = "task:"
	if len(s) > len(taskPrefix) && s[:len(taskPrefix)] == taskPrefix {
		return LockScope{Kind: LockScopeTask, Name: s[len(taskPrefix):]}, nil
	}
	return LockScope{}, fmt.Errorf("invalid lock scope: %q", s)
}

// LockRecord is the parsed contents of a lock file.
type LockRecord struct {
	Scope        string `json:"scope"`
	PID          int    `json:"pid"`
	StartEpochMs int64  `json:"started_at_epoch_ms"`
}

// Resolution is the result of resolving a Selector against the discovered
// catalogs for a Root.
type Resolution struct {
	Catalog  *Catalog
	TaskName string
	Mode     SelectorMode
	Builtin  string // non-empty when the selector resolved to a built-in
	Evidence string
}

// Environment variable names the core reads directly.
const (
	EnvDeferDepth     = "EFFIGY_DEFER_DEPTH"
	EnvManagedTUI     = "EFFIGY_MANAGED_TUI"
	EnvManagedStream  = "EFFIGY_MANAGED_STREAM"
	EnvTUIDiagnostics = "EFFIGY_TUI_DIAGNOSTICS"
)

// Exit codes with fixed, spec-mandated meaning.
const (
	ExitSuccess      = 0
	ExitGenericError = 1
	ExitCLIArgError  = 2
	ExitNodeTimeout  = 124
)
