// Package errs defines effigy's error taxonomy as typed values rather than
// sentinel strings, so callers can switch on kind with errors.As and still
// get an actionable message via Error().
package errs

import "fmt"

// RootNotFound is returned when no root marker is found up to the
// filesystem root.
type RootNotFound struct {
	StartDir string
}

func (e *RootNotFound) Error() string {
	return fmt.Sprintf("no root marker found ascending from %s", e.StartDir)
}

// ManifestParse is a TOML syntax error in a manifest file.
type ManifestParse struct {
	Path string
	Err  error
}

func (e *ManifestParse) Error() string {
	return fmt.Sprintf("%s: parse error: %v", e.Path, e.Err)
}

func (e *ManifestParse) Unwrap() error { return e.Err }

// ManifestSchema is an unknown or invalid manifest key.
type ManifestSchema struct {
	Path        string
	DottedKey   string
	Accepted    []string
}

func (e *ManifestSchema) Error() string {
	if len(e.Accepted) == 0 {
		return fmt.Sprintf("%s: unknown key %q", e.Path, e.DottedKey)
	}
	return fmt.Sprintf("%s: unknown key %q (accepted: %v)", e.Path, e.DottedKey, e.Accepted)
}

// AliasConflict is raised when two distinct manifests share a catalog alias.
type AliasConflict struct {
	Alias string
	PathA string
	PathB string
}

func (e *AliasConflict) Error() string {
	return fmt.Sprintf("alias %q claimed by both %s and %s", e.Alias, e.PathA, e.PathB)
}

// CatalogPrefixNotFound is raised when an explicit "<alias>/<task>" prefix
// names an alias no catalog declares.
type CatalogPrefixNotFound struct {
	Alias string
}

func (e *CatalogPrefixNotFound) Error() string {
	return fmt.Sprintf("no catalog with alias %q", e.Alias)
}

// TaskNotDefined is raised when a selector names no matching task.
type TaskNotDefined struct {
	Selector string
}

func (e *TaskNotDefined) Error() string {
	return fmt.Sprintf("no task matches selector %q", e.Selector)
}

// Ambiguous is raised when more than one catalog satisfies the winning
// precedence tier.
type Ambiguous struct {
	Selector   string
	Tier       string
	Candidates []string
}

func (e *Ambiguous) Error() string {
	return fmt.Sprintf("selector %q is ambiguous at tier %s: candidates %v", e.Selector, e.Tier, e.Candidates)
}

// EmptyWorkspace is raised when no catalogs were discovered under root.
type EmptyWorkspace struct {
	Root string
}

func (e *EmptyWorkspace) Error() string {
	return fmt.Sprintf("no catalogs discovered under %s", e.Root)
}

// GraphCycle is raised when depends_on edges form a cycle.
type GraphCycle struct {
	Cycle []string
}

func (e *GraphCycle) Error() string {
	return fmt.Sprintf("dependency cycle: %v", e.Cycle)
}

// GraphBadRef is raised when depends_on names a nonexistent step id.
type GraphBadRef struct {
	Step string
	Ref  string
}

func (e *GraphBadRef) Error() string {
	return fmt.Sprintf("step %q depends_on unknown id %q", e.Step, e.Ref)
}

// LockConflict is raised when a lock scope is held by a live process.
type LockConflict struct {
	Scope      string
	Path       string
	HolderPID  int
	HolderMs   int64
}

func (e *LockConflict) Error() string {
	return fmt.Sprintf("lock %q held by pid %d (%s); run 'effigy unlock %s' if this is stale",
		e.Scope, e.HolderPID, e.Path, e.Scope)
}

// DeferralLoop is raised when a deferral child attempts a second deferral.
type DeferralLoop struct {
	Request string
}

func (e *DeferralLoop) Error() string {
	return fmt.Sprintf("deferral loop detected for request %q", e.Request)
}

// WatchExternalOwner is raised when the watch loop is invoked with
// "--owner external".
type WatchExternalOwner struct{}

func (e *WatchExternalOwner) Error() string {
	return "watch owner \"external\" is not supported by the core watch loop"
}

// WatchOwnerRequired is raised when "watch" is invoked without "--owner
// effigy|external".
type WatchOwnerRequired struct {
	Given string
}

func (e *WatchOwnerRequired) Error() string {
	if e.Given == "" {
		return "watch requires --owner effigy|external"
	}
	return fmt.Sprintf("unrecognized watch owner %q, want effigy or external", e.Given)
}

// NodeFailure wraps a non-zero child process exit inside the scheduler.
type NodeFailure struct {
	NodeID   string
	ExitCode int
}

func (e *NodeFailure) Error() string {
	return fmt.Sprintf("node %q exited %d", e.NodeID, e.ExitCode)
}

// NodeTimeout is raised when a node's wall-clock timeout expires.
type NodeTimeout struct {
	NodeID    string
	TimeoutMs int
}

func (e *NodeTimeout) Error() string {
	return fmt.Sprintf("node %q timed out after %dms", e.NodeID, e.TimeoutMs)
}

// WatchInvalidTarget is raised when "watch" is invoked with no target, or
// with "watch" itself as the target.
type WatchInvalidTarget struct {
	Target string
}

func (e *WatchInvalidTarget) Error() string {
	if e.Target == "" {
		return "watch requires a target selector"
	}
	return fmt.Sprintf("watch target %q is not valid", e.Target)
}

// WatchUnboundedJSON is raised when "--json" is requested without
// "--once" or "--max-runs", which would otherwise stream an unbounded
// sequence of JSON documents.
type WatchUnboundedJSON struct{}

func (e *WatchUnboundedJSON) Error() string {
	return "JSON output requires --once or --max-runs to bound the number of runs"
}
