// Package interfaces provides the dependency-injection seams between the
// CLI entry points and the concrete subsystems (lock manager, catalog
// discovery, process execution, filesystem watching, notifications), so
// each can be exercised against a hand-written fake without touching a
// real filesystem, process, or notification center.
package interfaces

import (
	"context"
	"time"

	"github.com/effigy/effigy/pkg/lockmgr"
	"github.com/effigy/effigy/pkg/types"
)

// LockManager abstracts pkg/lockmgr.Manager for the "unlock" built-in and
// any caller that needs to acquire scopes before running a task.
type LockManager interface {
	Acquire(scopes []types.LockScope) ([]*lockmgr.Guard, error)
	Release(guards []*lockmgr.Guard)
	Unlock(scopes []types.LockScope) (lockmgr.UnlockResult, error)
	UnlockAll() (lockmgr.UnlockResult, error)
}

// CatalogDiscoverer abstracts pkg/catalog.Discover for the selector
// resolver and the "tasks"/"doctor" built-ins.
type CatalogDiscoverer interface {
	Discover(root string) ([]types.Catalog, error)
}

// ProcessRunner abstracts pkg/scheduler.Executor (and, transitively,
// pkg/runner.Executor) for callers that drive the DAG scheduler without
// depending on it directly.
type ProcessRunner interface {
	Execute(ctx context.Context, step types.RunStep) (exitCode int, stdout, stderr string, err error)
}

// Watcher abstracts the filesystem watch primitive behind the "watch"
// built-in: Wait blocks until a debounced batch of changed paths is ready,
// or ctx is done, whichever comes first.
type Watcher interface {
	Wait(ctx context.Context) (changed []string, err error)
	Close() error
}

// Notifier abstracts pkg/notifier.BuildNotifier for the watch loop's
// rerun/success/failure desktop notifications.
type Notifier interface {
	NotifyRerun(target string, changed []string)
	NotifySuccess(target string, duration time.Duration)
	NotifyFailure(target string, exitCode int)
}

// Scheduler abstracts pkg/scheduler.Run for callers that need to swap in a
// fake run outcome without spinning up a real worker pool.
type Scheduler interface {
	Run(ctx context.Context, steps []types.RunStep, maxParallel int) (types.RunReport, error)
}

// Deps aggregates every DI seam a built-in command might need, mirroring
// how the CLI layer wires concrete implementations together at startup.
type Deps struct {
	Locks     LockManager
	Catalogs  CatalogDiscoverer
	Runner    ProcessRunner
	Scheduler Scheduler
	Notify    Notifier
}
