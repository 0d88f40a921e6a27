package watch

import (
	"context"
	"errors"
	"time"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/interfaces"
	"github.com/effigy/effigy/pkg/types"
)

// Options configures one invocation of the watch built-in.
type Options struct {
	Owner   string // "effigy" | "external"
	Target  string // the selector being watched, used as the lock scope name
	Once    bool
	MaxRuns int
	JSON    bool
}

// Validate enforces the watch built-in's argument invariants before any
// lock is acquired or watcher started.
func (o Options) Validate() error {
	switch o.Owner {
	case "effigy":
		// supported
	case "external":
		return &errs.WatchExternalOwner{}
	default:
		return &errs.WatchOwnerRequired{Given: o.Owner}
	}
	if o.Target == "" || o.Target == "watch" {
		return &errs.WatchInvalidTarget{Target: o.Target}
	}
	if o.JSON && !o.Once && o.MaxRuns <= 0 {
		return &errs.WatchUnboundedJSON{}
	}
	return nil
}

// RunFunc executes the watched target once (resolving, compiling, and
// scheduling it) and returns its RunReport.
type RunFunc func(ctx context.Context) (types.RunReport, error)

// Result accumulates every run a Loop invocation performed.
type Result struct {
	Runs    int
	Reports []types.RunReport
}

// Loop runs the target once immediately, then reruns it on every debounced
// batch of matching filesystem changes until ctx is canceled, --once is
// set, or --max-runs is reached.
func Loop(ctx context.Context, opts Options, locks interfaces.LockManager, watcher interfaces.Watcher, notify interfaces.Notifier, run RunFunc) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	scope := types.LockScope{Kind: types.LockScopeWatch, Name: opts.Target}
	guards, err := locks.Acquire([]types.LockScope{scope})
	if err != nil {
		return Result{}, err
	}
	defer locks.Release(guards)

	var result Result
	runOnce := func() error {
		started := time.Now()
		report, runErr := run(ctx)
		result.Runs++
		result.Reports = append(result.Reports, report)
		if runErr != nil {
			notify.NotifyFailure(opts.Target, types.ExitGenericError)
			return runErr
		}
		if report.ExitCode == types.ExitSuccess {
			notify.NotifySuccess(opts.Target, time.Since(started))
		} else {
			notify.NotifyFailure(opts.Target, report.ExitCode)
		}
		return nil
	}

	if err := runOnce(); err != nil {
		return result, err
	}
	if opts.Once {
		return result, nil
	}

	for {
		if opts.MaxRuns > 0 && result.Runs >= opts.MaxRuns {
			return result, nil
		}

		changed, waitErr := watcher.Wait(ctx)
		if waitErr != nil {
			if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
				return result, nil
			}
			return result, waitErr
		}

		notify.NotifyRerun(opts.Target, changed)
		if err := runOnce(); err != nil {
			return result, err
		}
	}
}
