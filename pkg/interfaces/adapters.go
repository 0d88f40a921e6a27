package interfaces

import (
	"context"
	"fmt"
	"time"

	"github.com/effigy/effigy/pkg/catalog"
	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/notifier"
	"github.com/effigy/effigy/pkg/scheduler"
	"github.com/effigy/effigy/pkg/types"
)

// CatalogDiscovererFunc adapts catalog.Discover (a free function) to
// CatalogDiscoverer.
type CatalogDiscovererFunc func(root string) ([]types.Catalog, error)

func (f CatalogDiscovererFunc) Discover(root string) ([]types.Catalog, error) { return f(root) }

// DefaultCatalogDiscoverer wraps pkg/catalog.Discover.
var DefaultCatalogDiscoverer CatalogDiscoverer = CatalogDiscovererFunc(catalog.Discover)

// schedulerAdapter binds the Executor and Logger that scheduler.Run needs
// beyond the per-call step list and parallelism bound.
type schedulerAdapter struct {
	exec scheduler.Executor
	log  logger.Logger
}

// NewScheduler adapts scheduler.Run to the Scheduler seam, fixing the
// executor and logger a single invocation's runs share.
func NewScheduler(exec scheduler.Executor, log logger.Logger) Scheduler {
	return &schedulerAdapter{exec: exec, log: log}
}

func (a *schedulerAdapter) Run(ctx context.Context, steps []types.RunStep, maxParallel int) (types.RunReport, error) {
	return scheduler.Run(ctx, steps, maxParallel, a.exec, a.log)
}

// notifierAdapter adapts pkg/notifier.BuildNotifier to Notifier.
type notifierAdapter struct {
	inner *notifier.BuildNotifier
}

// WrapNotifier adapts a concrete BuildNotifier to the Notifier seam.
func WrapNotifier(n *notifier.BuildNotifier) Notifier {
	return &notifierAdapter{inner: n}
}

func (a *notifierAdapter) NotifyRerun(target string, changed []string) {
	a.inner.NotifyBuildStart(target)
}

func (a *notifierAdapter) NotifySuccess(target string, duration time.Duration) {
	a.inner.NotifyBuildSuccess(target, duration)
}

func (a *notifierAdapter) NotifyFailure(target string, exitCode int) {
	a.inner.NotifyBuildFailure(target, fmt.Errorf("exit %d", exitCode))
}
