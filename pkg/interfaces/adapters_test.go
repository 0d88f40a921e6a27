package interfaces_test

import (
	"context"
	"testing"
	"time"

	"github.com/effigy/effigy/pkg/interfaces"
	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/notifier"
	"github.com/effigy/effigy/pkg/types"
)

type stubExecutor struct{ exitCode int }

func (s stubExecutor) Execute(ctx context.Context, step types.RunStep) (int, string, string, error) {
	return s.exitCode, "", "", nil
}

func TestNewScheduler_RunsThroughRealScheduler(t *testing.T) {
	log := logger.NewSimpleLogger("test", "error")
	sched := interfaces.NewScheduler(stubExecutor{exitCode: 0}, log)

	steps := []types.RunStep{{ID: "a", Policy: types.DefaultPolicy()}}
	report, err := sched.Run(context.Background(), steps, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != types.ExitSuccess {
		t.Errorf("ExitCode = %d, want 0", report.ExitCode)
	}
	if len(report.Nodes) != 1 || report.Nodes[0].State != types.NodeSucceeded {
		t.Errorf("Nodes = %+v", report.Nodes)
	}
}

func TestWrapNotifier_DelegatesToConcreteNotifier(t *testing.T) {
	n := notifier.New(notifier.Config{Enabled: false}, logger.NewSimpleLogger("test", "error"))
	wrapped := interfaces.WrapNotifier(n)

	// Disabled notifier: these must not panic regardless of platform.
	wrapped.NotifyRerun("api/build", []string{"main.go"})
	wrapped.NotifySuccess("api/build", 10*time.Millisecond)
	wrapped.NotifyFailure("api/build", 1)
}

func TestDefaultCatalogDiscoverer_EmptyWorkspaceErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := interfaces.DefaultCatalogDiscoverer.Discover(dir); err == nil {
		t.Fatal("expected an error for a workspace with no manifests")
	}
}
