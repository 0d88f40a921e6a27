package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/effigy/effigy/pkg/mocks"
	"github.com/effigy/effigy/pkg/types"
)

func TestMockLockManager_AcquireThenUnlockReportsRemoved(t *testing.T) {
	m := mocks.NewMockLockManager()
	scope := types.LockScope{Kind: types.LockScopeTask, Name: "build"}

	if _, err := m.Acquire([]types.LockScope{scope}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !m.IsHeld(scope) {
		t.Fatal("expected scope to be held after Acquire")
	}

	result, err := m.Unlock([]types.LockScope{scope, {Kind: types.LockScopeTask, Name: "ghost"}})
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(result.Removed) != 1 || len(result.Missing) != 1 {
		t.Errorf("result = %+v", result)
	}
	if m.IsHeld(scope) {
		t.Error("scope still held after Unlock")
	}
}

func TestMockLockManager_AcquireError(t *testing.T) {
	m := mocks.NewMockLockManager()
	m.AcquireError = errors.New("boom")
	if _, err := m.Acquire([]types.LockScope{{Kind: types.LockScopeWorkspace}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMockProcessRunner_ScriptedResultsAndAttemptCount(t *testing.T) {
	m := mocks.NewMockProcessRunner()
	m.Results["build"] = mocks.MockResult{ExitCode: 1}

	code, _, _, err := m.Execute(context.Background(), types.RunStep{ID: "build"})
	if err != nil || code != 1 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	code, _, _, _ = m.Execute(context.Background(), types.RunStep{ID: "build"})
	if code != 1 {
		t.Fatalf("code=%d", code)
	}
	if got := m.AttemptsFor("build"); got != 2 {
		t.Errorf("AttemptsFor = %d, want 2", got)
	}
}

func TestMockProcessRunner_BlocksUntilContextDone(t *testing.T) {
	m := mocks.NewMockProcessRunner()
	m.Results["slow"] = mocks.MockResult{Block: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := m.Execute(ctx, types.RunStep{ID: "slow"})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMockWatcher_PopsScriptedBatchesThenBlocksOnContext(t *testing.T) {
	w := &mocks.MockWatcher{Batches: [][]string{{"a.go"}, {"b.go"}}}

	changed, err := w.Wait(context.Background())
	if err != nil || len(changed) != 1 || changed[0] != "a.go" {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	changed, err = w.Wait(context.Background())
	if err != nil || len(changed) != 1 || changed[0] != "b.go" {
		t.Fatalf("changed=%v err=%v", changed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Wait(ctx); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled once batches are exhausted", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.Closed() {
		t.Error("expected Closed() true after Close")
	}
}

func TestMockNotifier_RecordsCalls(t *testing.T) {
	n := &mocks.MockNotifier{}
	n.NotifyRerun("api/build", []string{"a.go"})
	n.NotifySuccess("api/build", 0)
	n.NotifyFailure("api/build", 1)

	if len(n.Reruns) != 1 || len(n.Successes) != 1 || len(n.Failures) != 1 {
		t.Errorf("n = %+v", n)
	}
}
