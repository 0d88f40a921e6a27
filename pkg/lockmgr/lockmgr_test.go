package lockmgr_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/lockmgr"
	"github.com/effigy/effigy/pkg/types"
)

func TestAcquire_CreatesLockFile(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	guards, err := m.Acquire([]types.LockScope{{Kind: types.LockScopeWorkspace}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer m.Release(guards)

	path := filepath.Join(root, ".effigy", "locks", "workspace.lock")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
}

func TestAcquire_ConflictWhenHeldByLiveProcess(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	scope := types.LockScope{Kind: types.LockScopeTask, Name: "build"}
	guards, err := m.Acquire([]types.LockScope{scope})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer m.Release(guards)

	_, err = m.Acquire([]types.LockScope{scope})
	var conflict *errs.LockConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want *errs.LockConflict", err)
	}
	if conflict.HolderPID != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", conflict.HolderPID, os.Getpid())
	}
}

func TestAcquire_RemovesStaleLockFromDeadPID(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	locksDir := filepath.Join(root, ".effigy", "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stale := types.LockRecord{Scope: "task:build", PID: deadPID(), StartEpochMs: 1}
	body, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(locksDir, "task_build.lock"), body, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	guards, err := m.Acquire([]types.LockScope{{Kind: types.LockScopeTask, Name: "build"}})
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	m.Release(guards)
}

func TestRelease_Idempotent(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)
	guards, err := m.Acquire([]types.LockScope{{Kind: types.LockScopeWorkspace}})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(guards)
	m.Release(guards) // must not panic or error on second release
}

func TestUnlock_ReportsRemovedAndMissing(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	present := types.LockScope{Kind: types.LockScopeTask, Name: "build"}
	absent := types.LockScope{Kind: types.LockScopeTask, Name: "ghost"}

	guards, err := m.Acquire([]types.LockScope{present})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = guards // leave held; Unlock bypasses liveness entirely

	result, err := m.Unlock([]types.LockScope{present, absent})
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != present.String() {
		t.Errorf("Removed = %v", result.Removed)
	}
	if len(result.Missing) != 1 || result.Missing[0] != absent.String() {
		t.Errorf("Missing = %v", result.Missing)
	}
}

func TestUnlockAll_RemovesEveryLockFile(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	scopes := []types.LockScope{
		{Kind: types.LockScopeWorkspace},
		{Kind: types.LockScopeTask, Name: "build"},
		{Kind: types.LockScopeProfile, Name: "deploy/staging"},
	}
	guards, err := m.Acquire(scopes)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = guards

	result, err := m.UnlockAll()
	if err != nil {
		t.Fatalf("UnlockAll: %v", err)
	}
	if len(result.Removed) != 3 {
		t.Errorf("Removed = %v, want 3 entries", result.Removed)
	}

	entries, _ := os.ReadDir(filepath.Join(root, ".effigy", "locks"))
	if len(entries) != 0 {
		t.Errorf("locks dir not empty after UnlockAll: %v", entries)
	}
}

func TestAcquire_ScopesGivenOutOfOrder(t *testing.T) {
	root := t.TempDir()
	m := lockmgr.New(root)

	a := []types.LockScope{{Kind: types.LockScopeTask, Name: "b"}, {Kind: types.LockScopeTask, Name: "a"}}
	guards, err := m.Acquire(a)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.Release(guards)
}

// deadPID returns a PID almost certainly not in use: a freshly exited child.
func deadPID() int {
	proc, err := os.StartProcess("/bin/true", []string{"true"}, &os.ProcAttr{})
	if err != nil {
		return 999999
	}
	pid := proc.Pid
	proc.Wait()
	return pid
}
