// Package lockmgr implements the filesystem lock manager (§4.8): exclusive,
// PID-liveness-checked locks under "<root>/.effigy/locks/", plus the
// operator "unlock" override that removes lock files unconditionally.
package lockmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/types"
	"github.com/effigy/effigy/pkg/utils"
)

const locksDirName = ".effigy/locks"

// Guard represents one held lock scope. Release is idempotent: releasing
// twice, or releasing after the file has already been removed by someone
// else, is not an error.
type Guard struct {
	path string
	pid  int
}

// Manager acquires and releases scoped locks under a single root.
type Manager struct {
	Root string
}

// New returns a Manager rooted at the given workspace root.
func New(root string) *Manager { return &Manager{Root: root} }

func (m *Manager) locksDir() string {
	return filepath.Join(m.Root, locksDirName)
}

func (m *Manager) lockPath(scope types.LockScope) string {
	return filepath.Join(m.locksDir(), sanitizeForFileName(scope.String())+".lock")
}

// Acquire takes every scope in a single stable lexicographic order
// (deduplicated), preventing deadlock between two invocations requesting
// overlapping scope sets in different orders. On any failure it releases
// whatever it already acquired before returning the error.
func (m *Manager) Acquire(scopes []types.LockScope) ([]*Guard, error) {
	unique := dedupeSorted(scopes)

	if err := utils.EnsureDirectory(m.locksDir()); err != nil {
		return nil, fmt.Errorf("create locks directory: %w", err)
	}

	guards := make([]*Guard, 0, len(unique))
	for _, scope := range unique {
		g, err := m.acquireOne(scope)
		if err != nil {
			for _, held := range guards {
				_ = m.release(held)
			}
			return nil, err
		}
		guards = append(guards, g)
	}
	return guards, nil
}

func (m *Manager) acquireOne(scope types.LockScope) (*Guard, error) {
	path := m.lockPath(scope)
	pid := os.Getpid()
	record := types.LockRecord{Scope: scope.String(), PID: pid, StartEpochMs: nowEpochMs()}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode lock record: %w", err)
	}

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, writeErr := f.Write(body)
			closeErr := f.Close()
			if writeErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file %s: %w", path, writeErr)
			}
			if closeErr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file %s: %w", path, closeErr)
			}
			return &Guard{path: path, pid: pid}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}

		existing, readErr := readLockRecord(path)
		if readErr != nil {
			// unreadable/corrupt lock file: treat as stale and retry.
			os.Remove(path)
			continue
		}
		if !pidIsAlive(existing.PID) {
			os.Remove(path)
			continue
		}
		return nil, &errs.LockConflict{
			Scope:     scope.String(),
			Path:      path,
			HolderPID: existing.PID,
			HolderMs:  existing.StartEpochMs,
		}
	}
}

// Release drops every guard, defensively checking that the file on disk
// still names this holder's PID before removing it (guards against
// ownership drift if the file was replaced underneath us).
func (m *Manager) Release(guards []*Guard) {
	for _, g := range guards {
		_ = m.release(g)
	}
}

func (m *Manager) release(g *Guard) error {
	record, err := readLockRecord(g.path)
	if err != nil {
		return nil // already gone or corrupt; nothing safe to defend
	}
	if record.PID != g.pid {
		return nil // someone else's lock now; do not touch it
	}
	err = os.Remove(g.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// UnlockResult reports which scopes an operator "unlock" call removed.
type UnlockResult struct {
	Removed []string
	Missing []string
}

// Unlock deletes lock files for the given scopes without any liveness
// check, for the "unlock" built-in.
func (m *Manager) Unlock(scopes []types.LockScope) (UnlockResult, error) {
	if err := utils.EnsureDirectory(m.locksDir()); err != nil {
		return UnlockResult{}, fmt.Errorf("create locks directory: %w", err)
	}
	var result UnlockResult
	for _, scope := range scopes {
		path := m.lockPath(scope)
		err := os.Remove(path)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, scope.String())
		case os.IsNotExist(err):
			result.Missing = append(result.Missing, scope.String())
		default:
			return result, fmt.Errorf("remove lock file %s: %w", path, err)
		}
	}
	return result, nil
}

// UnlockAll removes every lock file present under the workspace's locks
// directory, for "unlock --all".
func (m *Manager) UnlockAll() (UnlockResult, error) {
	entries, err := os.ReadDir(m.locksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return UnlockResult{}, nil
		}
		return UnlockResult{}, fmt.Errorf("read locks directory: %w", err)
	}
	var result UnlockResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(m.locksDir(), entry.Name())
		label := entry.Name()
		if record, err := readLockRecord(path); err == nil {
			label = record.Scope
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("remove lock file %s: %w", path, err)
		}
		result.Removed = append(result.Removed, label)
	}
	return result, nil
}

func readLockRecord(path string) (types.LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.LockRecord{}, err
	}
	var record types.LockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.LockRecord{}, err
	}
	return record, nil
}

// pidIsAlive probes liveness with signal 0, which delivers no signal but
// still reports ESRCH for a dead process.
func pidIsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func nowEpochMs() int64 { return time.Now().UnixMilli() }

func dedupeSorted(scopes []types.LockScope) []types.LockScope {
	seen := make(map[string]types.LockScope, len(scopes))
	for _, s := range scopes {
		seen[s.String()] = s
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := make([]types.LockScope, len(labels))
	for i, label := range labels {
		out[i] = seen[label]
	}
	return out
}

func sanitizeForFileName(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
