// Package mocks provides hand-written test doubles for the DI seams in
// pkg/interfaces, following the same call-recording/error-injection shape
// the teacher's mocks used.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/effigy/effigy/pkg/interfaces"
	"github.com/effigy/effigy/pkg/lockmgr"
	"github.com/effigy/effigy/pkg/types"
)

var (
	_ interfaces.LockManager       = (*MockLockManager)(nil)
	_ interfaces.CatalogDiscoverer = (*MockCatalogDiscoverer)(nil)
	_ interfaces.ProcessRunner     = (*MockProcessRunner)(nil)
	_ interfaces.Scheduler         = (*MockScheduler)(nil)
	_ interfaces.Watcher           = (*MockWatcher)(nil)
	_ interfaces.Notifier          = (*MockNotifier)(nil)
)

// MockLockManager is a test double for interfaces.LockManager.
type MockLockManager struct {
	mu           sync.Mutex
	AcquireError error
	UnlockError  error
	held         map[string]bool
	guardScopes  map[*lockmgr.Guard]string
	unlockCalls  int
	unlockAllN   int
}

// NewMockLockManager creates an empty mock lock manager.
func NewMockLockManager() *MockLockManager {
	return &MockLockManager{held: make(map[string]bool), guardScopes: make(map[*lockmgr.Guard]string)}
}

// Acquire records every requested scope as held and returns one guard per
// scope (nil payload; tests should not depend on guard internals).
func (m *MockLockManager) Acquire(scopes []types.LockScope) ([]*lockmgr.Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireError != nil {
		return nil, m.AcquireError
	}
	guards := make([]*lockmgr.Guard, len(scopes))
	for i, s := range scopes {
		m.held[s.String()] = true
		guards[i] = &lockmgr.Guard{}
		m.guardScopes[guards[i]] = s.String()
	}
	return guards, nil
}

// Release clears the scope each guard was acquired for. Releasing a guard
// twice, or one this mock did not hand out, is a no-op.
func (m *MockLockManager) Release(guards []*lockmgr.Guard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range guards {
		if label, ok := m.guardScopes[g]; ok {
			delete(m.held, label)
			delete(m.guardScopes, g)
		}
	}
}

// Unlock clears the named scopes, reporting each as Removed if it was held
// or Missing otherwise.
func (m *MockLockManager) Unlock(scopes []types.LockScope) (lockmgr.UnlockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockCalls++
	if m.UnlockError != nil {
		return lockmgr.UnlockResult{}, m.UnlockError
	}
	var result lockmgr.UnlockResult
	for _, s := range scopes {
		label := s.String()
		if m.held[label] {
			delete(m.held, label)
			result.Removed = append(result.Removed, label)
		} else {
			result.Missing = append(result.Missing, label)
		}
	}
	return result, nil
}

// UnlockAll clears every held scope.
func (m *MockLockManager) UnlockAll() (lockmgr.UnlockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockAllN++
	if m.UnlockError != nil {
		return lockmgr.UnlockResult{}, m.UnlockError
	}
	var result lockmgr.UnlockResult
	for label := range m.held {
		result.Removed = append(result.Removed, label)
	}
	m.held = make(map[string]bool)
	return result, nil
}

// IsHeld reports whether a scope is currently held, for test assertions.
func (m *MockLockManager) IsHeld(scope types.LockScope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[scope.String()]
}

// MockCatalogDiscoverer is a test double for interfaces.CatalogDiscoverer.
type MockCatalogDiscoverer struct {
	Catalogs []types.Catalog
	Err      error
	Calls    []string
}

func (m *MockCatalogDiscoverer) Discover(root string) ([]types.Catalog, error) {
	m.Calls = append(m.Calls, root)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Catalogs, nil
}

// MockProcessRunner is a test double for interfaces.ProcessRunner, scripted
// per step id.
type MockProcessRunner struct {
	mu       sync.Mutex
	Results  map[string]MockResult
	Attempts map[string]int
}

// MockResult is the scripted outcome for one step id.
type MockResult struct {
	ExitCode       int
	Stdout, Stderr string
	Err            error
	Block          bool // if true, Execute blocks on ctx.Done() instead of returning immediately
}

func NewMockProcessRunner() *MockProcessRunner {
	return &MockProcessRunner{Results: make(map[string]MockResult), Attempts: make(map[string]int)}
}

func (m *MockProcessRunner) Execute(ctx context.Context, step types.RunStep) (int, string, string, error) {
	m.mu.Lock()
	m.Attempts[step.ID]++
	res := m.Results[step.ID]
	m.mu.Unlock()

	if res.Block {
		<-ctx.Done()
		return 0, "", "", ctx.Err()
	}
	return res.ExitCode, res.Stdout, res.Stderr, res.Err
}

// AttemptsFor reports how many times a step id was executed.
func (m *MockProcessRunner) AttemptsFor(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Attempts[id]
}

// MockScheduler is a test double for interfaces.Scheduler.
type MockScheduler struct {
	Report types.RunReport
	Err    error
	Calls  int
}

func (m *MockScheduler) Run(ctx context.Context, steps []types.RunStep, maxParallel int) (types.RunReport, error) {
	m.Calls++
	return m.Report, m.Err
}

// MockWatcher is a test double for interfaces.Watcher: each call to Wait
// pops the next scripted batch, blocking on ctx.Done() once exhausted.
type MockWatcher struct {
	mu      sync.Mutex
	Batches [][]string
	closed  bool
}

func (m *MockWatcher) Wait(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if len(m.Batches) > 0 {
		next := m.Batches[0]
		m.Batches = m.Batches[1:]
		m.mu.Unlock()
		return next, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *MockWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockWatcher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockNotifier is a test double for interfaces.Notifier, recording every
// call for assertion.
type MockNotifier struct {
	mu       sync.Mutex
	Reruns   []string
	Successes []string
	Failures []string
}

func (m *MockNotifier) NotifyRerun(target string, changed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reruns = append(m.Reruns, target)
}

func (m *MockNotifier) NotifySuccess(target string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Successes = append(m.Successes, target)
}

func (m *MockNotifier) NotifyFailure(target string, exitCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, target)
}
