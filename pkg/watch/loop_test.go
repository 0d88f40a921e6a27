package watch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/mocks"
	"github.com/effigy/effigy/pkg/types"
	"github.com/effigy/effigy/pkg/watch"
)

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    watch.Options
		wantErr interface{}
	}{
		{"external owner rejected", watch.Options{Owner: "external", Target: "api/build"}, &errs.WatchExternalOwner{}},
		{"missing owner rejected", watch.Options{Target: "api/build"}, &errs.WatchOwnerRequired{}},
		{"missing target rejected", watch.Options{Owner: "effigy"}, &errs.WatchInvalidTarget{}},
		{"self target rejected", watch.Options{Owner: "effigy", Target: "watch"}, &errs.WatchInvalidTarget{}},
		{"unbounded json rejected", watch.Options{Owner: "effigy", Target: "api/build", JSON: true}, &errs.WatchUnboundedJSON{}},
		{"bounded json accepted", watch.Options{Owner: "effigy", Target: "api/build", JSON: true, Once: true}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error of type %T", tc.wantErr)
			}
		})
	}
}

func TestLoop_OnceRunsExactlyOnceAndReleasesLock(t *testing.T) {
	locks := mocks.NewMockLockManager()
	notify := &mocks.MockNotifier{}
	watcher := &mocks.MockWatcher{}

	calls := 0
	run := func(ctx context.Context) (types.RunReport, error) {
		calls++
		return types.RunReport{ExitCode: types.ExitSuccess}, nil
	}

	opts := watch.Options{Owner: "effigy", Target: "api/build", Once: true}
	result, err := watch.Loop(context.Background(), opts, locks, watcher, notify, run)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if calls != 1 || result.Runs != 1 {
		t.Errorf("calls=%d result.Runs=%d, want 1", calls, result.Runs)
	}
	if locks.IsHeld(types.LockScope{Kind: types.LockScopeWatch, Name: "api/build"}) {
		t.Error("lock should be released after Loop returns")
	}
	if len(notify.Successes) != 1 {
		t.Errorf("Successes = %v, want 1 entry", notify.Successes)
	}
}

func TestLoop_MaxRunsStopsAfterBound(t *testing.T) {
	locks := mocks.NewMockLockManager()
	notify := &mocks.MockNotifier{}
	watcher := &mocks.MockWatcher{Batches: [][]string{{"a.go"}, {"b.go"}, {"c.go"}}}

	calls := 0
	run := func(ctx context.Context) (types.RunReport, error) {
		calls++
		return types.RunReport{ExitCode: types.ExitSuccess}, nil
	}

	opts := watch.Options{Owner: "effigy", Target: "api/build", MaxRuns: 2}
	result, err := watch.Loop(context.Background(), opts, locks, watcher, notify, run)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if calls != 2 || result.Runs != 2 {
		t.Errorf("calls=%d result.Runs=%d, want 2", calls, result.Runs)
	}
	if len(notify.Reruns) != 1 {
		t.Errorf("Reruns = %v, want 1 (one rerun between the 2 total runs)", notify.Reruns)
	}
}

func TestLoop_RunFailureStopsTheLoop(t *testing.T) {
	locks := mocks.NewMockLockManager()
	notify := &mocks.MockNotifier{}
	watcher := &mocks.MockWatcher{Batches: [][]string{{"a.go"}}}

	boom := errors.New("scheduler exploded")
	run := func(ctx context.Context) (types.RunReport, error) {
		return types.RunReport{}, boom
	}

	opts := watch.Options{Owner: "effigy", Target: "api/build"}
	_, err := watch.Loop(context.Background(), opts, locks, watcher, notify, run)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(notify.Failures) != 1 {
		t.Errorf("Failures = %v, want 1", notify.Failures)
	}
}

func TestLoop_ContextCanceledDuringWaitEndsLoopCleanly(t *testing.T) {
	locks := mocks.NewMockLockManager()
	notify := &mocks.MockNotifier{}
	watcher := &mocks.MockWatcher{} // no scripted batches: Wait blocks on ctx.Done()

	run := func(ctx context.Context) (types.RunReport, error) {
		return types.RunReport{ExitCode: types.ExitSuccess}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already canceled before Loop even starts its wait

	opts := watch.Options{Owner: "effigy", Target: "api/build"}
	result, err := watch.Loop(ctx, opts, locks, watcher, notify, run)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if result.Runs != 1 {
		t.Errorf("Runs = %d, want 1 (initial run only)", result.Runs)
	}
}
