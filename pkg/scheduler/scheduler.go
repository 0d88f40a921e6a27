// Package scheduler implements the DAG scheduler (§4.6): a bounded worker
// pool that admits ready nodes in deterministic order, applies per-node
// retry/timeout/fail-fast policy, and assembles a RunReport.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/effigy/effigy/internal/engine"
	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/types"
)

// DefaultMaxParallel is used when a workspace does not configure one.
const DefaultMaxParallel = 3

// Executor runs one compiled step to completion or until ctx is canceled.
// A wall-clock timeout is enforced by the scheduler via ctx; Execute should
// return promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, step types.RunStep) (exitCode int, stdout, stderr string, err error)
}

type instance struct {
	mu sync.Mutex

	steps      map[string]types.RunStep
	dependents map[string][]string
	indegree   map[string]int

	state   map[string]types.NodeState
	records map[string]*types.NodeRecord

	ready     []string
	remaining int
	aborting  bool

	admittedOrder []string

	cond *sync.Cond
	exec Executor
	log  logger.Logger
}

// Run executes the compiled node list to completion and returns the
// assembled RunReport. It never panics on child-process faults; scheduler
// internal bugs are the only source of a non-nil error return.
func Run(ctx context.Context, steps []types.RunStep, maxParallel int, exec Executor, log logger.Logger) (types.RunReport, error) {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	in := &instance{
		steps:      make(map[string]types.RunStep, len(steps)),
		dependents: make(map[string][]string, len(steps)),
		indegree:   make(map[string]int, len(steps)),
		state:      make(map[string]types.NodeState, len(steps)),
		records:    make(map[string]*types.NodeRecord, len(steps)),
		exec:       exec,
		log:        log,
	}
	in.cond = sync.NewCond(&in.mu)

	order := make(map[string]int, len(steps))
	for i, s := range steps {
		in.steps[s.ID] = s
		in.indegree[s.ID] = len(s.DependsOn)
		in.state[s.ID] = types.NodePending
		in.records[s.ID] = &types.NodeRecord{ID: s.ID, State: types.NodePending}
		order[s.ID] = i
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			in.dependents[dep] = append(in.dependents[dep], s.ID)
		}
	}
	in.remaining = len(steps)
	for id, deg := range in.indegree {
		if deg == 0 {
			in.ready = append(in.ready, id)
		}
	}
	in.sortReady(order)

	report := types.RunReport{Started: startTime()}

	sg, gctx := engine.NewSafeGroup(ctx, log)
	sg.SetLimit(maxParallel)

	// Stop admitting new work as soon as ctx is canceled (SIGINT/SIGTERM
	// forwarded from cli.Execute, or a caller-imposed deadline): mark every
	// not-yet-started node skipped and wake the admission loop so it can
	// observe in.remaining reaching zero instead of waiting on nodes that
	// will never be admitted. Already-running nodes still get gctx, which
	// errgroup.WithContext cancels in step with ctx, so they fail out on
	// their own and still land in the RunReport.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			in.mu.Lock()
			in.aborting = true
			for _, pending := range in.pendingIDs() {
				if in.state[pending] == types.NodePending {
					in.state[pending] = types.NodeSkipped
					in.records[pending].State = types.NodeSkipped
					in.remaining--
					in.removeFromReady(pending)
				}
			}
			in.cond.Broadcast()
			in.mu.Unlock()
		case <-done:
		}
	}()

	for {
		in.mu.Lock()
		for len(in.ready) == 0 && in.remaining > 0 {
			in.cond.Wait()
		}
		if in.remaining == 0 {
			in.mu.Unlock()
			break
		}
		id := in.ready[0]
		in.ready = in.ready[1:]
		in.state[id] = types.NodeRunning
		in.records[id].State = types.NodeRunning
		in.admittedOrder = append(in.admittedOrder, id)
		step := in.steps[id]
		in.mu.Unlock()

		sg.Go(func() error {
			in.runNode(gctx, step, order)
			return nil
		})
	}

	_ = sg.Wait()

	report.Finished = finishTime()
	nodes := make([]types.NodeRecord, 0, len(steps))
	for _, s := range steps {
		nodes = append(nodes, *in.records[s.ID])
	}
	sort.SliceStable(nodes, func(i, j int) bool { return order[nodes[i].ID] < order[nodes[j].ID] })
	report.Nodes = nodes
	report.ExitCode = in.exitCode(order)
	return report, nil
}

func (in *instance) sortReady(order map[string]int) {
	sort.Slice(in.ready, func(i, j int) bool {
		a, b := in.ready[i], in.ready[j]
		if a != b {
			return a < b
		}
		return order[a] < order[b]
	})
}

func (in *instance) runNode(ctx context.Context, step types.RunStep, order map[string]int) {
	rec := in.records[step.ID]
	attempts := 0
	var exitCode int
	var stdout, stderr string
	var execErr error
	var timedOut bool

	for {
		attempts++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if step.Policy.TimeoutMs > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Policy.TimeoutMs)*time.Millisecond)
		}
		if rec.Started.IsZero() {
			rec.Started = startTime()
		}
		exitCode, stdout, stderr, execErr = in.exec.Execute(attemptCtx, step)
		timedOut = attemptCtx.Err() == context.DeadlineExceeded
		if cancel != nil {
			cancel()
		}

		if execErr == nil && exitCode == 0 && !timedOut {
			break
		}
		if attempts > step.Policy.Retry {
			break
		}
		if step.Policy.RetryDelayMs > 0 {
			time.Sleep(time.Duration(step.Policy.RetryDelayMs) * time.Millisecond)
		}
	}

	rec.Finished = finishTime()
	rec.Attempts = attempts
	rec.Stdout = stdout
	rec.Stderr = stderr
	if execErr != nil {
		rec.Error = execErr.Error()
	}

	succeeded := execErr == nil && exitCode == 0 && !timedOut

	in.mu.Lock()
	defer in.mu.Unlock()

	if succeeded {
		in.state[step.ID] = types.NodeSucceeded
		rec.State = types.NodeSucceeded
		rec.ExitCode = 0
		in.remaining--
		in.admitDependents(step.ID, true, order)
		in.cond.Broadcast()
		return
	}

	if timedOut {
		in.state[step.ID] = types.NodeTimeout
		rec.State = types.NodeTimeout
		rec.ExitCode = types.ExitNodeTimeout
	} else {
		in.state[step.ID] = types.NodeFailed
		rec.State = types.NodeFailed
		rec.ExitCode = exitCode
		if rec.ExitCode == 0 {
			rec.ExitCode = types.ExitGenericError
		}
	}
	in.remaining--

	if step.Policy.FailFast {
		in.aborting = true
	}
	in.skipDescendants(step.ID, order)
	in.admitDependents(step.ID, false, order)
	in.cond.Broadcast()
}

// admitDependents decrements indegree for step.ID's dependents. On
// success, a dependent becomes ready once all of its predecessors have
// been accounted for. On failure, dependents are never admitted here —
// skipDescendants already marked them (and everything reachable from
// them) skipped.
func (in *instance) admitDependents(id string, predecessorSucceeded bool, order map[string]int) {
	if !predecessorSucceeded {
		return
	}
	for _, dep := range in.dependents[id] {
		if in.state[dep] != types.NodePending {
			continue
		}
		in.indegree[dep]--
		if in.indegree[dep] <= 0 {
			in.ready = append(in.ready, dep)
		}
	}
	in.sortReady(order)
}

// skipDescendants marks every not-yet-started descendant of a terminally
// failed node as skipped, removing them from the ready queue and the
// remaining count. Descendants are always skipped on predecessor failure,
// independent of fail_fast: fail_fast only additionally aborts admission
// of unrelated not-yet-started work once set.
func (in *instance) skipDescendants(id string, order map[string]int) {
	var stack []string
	stack = append(stack, in.dependents[id]...)
	seen := map[string]bool{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if in.state[cur].IsTerminal() || in.state[cur] == types.NodeRunning {
			continue
		}
		in.state[cur] = types.NodeSkipped
		in.records[cur].State = types.NodeSkipped
		in.remaining--
		in.removeFromReady(cur)
		stack = append(stack, in.dependents[cur]...)
	}

	if in.aborting {
		for _, pending := range in.pendingIDs() {
			if in.state[pending] == types.NodePending {
				in.state[pending] = types.NodeSkipped
				in.records[pending].State = types.NodeSkipped
				in.remaining--
				in.removeFromReady(pending)
			}
		}
	}
}

func (in *instance) pendingIDs() []string {
	ids := make([]string, 0, len(in.state))
	for id, st := range in.state {
		if st == types.NodePending {
			ids = append(ids, id)
		}
	}
	return ids
}

func (in *instance) removeFromReady(id string) {
	for i, r := range in.ready {
		if r == id {
			in.ready = append(in.ready[:i], in.ready[i+1:]...)
			return
		}
	}
}

// exitCode reports 0 if every node succeeded, otherwise the exit code of
// the first terminally-failing node in scheduling (admission) order.
func (in *instance) exitCode(order map[string]int) int {
	for _, id := range in.admittedOrder {
		st := in.state[id]
		if st == types.NodeFailed || st == types.NodeTimeout {
			return in.records[id].ExitCode
		}
	}
	return types.ExitSuccess
}

var timeNow = time.Now

func startTime() time.Time  { return timeNow() }
func finishTime() time.Time { return timeNow() }
