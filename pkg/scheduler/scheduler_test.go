package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/scheduler"
	"github.com/effigy/effigy/pkg/types"
)

func step(id string, deps ...string) types.RunStep {
	return types.RunStep{ID: id, Kind: types.StepKindExec, Command: id, DependsOn: deps, Policy: types.DefaultPolicy()}
}

// scriptedExecutor returns canned results per node id, counting attempts so
// a test can assert retry behavior. Safe for concurrent use.
type scriptedExecutor struct {
	mu         sync.Mutex
	attempts   map[string]int
	results    map[string][]result
	blockOnCtx map[string]bool
}

type result struct {
	exitCode int
	err      error
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{attempts: map[string]int{}, results: map[string][]result{}, blockOnCtx: map[string]bool{}}
}

func (e *scriptedExecutor) script(id string, results ...result) {
	e.results[id] = results
}

func (e *scriptedExecutor) Execute(ctx context.Context, s types.RunStep) (int, string, string, error) {
	e.mu.Lock()
	n := e.attempts[s.ID]
	e.attempts[s.ID] = n + 1
	blockOnCtx := e.blockOnCtx[s.ID]
	e.mu.Unlock()

	if blockOnCtx {
		<-ctx.Done()
		return 0, "", "", ctx.Err()
	}

	rs, ok := e.results[s.ID]
	if !ok || len(rs) == 0 {
		return 0, "", "", nil
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	r := rs[n]
	return r.exitCode, "", "", r.err
}

func (e *scriptedExecutor) attemptsFor(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[id]
}

func TestRun_LinearChainWithRetry(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", result{exitCode: 1}, result{exitCode: 0})

	a := step("a")
	b := step("b", "a")
	b.Policy.Retry = 1
	c := step("c", "b")

	report, err := scheduler.Run(context.Background(), []types.RunStep{a, b, c}, 3, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", report.ExitCode)
	}

	byID := recordsByID(report)
	if byID["a"].State != types.NodeSucceeded {
		t.Errorf("a state = %s", byID["a"].State)
	}
	if byID["b"].State != types.NodeSucceeded || byID["b"].Attempts != 2 {
		t.Errorf("b = %+v, want succeeded with 2 attempts", byID["b"])
	}
	if byID["c"].State != types.NodeSucceeded {
		t.Errorf("c state = %s", byID["c"].State)
	}
}

func TestRun_DAGWithFailFast(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("unit", result{exitCode: 7})

	lint := step("lint")
	unit := step("unit", "lint")
	contract := step("contract", "lint")
	report := step("report", "unit", "contract")
	report.Policy.FailFast = false

	rr, err := scheduler.Run(context.Background(), []types.RunStep{lint, unit, contract, report}, 3, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rr.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", rr.ExitCode)
	}

	byID := recordsByID(rr)
	if byID["lint"].State != types.NodeSucceeded {
		t.Errorf("lint state = %s", byID["lint"].State)
	}
	if byID["unit"].State != types.NodeFailed || byID["unit"].ExitCode != 7 {
		t.Errorf("unit = %+v, want failed/7", byID["unit"])
	}
	if byID["contract"].State != types.NodeSucceeded {
		t.Errorf("contract state = %s, want succeeded (unrelated to failed predecessor)", byID["contract"].State)
	}
	if byID["report"].State != types.NodeSkipped {
		t.Errorf("report state = %s, want skipped (descendant of failed unit, regardless of its own fail_fast)", byID["report"].State)
	}
}

func TestRun_FailFastHaltsUnrelatedAdmission(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("fails", result{exitCode: 3})

	fails := step("fails")
	unrelatedA := step("unrelated-a")
	unrelatedB := step("unrelated-b", "unrelated-a")

	rr, err := scheduler.Run(context.Background(), []types.RunStep{fails, unrelatedA, unrelatedB}, 1, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rr.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", rr.ExitCode)
	}
	byID := recordsByID(rr)
	if byID["fails"].State != types.NodeFailed {
		t.Errorf("fails state = %s", byID["fails"].State)
	}
	if byID["unrelated-b"].State != types.NodeSkipped && byID["unrelated-a"].State != types.NodeSkipped {
		t.Errorf("expected fail_fast to skip at least one not-yet-started unrelated node, got a=%s b=%s",
			byID["unrelated-a"].State, byID["unrelated-b"].State)
	}
}

func TestRun_TimeoutProducesExit124(t *testing.T) {
	exec := newScriptedExecutor()
	exec.blockOnCtx["slow"] = true

	s := step("slow")
	s.Policy.TimeoutMs = 5

	rr, err := scheduler.Run(context.Background(), []types.RunStep{s}, 1, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byID := recordsByID(rr)
	if byID["slow"].State != types.NodeTimeout {
		t.Fatalf("slow state = %s, want timeout", byID["slow"].State)
	}
	if rr.ExitCode != types.ExitNodeTimeout {
		t.Errorf("ExitCode = %d, want %d", rr.ExitCode, types.ExitNodeTimeout)
	}
	if exec.attemptsFor("slow") != 1 {
		t.Errorf("attempts = %d, want 1 (default retry = 0)", exec.attemptsFor("slow"))
	}
}

func TestRun_ContextCancelSkipsUnadmittedAndFailsRunning(t *testing.T) {
	exec := newScriptedExecutor()
	exec.blockOnCtx["running"] = true
	exec.blockOnCtx["unrelated"] = true

	running := step("running")
	blocked := step("blocked", "running")
	unrelated := step("unrelated")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	rr, err := scheduler.Run(ctx, []types.RunStep{running, blocked, unrelated}, 2, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	byID := recordsByID(rr)
	if byID["running"].State != types.NodeFailed {
		t.Errorf("running state = %s, want failed (canceled mid-flight)", byID["running"].State)
	}
	if byID["unrelated"].State != types.NodeFailed {
		t.Errorf("unrelated state = %s, want failed (canceled mid-flight)", byID["unrelated"].State)
	}
	if byID["blocked"].State != types.NodeSkipped {
		t.Errorf("blocked state = %s, want skipped (never admitted, depends on canceled node)", byID["blocked"].State)
	}
}

func recordsByID(r types.RunReport) map[string]types.NodeRecord {
	m := make(map[string]types.NodeRecord, len(r.Nodes))
	for _, n := range r.Nodes {
		m[n.ID] = n
	}
	return m
}

func TestRun_DeterministicNodeOrderMatchesDeclaration(t *testing.T) {
	exec := newScriptedExecutor()
	steps := []types.RunStep{step("z"), step("a"), step("m")}
	rr, err := scheduler.Run(context.Background(), steps, 3, exec, logger.NewSimpleLogger("test", "error"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var ids []string
	for _, n := range rr.Nodes {
		ids = append(ids, n.ID)
	}
	want := []string{"z", "a", "m"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Nodes order = %v, want declaration order %v", ids, want)
		}
	}
}
