// Package manifest loads a catalog's effigy.toml (or its legacy fallback)
// and normalizes the compact-run, compact-chain, and full-table task forms
// into a uniform sequence of types.RunStep entries.
package manifest

import (
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/shelltoken"
	"github.com/effigy/effigy/pkg/types"
)

const (
	CanonicalFilename = "effigy.toml"
	LegacyFilename    = "effigy.tasks.toml"
)

var topLevelKeys = []string{"catalog", "package_manager", "test", "defer", "shell", "tasks"}

type rawManifest struct {
	Catalog        *rawCatalogMeta           `toml:"catalog"`
	PackageManager *rawPackageManager        `toml:"package_manager"`
	Test           *rawTest                  `toml:"test"`
	Defer          *rawDefer                 `toml:"defer"`
	Shell          *rawShell                 `toml:"shell"`
	Tasks          map[string]toml.Primitive `toml:"tasks"`
}

type rawCatalogMeta struct {
	Alias string `toml:"alias"`
}

type rawPackageManager struct {
	JS string `toml:"js"`
}

type rawTest struct {
	MaxParallel int                       `toml:"max_parallel"`
	Suites      map[string]toml.Primitive `toml:"suites"`
	Runners     map[string]toml.Primitive `toml:"runners"`
}

type rawDefer struct {
	Run string `toml:"run"`
}

type rawShell struct {
	Run string `toml:"run"`
}

// Load parses path and returns a partially-populated Catalog: Root, Alias
// (from discovery defaults when [catalog].alias is absent), Depth, and
// CanonicalPath are the discoverer's responsibility, not the loader's.
func Load(path string) (*types.Catalog, error) {
	var raw rawManifest
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, &errs.ManifestParse{Path: path, Err: err}
	}

	cat := &types.Catalog{ManifestPath: path}
	if raw.Catalog != nil {
		cat.Alias = raw.Catalog.Alias
	}
	if raw.Defer != nil {
		cat.Defer = &types.DeferConfig{Run: raw.Defer.Run}
	}
	if raw.Shell != nil {
		cat.ShellOverride = raw.Shell.Run
	}
	if raw.PackageManager != nil {
		cat.PackageManager = types.PackageManagerConfig{JS: raw.PackageManager.JS}
	}
	if raw.Test != nil {
		tc, err := decodeTestConfig(meta, raw.Test, path)
		if err != nil {
			return nil, err
		}
		cat.Test = tc
	}

	tasks, err := decodeTasks(meta, raw.Tasks, path)
	if err != nil {
		return nil, err
	}
	cat.Tasks = tasks

	// Nested keys under the toml.Primitive fields only count as decoded once
	// the decoders above have run, so unknown keys are checked last.
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &errs.ManifestSchema{
			Path:      path,
			DottedKey: undecoded[0].String(),
			Accepted:  topLevelKeys,
		}
	}
	return cat, nil
}

func decodeTestConfig(meta toml.MetaData, raw *rawTest, path string) (types.TestConfig, error) {
	tc := types.TestConfig{
		MaxParallel: raw.MaxParallel,
		Suites:      map[string]string{},
		Runners:     map[string]types.TestRunner{},
	}
	for name, prim := range raw.Suites {
		var s string
		if err := meta.PrimitiveDecode(prim, &s); err == nil {
			tc.Suites[name] = s
			continue
		}
		var table struct {
			Run string `toml:"run"`
		}
		if err := meta.PrimitiveDecode(prim, &table); err != nil {
			return types.TestConfig{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("test.suites.%s", name),
				Accepted: []string{`"<command>"`, `{ run = "<command>" }`},
			}
		}
		tc.Suites[name] = table.Run
	}
	for name, prim := range raw.Runners {
		var s string
		if err := meta.PrimitiveDecode(prim, &s); err == nil {
			tc.Runners[name] = types.TestRunner{Command: s}
			continue
		}
		var table struct {
			Command string `toml:"command"`
		}
		if err := meta.PrimitiveDecode(prim, &table); err != nil {
			return types.TestConfig{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("test.runners.%s", name),
				Accepted: []string{`"<command>"`, `{ command = "<command>" }`},
			}
		}
		tc.Runners[name] = types.TestRunner{Command: table.Command}
	}
	return tc, nil
}

func decodeTasks(meta toml.MetaData, raw map[string]toml.Primitive, path string) (map[string]types.TaskDef, error) {
	tasks := make(map[string]types.TaskDef, len(raw))
	for name, prim := range raw {
		def, err := decodeTaskDef(meta, name, prim, path)
		if err != nil {
			return nil, err
		}
		tasks[name] = def
	}
	return tasks, nil
}

var taskTableKeys = []string{"run", "mode", "concurrent", "profiles", "fail_on_non_zero", "shell", "task"}

func decodeTaskDef(meta toml.MetaData, name string, prim toml.Primitive, path string) (types.TaskDef, error) {
	// Compact run: a bare command string.
	var command string
	if err := meta.PrimitiveDecode(prim, &command); err == nil {
		return types.TaskDef{
			Kind:          types.TaskKindExec,
			FailOnNonZero: true,
			Steps: []types.RunStep{{
				ID: "step-1", Kind: types.StepKindExec, Command: command, Policy: types.DefaultPolicy(),
			}},
		}, nil
	}

	// Compact chain: a sequence of command strings and/or ref tables.
	var seq []toml.Primitive
	if err := meta.PrimitiveDecode(prim, &seq); err == nil {
		steps, err := decodeStepSequence(meta, seq, path, name)
		if err != nil {
			return types.TaskDef{}, err
		}
		return types.TaskDef{Kind: types.TaskKindExec, FailOnNonZero: true, Steps: steps}, nil
	}

	// Full table.
	var table map[string]toml.Primitive
	if err := meta.PrimitiveDecode(prim, &table); err != nil {
		return types.TaskDef{}, &errs.ManifestSchema{
			Path: path, DottedKey: fmt.Sprintf("tasks.%s", name),
			Accepted: []string{`"<command>"`, "<sequence>", "<table>"},
		}
	}
	for k := range table {
		if !contains(taskTableKeys, k) {
			return types.TaskDef{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.%s", name, k), Accepted: taskTableKeys,
			}
		}
	}

	if aliasPrim, ok := table["task"]; ok {
		var alias string
		if err := meta.PrimitiveDecode(aliasPrim, &alias); err != nil {
			return types.TaskDef{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.task", name), Accepted: []string{"<selector string>"},
			}
		}
		return types.TaskDef{Kind: types.TaskKindAlias, AliasSelector: alias}, nil
	}

	def := types.TaskDef{Kind: types.TaskKindExec, FailOnNonZero: true}

	if modePrim, ok := table["mode"]; ok {
		var mode string
		if err := meta.PrimitiveDecode(modePrim, &mode); err != nil || mode != "tui" {
			return types.TaskDef{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.mode", name), Accepted: []string{`"tui"`},
			}
		}
		def.Kind = types.TaskKindManaged
	}

	if failPrim, ok := table["fail_on_non_zero"]; ok {
		var b bool
		if err := meta.PrimitiveDecode(failPrim, &b); err != nil {
			return types.TaskDef{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.fail_on_non_zero", name), Accepted: []string{"true", "false"},
			}
		}
		def.FailOnNonZero = b
	}

	if shellPrim, ok := table["shell"]; ok {
		var b bool
		if err := meta.PrimitiveDecode(shellPrim, &b); err != nil {
			return types.TaskDef{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.shell", name), Accepted: []string{"true", "false"},
			}
		}
		def.Shell = b
	}

	if runPrim, ok := table["run"]; ok {
		var runStr string
		if err := meta.PrimitiveDecode(runPrim, &runStr); err == nil {
			def.Steps = []types.RunStep{{ID: "step-1", Kind: types.StepKindExec, Command: runStr, Policy: types.DefaultPolicy()}}
		} else {
			var runSeq []toml.Primitive
			if err := meta.PrimitiveDecode(runPrim, &runSeq); err != nil {
				return types.TaskDef{}, &errs.ManifestSchema{
					Path: path, DottedKey: fmt.Sprintf("tasks.%s.run", name),
					Accepted: []string{`"<command>"`, "<sequence>"},
				}
			}
			steps, err := decodeStepSequence(meta, runSeq, path, name)
			if err != nil {
				return types.TaskDef{}, err
			}
			def.Steps = steps
		}
	}

	if concPrim, ok := table["concurrent"]; ok {
		entries, err := decodeConcurrentEntries(meta, concPrim, path, fmt.Sprintf("tasks.%s.concurrent", name))
		if err != nil {
			return types.TaskDef{}, err
		}
		def.Concurrent = entries
	}

	if profPrim, ok := table["profiles"]; ok {
		profiles, err := decodeProfiles(meta, profPrim, path, name)
		if err != nil {
			return types.TaskDef{}, err
		}
		def.Profiles = profiles
	}

	return def, nil
}

func decodeProfiles(meta toml.MetaData, prim toml.Primitive, path, taskName string) (map[string]types.ManagedProfile, error) {
	var raw map[string]toml.Primitive
	if err := meta.PrimitiveDecode(prim, &raw); err != nil {
		return nil, &errs.ManifestSchema{
			Path: path, DottedKey: fmt.Sprintf("tasks.%s.profiles", taskName),
			Accepted: []string{"<table of profile name to { concurrent = [...] }>"},
		}
	}
	profiles := make(map[string]types.ManagedProfile, len(raw))
	for pname, pprim := range raw {
		var ptable map[string]toml.Primitive
		if err := meta.PrimitiveDecode(pprim, &ptable); err != nil {
			return nil, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s.profiles.%s", taskName, pname),
				Accepted: []string{"{ concurrent = [...] }"},
			}
		}
		var mp types.ManagedProfile
		if cprim, ok := ptable["concurrent"]; ok {
			entries, err := decodeConcurrentEntries(meta, cprim, path, fmt.Sprintf("tasks.%s.profiles.%s.concurrent", taskName, pname))
			if err != nil {
				return nil, err
			}
			mp.Concurrent = entries
		}
		for k := range ptable {
			if k != "concurrent" {
				return nil, &errs.ManifestSchema{
					Path: path, DottedKey: fmt.Sprintf("tasks.%s.profiles.%s.%s", taskName, pname, k),
					Accepted: []string{"concurrent"},
				}
			}
		}
		profiles[pname] = mp
	}
	return profiles, nil
}

var concurrentEntryKeys = []string{"name", "task", "run", "start", "tab", "start_after_ms"}

func decodeConcurrentEntries(meta toml.MetaData, prim toml.Primitive, path, dotted string) ([]types.ManagedEntry, error) {
	var raws []map[string]toml.Primitive
	if err := meta.PrimitiveDecode(prim, &raws); err != nil {
		return nil, &errs.ManifestSchema{Path: path, DottedKey: dotted, Accepted: []string{"<sequence of process descriptors>"}}
	}
	entries := make([]types.ManagedEntry, 0, len(raws))
	for i, raw := range raws {
		for k := range raw {
			if !contains(concurrentEntryKeys, k) {
				return nil, &errs.ManifestSchema{
					Path: path, DottedKey: fmt.Sprintf("%s[%d].%s", dotted, i, k), Accepted: concurrentEntryKeys,
				}
			}
		}
		var e types.ManagedEntry
		if p, ok := raw["name"]; ok {
			if err := meta.PrimitiveDecode(p, &e.Name); err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].name", dotted, i), Accepted: []string{"<string>"}}
			}
		}
		if p, ok := raw["task"]; ok {
			if err := meta.PrimitiveDecode(p, &e.Task); err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].task", dotted, i), Accepted: []string{"<string>"}}
			}
		}
		if p, ok := raw["run"]; ok {
			if err := meta.PrimitiveDecode(p, &e.Run); err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].run", dotted, i), Accepted: []string{"<string>"}}
			}
		}
		if p, ok := raw["start"]; ok {
			v, err := decodeStringish(meta, p)
			if err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].start", dotted, i), Accepted: []string{"<string>", "<int>"}}
			}
			e.Start = v
		}
		if p, ok := raw["tab"]; ok {
			v, err := decodeStringish(meta, p)
			if err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].tab", dotted, i), Accepted: []string{"<string>", "<int>"}}
			}
			e.Tab = v
		}
		if p, ok := raw["start_after_ms"]; ok {
			var ms int64
			if err := meta.PrimitiveDecode(p, &ms); err != nil {
				return nil, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("%s[%d].start_after_ms", dotted, i), Accepted: []string{"<int>"}}
			}
			e.StartAfterMs = int(ms)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeStringish(meta toml.MetaData, prim toml.Primitive) (string, error) {
	var s string
	if err := meta.PrimitiveDecode(prim, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := meta.PrimitiveDecode(prim, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("expected string or int")
}

func decodeStepSequence(meta toml.MetaData, seq []toml.Primitive, path, taskName string) ([]types.RunStep, error) {
	steps := make([]types.RunStep, 0, len(seq))
	for i, prim := range seq {
		var command string
		if err := meta.PrimitiveDecode(prim, &command); err == nil {
			steps = append(steps, types.RunStep{
				ID: fmt.Sprintf("step-%d", i+1), Kind: types.StepKindExec, Command: command, Policy: types.DefaultPolicy(),
			})
			continue
		}
		var table map[string]toml.Primitive
		if err := meta.PrimitiveDecode(prim, &table); err != nil {
			return nil, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d]", taskName, i),
				Accepted: []string{`"<command>"`, `{ task = "<selector>" }`, `{ run = "<command>" }`},
			}
		}
		step, err := decodeStepTable(meta, table, path, taskName, i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

var stepTableKeys = []string{"task", "run", "id", "depends_on", "timeout_ms", "retry", "retry_delay_ms", "fail_fast"}

func decodeStepTable(meta toml.MetaData, table map[string]toml.Primitive, path, taskName string, idx int) (types.RunStep, error) {
	for k := range table {
		if !contains(stepTableKeys, k) {
			return types.RunStep{}, &errs.ManifestSchema{
				Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].%s", taskName, idx, k), Accepted: stepTableKeys,
			}
		}
	}

	step := types.RunStep{ID: fmt.Sprintf("step-%d", idx+1), Policy: types.DefaultPolicy()}

	if p, ok := table["id"]; ok {
		if err := meta.PrimitiveDecode(p, &step.ID); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].id", taskName, idx), Accepted: []string{"<string>"}}
		}
	}
	if p, ok := table["depends_on"]; ok {
		if err := meta.PrimitiveDecode(p, &step.DependsOn); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].depends_on", taskName, idx), Accepted: []string{"<sequence of string>"}}
		}
	}
	if p, ok := table["timeout_ms"]; ok {
		var v int64
		if err := meta.PrimitiveDecode(p, &v); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].timeout_ms", taskName, idx), Accepted: []string{"<int>"}}
		}
		step.Policy.TimeoutMs = int(v)
	}
	if p, ok := table["retry"]; ok {
		var v int64
		if err := meta.PrimitiveDecode(p, &v); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].retry", taskName, idx), Accepted: []string{"<int>"}}
		}
		step.Policy.Retry = int(v)
	}
	if p, ok := table["retry_delay_ms"]; ok {
		var v int64
		if err := meta.PrimitiveDecode(p, &v); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].retry_delay_ms", taskName, idx), Accepted: []string{"<int>"}}
		}
		step.Policy.RetryDelayMs = int(v)
	}
	if p, ok := table["fail_fast"]; ok {
		if err := meta.PrimitiveDecode(p, &step.Policy.FailFast); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].fail_fast", taskName, idx), Accepted: []string{"true", "false"}}
		}
	} else {
		step.Policy.FailFast = true
	}

	taskPrim, hasTask := table["task"]
	runPrim, hasRun := table["run"]
	switch {
	case hasTask && hasRun:
		return types.RunStep{}, &errs.ManifestSchema{
			Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d]", taskName, idx),
			Accepted: []string{"exactly one of `task` or `run`"},
		}
	case hasTask:
		var raw string
		if err := meta.PrimitiveDecode(taskPrim, &raw); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].task", taskName, idx), Accepted: []string{"<selector string>"}}
		}
		tokens, err := shelltoken.Split(raw)
		if err != nil || len(tokens) == 0 {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].task", taskName, idx), Accepted: []string{"<selector> [args...]"}}
		}
		step.Kind = types.StepKindRef
		step.Selector = tokens[0]
		step.InlineArgs = tokens[1:]
	case hasRun:
		if err := meta.PrimitiveDecode(runPrim, &step.Command); err != nil {
			return types.RunStep{}, &errs.ManifestSchema{Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d].run", taskName, idx), Accepted: []string{"<command string>"}}
		}
		step.Kind = types.StepKindExec
	default:
		return types.RunStep{}, &errs.ManifestSchema{
			Path: path, DottedKey: fmt.Sprintf("tasks.%s[%d]", taskName, idx),
			Accepted: []string{"`task`", "`run`"},
		}
	}
	return step, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
