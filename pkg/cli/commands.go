package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/effigy/effigy/pkg/catalog"
	"github.com/effigy/effigy/pkg/config"
	"github.com/effigy/effigy/pkg/deferral"
	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/graph"
	"github.com/effigy/effigy/pkg/interfaces"
	"github.com/effigy/effigy/pkg/lockmgr"
	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/manifest"
	"github.com/effigy/effigy/pkg/notifier"
	"github.com/effigy/effigy/pkg/process"
	"github.com/effigy/effigy/pkg/root"
	"github.com/effigy/effigy/pkg/runner"
	"github.com/effigy/effigy/pkg/scheduler"
	"github.com/effigy/effigy/pkg/selector"
	"github.com/effigy/effigy/pkg/types"
	"github.com/effigy/effigy/pkg/utils"
	watchpkg "github.com/effigy/effigy/pkg/watch"
)

// workspace bundles the per-invocation state every built-in needs: the
// resolved root, the discovered catalogs, and a logger scoped to this run.
type workspace struct {
	root     types.Root
	catalogs []types.Catalog
	log      logger.Logger
}

// bootstrap resolves the workspace root and discovers its catalogs, the
// first two steps every command shares.
func bootstrap() (*workspace, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getwd: %w", err)
	}
	r, err := root.Resolve(cwd, repoOverride)
	if err != nil {
		return nil, err
	}
	cats, err := catalog.Discover(r.Path)
	if err != nil {
		return nil, err
	}
	return &workspace{root: r, catalogs: cats, log: newLogger()}, nil
}

// runSelector is the root command's fallback handler: it resolves the
// given selector to either a built-in (dispatched here so that an explicit
// alias/path prefix scoping a built-in to one catalog still works) or a
// task, which it compiles, locks, and schedules. A selector that fails to
// resolve is handed to the deferral engine before giving up.
func runSelector(cmd *cobra.Command, raw string, passthroughArgs []string) error {
	ws, err := bootstrap()
	if err != nil {
		return exitErr(err)
	}

	ctx := withRequestContext(cmd.Context(), "run")
	logger.WithContext(ctx, ws.log).Debug("resolving selector", logger.WithField("selector", raw))

	cwd := mustGetwd()
	resolution, err := selector.Resolve(types.NewSelector(raw), cwd, ws.root.Path, ws.catalogs)
	if err != nil {
		deferred, derr := tryDeferral(ctx, ws, resolution.Catalog, raw, passthroughArgs, err)
		if derr != nil {
			return exitErr(derr)
		}
		if deferred {
			return nil
		}
		return exitErr(err)
	}

	if resolution.Mode == types.ModeBuiltin {
		return dispatchBuiltin(ctx, ws, resolution, passthroughArgs)
	}
	return runTaskSelector(ctx, ws, resolution, passthroughArgs)
}

// tryDeferral considers the deferral fallback when selector resolution
// failed with a kind deferral is allowed to catch. It returns deferred=true
// only once it has actually spawned and awaited the deferred command.
func tryDeferral(ctx context.Context, ws *workspace, scopedCatalog *types.Catalog, raw string, args []string, resolveErr error) (bool, error) {
	switch resolveErr.(type) {
	case *errs.TaskNotDefined, *errs.CatalogPrefixNotFound:
	default:
		return false, nil
	}

	explicitAlias := ""
	if scopedCatalog != nil {
		explicitAlias = scopedCatalog.Alias
	}
	cmdToRun := deferral.Select(explicitAlias, ws.catalogs, mustGetwd(), ws.root.Path)
	if cmdToRun == nil {
		return false, nil
	}

	logger.WithContext(ctx, ws.log).Info("deferring unresolved selector",
		logger.WithField("selector", raw), logger.WithField("source", cmdToRun.Source))
	code, err := deferral.Run(ctx, cmdToRun, raw, args)
	if err != nil {
		return false, err
	}
	os.Exit(code)
	return true, nil
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func dispatchBuiltin(ctx context.Context, ws *workspace, resolution types.Resolution, args []string) error {
	switch resolution.Builtin {
	case "help":
		return runHelp()
	case "tasks":
		return runTasks(ws, resolution.Catalog)
	case "test":
		return runTest(ctx, ws, resolution.Catalog, args)
	case "doctor":
		return runDoctor(ws)
	case "init":
		return runInit(ws, args)
	case "migrate":
		return runMigrate(ws, resolution.Catalog)
	case "config":
		return runConfigBuiltin()
	case "watch":
		return runWatch(ctx, ws, args)
	case "unlock":
		return runUnlock(ws, args)
	default:
		return fmt.Errorf("unhandled built-in %q", resolution.Builtin)
	}
}

// runTaskSelector compiles and schedules a resolved, non-built-in task.
func runTaskSelector(ctx context.Context, ws *workspace, resolution types.Resolution, passthroughArgs []string) error {
	report, err := executeTask(ctx, ws, resolution.Catalog, resolution.TaskName, passthroughArgs)
	if err != nil {
		return exitErr(err)
	}
	printReport(report)
	os.Exit(report.ExitCode)
	return nil
}

// executeTask acquires the task's lock scope, compiles its graph
// (flattening any task references), and schedules it.
func executeTask(ctx context.Context, ws *workspace, cat *types.Catalog, taskName string, passthroughArgs []string) (types.RunReport, error) {
	ctx = withRequestContext(ctx, "task")
	log := logger.WithContext(ctx, ws.log)
	log.Info("running task", logger.WithField("task", taskName))
	def, resolvedCat, err := resolveTaskDef(ws, cat, taskName, 0)
	if err != nil {
		return types.RunReport{}, err
	}

	if def.Kind == types.TaskKindManaged {
		return runManaged(ctx, ws, resolvedCat, taskName, def, passthroughArgs)
	}

	locks := lockmgr.New(ws.root.Path)
	scope := types.LockScope{Kind: types.LockScopeTask, Name: taskName}
	guards, err := locks.Acquire([]types.LockScope{scope})
	if err != nil {
		return types.RunReport{}, err
	}
	defer locks.Release(guards)

	steps, err := graph.Compile(def.Steps, passthroughArgs, taskResolver(ws, resolvedCat))
	if err != nil {
		return types.RunReport{}, err
	}

	settings, err := loadSettings()
	if err != nil {
		return types.RunReport{}, err
	}

	exec := &runner.Executor{Repo: resolvedCat.Root, Args: passthroughArgs, Stdio: stdioMode()}
	return scheduler.Run(ctx, steps, settings.MaxParallel, exec, log)
}

// resolveTaskDef follows TaskKindAlias chains (bounded, to catch cycles)
// until it lands on a runnable (exec or managed) task definition.
func resolveTaskDef(ws *workspace, cat *types.Catalog, taskName string, depth int) (types.TaskDef, *types.Catalog, error) {
	if depth > 8 {
		return types.TaskDef{}, nil, fmt.Errorf("alias chain for %q is too deep, suspect a cycle", taskName)
	}
	def, ok := cat.Tasks[taskName]
	if !ok {
		return types.TaskDef{}, nil, &errs.TaskNotDefined{Selector: taskName}
	}
	if def.Kind != types.TaskKindAlias {
		return def, cat, nil
	}
	resolution, err := selector.Resolve(types.NewSelector(def.AliasSelector), cat.Root, ws.root.Path, ws.catalogs)
	if err != nil {
		return types.TaskDef{}, nil, err
	}
	if resolution.Mode == types.ModeBuiltin {
		return types.TaskDef{}, nil, fmt.Errorf("alias %q resolves to built-in %q, not a runnable task", taskName, resolution.Builtin)
	}
	return resolveTaskDef(ws, resolution.Catalog, resolution.TaskName, depth+1)
}

// taskResolver closes over the workspace to resolve "ref"-kind RunStep
// references against the full catalog set, not just the task's own
// catalog, so a chain step may reference another catalog's task. The
// referenced task's steps are compiled in turn, so references nested inside
// it are flattened too; the nesting depth is bounded to catch cycles.
func taskResolver(ws *workspace, defaultCat *types.Catalog) graph.Resolver {
	return nestedTaskResolver(ws, defaultCat, 0)
}

func nestedTaskResolver(ws *workspace, defaultCat *types.Catalog, depth int) graph.Resolver {
	return func(sel string) ([]types.RunStep, error) {
		if depth > 8 {
			return nil, fmt.Errorf("task reference chain through %q is too deep, suspect a cycle", sel)
		}
		resolution, err := selector.Resolve(types.NewSelector(sel), defaultCat.Root, ws.root.Path, ws.catalogs)
		if err != nil {
			return nil, err
		}
		if resolution.Mode == types.ModeBuiltin {
			return nil, fmt.Errorf("task reference %q resolves to built-in %q, not a runnable task", sel, resolution.Builtin)
		}
		def, refCat, err := resolveTaskDef(ws, resolution.Catalog, resolution.TaskName, 0)
		if err != nil {
			return nil, err
		}
		if def.Kind == types.TaskKindManaged {
			return nil, fmt.Errorf("task reference %q names a managed task, which cannot be a dependency step", sel)
		}
		return graph.Compile(def.Steps, nil, nestedTaskResolver(ws, refCat, depth+1))
	}
}

// runManaged handles TaskKindManaged: a set of co-running processes with an
// interactive terminal UI. The TUI itself is an external collaborator;
// EFFIGY_MANAGED_STREAM opts into running every concurrent entry as an
// independent, streamed process instead, which the core can do on its own.
// Each entry is compiled on its own so entries never inherit one another's
// internal ordering.
func runManaged(ctx context.Context, ws *workspace, cat *types.Catalog, taskName string, def types.TaskDef, passthroughArgs []string) (types.RunReport, error) {
	ctx = withRequestContext(ctx, "task:managed")
	log := logger.WithContext(ctx, ws.log)
	if os.Getenv(types.EnvManagedStream) == "" {
		return types.RunReport{}, fmt.Errorf(
			"task %q is managed (a co-running process set with interactive TUI); set %s to run its entries as independent streamed processes, or invoke it through the managed TUI collaborator",
			taskName, types.EnvManagedStream)
	}

	scope := types.LockScope{Kind: types.LockScopeProfile, Name: taskName + "/default"}
	locks := lockmgr.New(ws.root.Path)
	guards, err := locks.Acquire([]types.LockScope{scope})
	if err != nil {
		return types.RunReport{}, err
	}
	defer locks.Release(guards)

	steps, err := buildManagedSteps(ws, cat, def, passthroughArgs)
	if err != nil {
		return types.RunReport{}, err
	}

	settings, err := loadSettings()
	if err != nil {
		return types.RunReport{}, err
	}
	maxParallel := settings.MaxParallel
	if len(steps) > maxParallel {
		maxParallel = len(steps)
	}

	exec := &runner.Executor{Repo: cat.Root, Args: passthroughArgs, Stdio: stdioMode()}
	return scheduler.Run(ctx, steps, maxParallel, exec, log)
}

// buildManagedSteps flattens one managed task's concurrent entries into a
// single RunStep list where every entry's own internal chain is preserved
// (via graph.Compile on that entry alone) but entries never depend on each
// other, since they are meant to run side by side.
func buildManagedSteps(ws *workspace, cat *types.Catalog, def types.TaskDef, passthroughArgs []string) ([]types.RunStep, error) {
	var out []types.RunStep
	for _, entry := range def.Concurrent {
		switch {
		case entry.Run != "":
			out = append(out, types.RunStep{
				ID:      entry.Name,
				Kind:    types.StepKindExec,
				Command: entry.Run,
				Policy:  types.Policy{FailFast: false},
			})

		case entry.Task != "":
			resolution, err := selector.Resolve(types.NewSelector(entry.Task), cat.Root, ws.root.Path, ws.catalogs)
			if err != nil {
				return nil, err
			}
			if resolution.Mode == types.ModeBuiltin {
				return nil, fmt.Errorf("managed entry %q names built-in %q, not a runnable task", entry.Name, resolution.Builtin)
			}
			subDef, subCat, err := resolveTaskDef(ws, resolution.Catalog, resolution.TaskName, 0)
			if err != nil {
				return nil, err
			}
			if subDef.Kind == types.TaskKindManaged {
				return nil, fmt.Errorf("managed entry %q names another managed task, which is not supported", entry.Name)
			}
			compiled, err := graph.Compile(subDef.Steps, passthroughArgs, taskResolver(ws, subCat))
			if err != nil {
				return nil, err
			}
			out = append(out, namespaceSteps(entry.Name, compiled)...)

		default:
			return nil, fmt.Errorf("managed entry %q in task has neither run nor task", entry.Name)
		}
	}
	return out, nil
}

func namespaceSteps(prefix string, steps []types.RunStep) []types.RunStep {
	translate := make(map[string]string, len(steps))
	for _, s := range steps {
		translate[s.ID] = prefix + "»" + s.ID
	}
	out := make([]types.RunStep, len(steps))
	for i, s := range steps {
		s.ID = translate[s.ID]
		newDeps := make([]string, len(s.DependsOn))
		for k, d := range s.DependsOn {
			newDeps[k] = translate[d]
		}
		s.DependsOn = newDeps
		out[i] = s
	}
	return out
}

func stdioMode() runner.StdioMode {
	if jsonOutput {
		return runner.StdioCapture
	}
	return runner.StdioInherit
}

func exitErr(err error) error {
	printError(err.Error())
	os.Exit(types.ExitGenericError)
	return nil
}

func printReport(report types.RunReport) {
	if jsonOutput {
		printJSONEnvelope("run", report.ExitCode == types.ExitSuccess, report, nil)
		return
	}
	for _, n := range report.Nodes {
		switch n.State {
		case types.NodeSucceeded:
			printSuccess(fmt.Sprintf("%s (%s)", n.ID, n.Duration()))
		case types.NodeSkipped:
			printWarning(fmt.Sprintf("%s skipped", n.ID))
		default:
			printError(fmt.Sprintf("%s %s (exit %d)", n.ID, n.State, n.ExitCode))
		}
	}
}

// printJSONEnvelope renders every built-in's JSON output in the shared
// {schema, schema_version, ok, command, result, error} shape.
func printJSONEnvelope(command string, ok bool, result interface{}, resultErr error) {
	envelope := map[string]interface{}{
		"schema":         "effigy.v1",
		"schema_version": 1,
		"ok":             ok,
		"command":        command,
		"result":         result,
	}
	if resultErr != nil {
		envelope["error"] = resultErr.Error()
	}
	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(out))
}

// ---- help ----

func newHelpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "help",
		Short: "Show usage and the resolved workspace's built-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHelp()
		},
	}
}

func runHelp() error {
	return rootCmd.Help()
}

// ---- tasks ----

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List every discovered catalog and its tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			return runTasks(ws, nil)
		},
	}
}

func runTasks(ws *workspace, scoped *types.Catalog) error {
	cats := ws.catalogs
	if scoped != nil {
		cats = []types.Catalog{*scoped}
	}
	if jsonOutput {
		printJSONEnvelope("tasks", true, cats, nil)
		return nil
	}
	for _, c := range cats {
		printInfo(fmt.Sprintf("%s (%s)", c.Alias, c.Root))
		names := make([]string, 0, len(c.Tasks))
		for name := range c.Tasks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}

// ---- test ----

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [suite...]",
		Short: "Run a catalog's configured test suites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			return runTest(cmd.Context(), ws, nil, args)
		},
	}
}

func runTest(ctx context.Context, ws *workspace, scoped *types.Catalog, suiteFilter []string) error {
	ctx = withRequestContext(ctx, "test")
	log := logger.WithContext(ctx, ws.log)

	cat := scoped
	if cat == nil {
		cat = nearestCatalogWithTests(ws, mustGetwd())
		if cat == nil {
			return exitErr(&errs.EmptyWorkspace{Root: ws.root.Path})
		}
	}

	names := make([]string, 0, len(cat.Test.Suites))
	for name := range cat.Test.Suites {
		if len(suiteFilter) > 0 && !contains(suiteFilter, name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	steps := make([]types.RunStep, 0, len(names))
	for _, name := range names {
		steps = append(steps, types.RunStep{
			ID:      name,
			Kind:    types.StepKindExec,
			Command: cat.Test.Suites[name],
			Policy:  types.Policy{FailFast: false},
		})
	}

	maxParallel := cat.Test.MaxParallel
	if maxParallel <= 0 {
		maxParallel = scheduler.DefaultMaxParallel
	}
	exec := &runner.Executor{Repo: cat.Root, Stdio: stdioMode()}
	report, err := scheduler.Run(ctx, steps, maxParallel, exec, log)
	if err != nil {
		return exitErr(err)
	}
	printReport(report)
	os.Exit(report.ExitCode)
	return nil
}

func nearestCatalogWithTests(ws *workspace, cwd string) *types.Catalog {
	var best *types.Catalog
	for i := range ws.catalogs {
		c := &ws.catalogs[i]
		if len(c.Test.Suites) == 0 {
			continue
		}
		if !strings.HasPrefix(cwd, c.Root) {
			continue
		}
		if best == nil || len(c.Root) > len(best.Root) {
			best = c
		}
	}
	if best == nil {
		for i := range ws.catalogs {
			if len(ws.catalogs[i].Test.Suites) > 0 {
				return &ws.catalogs[i]
			}
		}
	}
	return best
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ---- doctor ----

type doctorReport struct {
	Root              types.Root      `json:"root" yaml:"root"`
	Catalogs          []doctorCatalog `json:"catalogs" yaml:"catalogs"`
	Locks             []doctorLock    `json:"locks" yaml:"locks"`
	DefaultExclusions []string        `json:"default_exclusions" yaml:"default_exclusions"`
	NoisyTopLevel     []string        `json:"noisy_top_level,omitempty" yaml:"noisy_top_level,omitempty"`
}

type doctorCatalog struct {
	Alias     string `json:"alias" yaml:"alias"`
	Root      string `json:"root" yaml:"root"`
	Depth     int    `json:"depth" yaml:"depth"`
	TaskCount int    `json:"task_count" yaml:"task_count"`
	HasDefer  bool   `json:"has_defer" yaml:"has_defer"`
}

// doctorLock reports one lock file's holder and whether that PID is still
// alive, so an operator can tell a held lock from an orphaned one before
// reaching for "unlock".
type doctorLock struct {
	File  string `json:"file" yaml:"file"`
	Scope string `json:"scope" yaml:"scope"`
	PID   int    `json:"pid" yaml:"pid"`
	Alive bool   `json:"alive" yaml:"alive"`
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose root resolution, catalogs, and stale locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			return runDoctor(ws)
		},
	}
}

func runDoctor(ws *workspace) error {
	report := doctorReport{Root: ws.root, DefaultExclusions: utils.GetDefaultExclusions()}
	if entries, err := os.ReadDir(ws.root.Path); err == nil {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		if matcher, err := utils.NewPatternMatcher(report.DefaultExclusions); err == nil && matcher.MatchAny(names) {
			report.NoisyTopLevel = matcher.GetMatchingPaths(names)
		}
	}
	for _, c := range ws.catalogs {
		report.Catalogs = append(report.Catalogs, doctorCatalog{
			Alias:     c.Alias,
			Root:      c.Root,
			Depth:     c.Depth,
			TaskCount: len(c.Tasks),
			HasDefer:  c.Defer != nil,
		})
	}

	locksDir := ws.root.Path + "/.effigy/locks"
	if entries, err := os.ReadDir(locksDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			lock := doctorLock{File: e.Name()}
			if data, err := os.ReadFile(locksDir + "/" + e.Name()); err == nil {
				var record types.LockRecord
				if json.Unmarshal(data, &record) == nil {
					lock.Scope = record.Scope
					lock.PID = record.PID
					if info, err := process.GetProcessInfo(record.PID); err == nil {
						lock.Alive = info.IsRunning
					}
				}
			}
			report.Locks = append(report.Locks, lock)
		}
	}

	if jsonOutput {
		printJSONEnvelope("doctor", true, report, nil)
		return nil
	}

	out, err := config.DumpYAML(report)
	if err != nil {
		return exitErr(err)
	}
	fmt.Print(out)
	return nil
}

// ---- unlock ----

func newUnlockCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unlock [scope...]",
		Short: "Remove lock files without liveness checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			if all {
				args = append(args, "--all")
			}
			return runUnlock(ws, args)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every lock file under the workspace")
	return cmd
}

func runUnlock(ws *workspace, args []string) error {
	locks := lockmgr.New(ws.root.Path)

	all := false
	var scopeArgs []string
	for _, a := range args {
		if a == "--all" {
			all = true
			continue
		}
		scopeArgs = append(scopeArgs, a)
	}

	var result lockmgr.UnlockResult
	var err error
	if all {
		result, err = locks.UnlockAll()
	} else {
		scopes := make([]types.LockScope, 0, len(scopeArgs))
		for _, raw := range scopeArgs {
			scope, perr := types.ParseLockScope(raw)
			if perr != nil {
				scope = types.LockScope{Kind: types.LockScopeTask, Name: raw}
			}
			scopes = append(scopes, scope)
		}
		result, err = locks.Unlock(scopes)
	}
	if err != nil {
		return exitErr(err)
	}

	if jsonOutput {
		printJSONEnvelope("unlock", true, result, nil)
		return nil
	}
	for _, r := range result.Removed {
		printSuccess("removed " + r)
	}
	for _, m := range result.Missing {
		printWarning("not locked: " + m)
	}
	return nil
}

// ---- config ----

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show resolved settings (config file, EFFIGY_* env, flags)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigBuiltin()
		},
	}
}

func runConfigBuiltin() error {
	settings, err := loadSettings()
	if err != nil {
		return exitErr(err)
	}
	if jsonOutput {
		printJSONEnvelope("config", true, settings, nil)
		return nil
	}
	out, err := config.DumpYAML(settings)
	if err != nil {
		return exitErr(err)
	}
	fmt.Print(out)
	return nil
}

// ---- migrate ----

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite a legacy-named manifest as canonical effigy.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			return runMigrate(ws, nil)
		},
	}
}

func runMigrate(ws *workspace, scoped *types.Catalog) error {
	if err := migrateCatalog(ws, scoped); err != nil {
		return exitErr(err)
	}
	return nil
}

// migrateCatalog holds migrate's business logic free of any
// process-exiting side effect, so it can be exercised directly by tests.
func migrateCatalog(ws *workspace, scoped *types.Catalog) error {
	cat := scoped
	if cat == nil {
		for i := range ws.catalogs {
			if strings.HasSuffix(ws.catalogs[i].ManifestPath, manifest.LegacyFilename) {
				cat = &ws.catalogs[i]
				break
			}
		}
	}
	if cat == nil {
		return fmt.Errorf("no catalog uses the legacy manifest name %q", manifest.LegacyFilename)
	}
	if !strings.HasSuffix(cat.ManifestPath, manifest.LegacyFilename) {
		return fmt.Errorf("catalog %q already uses %q", cat.Alias, manifest.CanonicalFilename)
	}

	canonicalPath := strings.TrimSuffix(cat.ManifestPath, manifest.LegacyFilename) + manifest.CanonicalFilename
	if _, err := os.Stat(canonicalPath); err == nil {
		return fmt.Errorf("%s already exists, remove it before migrating", canonicalPath)
	}

	data, err := os.ReadFile(cat.ManifestPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(canonicalPath, data, 0o644); err != nil {
		return err
	}

	printSuccess(fmt.Sprintf("wrote %s (legacy %s left in place, remove it once verified)", canonicalPath, cat.ManifestPath))
	return nil
}

// ---- watch ----

func newWatchCmd() *cobra.Command {
	var owner string
	var once bool
	var maxRuns int
	var include, exclude []string

	cmd := &cobra.Command{
		Use:   "watch <target>",
		Short: "Rerun a target on debounced filesystem changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := bootstrap()
			if err != nil {
				return exitErr(err)
			}
			opts := watchpkg.Options{
				Owner:   owner,
				Target:  args[0],
				Once:    once,
				MaxRuns: maxRuns,
				JSON:    jsonOutput,
			}
			return runWatchWithOptions(cmd.Context(), ws, opts, args[1:], include, exclude)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "effigy", "watch loop owner: effigy or external")
	cmd.Flags().BoolVar(&once, "once", false, "run once and exit, skipping the watch loop")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "stop after this many total runs (0 = unbounded)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to include (default: everything not excluded)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "additional glob patterns to exclude")
	return cmd
}

// runWatch is the dispatch path reached when "watch" resolves as a built-in
// via the selector (e.g. scoped through an explicit catalog prefix), which
// has no flags of its own: it takes the bare target plus effigy defaults.
func runWatch(ctx context.Context, ws *workspace, args []string) error {
	if len(args) == 0 {
		return exitErr(&errs.WatchInvalidTarget{})
	}
	opts := watchpkg.Options{Owner: "effigy", Target: args[0], JSON: jsonOutput}
	return runWatchWithOptions(ctx, ws, opts, args[1:], nil, nil)
}

func runWatchWithOptions(ctx context.Context, ws *workspace, opts watchpkg.Options, passthroughArgs []string, include, exclude []string) error {
	ctx = withRequestContext(ctx, "watch")
	ws.log = logger.WithContext(ctx, ws.log)

	if err := opts.Validate(); err != nil {
		return exitErr(err)
	}

	resolution, err := selector.Resolve(types.NewSelector(opts.Target), mustGetwd(), ws.root.Path, ws.catalogs)
	if err != nil {
		return exitErr(err)
	}
	if resolution.Mode == types.ModeBuiltin {
		return exitErr(fmt.Errorf("watch target %q resolves to built-in %q, not a runnable task", opts.Target, resolution.Builtin))
	}

	matcher, err := watchpkg.NewMatcher(include, exclude)
	if err != nil {
		return exitErr(err)
	}
	settings, err := loadSettings()
	if err != nil {
		return exitErr(err)
	}
	fw, err := watchpkg.New(resolution.Catalog.Root, matcher, time.Duration(settings.WatchDebounceMs)*time.Millisecond)
	if err != nil {
		return exitErr(err)
	}
	defer fw.Close()

	notify := notifier.New(notifier.Config{Enabled: settings.NotificationsEnabled}, ws.log)
	locks := lockmgr.New(ws.root.Path)

	// ctx already carries top-level SIGINT/SIGTERM cancellation from
	// Execute's process.Manager; the watch loop and every run it triggers
	// observe it directly.
	run := func(ctx context.Context) (types.RunReport, error) {
		return executeTask(ctx, ws, resolution.Catalog, resolution.TaskName, passthroughArgs)
	}

	result, err := watchpkg.Loop(ctx, opts, locks, fw, interfaces.WrapNotifier(notify), run)
	if err != nil {
		return exitErr(err)
	}

	if opts.JSON {
		printJSONEnvelope("watch", true, result, nil)
		return nil
	}
	printSuccess(fmt.Sprintf("%d run(s) completed", result.Runs))
	return nil
}
