// Package selector implements the four-tier precedence algorithm that maps
// a user-typed Selector to a specific catalog/task pair, or to a built-in.
package selector

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/types"
)

type prefixKind int

const (
	prefixNone prefixKind = iota
	prefixAlias
	prefixPath
)

// Resolve implements §4.4: explicit alias prefix, then path prefix, then
// cwd-nearest in scope, then shallowest from root. Built-ins short-circuit
// tiers 3-4 unless directed at a specific catalog via an explicit prefix.
func Resolve(sel types.Selector, invocationCwd, root string, catalogs []types.Catalog) (types.Resolution, error) {
	kind, prefix, name, err := parse(sel.Raw)
	if err != nil {
		return types.Resolution{}, err
	}

	switch kind {
	case prefixNone:
		if types.BuiltinNames[name] {
			return types.Resolution{Mode: types.ModeBuiltin, Builtin: name}, nil
		}
		return resolveUnprefixed(sel, invocationCwd, root, name, catalogs)

	case prefixAlias:
		cat := findByAlias(catalogs, prefix)
		if cat == nil {
			return types.Resolution{}, &errs.CatalogPrefixNotFound{Alias: prefix}
		}
		return resolvePrefixed(sel, cat, name, types.ModeExplicitPrefix,
			fmt.Sprintf("selected catalog via explicit prefix %q", prefix))

	case prefixPath:
		target := normalizeJoin(invocationCwd, prefix)
		cat := findByCanonicalRoot(catalogs, target)
		if cat == nil {
			return types.Resolution{}, &errs.CatalogPrefixNotFound{Alias: prefix}
		}
		return resolvePrefixed(sel, cat, name, types.ModePathPrefix,
			fmt.Sprintf("selected catalog via relative prefix %q -> %q", prefix, cat.Alias))
	}

	return types.Resolution{}, fmt.Errorf("unreachable prefix kind")
}

func resolvePrefixed(sel types.Selector, cat *types.Catalog, name string, mode types.SelectorMode, evidence string) (types.Resolution, error) {
	if types.BuiltinNames[name] {
		return types.Resolution{Catalog: cat, Mode: types.ModeBuiltin, Builtin: name, Evidence: evidence}, nil
	}
	if _, ok := cat.Tasks[name]; !ok {
		// The targeted catalog is still returned so the caller can consult
		// its own [defer] command.
		return types.Resolution{Catalog: cat}, &errs.TaskNotDefined{Selector: sel.Raw}
	}
	return types.Resolution{Catalog: cat, TaskName: name, Mode: mode, Evidence: evidence}, nil
}

func resolveUnprefixed(sel types.Selector, invocationCwd, root, name string, catalogs []types.Catalog) (types.Resolution, error) {
	var matches []*types.Catalog
	for i := range catalogs {
		if _, ok := catalogs[i].Tasks[name]; ok {
			matches = append(matches, &catalogs[i])
		}
	}
	if len(matches) == 0 {
		return types.Resolution{}, &errs.TaskNotDefined{Selector: sel.Raw}
	}

	var inScope []*types.Catalog
	for _, c := range matches {
		if isWithin(c.Root, invocationCwd) {
			inScope = append(inScope, c)
		}
	}

	if len(inScope) > 0 {
		maxDepth := -1
		for _, c := range inScope {
			if c.Depth > maxDepth {
				maxDepth = c.Depth
			}
		}
		var deepest []*types.Catalog
		for _, c := range inScope {
			if c.Depth == maxDepth {
				deepest = append(deepest, c)
			}
		}
		if len(deepest) > 1 {
			return types.Resolution{}, ambiguous(sel.Raw, "cwd_nearest", deepest)
		}
		c := deepest[0]
		return types.Resolution{
			Catalog: c, TaskName: name, Mode: types.ModeCWDNearest,
			Evidence: fmt.Sprintf("selected nearest in-scope catalog %q for cwd %s", c.Alias, invocationCwd),
		}, nil
	}

	minDepth := matches[0].Depth
	for _, c := range matches {
		if c.Depth < minDepth {
			minDepth = c.Depth
		}
	}
	var shallowest []*types.Catalog
	for _, c := range matches {
		if c.Depth == minDepth {
			shallowest = append(shallowest, c)
		}
	}
	if len(shallowest) > 1 {
		return types.Resolution{}, ambiguous(sel.Raw, "shallowest", shallowest)
	}
	c := shallowest[0]
	return types.Resolution{
		Catalog: c, TaskName: name, Mode: types.ModeShallowest,
		Evidence: fmt.Sprintf("selected shallowest catalog %q by depth %d from root", c.Alias, c.Depth),
	}, nil
}

func ambiguous(selector, tier string, candidates []*types.Catalog) error {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = fmt.Sprintf("%s (%s)", c.Alias, c.ManifestPath)
	}
	sort.Strings(names)
	return &errs.Ambiguous{Selector: selector, Tier: tier, Candidates: names}
}

func findByAlias(catalogs []types.Catalog, alias string) *types.Catalog {
	for i := range catalogs {
		if catalogs[i].Alias == alias {
			return &catalogs[i]
		}
	}
	return nil
}

func findByCanonicalRoot(catalogs []types.Catalog, target string) *types.Catalog {
	for i := range catalogs {
		if normalizeClean(catalogs[i].Root) == target {
			return &catalogs[i]
		}
	}
	return nil
}

func isWithin(root, cwd string) bool {
	rel, err := filepath.Rel(root, cwd)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func normalizeJoin(cwd, prefix string) string {
	if filepath.IsAbs(prefix) {
		return normalizeClean(prefix)
	}
	return normalizeClean(filepath.Join(cwd, prefix))
}

func normalizeClean(path string) string {
	return filepath.Clean(path)
}

// parse splits a raw selector into its prefix kind, prefix value (alias or
// path, empty if none), and the trailing task/builtin name.
func parse(raw string) (prefixKind, string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return prefixNone, "", "", fmt.Errorf("selector must not be empty")
	}

	if strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../") || strings.HasPrefix(raw, "/") {
		idx := strings.LastIndex(raw, "/")
		if idx < 0 || idx == len(raw)-1 {
			return prefixNone, "", "", fmt.Errorf("malformed path-prefixed selector %q", raw)
		}
		prefix := raw[:idx]
		name := strings.TrimSpace(raw[idx+1:])
		if prefix == "" || name == "" {
			return prefixNone, "", "", fmt.Errorf("malformed path-prefixed selector %q", raw)
		}
		return prefixPath, prefix, name, nil
	}

	if idx := strings.Index(raw, "/"); idx >= 0 {
		prefix := strings.TrimSpace(raw[:idx])
		name := strings.TrimSpace(raw[idx+1:])
		if prefix == "" || name == "" {
			return prefixNone, "", "", fmt.Errorf("malformed selector %q: expected <catalog>/<task>", raw)
		}
		return prefixAlias, prefix, name, nil
	}

	return prefixNone, "", raw, nil
}
