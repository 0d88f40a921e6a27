// Package catalog discovers effigy.toml manifests under a resolved root,
// assigns catalog aliases and depths, and collapses symlink-aliased
// duplicates.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/manifest"
	"github.com/effigy/effigy/pkg/types"
)

var skipDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	".next":        true,
	".effigy":      true,
}

// Discover walks root, parses every manifest it finds, and returns the
// resulting catalogs sorted by manifest path for deterministic ordering.
func Discover(root string) ([]types.Catalog, error) {
	manifestPaths, err := discoverManifestPaths(root)
	if err != nil {
		return nil, err
	}
	if len(manifestPaths) == 0 {
		return nil, &errs.EmptyWorkspace{Root: root}
	}

	catalogs := make([]types.Catalog, 0, len(manifestPaths))
	aliasOwners := make(map[string]string) // alias -> canonical manifest path

	for _, manifestPath := range manifestPaths {
		cat, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, err
		}

		catalogRoot := filepath.Dir(manifestPath)
		canonical := canonicalizeBestEffort(manifestPath)

		if cat.Alias == "" {
			cat.Alias = defaultAlias(catalogRoot, root)
		}
		cat.Root = catalogRoot
		cat.ManifestPath = manifestPath
		cat.CanonicalPath = canonical
		cat.Depth = catalogDepth(root, catalogRoot)

		if firstPath, exists := aliasOwners[cat.Alias]; exists && firstPath != canonical {
			return nil, &errs.AliasConflict{Alias: cat.Alias, PathA: firstPath, PathB: canonical}
		}
		aliasOwners[cat.Alias] = canonical

		catalogs = append(catalogs, *cat)
	}

	sort.Slice(catalogs, func(i, j int) bool { return catalogs[i].ManifestPath < catalogs[j].ManifestPath })
	return catalogs, nil
}

// discoverManifestPaths walks the tree rooted at root, maintaining a set of
// visited canonical directory paths to guarantee termination on symlink
// cycles and to dedupe catalogs reachable through more than one symlinked
// path. Exactly one manifest is chosen per directory: the canonical name
// if present, otherwise the legacy fallback.
func discoverManifestPaths(root string) ([]string, error) {
	visited := map[string]bool{}
	var pending []string
	pending = append(pending, root)

	byCatalogDir := map[string]string{}

	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		canonicalDir := canonicalizeBestEffort(dir)
		if visited[canonicalDir] {
			continue
		}
		visited[canonicalDir] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		var canonicalManifest, legacyManifest string
		var subdirs []string

		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(dir, name)

			info, err := os.Stat(path) // follows symlinks
			if err != nil {
				continue
			}

			if info.IsDir() {
				if skipDirNames[name] {
					continue
				}
				subdirs = append(subdirs, path)
				continue
			}

			switch name {
			case manifest.CanonicalFilename:
				canonicalManifest = path
			case manifest.LegacyFilename:
				legacyManifest = path
			}
		}

		if canonicalManifest != "" {
			byCatalogDir[dir] = canonicalManifest
		} else if legacyManifest != "" {
			byCatalogDir[dir] = legacyManifest
		}

		pending = append(pending, subdirs...)
	}

	paths := make([]string, 0, len(byCatalogDir))
	for _, p := range byCatalogDir {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func catalogDepth(root, catalogRoot string) int {
	rel, err := filepath.Rel(root, catalogRoot)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func defaultAlias(catalogRoot, root string) string {
	if catalogRoot == root {
		return "root"
	}
	base := filepath.Base(catalogRoot)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "catalog"
	}
	return base
}

func canonicalizeBestEffort(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
