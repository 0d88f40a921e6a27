// Package root resolves the workspace root directory for one invocation:
// ascend from the invocation cwd to the nearest marker directory, then
// consult promotion signals to decide whether a parent workspace should
// take over.
package root

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/types"
	"github.com/effigy/effigy/pkg/utils"
)

// Resolve implements §4.1: explicit override wins outright; otherwise
// ascend to the nearest marker directory and consult promotion signals.
func Resolve(invocationCwd string, explicitOverride string) (types.Root, error) {
	if explicitOverride != "" {
		abs, err := filepath.Abs(explicitOverride)
		if err != nil {
			return types.Root{}, fmt.Errorf("resolving --repo override: %w", err)
		}
		canon := canonicalizeBestEffort(abs)
		return types.Root{
			Path:     canon,
			Mode:     types.ResolutionExplicit,
			Evidence: fmt.Sprintf("explicit override %s", explicitOverride),
		}, nil
	}

	cwd, err := filepath.Abs(invocationCwd)
	if err != nil {
		return types.Root{}, fmt.Errorf("resolving invocation cwd: %w", err)
	}

	nearest, marker, err := findNearestCandidate(cwd)
	if err != nil {
		return types.Root{}, err
	}

	promoted, evidence := maybePromoteToParentWorkspace(nearest)
	if promoted != "" {
		return types.Root{
			Path:     canonicalizeBestEffort(promoted),
			Mode:     types.ResolutionAutoPromoted,
			Marker:   marker,
			Evidence: evidence,
		}, nil
	}

	return types.Root{
		Path:     canonicalizeBestEffort(nearest),
		Mode:     types.ResolutionAutoNearest,
		Marker:   marker,
		Evidence: fmt.Sprintf("nearest marker %s at %s", marker, nearest),
	}, nil
}

// filesystemBoundary stops ascent early when set, so tests can exercise
// RootNotFound without depending on the real filesystem root being
// marker-free.
var filesystemBoundary string

// findNearestCandidate ascends from dir until a directory contains any
// root marker, returning that directory and which marker matched.
func findNearestCandidate(dir string) (string, string, error) {
	current := dir
	for {
		if marker, ok := isCandidateRoot(current); ok {
			return current, marker, nil
		}
		parent := filepath.Dir(current)
		if parent == current || current == filesystemBoundary {
			return "", "", &errs.RootNotFound{StartDir: dir}
		}
		current = parent
	}
}

func isCandidateRoot(dir string) (string, bool) {
	for _, marker := range types.RootMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return marker, true
		}
	}
	return "", false
}

// maybePromoteToParentWorkspace checks whether the nearest root's parent
// declares it as a workspace member. If the nearest root itself owns a
// ".git" directory, promotion is skipped — a nested repository should
// never be silently absorbed into an ancestor's workspace.
func maybePromoteToParentWorkspace(nearest string) (promoted string, evidence string) {
	if utils.DirectoryExists(filepath.Join(nearest, ".git")) {
		return "", ""
	}

	parent := filepath.Dir(nearest)
	if parent == nearest {
		return "", ""
	}
	childName := filepath.Base(nearest)

	if members, ok := readPackageJSONWorkspaces(filepath.Join(parent, "package.json")); ok {
		if workspaceMentions(members, childName) {
			return parent, fmt.Sprintf("parent package.json workspaces mentions %q", childName)
		}
	}

	if members, ok := readCargoWorkspaceMembers(filepath.Join(parent, "Cargo.toml")); ok {
		if workspaceMentions(members, childName) {
			return parent, fmt.Sprintf("parent Cargo.toml [workspace].members mentions %q", childName)
		}
	}

	return "", ""
}

func workspaceMentions(members []string, childName string) bool {
	for _, m := range members {
		m = strings.TrimSuffix(strings.TrimSuffix(m, "/*"), "/")
		if m == "*" || m == childName {
			return true
		}
	}
	return false
}

func readPackageJSONWorkspaces(path string) ([]string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var doc struct {
		Workspaces json.RawMessage `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Workspaces == nil {
		return nil, false
	}

	var list []string
	if err := json.Unmarshal(doc.Workspaces, &list); err == nil {
		return list, true
	}

	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(doc.Workspaces, &obj); err == nil {
		return obj.Packages, true
	}
	return nil, false
}

// readCargoWorkspaceMembers does a light-touch scan for "[workspace]" and
// its "members = [...]" array without pulling in a full TOML parser for a
// promotion-signal check that only needs one array.
func readCargoWorkspaceMembers(path string) ([]string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	text := string(data)
	if !strings.Contains(text, "[workspace]") {
		return nil, false
	}
	idx := strings.Index(text, "members")
	if idx < 0 {
		return nil, false
	}
	rest := text[idx:]
	open := strings.Index(rest, "[")
	close := strings.Index(rest, "]")
	if open < 0 || close < 0 || close < open {
		return nil, false
	}
	raw := rest[open+1 : close]
	var members []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, `"'`)
		if part != "" {
			members = append(members, part)
		}
	}
	return members, true
}

func canonicalizeBestEffort(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
