package root_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/root"
	"github.com/effigy/effigy/pkg/types"
)

func TestResolve_ExplicitOverride(t *testing.T) {
	dir := t.TempDir()

	got, err := root.Resolve(dir, dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Mode != types.ResolutionExplicit {
		t.Errorf("Mode = %v, want explicit", got.Mode)
	}
}

func TestResolve_NearestMarker(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "package.json"), []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(base, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := root.Resolve(nested, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Mode != types.ResolutionAutoNearest {
		t.Errorf("Mode = %v, want auto_nearest", got.Mode)
	}
	wantPath, _ := filepath.EvalSymlinks(base)
	if got.Path != wantPath {
		t.Errorf("Path = %q, want %q", got.Path, wantPath)
	}
}

func TestResolve_NotFound(t *testing.T) {
	// Use a synthetic marker-free tree instead of the real filesystem
	// root, since the sandbox's actual root may itself carry a marker.
	fakeRoot := t.TempDir()
	deep := filepath.Join(fakeRoot, "a", "b", "c")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}

	root.OverrideFilesystemRootForTest(t, fakeRoot)

	_, err := root.Resolve(deep, "")
	if err == nil {
		t.Fatal("expected RootNotFound, got nil")
	}
	var notFound *errs.RootNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("error = %v, want *errs.RootNotFound", err)
	}
}

func TestResolve_PromotionViaPackageJSONWorkspaces(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "package.json"),
		[]byte(`{"workspaces": ["packages/*"]}`), 0644); err != nil {
		t.Fatal(err)
	}
	child := filepath.Join(base, "packages", "child")
	if err := os.MkdirAll(child, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(child, "package.json"), []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := root.Resolve(child, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Mode != types.ResolutionAutoPromoted {
		t.Errorf("Mode = %v, want auto_promoted", got.Mode)
	}
	wantPath, _ := filepath.EvalSymlinks(base)
	if got.Path != wantPath {
		t.Errorf("Path = %q, want %q", got.Path, wantPath)
	}
}

func TestResolve_PromotionSkippedWhenChildHasGit(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "package.json"),
		[]byte(`{"workspaces": ["*"]}`), 0644); err != nil {
		t.Fatal(err)
	}
	child := filepath.Join(base, "child")
	if err := os.MkdirAll(filepath.Join(child, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(child, "package.json"), []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := root.Resolve(child, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Mode != types.ResolutionAutoNearest {
		t.Errorf("Mode = %v, want auto_nearest (promotion should be skipped)", got.Mode)
	}
}
