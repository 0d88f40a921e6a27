package deferral_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/effigy/effigy/pkg/deferral"
	"github.com/effigy/effigy/pkg/errs"
	"github.com/effigy/effigy/pkg/manifest"
	"github.com/effigy/effigy/pkg/types"
)

func catalog(alias, root string, depth int, deferRun string) types.Catalog {
	c := types.Catalog{Alias: alias, Root: root, Depth: depth, ManifestPath: filepath.Join(root, "effigy.toml")}
	if deferRun != "" {
		c.Defer = &types.DeferConfig{Run: deferRun}
	}
	return c
}

func TestSelect_ExplicitAliasWins(t *testing.T) {
	catalogs := []types.Catalog{
		catalog("root", "/ws", 0, "root-defer"),
		catalog("api", "/ws/api", 1, "api-defer"),
	}
	got := deferral.Select("api", catalogs, "/ws", "/ws")
	if got == nil || got.Template != "api-defer" {
		t.Fatalf("got %+v", got)
	}
}

func TestSelect_DeepestInScope(t *testing.T) {
	catalogs := []types.Catalog{
		catalog("root", "/ws", 0, "root-defer"),
		catalog("api", "/ws/api", 1, "api-defer"),
	}
	got := deferral.Select("", catalogs, "/ws/api/src", "/ws")
	if got == nil || got.Template != "api-defer" {
		t.Fatalf("got %+v, want deepest in-scope catalog", got)
	}
}

func TestSelect_ShallowestFallback(t *testing.T) {
	catalogs := []types.Catalog{
		catalog("deep", "/ws/a/b", 2, "deep-defer"),
		catalog("shallow", "/ws/a", 1, "shallow-defer"),
	}
	got := deferral.Select("", catalogs, "/elsewhere", "/ws")
	if got == nil || got.Template != "shallow-defer" {
		t.Fatalf("got %+v, want shallowest fallback", got)
	}
}

func TestSelect_ImplicitRootRule(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "composer.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, manifest.LegacyFilename), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	got := deferral.Select("", nil, root, root)
	if got == nil {
		t.Fatal("expected implicit root deferral to match")
	}
}

func TestSelect_NoMatch(t *testing.T) {
	root := t.TempDir()
	got := deferral.Select("", nil, root, root)
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestRun_LoopGuardBlocksNestedDeferral(t *testing.T) {
	t.Setenv(types.EnvDeferDepth, "1")
	cmd := &deferral.Command{Template: "echo hi", WorkingDir: t.TempDir()}
	_, err := deferral.Run(context.Background(), cmd, "some/task", nil)
	var loopErr *errs.DeferralLoop
	if !errors.As(err, &loopErr) {
		t.Fatalf("error = %v, want *errs.DeferralLoop", err)
	}
}

func TestRun_PropagatesExitCode(t *testing.T) {
	t.Setenv(types.EnvDeferDepth, "")
	dir := t.TempDir()
	cmd := &deferral.Command{Template: "exit 42", WorkingDir: dir}
	code, err := deferral.Run(context.Background(), cmd, "some/task", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 42 {
		t.Errorf("code = %d, want 42", code)
	}
}
