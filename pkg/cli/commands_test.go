package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/effigy/effigy/pkg/types"
)

func step(id string, deps ...string) types.RunStep {
	return types.RunStep{ID: id, Kind: types.StepKindExec, Command: "echo " + id, DependsOn: deps}
}

func TestNamespaceSteps_TranslatesIDsAndInternalDeps(t *testing.T) {
	steps := []types.RunStep{step("a"), step("b", "a")}
	out := namespaceSteps("web", steps)

	if out[0].ID != "web»a" {
		t.Errorf("out[0].ID = %q, want web»a", out[0].ID)
	}
	if out[1].ID != "web»b" {
		t.Errorf("out[1].ID = %q, want web»b", out[1].ID)
	}
	if len(out[1].DependsOn) != 1 || out[1].DependsOn[0] != "web»a" {
		t.Errorf("out[1].DependsOn = %v, want [web»a]", out[1].DependsOn)
	}
}

func TestNamespaceSteps_DoesNotMutateInput(t *testing.T) {
	steps := []types.RunStep{step("a")}
	namespaceSteps("web", steps)
	if steps[0].ID != "a" {
		t.Errorf("input mutated: steps[0].ID = %q", steps[0].ID)
	}
}

func TestContains(t *testing.T) {
	list := []string{"unit", "integration"}
	if !contains(list, "unit") {
		t.Error("expected unit to be found")
	}
	if contains(list, "e2e") {
		t.Error("expected e2e to be absent")
	}
}

func TestNearestCatalogWithTests_PrefersDeepestInScope(t *testing.T) {
	ws := &workspace{catalogs: []types.Catalog{
		{Alias: "root", Root: "/repo", Test: types.TestConfig{Suites: map[string]string{"unit": "go test"}}},
		{Alias: "api", Root: "/repo/api", Test: types.TestConfig{Suites: map[string]string{"unit": "go test ./..."}}},
		{Alias: "web", Root: "/repo/web"},
	}}

	got := nearestCatalogWithTests(ws, "/repo/api/handlers")
	if got == nil || got.Alias != "api" {
		t.Fatalf("got %+v, want api", got)
	}
}

func TestNearestCatalogWithTests_FallsBackToAnyWhenNoneInScope(t *testing.T) {
	ws := &workspace{catalogs: []types.Catalog{
		{Alias: "api", Root: "/repo/api", Test: types.TestConfig{Suites: map[string]string{"unit": "go test"}}},
	}}

	got := nearestCatalogWithTests(ws, "/elsewhere")
	if got == nil || got.Alias != "api" {
		t.Fatalf("got %+v, want api", got)
	}
}

func TestNearestCatalogWithTests_NilWhenNoSuites(t *testing.T) {
	ws := &workspace{catalogs: []types.Catalog{{Alias: "api", Root: "/repo/api"}}}
	if got := nearestCatalogWithTests(ws, "/repo/api"); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestMigrateCatalog_WritesCanonicalAlongsideLegacy(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "effigy.tasks.toml")
	if err := os.WriteFile(legacy, []byte("[catalog]\nalias = \"api\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := &workspace{catalogs: []types.Catalog{{Alias: "api", Root: dir, ManifestPath: legacy}}}
	if err := migrateCatalog(ws, &ws.catalogs[0]); err != nil {
		t.Fatalf("migrateCatalog: %v", err)
	}

	canonical := filepath.Join(dir, "effigy.toml")
	if _, err := os.Stat(canonical); err != nil {
		t.Errorf("expected %s to exist: %v", canonical, err)
	}
	if _, err := os.Stat(legacy); err != nil {
		t.Errorf("expected legacy manifest to remain: %v", err)
	}
}

func TestMigrateCatalog_RefusesWhenCanonicalAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "effigy.tasks.toml")
	if err := os.WriteFile(legacy, []byte("[catalog]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "effigy.toml"), []byte("[catalog]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := &workspace{catalogs: []types.Catalog{{Alias: "api", Root: dir, ManifestPath: legacy}}}
	if err := migrateCatalog(ws, &ws.catalogs[0]); err == nil {
		t.Error("expected an error when the canonical manifest already exists")
	}
}

func TestMigrateCatalog_ErrorsWhenAlreadyCanonical(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "effigy.toml")
	if err := os.WriteFile(canonical, []byte("[catalog]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws := &workspace{catalogs: []types.Catalog{{Alias: "api", Root: dir, ManifestPath: canonical}}}
	if err := migrateCatalog(ws, &ws.catalogs[0]); err == nil {
		t.Error("expected an error when the catalog already uses the canonical manifest name")
	}
}
