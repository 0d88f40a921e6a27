package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectPackageManager(t *testing.T) {
	cases := []struct {
		name string
		file string
		want string
	}{
		{"bun lockb", "bun.lockb", "bun"},
		{"pnpm lock", "pnpm-lock.yaml", "pnpm"},
		{"yarn lock", "yarn.lock", "npm"},
		{"npm lock", "package-lock.json", "npm"},
		{"bare package.json", "package.json", "node"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tc.file), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
			if got := detectPackageManager(dir); got != tc.want {
				t.Errorf("detectPackageManager() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetectPackageManager_NoneFound(t *testing.T) {
	dir := t.TempDir()
	if got := detectPackageManager(dir); got != "" {
		t.Errorf("detectPackageManager() = %q, want empty", got)
	}
}

func TestRunInitAt_WritesManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runInitAt(dir, "myapp", false); err != nil {
		t.Fatalf("runInitAt: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "effigy.toml"))
	if err != nil {
		t.Fatalf("reading generated manifest: %v", err)
	}
	if got := string(data); got == "" {
		t.Error("generated manifest is empty")
	}
}

func TestRunInitAt_RefusesOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "effigy.toml"), []byte("[catalog]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInitAt(dir, "myapp", false); err == nil {
		t.Error("expected an error when effigy.toml already exists and force is false")
	}
}
