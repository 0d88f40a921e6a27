package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/effigy/effigy/pkg/manifest"
)

func newInitCmd() *cobra.Command {
	var force bool
	var alias string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a starter effigy.toml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return exitErr(err)
			}
			if err := runInitAt(cwd, alias, force); err != nil {
				return exitErr(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "catalog alias (default: directory name)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing effigy.toml")
	return cmd
}

// runInit is the dispatch path reached when "init" resolves through the
// selector, which carries no flags of its own.
func runInit(ws *workspace, args []string) error {
	if err := runInitAt(mustGetwd(), "", false); err != nil {
		return exitErr(err)
	}
	return nil
}

// runInitAt holds init's business logic free of any process-exiting side
// effect, so it can be exercised directly by tests.
func runInitAt(dir, alias string, force bool) error {
	path := filepath.Join(dir, manifest.CanonicalFilename)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, pass --force to overwrite", path)
	}

	if alias == "" {
		alias = filepath.Base(dir)
	}

	pm := detectPackageManager(dir)

	var sb []byte
	sb = append(sb, []byte(fmt.Sprintf("[catalog]\nalias = %q\n\n", alias))...)
	if pm != "" {
		sb = append(sb, []byte(fmt.Sprintf("[package_manager]\njs = %q\n\n", pm))...)
	}
	sb = append(sb, []byte(buildCmd(pm))...)
	sb = append(sb, []byte(testCmd(pm))...)

	if err := os.WriteFile(path, sb, 0o644); err != nil {
		return err
	}

	printSuccess(fmt.Sprintf("wrote %s", path))
	printInfo("edit [tasks.*] to describe this catalog's own commands")
	return nil
}

// detectPackageManager mirrors the lockfile-presence checks manifests use
// to pick a [package_manager].js default: the first lockfile found wins.
func detectPackageManager(dir string) string {
	checks := []struct {
		file string
		pm   string
	}{
		{"bun.lockb", "bun"},
		{"bun.lock", "bun"},
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "npm"},
		{"package-lock.json", "npm"},
	}
	for _, c := range checks {
		if _, err := os.Stat(filepath.Join(dir, c.file)); err == nil {
			return c.pm
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return "node"
	}
	return ""
}

func buildCmd(pm string) string {
	switch pm {
	case "bun":
		return "[tasks.build]\nrun = \"bun run build\"\n\n"
	case "pnpm":
		return "[tasks.build]\nrun = \"pnpm run build\"\n\n"
	case "npm", "node":
		return "[tasks.build]\nrun = \"npm run build\"\n\n"
	default:
		return "[tasks.build]\nrun = \"echo 'no build step configured'\"\n\n"
	}
}

func testCmd(pm string) string {
	switch pm {
	case "bun":
		return "[test]\nsuites = { unit = \"bun test\" }\n"
	case "pnpm":
		return "[test]\nsuites = { unit = \"pnpm test\" }\n"
	case "npm", "node":
		return "[test]\nsuites = { unit = \"npm test\" }\n"
	default:
		return "[test]\nsuites = { unit = \"echo 'no test suite configured'\" }\n"
	}
}
