// Package cli provides the command-line interface for effigy.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/effigy/effigy/pkg/config"
	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/process"
)

var (
	cfgFile     string
	repoOverride string
	verbosity   string
	jsonOutput  bool
	version     string
)

// rootCmd is the base command: a bare selector (e.g. "build", "api/test")
// falls through to Run, while the built-ins below register as proper
// subcommands and take precedence when their name matches args[0].
var rootCmd = &cobra.Command{
	Use:   "effigy [selector] [-- args...]",
	Short: "Workspace-scoped task runner",
	Long: `effigy discovers task catalogs across your workspace and runs the
task named by a selector: a bare name, "<catalog>/<task>", or a
"./relative/path" prefix. With no selector it prints help.`,
	Args: cobra.ArbitraryArgs,
}

func rootRunE(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("effigy v%s\n", version)
		return nil
	}
	if len(args) == 0 {
		return cmd.Help()
	}
	return runSelector(cmd, args[0], args[1:])
}

// Execute runs the CLI under a context that's canceled on SIGINT/SIGTERM,
// so every task run — not just "watch" — stops admitting new nodes and
// forwards cancellation to running children on an interrupt instead of
// leaving them to outlive the invocation.
func Execute(v string) error {
	version = v
	initializeRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	pm := process.NewManager(newLogger())
	pm.RegisterShutdownHandler(cancel)
	pm.Start(ctx)
	defer pm.Stop()

	return rootCmd.ExecuteContext(ctx)
}

// initializeRootCommand sets up the root command and its flags. Kept as an
// explicit call rather than an init() func so tests can rebuild the tree.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.RunE = rootRunE

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default: none, built-in defaults apply)")
	rootCmd.PersistentFlags().StringVar(&repoOverride, "repo", "", "workspace root override (default: nearest marker ascending from cwd)")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a JSON envelope instead of plain text")

	rootCmd.Flags().Bool("version", false, "print version information and quit")

	rootCmd.AddCommand(newHelpCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newTestCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newUnlockCmd())
}

func initConfig() {
	viper.SetEnvPrefix("EFFIGY")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil && verbosity == "debug" {
			fmt.Println("using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadSettings resolves the config-built-in's settings: cfgFile (or none)
// read through pkg/config's tolerant loader, then EFFIGY_* env overrides
// via viper, then the --verbosity flag as the final override.
func loadSettings() (config.Settings, error) {
	mgr := config.NewManager()
	settings, err := mgr.Load(cfgFile)
	if err != nil {
		return settings, err
	}
	if viper.IsSet("MAX_PARALLEL") {
		settings.MaxParallel = viper.GetInt("MAX_PARALLEL")
	}
	if viper.IsSet("LOG_LEVEL") {
		settings.LogLevel = viper.GetString("LOG_LEVEL")
	}
	if viper.IsSet("WATCH_DEBOUNCE_MS") {
		settings.WatchDebounceMs = viper.GetInt("WATCH_DEBOUNCE_MS")
	}
	if viper.IsSet("NOTIFICATIONS_ENABLED") {
		settings.NotificationsEnabled = viper.GetBool("NOTIFICATIONS_ENABLED")
	}
	if verbosity != "" {
		settings.LogLevel = verbosity
	}
	return settings, nil
}

func newLogger() logger.Logger {
	return logger.NewSimpleLogger("effigy", verbosity)
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("%s %s\n", color.GreenString("[effigy]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("[effigy]"), message)
}

func printInfo(message string) {
	fmt.Printf("%s %s\n", color.CyanString("[effigy]"), message)
}

func printWarning(message string) {
	fmt.Printf("%s %s\n", color.YellowString("[effigy]"), message)
}
