package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wptestenv/wptestenv/pkg/config"
	"github.com/wptestenv/wptestenv/pkg/log"
	"github.com/wptestenv/wptestenv/pkg/platform"
	"github.com/wptestenv/wptestenv/pkg/provision"
)

var (
	runnerVersion    string
	frameworkVersion string
	testLibVersion   string
	updatePackages   bool
	settingsPath     string
	logLevel         string
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "wptestenv",
	Short: "Provision a local WordPress plugin test environment",
	Long: `wptestenv installs everything a WordPress plugin test run needs:
the PHPUnit runner, a WordPress core tree, the test library, a generated
wp-tests-config.php, and the MySQL test database.

Versions for the runner, the framework, and the test library can each be
pinned through flags; everything else is resolved automatically.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Level(logLevel))
		defer log.Sync()

		settings, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		env, err := platform.Detect()
		if err != nil {
			return err
		}

		opts := provision.Options{
			RunnerVersion:    runnerVersion,
			FrameworkVersion: frameworkVersion,
			TestLibVersion:   testLibVersion,
			UpdatePackages:   updatePackages,
		}

		if err := provision.New(opts, settings, env).Run(cmd.Context()); err != nil {
			return err
		}

		fmt.Println(successStyle.Render("Test environment ready."))
		fmt.Printf("  core:    %s\n", settings.CoreDir)
		fmt.Printf("  tests:   %s\n", settings.TestsDir)
		fmt.Printf("  database: %s@%s\n", settings.DB.Name, settings.DB.Host)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&runnerVersion, "runner-version", "",
		"PHPUnit major to install (number or \"latest\"; default derives from the PHP version)")
	rootCmd.Flags().StringVar(&frameworkVersion, "framework-version", "latest",
		"WordPress version to install: a version number, \"latest\", \"trunk\", or \"nightly\"")
	rootCmd.Flags().StringVar(&testLibVersion, "test-library-version", "",
		"Test library version (defaults to the resolved framework version)")
	rootCmd.Flags().BoolVar(&updatePackages, "update-packages", false,
		"Install or update prerequisite packages even when all tools are present")
	rootCmd.Flags().StringVar(&settingsPath, "settings", config.DefaultSettingsFile,
		"Path to the settings file (created with defaults when missing)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
}

// rewriteArgs maps the legacy short help spelling to cobra's help flag.
func rewriteArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "-?" {
			arg = "--help"
		}
		out = append(out, arg)
	}
	return out
}

// run executes the CLI and returns the process exit code. Every failing
// exit first purges stale staging, so even a usage error leaves no
// leftovers from a crashed prior run behind.
func run(args []string) int {
	rootCmd.SetArgs(rewriteArgs(args))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if cleanupErr := provision.DefaultPaths().Cleanup(); cleanupErr != nil {
			log.Warn("cleanup after failure", "error", cleanupErr)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		fmt.Fprintln(os.Stderr, "stopping")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
