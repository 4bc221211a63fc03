// Package cmd wires the CLI: the root command runs the controller and the
// terminal shell; subcommands cover maintenance tasks.
package cmd

import (
	"fmt"
	"os"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/loomdev/loom/internal/bus"
	"github.com/loomdev/loom/internal/config"
	"github.com/loomdev/loom/internal/controller"
	apperrors "github.com/loomdev/loom/internal/errors"
	pexec "github.com/loomdev/loom/internal/exec"
	"github.com/loomdev/loom/internal/git"
	"github.com/loomdev/loom/internal/lock"
	"github.com/loomdev/loom/internal/logger"
	"github.com/loomdev/loom/internal/notification"
	"github.com/loomdev/loom/internal/paths"
	"github.com/loomdev/loom/internal/pr"
	"github.com/loomdev/loom/internal/queue"
	"github.com/loomdev/loom/internal/store"
	"github.com/loomdev/loom/internal/tui"
)

// Exit codes for startup failures, distinct so scripts can tell a
// corrupted database from a second running instance.
const (
	exitCodeData  = 2
	exitCodeFatal = 3
)

var (
	debugMode bool
	dataDir   string

	version, commit, date string
)

// SetVersionInfo sets version information from ldflags.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "loom [repo-path]",
	Short: "TUI for managing multiple concurrent agent sessions",
	Long: `Loom is a terminal controller for managing multiple concurrent agent
sessions. Each session runs an external coding agent in its own git
worktree, auto-commits its work, and can drive a pull request to
completion.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runShell,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	rootCmd.AddCommand(pruneCmd, clearLogsCmd)
}

func initLogging() {
	logger.SetDebug(debugMode)
}

// Execute runs the root command, translating structured startup errors
// into their distinct exit codes.
func Execute() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch apperrors.GetKind(err) {
		case apperrors.KindData:
			os.Exit(exitCodeData)
		case apperrors.KindFatal:
			os.Exit(exitCodeFatal)
		default:
			os.Exit(1)
		}
	}
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("loom %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("loom %s\n", version)
}

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, os.MkdirAll(dataDir, 0o755)
	}
	return paths.DataDir()
}

// desktopNotifier adapts the notification package to the controller.
type desktopNotifier struct{}

func (desktopNotifier) SessionReady(title string) error { return notification.SessionReady(title) }
func (desktopNotifier) PRMerged(title string) error     { return notification.PRMerged(title) }

func runShell(cmd *cobra.Command, args []string) error {
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir, err := resolveDataDir()
	if err != nil {
		return apperrors.E(apperrors.Op("cmd.runShell"), apperrors.KindEnvironment, "cannot resolve data directory", err)
	}

	instanceLock, err := lock.Acquire(dir)
	if err != nil {
		return err
	}
	defer instanceLock.Release()

	db, err := store.Open(paths.DatabasePath(dir))
	if err != nil {
		return err
	}
	defer db.Close()

	executor := pexec.NewRealExecutor()
	eventBus := bus.New(0)
	workQueue := queue.NewManager(db, eventBus)

	ctl := controller.New(controller.Options{
		Store:    db,
		Git:      git.NewService(executor),
		PRDriver: pr.NewDriver(executor),
		Queue:    workQueue,
		Bus:      eventBus,
		Config:   cfg,
		DataDir:  dir,
		Notifier: desktopNotifier{},
	})

	// Reconcile interrupted operations before the UI serves input.
	if err := ctl.Recover(); err != nil {
		return err
	}

	repoPath := ""
	if len(args) == 1 {
		repoPath = args[0]
	} else {
		repoPath, err = os.Getwd()
		if err != nil {
			return apperrors.E(apperrors.Op("cmd.runShell"), apperrors.KindEnvironment, "cannot resolve working directory", err)
		}
	}

	// Missing agent binaries surface here rather than mid-session.
	if err := executor.LookPath(cfg.DefaultAgent); err != nil {
		logger.Warn("CLI: default agent %q not found on PATH", cfg.DefaultAgent)
	}

	project, err := ctl.OpenProject(repoPath)
	if err != nil {
		return err
	}
	ctl.LoadInitial(project.ID)

	m := tui.New(ctl)
	defer ctl.Shutdown()
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running app: %w", err)
	}
	return nil
}
