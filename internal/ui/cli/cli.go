// Package cli is the command line surface: cobra commands, the interactive
// menu and the bubbletea prompter.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"migrator/internal/core/config"
	"migrator/internal/core/ports"

	"github.com/spf13/cobra"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var versionString = "dev"

type cliOptions struct {
	configPath  string
	verbose     bool
	debug       bool
	yes         bool
	confirmName string
}

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// environment holds the process-level collaborators of a run.
type environment struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	getwd  func() (string, error)
	now    func() time.Time

	connect          func(ctx context.Context, cfg config.Database, logger *slog.Logger) (ports.Database, error)
	newPrompter      func(opts cliOptions) ports.Prompter
	configureLogging func(menuMode, verbose bool) func()
}

func defaultEnvironment() *environment {
	return &environment{
		in:               os.Stdin,
		out:              os.Stdout,
		errOut:           os.Stderr,
		getwd:            os.Getwd,
		connect:          connectPostgres,
		configureLogging: configureLogging,
	}
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return defaultEnvironment().run(ctx, args)
}

func (e *environment) run(ctx context.Context, args []string) int {
	c := &commandSet{env: e, cleanupLogs: func() {}}
	defer func() { c.cleanupLogs() }()

	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(e.in)
	root.SetOut(e.out)
	root.SetErr(e.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}

	var uerr usageError
	if stderrors.As(err, &uerr) {
		fmt.Fprintln(e.errOut, errorStyle.Render("Error: "+uerr.Error()))
		fmt.Fprintln(e.errOut, "Run 'migrator --help' for usage.")
		return exitUsage
	}
	if stderrors.Is(err, ErrAborted) {
		fmt.Fprintln(e.errOut, warnStyle.Render("Aborted."))
		return exitFailure
	}
	fmt.Fprintln(e.errOut, errorStyle.Render("Error: "+err.Error()))
	return exitFailure
}

type commandSet struct {
	env         *environment
	opts        cliOptions
	cleanupLogs func()
}

func (c *commandSet) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrator",
		Short: "Promote SQL migrations through local, development, test and production",
		Long: `migrator keeps one migration history per stage schema and promotes
applied migrations from local to development, test and production.

Without a subcommand it opens the interactive menu.`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.cleanupLogs = c.env.configureLogging(!cmd.HasParent(), c.opts.verbose)
			return nil
		},
		RunE: c.runMenu,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.configPath, "config", config.DefaultPath, "path to the TOML configuration file")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&c.opts.debug, "debug", false, "dry run: roll back every batch instead of committing")
	flags.BoolVarP(&c.opts.yes, "yes", "y", false, "answer yes to every confirmation")
	flags.StringVar(&c.opts.confirmName, "confirm-name", "", "database name confirming an action on a protected stage")

	root.AddCommand(
		c.statusCommand(),
		c.upCommand(),
		c.downCommand(),
		c.promoteCommand(),
		c.newCommand(),
		c.historyCommand(),
		c.versionCommand(),
	)
	return root
}

func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

// stageArgs validates that the first count arguments name pipeline stages.
func stageArgs(count int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		for i := 0; i < count && i < len(args); i++ {
			if !isStage(args[i]) {
				return usageError{err: fmt.Errorf("unknown stage %q (valid: local, development, test, production)", args[i])}
			}
		}
		return nil
	}
}

func isStage(name string) bool {
	for _, s := range config.Stages {
		if s == name {
			return true
		}
	}
	return false
}

func parseFileName(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, usageError{err: fmt.Errorf("invalid migration file name %q", raw)}
	}
	return v, nil
}
