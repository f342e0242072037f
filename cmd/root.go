// Package cmd defines and implements the CLI commands of the explorer-reindexer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/explorer-reindexer/internal/app"
	"github.com/JakeFAU/explorer-reindexer/internal/config"
	"github.com/JakeFAU/explorer-reindexer/internal/reindex"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitAuthLost = 255
)

// errUsage marks command-line mistakes so they map to ExitUsage.
var errUsage = errors.New("usage error")

// newApp is the application factory. It's a variable so tests can inject a
// fixed clock.
var newApp = app.NewApp

// newRootCmd creates the root command, which runs a reindex, and its
// subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explorer-reindexer",
		Short: "Reindexes ENT explorer resources window by window.",
		Long: `explorer-reindexer walks a date cursor from --start to today and asks the
ENT explorer backend to reindex every selected application for each window of
--step days. It stops as soon as the session cookie is rejected.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runReindexCommand,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errUsage, err)
	})

	config.RegisterGlobalFlags(cmd.PersistentFlags())
	config.RegisterRunFlags(cmd.Flags())

	cmd.AddCommand(newRunsCmd())
	return cmd
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, reindex.ErrAuthLost):
		return ExitAuthLost
	case errors.Is(err, errUsage),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, reindex.ErrInvalidStart),
		errors.Is(err, reindex.ErrInvalidStep):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// loadConfig reads the env file, then the optional config file, the
// environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, err
	}
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	return cfg, nil
}
