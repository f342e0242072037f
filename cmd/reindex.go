package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/explorer-reindexer/internal/logging"
)

const shutdownTimeout = 5 * time.Second

func runReindexCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.DebugEnabled())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("Debug mode activated", cfg.Fields()...)
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return err
	}

	ctx := cmd.Context()
	appInstance, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := appInstance.Close(closeCtx); cerr != nil {
			logger.Warn("Failed to close application services", zap.Error(cerr))
		}
	}()

	result, err := appInstance.Reindex(ctx)
	snap := appInstance.Tracker().Snapshot()
	logger.Debug("Final run status",
		zap.String("state", snap.State),
		zap.Int("passes", snap.Passes),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Bool("auth_lost", snap.AuthLost))
	if err != nil {
		return fmt.Errorf("reindex run %s: %w", result.RunID, err)
	}
	return nil
}
