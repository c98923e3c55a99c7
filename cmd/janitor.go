package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"driveq/internal/config"
	"driveq/internal/infra/driveq"
)

// janitorCmd runs the recovery loop alone, for operators who prefer
// reclaiming stale tasks from a process separate from the workers.
func janitorCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "janitor",
		Short: "Run stale-task recovery standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			cli := driveq.New(cfg.Drive)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := cli.Init(ctx); err != nil {
				return err
			}

			rec := driveq.NewRecovery(cli, cfg.Drive.LockLease, cfg.Drive.RecoveryInterval, cfg.Drive.MaxRetries)
			err := rec.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("janitor shut down")
				return nil
			}
			return err
		},
	}
	return command
}
