// internal/worker/server.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"driveq/internal/config"
	"driveq/internal/domain"
	"driveq/internal/infra/driveq"
	"driveq/internal/usecase"
)

type Config struct {
	WorkerID string
}

func Run(cfg Config) error {
	appCfg := config.Load()
	drive := appCfg.Drive

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = drive.WorkerID
	}
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}

	cli := driveq.New(drive)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Init(ctx); err != nil {
		return err
	}

	session := driveq.NewSession(cli, workerID, drive.HeartbeatInterval)
	session.Start(ctx)
	defer session.Stop()

	// Recovery runs alongside consumption; a janitor process may run the
	// same loop independently.
	rec := driveq.NewRecovery(cli, drive.LockLease, drive.RecoveryInterval, drive.MaxRetries)
	go func() {
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Ctx(ctx).Error().Err(err).Msg("recovery stopped with error")
		}
	}()

	go func() {
		ticker := time.NewTicker(drive.RecoveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cli.CleanupTemp()
			}
		}
	}()

	consumer := usecase.Consumer{
		Store:          cli,
		Locks:          cli,
		Beats:          driveq.NewHeartbeats(cli, workerID, drive.HeartbeatInterval),
		WorkerID:       workerID,
		Lease:          drive.LockLease,
		PollInterval:   drive.PollInterval,
		PollMaxBackoff: drive.PollMaxBackoff,
		ClaimAttempts:  drive.ClaimAttempts,
		ClaimBackoff:   drive.ClaimBackoff,
	}

	log.Info().Str("worker", workerID).Str("root", drive.Root).Msg("worker started")

	handler := func(ctx context.Context, t domain.Task) (map[string]any, error) {
		if fail, _ := t.Payload["demo.fail"].(bool); fail {
			return nil, errors.New("simulated failure")
		}
		log.Ctx(ctx).Info().Msgf("processed task %s retries=%d", t.ID, t.RetryCount)
		return map[string]any{"processed_by": workerID}, nil
	}

	err := consumer.Run(ctx, handler)
	if errors.Is(err, context.Canceled) {
		log.Info().Str("worker", workerID).Msg("worker shut down")
		return nil
	}
	return err
}
