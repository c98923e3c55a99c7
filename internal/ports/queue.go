package ports

import (
	"context"
	"time"

	"driveq/internal/domain"
)

type Store interface {
	Create(ctx context.Context, t domain.Task) (domain.Task, error)
	List(ctx context.Context, state domain.State) ([]domain.Task, error)
	Transition(ctx context.Context, id string, from, to domain.State) error
	Rewrite(ctx context.Context, t domain.Task) error
	WriteTerminal(ctx context.Context, t domain.Task, to domain.State, result map[string]any, errMsg string) error
	Get(ctx context.Context, id string) (domain.Task, error)
	Counts(ctx context.Context) (map[domain.State]int, error)
	UpdateProgress(ctx context.Context, id string, pct float64, msg string) error
}

type Locker interface {
	// TryAcquire makes a single claim attempt; false means the marker is
	// held and fresh, not an error.
	TryAcquire(ctx context.Context, taskID, owner string, lease time.Duration) (bool, error)
	Release(taskID, owner string) error
}

type Heartbeater interface {
	Start(ctx context.Context, taskID string)
	Stop(taskID string)
	StopAll()
}

type Reclaimer interface {
	// Run scans running tasks on a fixed interval until ctx is done.
	Run(ctx context.Context) error
	ReclaimOnce(ctx context.Context) (int, error)
}
