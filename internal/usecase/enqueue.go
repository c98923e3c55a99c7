package usecase

import (
	"context"

	"driveq/internal/domain"
	"driveq/internal/ports"
)

const defaultMaxRetries = 5

type Enqueuer struct {
	S ports.Store
}

func (e Enqueuer) Enqueue(ctx context.Context, payload map[string]any, priority, maxRetries int) (domain.Task, error) {
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return e.S.Create(ctx, domain.Task{Payload: payload, Priority: priority, MaxRetries: maxRetries})
}
