package driveq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"driveq/internal/domain"
	"driveq/internal/ports"
)

var _ ports.Reclaimer = (*Recovery)(nil)

const reclaimReason = "stale task recovery"

// Recovery reclaims running tasks abandoned by dead or hung owners. It
// owns exactly the running -> {todo, failed} edge; todo and terminal
// descriptors are never touched.
type Recovery struct {
	C        *Client
	Lease    time.Duration
	Interval time.Duration
	// MaxRetries is the reclaim ceiling for tasks that do not carry
	// their own.
	MaxRetries int
}

func NewRecovery(c *Client, lease, interval time.Duration, maxRetries int) *Recovery {
	return &Recovery{C: c, Lease: lease, Interval: interval, MaxRetries: maxRetries}
}

// Run scans on a fixed interval until ctx is done. Scan failures are
// logged and retried on the next tick; they never stop the loop.
func (r *Recovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if n, err := r.ReclaimOnce(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("recovery scan failed")
		} else if n > 0 {
			log.Ctx(ctx).Info().Int("reclaimed", n).Msg("recovered stale tasks")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReclaimOnce performs a single scan and returns how many tasks it moved.
// Every step tolerates a concurrent recoverer having satisfied the
// precondition already: race-lost is success, not failure.
func (r *Recovery) ReclaimOnce(ctx context.Context) (int, error) {
	tasks, err := r.C.List(ctx, domain.StateRunning)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, t := range tasks {
		stale, reason := r.judge(t)
		if !stale {
			continue
		}
		if r.reclaim(ctx, t, reason) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// judge decides staleness from the lock marker and, when available, the
// owner's session status file. A missing heartbeat is the only liveness
// signal; there is no separate channel to ask a worker directly.
func (r *Recovery) judge(t domain.Task) (bool, string) {
	now := r.C.now()
	marker, err := r.C.readMarker(r.C.Paths.Lock(t.ID))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Owner released without completing the state transition, a
		// crash window between release and rename.
		return true, "lock marker missing"
	case errors.Is(err, domain.ErrMalformedTask):
		return true, "lock marker unreadable"
	case err != nil:
		return false, ""
	}

	if marker.Stale(r.Lease, now) {
		return true, fmt.Sprintf("lease expired (last heartbeat %s ago)", now.Sub(marker.HeartbeatAt).Round(time.Second))
	}

	// The marker may be fresh while the whole session is dead, e.g. a
	// heartbeat write that propagated late. A stale session file for the
	// owner overrides; an absent file is not evidence of death.
	if status, ok := r.readStatus(marker.Owner); ok {
		if now.Sub(status.LastBeat) > r.Lease {
			return true, "owner session dead"
		}
	}
	return false, ""
}

func (r *Recovery) reclaim(ctx context.Context, t domain.Task, reason string) bool {
	_ = r.C.FS.Remove(r.C.Paths.Lock(t.ID))

	t.MarkReclaimed(reason, r.C.now())

	ceiling := r.MaxRetries
	if t.MaxRetries > 0 {
		ceiling = t.MaxRetries
	}
	if t.RetryCount > ceiling {
		errMsg := fmt.Sprintf("retries exhausted after %d reclaims: %s", t.RetryCount, reason)
		if err := r.C.WriteTerminal(ctx, t, domain.StateFailed, nil, errMsg); err != nil {
			if !errors.Is(err, domain.ErrRaceLost) {
				log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("failed to fail exhausted task")
			}
			return false
		}
		log.Ctx(ctx).Warn().Str("task", t.ID).Int("retries", t.RetryCount).Msg("task failed past retry ceiling")
		return true
	}

	if err := r.C.Rewrite(ctx, t); err != nil {
		if !errors.Is(err, domain.ErrRaceLost) {
			log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("reclaim rewrite failed")
		}
		return false
	}
	if err := r.C.Transition(ctx, t.ID, domain.StateRunning, domain.StateTodo); err != nil {
		if !errors.Is(err, domain.ErrRaceLost) {
			log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("reclaim transition failed")
		}
		return false
	}
	log.Ctx(ctx).Info().Str("task", t.ID).Int("retries", t.RetryCount).Str("reason", reason).Msg("task reclaimed")
	return true
}

func (r *Recovery) readStatus(workerID string) (*domain.WorkerStatus, bool) {
	if workerID == "" {
		return nil, false
	}
	b, err := r.C.FS.ReadFile(r.C.Paths.WorkerStatus(workerID))
	if err != nil {
		return nil, false
	}
	var s domain.WorkerStatus
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, false
	}
	return &s, true
}
