package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"driveq/internal/domain"
	"driveq/internal/ports"
	"driveq/pkg/backoff"
)

// Handler executes a claimed task's payload and returns its result. The
// consumer imposes nothing on its internals beyond termination; panics
// and errors both land the task in the failed state.
type Handler func(ctx context.Context, t domain.Task) (map[string]any, error)

// phase is the consumer's position in its polling state machine.
type phase int

const (
	phaseIdle phase = iota
	phaseClaiming
	phaseExecuting
	phaseFinalizing
)

// cycleOutcome tells Run what a pass through the machine saw, so losing
// a claim race on a busy queue does not sleep like an empty one.
type cycleOutcome int

const (
	outcomeIdle cycleOutcome = iota
	outcomeLostRace
	outcomeWorked
)

// finalizeAttempts bounds retries of the terminal write before the task
// is left for recovery to reclaim.
const finalizeAttempts = 3

// Consumer drives one worker's participation: poll todo, claim, execute,
// finalize. Errors local to one task never abort the loop.
type Consumer struct {
	Store ports.Store
	Locks ports.Locker
	Beats ports.Heartbeater

	WorkerID string
	Lease    time.Duration

	PollInterval   time.Duration
	PollMaxBackoff time.Duration
	ClaimAttempts  int
	ClaimBackoff   time.Duration
}

// Run loops the state machine until ctx is done.
func (c Consumer) Run(ctx context.Context, handle Handler) error {
	defer c.Beats.StopAll()
	idleStreak := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch c.cycle(ctx, handle) {
		case outcomeWorked:
			idleStreak = 0
			continue
		case outcomeLostRace:
			// The queue had work, another worker just got there first.
			// Re-poll after one base interval instead of backing off.
			idleStreak = 0
			if err := backoff.Sleep(ctx, backoff.ExponentialJitter(c.PollInterval, c.PollMaxBackoff, 1)); err != nil {
				return err
			}
		case outcomeIdle:
			idleStreak++
			d := backoff.ExponentialJitter(c.PollInterval, c.PollMaxBackoff, idleStreak)
			if err := backoff.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}
}

// cycle runs the machine from idle back to idle.
func (c Consumer) cycle(ctx context.Context, handle Handler) cycleOutcome {
	var (
		task    domain.Task
		result  map[string]any
		execErr error
	)

	for p := phaseIdle; ; {
		switch p {
		case phaseIdle:
			t, ok := c.nextCandidate(ctx)
			if !ok {
				return outcomeIdle
			}
			task = t
			p = phaseClaiming

		case phaseClaiming:
			claimed, ok := c.claim(ctx, task)
			if !ok {
				// Another worker won; drop the candidate.
				return outcomeLostRace
			}
			task = claimed
			p = phaseExecuting

		case phaseExecuting:
			result, execErr = c.execute(ctx, handle, task)
			p = phaseFinalizing

		case phaseFinalizing:
			c.finalize(ctx, task, result, execErr)
			return outcomeWorked
		}
	}
}

func (c Consumer) nextCandidate(ctx context.Context) (domain.Task, bool) {
	tasks, err := c.Store.List(ctx, domain.StateTodo)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("todo scan failed")
		return domain.Task{}, false
	}
	if len(tasks) == 0 {
		return domain.Task{}, false
	}
	// List orders by priority; take the head.
	return tasks[0], true
}

// claim acquires the lock and moves the task to running. TryAcquire is
// single-attempt; the bounded retry with backoff lives here, and only
// storage errors are retried. A clean "held by someone else" drops the
// candidate immediately.
func (c Consumer) claim(ctx context.Context, t domain.Task) (domain.Task, bool) {
	acquired := false
	for attempt := 1; attempt <= c.ClaimAttempts; attempt++ {
		ok, err := c.Locks.TryAcquire(ctx, t.ID, c.WorkerID, c.Lease)
		if err == nil {
			acquired = ok
			break
		}
		log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Int("attempt", attempt).Msg("claim attempt failed")
		if attempt < c.ClaimAttempts {
			_ = backoff.Sleep(ctx, backoff.ExponentialJitter(c.ClaimBackoff, c.Lease, attempt))
		}
	}
	if !acquired {
		return domain.Task{}, false
	}

	if err := c.Store.Transition(ctx, t.ID, domain.StateTodo, domain.StateRunning); err != nil {
		// Lost the descriptor race after winning the lock; hand the
		// marker back so the winner is not blocked for a whole lease.
		_ = c.Locks.Release(t.ID, c.WorkerID)
		if !errors.Is(err, domain.ErrRaceLost) {
			log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("claim transition failed")
		}
		return domain.Task{}, false
	}

	t.State = domain.StateRunning
	t.MarkStarted(c.WorkerID, time.Now())
	if err := c.Store.Rewrite(ctx, t); err != nil && !errors.Is(err, domain.ErrRaceLost) {
		log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("owner stamp failed")
	}

	c.Beats.Start(ctx, t.ID)
	log.Ctx(ctx).Info().Str("task", t.ID).Msg("task claimed")
	return t, true
}

func (c Consumer) execute(ctx context.Context, handle Handler, t domain.Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, t)
}

// finalize stops the heartbeat, writes the terminal descriptor and
// releases the lock. A callback failure becomes a failed terminal state,
// never a stuck running task. Transient storage failures on the terminal
// write are retried before the task is surrendered to recovery.
func (c Consumer) finalize(ctx context.Context, t domain.Task, result map[string]any, execErr error) {
	c.Beats.Stop(t.ID)

	to := domain.StateDone
	errMsg := ""
	if execErr != nil {
		to = domain.StateFailed
		errMsg = execErr.Error()
	}

	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		err = c.Store.WriteTerminal(ctx, t, to, result, errMsg)
		if err == nil || errors.Is(err, domain.ErrRaceLost) {
			break
		}
		log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Int("attempt", attempt).Msg("terminal write failed")
		if attempt < finalizeAttempts {
			_ = backoff.Sleep(ctx, backoff.ExponentialJitter(c.ClaimBackoff, c.Lease, attempt))
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrRaceLost) {
			// Recovery got there first; its outcome stands.
			log.Ctx(ctx).Warn().Str("task", t.ID).Msg("terminal write lost race")
		} else {
			log.Ctx(ctx).Error().Err(err).Str("task", t.ID).Msg("terminal write failed, leaving task for recovery")
		}
	} else {
		log.Ctx(ctx).Info().Str("task", t.ID).Str("state", to.String()).Msg("task finalized")
	}

	if err := c.Locks.Release(t.ID, c.WorkerID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task", t.ID).Msg("lock release failed")
	}
}
