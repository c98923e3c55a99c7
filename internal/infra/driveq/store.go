package driveq

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"driveq/internal/domain"
	"driveq/internal/ports"
)

var _ ports.Store = (*Client)(nil)
var _ ports.Locker = (*Client)(nil)

// Create writes a fresh todo descriptor and returns the task. IDs are
// timestamp plus random suffix so producers never collide.
func (c *Client) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = fmt.Sprintf("task_%d_%s", c.now().Unix(), uuid.NewString()[:8])
	}
	t.State = domain.StateTodo
	t.CreatedAt = c.now()
	t.RetryCount = 0

	body, err := t.Encode()
	if err != nil {
		return domain.Task{}, err
	}
	if err := c.FS.WriteAtomic(c.Paths.Descriptor(t.ID, domain.StateTodo), body); err != nil {
		return domain.Task{}, err
	}
	log.Ctx(ctx).Info().Str("task", t.ID).Int("priority", t.Priority).Msg("task created")
	return t, nil
}

// List returns every parseable descriptor in the given state. Malformed
// descriptors are logged and skipped, never deleted; entries that vanish
// mid-scan are skipped silently.
func (c *Client) List(ctx context.Context, state domain.State) ([]domain.Task, error) {
	names, err := c.FS.ListEntries(c.Paths.Tasks, "."+state.String())
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	for _, name := range names {
		id, s, ok := SplitDescriptor(name)
		if !ok || s != state {
			continue
		}
		t, err := c.readTask(id, state)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			log.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("skipping unreadable descriptor")
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// Transition renames the descriptor's state suffix. A missing source or
// occupied destination means another actor moved first; both surface as
// ErrRaceLost and callers skip the task.
func (c *Client) Transition(ctx context.Context, id string, from, to domain.State) error {
	err := c.FS.RenameAtomic(c.Paths.Descriptor(id, from), c.Paths.Descriptor(id, to))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("transition %s %s->%s: %w", id, from, to, domain.ErrRaceLost)
		}
		return err
	}
	return nil
}

// Rewrite replaces the descriptor body at the task's current state path.
// The existence check narrows, without closing, the window in which a
// concurrent transition could be resurrected.
func (c *Client) Rewrite(ctx context.Context, t domain.Task) error {
	path := c.Paths.Descriptor(t.ID, t.State)
	if !c.FS.Exists(path) {
		return fmt.Errorf("rewrite %s: %w", t.ID, domain.ErrRaceLost)
	}
	body, err := t.Encode()
	if err != nil {
		return err
	}
	return c.FS.WriteAtomic(path, body)
}

// WriteTerminal stamps result or error on the running descriptor and
// renames it to the terminal suffix, so a terminal file is fully
// populated the instant it becomes observable.
func (c *Client) WriteTerminal(ctx context.Context, t domain.Task, to domain.State, result map[string]any, errMsg string) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", domain.ErrUnknownState, to)
	}
	t.MarkCompleted(result, errMsg, c.now())
	if err := c.Rewrite(ctx, t); err != nil {
		return err
	}
	return c.Transition(ctx, t.ID, t.State, to)
}

// Get finds a task by id across all states.
func (c *Client) Get(ctx context.Context, id string) (domain.Task, error) {
	for _, s := range domain.AllStates {
		t, err := c.readTask(id, s)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Task{}, err
		}
	}
	return domain.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
}

// Counts totals descriptors per state.
func (c *Client) Counts(ctx context.Context) (map[domain.State]int, error) {
	counts := make(map[domain.State]int, len(domain.AllStates))
	for _, s := range domain.AllStates {
		names, err := c.FS.ListEntries(c.Paths.Tasks, "."+s.String())
		if err != nil {
			return nil, err
		}
		counts[s] = len(names)
	}
	return counts, nil
}

// UpdateProgress records progress on a running descriptor. The
// percentage clamps to 0..100; a vanished descriptor is a lost race.
func (c *Client) UpdateProgress(ctx context.Context, id string, pct float64, msg string) error {
	t, err := c.readTask(id, domain.StateRunning)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("progress %s: %w", id, domain.ErrRaceLost)
		}
		return err
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	t.Progress = &domain.Progress{Percentage: pct, Status: msg, UpdatedAt: c.now()}
	return c.Rewrite(ctx, t)
}

func (c *Client) readTask(id string, state domain.State) (domain.Task, error) {
	b, err := c.FS.ReadFile(c.Paths.Descriptor(id, state))
	if err != nil {
		return domain.Task{}, err
	}
	t, err := domain.DecodeTask(b)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	t.State = state
	return t, nil
}
