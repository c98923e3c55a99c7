package driveq

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"driveq/internal/domain"
)

// TryAcquire attempts to claim the task's lock marker for owner. It
// makes a single attempt and returns a clean bool: false means another
// claim holds a fresh marker, never an error. An expired marker may be
// forcibly overwritten; the overwrite is re-read afterwards so the
// claimant that survives the last write wins. Two workers can still both
// see success in a narrow window, which recovery absorbs.
func (c *Client) TryAcquire(ctx context.Context, taskID, owner string, lease time.Duration) (bool, error) {
	path := c.Paths.Lock(taskID)
	now := c.now()
	marker := domain.LockMarker{Owner: owner, AcquiredAt: now, HeartbeatAt: now}
	body, err := yaml.Marshal(&marker)
	if err != nil {
		return false, err
	}

	err = c.FS.WriteExclusive(path, body)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return false, err
	}

	cur, err := c.readMarker(path)
	switch {
	case err == nil:
		if !cur.Stale(lease, now) {
			return false, nil
		}
		log.Ctx(ctx).Warn().
			Str("task", taskID).
			Str("stale_owner", cur.Owner).
			Str("owner", owner).
			Msg("taking over expired lock")
	case errors.Is(err, domain.ErrNotFound):
		// Released between the exclusive create and the read; the
		// overwrite below settles it.
	case errors.Is(err, domain.ErrMalformedTask):
		// Half-written marker from a dead claimant counts as stale.
	default:
		return false, err
	}

	if err := c.FS.WriteAtomic(path, body); err != nil {
		return false, err
	}
	check, err := c.readMarker(path)
	if err != nil {
		return false, nil
	}
	return check.Owner == owner, nil
}

// Release removes the marker only if it is still owned by owner. A
// mismatch or missing marker means another actor already reclaimed it
// and is silently ignored.
func (c *Client) Release(taskID, owner string) error {
	path := c.Paths.Lock(taskID)
	cur, err := c.readMarker(path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedTask) {
			return nil
		}
		return err
	}
	if cur.Owner != owner {
		return nil
	}
	return c.FS.Remove(path)
}

// RefreshMarker rewrites the marker's heartbeat timestamp. Loss of
// ownership surfaces as ErrRaceLost so the heartbeat runner can stop.
func (c *Client) RefreshMarker(taskID, owner string) error {
	path := c.Paths.Lock(taskID)
	cur, err := c.readMarker(path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformedTask) {
			return domain.ErrRaceLost
		}
		return err
	}
	if cur.Owner != owner {
		return domain.ErrRaceLost
	}
	cur.HeartbeatAt = c.now()
	body, err := yaml.Marshal(cur)
	if err != nil {
		return err
	}
	return c.FS.WriteAtomic(path, body)
}

func (c *Client) readMarker(path string) (*domain.LockMarker, error) {
	b, err := c.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m domain.LockMarker
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, domain.ErrMalformedTask
	}
	return &m, nil
}
