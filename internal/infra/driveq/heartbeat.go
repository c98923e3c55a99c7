package driveq

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"driveq/internal/domain"
	"driveq/internal/ports"
)

var _ ports.Heartbeater = (*Heartbeats)(nil)

// Heartbeats refreshes the lock marker of every task the worker currently
// owns. Each task gets its own goroutine so a slow callback never delays
// the beats that keep its lease alive.
type Heartbeats struct {
	C        *Client
	Owner    string
	Interval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewHeartbeats(c *Client, owner string, interval time.Duration) *Heartbeats {
	return &Heartbeats{
		C:        c,
		Owner:    owner,
		Interval: interval,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start begins refreshing the task's marker every interval until Stop or
// until ownership is lost. Starting an already-beating task is a no-op.
func (h *Heartbeats) Start(ctx context.Context, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.cancels[taskID]; ok {
		return
	}
	beatCtx, cancel := context.WithCancel(ctx)
	h.cancels[taskID] = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop(beatCtx, taskID)
	}()
}

// Stop halts the refresher for the task. Missing it on an exit path is
// not fatal: the marker simply ages out and recovery reclaims the task.
func (h *Heartbeats) Stop(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[taskID]; ok {
		cancel()
		delete(h.cancels, taskID)
	}
}

// StopAll halts every refresher and waits for them to finish.
func (h *Heartbeats) StopAll() {
	h.mu.Lock()
	for id, cancel := range h.cancels {
		cancel()
		delete(h.cancels, id)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Heartbeats) loop(ctx context.Context, taskID string) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := h.C.RefreshMarker(taskID, h.Owner)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrRaceLost) {
			log.Ctx(ctx).Warn().Str("task", taskID).Msg("lock no longer ours, stopping heartbeat")
			return
		}
		// Transient drive errors: keep beating, the next tick may land.
		log.Ctx(ctx).Warn().Err(err).Str("task", taskID).Msg("heartbeat refresh failed")
	}
}

// Session maintains the worker's own liveness file so recovery can tell
// a dead session from a slow one.
type Session struct {
	C        *Client
	Interval time.Duration

	status domain.WorkerStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(c *Client, workerID string, interval time.Duration) *Session {
	host, _ := os.Hostname()
	return &Session{
		C:        c,
		Interval: interval,
		status: domain.WorkerStatus{
			WorkerID:  workerID,
			PID:       os.Getpid(),
			Hostname:  host,
			StartedAt: c.now(),
		},
		done: make(chan struct{}),
	}
}

// Start writes the status file immediately and then on every interval.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.beat(ctx)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.beat(ctx)
			}
		}
	}()
}

// Stop halts the loop and removes the status file.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	_ = s.C.FS.Remove(s.C.Paths.WorkerStatus(s.status.WorkerID))
}

func (s *Session) beat(ctx context.Context) {
	now := s.C.now()
	s.status.LastBeat = now
	s.status.UptimeSeconds = now.Sub(s.status.StartedAt).Seconds()
	body, err := yaml.Marshal(&s.status)
	if err != nil {
		return
	}
	if err := s.C.FS.WriteAtomic(s.C.Paths.WorkerStatus(s.status.WorkerID), body); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("session heartbeat write failed")
	}
}
