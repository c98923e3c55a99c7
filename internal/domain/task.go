package domain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// State is a task lifecycle state. It is encoded entirely by the
// descriptor's filename suffix and never stored inside the body.
type State string

const (
	// StateTodo contains tasks ready to be claimed.
	StateTodo State = "todo"
	// StateRunning contains tasks currently owned by a worker.
	StateRunning State = "running"
	// StateDone contains successfully completed tasks.
	StateDone State = "done"
	// StateFailed contains permanently failed tasks.
	StateFailed State = "failed"
)

// AllStates lists every valid state in a stable order.
var AllStates = []State{StateTodo, StateRunning, StateDone, StateFailed}

// String returns the raw string value of the state.
func (s State) String() string { return string(s) }

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// ParseState converts a string into a State, returning an error for unknown values.
func ParseState(s string) (State, error) {
	switch s {
	case string(StateTodo):
		return StateTodo, nil
	case string(StateRunning):
		return StateRunning, nil
	case string(StateDone):
		return StateDone, nil
	case string(StateFailed):
		return StateFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
}

// Progress is an optional progress report written by the owner while a
// task runs.
type Progress struct {
	Percentage float64   `yaml:"percentage"`
	Status     string    `yaml:"status,omitempty"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

// Task is the unit of schedulable work. The descriptor body is YAML; ID
// and State come from the filename and are never serialized.
type Task struct {
	ID    string `yaml:"-"`
	State State  `yaml:"-"`

	Payload  map[string]any `yaml:"payload,omitempty"`
	Priority int            `yaml:"priority,omitempty"`

	// Owner, StartedAt and HeartbeatAt are meaningful only while running.
	Owner       string    `yaml:"owner,omitempty"`
	StartedAt   time.Time `yaml:"started_at,omitempty"`
	HeartbeatAt time.Time `yaml:"heartbeat_at,omitempty"`

	RetryCount int `yaml:"retry_count"`
	// MaxRetries caps reclaims for this task; zero means the recovery
	// service's configured ceiling applies.
	MaxRetries int       `yaml:"max_retries,omitempty"`
	CreatedAt  time.Time `yaml:"created_at,omitempty"`

	CompletedAt     time.Time `yaml:"completed_at,omitempty"`
	DurationSeconds float64   `yaml:"duration_seconds,omitempty"`

	Progress *Progress `yaml:"progress,omitempty"`

	Result map[string]any `yaml:"result,omitempty"`
	Error  string         `yaml:"error,omitempty"`

	LastFailed    time.Time `yaml:"last_failed,omitempty"`
	FailureReason string    `yaml:"failure_reason,omitempty"`
}

// Encode serializes the descriptor body.
func (t *Task) Encode() ([]byte, error) {
	b, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return b, nil
}

// DecodeTask parses a descriptor body. ID and State must be filled in by
// the caller from the filename.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return t, nil
}

// MarkStarted stamps ownership fields when a claim succeeds.
func (t *Task) MarkStarted(owner string, now time.Time) {
	t.Owner = owner
	t.StartedAt = now
	t.HeartbeatAt = now
}

// MarkCompleted stamps terminal fields. Result or error is set exactly
// once here and never rewritten afterwards.
func (t *Task) MarkCompleted(result map[string]any, errMsg string, now time.Time) {
	t.CompletedAt = now
	t.Result = result
	t.Error = errMsg
	if !t.StartedAt.IsZero() {
		t.DurationSeconds = now.Sub(t.StartedAt).Seconds()
	}
}

// MarkReclaimed clears ownership and records the failed attempt before a
// stale task returns to todo.
func (t *Task) MarkReclaimed(reason string, now time.Time) {
	t.RetryCount++
	t.Owner = ""
	t.StartedAt = time.Time{}
	t.HeartbeatAt = time.Time{}
	t.Progress = nil
	t.LastFailed = now
	t.FailureReason = reason
}

// LockMarker is the ephemeral side-record claiming ownership of a task.
// Its presence plus heartbeat recency is what recovery inspects.
type LockMarker struct {
	Owner       string    `yaml:"owner"`
	AcquiredAt  time.Time `yaml:"acquired_at"`
	HeartbeatAt time.Time `yaml:"heartbeat_at"`
}

// Stale reports whether the marker's lease has lapsed without a heartbeat.
func (m *LockMarker) Stale(lease time.Duration, now time.Time) bool {
	return now.Sub(m.HeartbeatAt) > lease
}

// WorkerStatus is the per-worker session heartbeat file body.
type WorkerStatus struct {
	WorkerID      string    `yaml:"worker_id"`
	PID           int       `yaml:"pid"`
	Hostname      string    `yaml:"hostname"`
	StartedAt     time.Time `yaml:"started_at"`
	LastBeat      time.Time `yaml:"last_beat"`
	UptimeSeconds float64   `yaml:"uptime_seconds"`
}
