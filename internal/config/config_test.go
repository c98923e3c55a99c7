package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("DRIVEQ_ROOT", "/mnt/shared/queue")
	t.Setenv("DRIVEQ_LOCK_LEASE", "15m")
	t.Setenv("DRIVEQ_MAX_RETRIES", "3")

	cfg := Load()
	require.Equal(t, "/mnt/shared/queue", cfg.Drive.Root)
	require.Equal(t, 15*time.Minute, cfg.Drive.LockLease)
	require.Equal(t, 3, cfg.Drive.MaxRetries)

	// Defaults for everything the operator left untouched.
	require.Equal(t, 2*time.Second, cfg.Drive.PollInterval)
	require.Equal(t, 30*time.Second, cfg.Drive.PollMaxBackoff)
	require.Equal(t, 30*time.Second, cfg.Drive.HeartbeatInterval)
	require.Equal(t, time.Minute, cfg.Drive.RecoveryInterval)
	require.Equal(t, 3, cfg.Drive.ClaimAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Drive.ClaimBackoff)
	require.Equal(t, time.Hour, cfg.Drive.TempMaxAge)
	require.Empty(t, cfg.Drive.WorkerID)
}
