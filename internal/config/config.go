package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Drive Drive
}

type Drive struct {
	Root     string `env:"DRIVEQ_ROOT" envDefault:"./driveq-data"`
	WorkerID string `env:"DRIVEQ_WORKER_ID"`

	PollInterval   time.Duration `env:"DRIVEQ_POLL_INTERVAL" envDefault:"2s"`
	PollMaxBackoff time.Duration `env:"DRIVEQ_POLL_MAX_BACKOFF" envDefault:"30s"`

	// LockLease and MaxRetries have no defensible defaults, so the
	// operator must supply both.
	LockLease  time.Duration `env:"DRIVEQ_LOCK_LEASE,required"`
	MaxRetries int           `env:"DRIVEQ_MAX_RETRIES,required"`

	HeartbeatInterval time.Duration `env:"DRIVEQ_HEARTBEAT_INTERVAL" envDefault:"30s"`
	RecoveryInterval  time.Duration `env:"DRIVEQ_RECOVERY_INTERVAL" envDefault:"1m"`

	ClaimAttempts int           `env:"DRIVEQ_CLAIM_ATTEMPTS" envDefault:"3"`
	ClaimBackoff  time.Duration `env:"DRIVEQ_CLAIM_BACKOFF" envDefault:"100ms"`

	TempMaxAge time.Duration `env:"DRIVEQ_TEMP_MAX_AGE" envDefault:"1h"`
}

func Load() *Config {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}

	return &c
}
