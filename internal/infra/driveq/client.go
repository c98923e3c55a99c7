package driveq

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"driveq/internal/config"
)

// Client is the shared-drive coordination client. All state transitions
// and markers it manages live under cfg.Root; nothing else is shared
// between workers.
type Client struct {
	Cfg   config.Drive
	FS    FS
	Paths Layout

	// now is swappable so tests can drive lease expiry without sleeping.
	now func() time.Time
}

func New(cfg config.Drive) *Client {
	return &Client{
		Cfg:   cfg,
		Paths: NewLayout(cfg.Root),
		now:   time.Now,
	}
}

// Init ensures the drive tree exists. An inaccessible root here is the
// one fatal storage condition; everything later is per-task and benign.
func (c *Client) Init(ctx context.Context) error {
	for _, d := range c.Paths.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("bootstrap drive root %s: %w", c.Cfg.Root, err)
		}
	}
	log.Ctx(ctx).Info().Str("root", c.Cfg.Root).Msg("drive tree ready")
	return nil
}

// CleanupTemp removes orphaned temp files in the task directory that are
// older than the configured threshold.
func (c *Client) CleanupTemp() {
	c.FS.CleanupTemp(c.Paths.Tasks, c.Cfg.TempMaxAge, c.now())
}
