package artifact

import (
	"context"
	"time"

	"github.com/querychat/querychat/logging"
)

// Sweeper is implemented by stores that can reclaim expired artifacts.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Janitor periodically sweeps a store for expired artifacts. Start it once
// during setup; it stops when its context is canceled.
type Janitor struct {
	store    Sweeper
	interval time.Duration
	logger   logging.Logger
}

// NewJanitor creates a janitor sweeping store every interval.
func NewJanitor(store Sweeper, interval time.Duration, logger logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Janitor{store: store, interval: interval, logger: logger}
}

// Run blocks, sweeping on every tick until ctx is canceled. Sweep errors are
// logged and do not stop the loop.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reclaimed, err := j.store.Sweep(ctx, now.UTC())
			if err != nil {
				j.logger.Warn("artifact.sweep.failed", "error", err.Error())
				continue
			}
			if reclaimed > 0 {
				j.logger.Info("artifact.sweep.done", "reclaimed", reclaimed)
			}
		}
	}
}
