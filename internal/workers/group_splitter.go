package workers

import (
	"context"
	"log/slog"
	"time"
)

// GroupSweeper releases merchant groups whose acceptance window has passed.
type GroupSweeper interface {
	SplitAllExpiredGroups(ctx context.Context) (int, error)
}

// GroupSplitter periodically splits expired merchant groups so their orders become
// independently acceptable even when nobody touches them.
type GroupSplitter struct {
	logger  *slog.Logger
	sweeper GroupSweeper

	// How often to look for expired groups
	interval time.Duration
}

func NewGroupSplitter(logger *slog.Logger, sweeper GroupSweeper, interval time.Duration) *GroupSplitter {
	return &GroupSplitter{
		logger:   logger,
		sweeper:  sweeper,
		interval: interval,
	}
}

// Start sweeps once immediately and then on every tick until ctx is cancelled.
func (gs *GroupSplitter) Start(ctx context.Context) {
	gs.logger.Info("Starting group splitter worker", "interval", gs.interval.String())

	gs.sweep(ctx)

	ticker := time.NewTicker(gs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			gs.logger.Info("Group splitter worker stopped")
			return
		case <-ticker.C:
			gs.sweep(ctx)
		}
	}
}

func (gs *GroupSplitter) sweep(ctx context.Context) {
	count, err := gs.sweeper.SplitAllExpiredGroups(ctx)
	if err != nil {
		// groups split before the error stay split; the rest are retried next tick
		gs.logger.Error("Group sweep failed", "error", err, "split", count)
		return
	}

	if count > 0 {
		gs.logger.Info("Split expired merchant groups", "count", count)
	} else {
		gs.logger.Debug("No expired merchant groups")
	}
}
