package usecases

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

// groupSplitter releases expired merchant groups. Both the order and the batch services
// use it: the sweep calls it in bulk, single-order operations call it lazily.
type groupSplitter struct {
	logger  *slog.Logger
	batches BatchesRepository
	opts    *options
}

// releaseGroup clears the reservation on every still pending member and marks the group
// expired. Accepted or already released members are left alone.
func releaseGroup(batch *entities.Batch, group *entities.MerchantGroup, members []entities.Order, now time.Time) {
	for i := range members {
		m := &members[i]
		if m.Status != entities.OrderPending || m.ReservedGroupID() != group.GroupID {
			continue
		}
		m.Grouping = nil
		m.UpdatedAt = now
	}
	group.Status = entities.GroupExpired
	batch.SetStatus(entities.BatchSplit, "acceptance window expired", now)
}

// split returns true if this call released the group.
func (s *groupSplitter) split(ctx context.Context, groupID string) (bool, error) {
	var (
		released bool
		event    entities.Event
	)

	err := s.batches.UpdateGroup(ctx, groupID, func(batch *entities.Batch, members []entities.Order) error {
		now := s.opts.clock()
		group := batch.Group(groupID)
		if group == nil {
			return entities.ErrGroupNotFound
		}
		if group.Status != entities.GroupPending || now.Before(group.ExpiresAt) {
			return ports.ErrNoChanges
		}

		releaseGroup(batch, group, members, now)
		released = true
		event = entities.GroupEvent(entities.EventGroupSplit, batch.ID, group, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if !released {
		return false, nil
	}

	s.logger.Info("Merchant group split", "group_id", groupID, "batch_id", event.BatchID)
	s.opts.metrics.RecordGroupsSplit(1)
	publish(ctx, s.logger, s.opts.publisher, event)
	return true, nil
}

// sweep splits at most one page of expired groups and reports how many ids it scanned.
func (s *groupSplitter) sweep(ctx context.Context) (split, scanned int, err error) {
	ids, err := s.batches.FindExpiredGroupIDs(ctx, s.opts.clock(), s.opts.sweepBatchSize)
	if err != nil {
		return 0, 0, err
	}

	var errs []error
	for _, id := range ids {
		ok, splitErr := s.split(ctx, id)
		if splitErr != nil {
			s.logger.Error("Failed to split merchant group", "group_id", id, "error", splitErr)
			errs = append(errs, splitErr)
			continue
		}
		if ok {
			split++
		}
	}
	return split, len(ids), errors.Join(errs...)
}

func publish(ctx context.Context, logger *slog.Logger, publisher ports.EventPublisher, events ...entities.Event) {
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.Warn("Failed to publish events", "count", len(events), "type", events[0].Type, "error", err)
	}
}
