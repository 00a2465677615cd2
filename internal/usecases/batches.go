package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
	"golang.org/x/exp/maps"
)

// BatchService creates multi-order batches, offers them to one covering facilitator as a
// merchant group and splits groups nobody accepted in time.
type BatchService struct {
	logger    *slog.Logger
	orders    OrdersRepository
	batches   BatchesRepository
	directory ports.FacilitatorDirectory
	pricing   *PricingCalculator
	splitter  *groupSplitter
	opts      options
}

func NewBatchService(
	logger *slog.Logger,
	orders OrdersRepository,
	batches BatchesRepository,
	directory ports.FacilitatorDirectory,
	pricing *PricingCalculator,
	opts ...Option,
) *BatchService {
	s := &BatchService{
		logger:    logger,
		orders:    orders,
		batches:   batches,
		directory: directory,
		pricing:   pricing,
		opts:      buildOptions(opts),
	}
	s.splitter = &groupSplitter{logger: logger, batches: batches, opts: &s.opts}
	return s
}

func (s *BatchService) CreateBatchOrder(ctx context.Context, input CreateBatchInput) (*entities.BatchView, error) {
	if err := requireFields(map[string]string{"user_wallet_address": input.UserWalletAddress}); err != nil {
		return nil, err
	}
	if len(input.Items) == 0 {
		return nil, entities.ErrEmptyBatch
	}

	now := s.opts.clock()
	in := newIntake(s.pricing, s.opts.rates)

	orders := make([]entities.Order, 0, len(input.Items))
	railSet := make(map[entities.PaymentRail]struct{})
	total := decimal.Zero
	for i, item := range input.Items {
		order, err := in.build(ctx, input.UserWalletAddress, item, now)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		railSet[order.PaymentRail] = struct{}{}
		total = total.Add(order.ZecAmount)
		orders = append(orders, *order)
	}
	rails := entities.SortRails(maps.Keys(railSet))

	candidates, err := s.directory.FindCovering(ctx, rails)
	if err != nil {
		return nil, fmt.Errorf("find covering facilitators: %w", err)
	}

	batch := &entities.Batch{
		ID:                uuid.NewString(),
		UserWalletAddress: orders[0].UserWalletAddress,
		TotalZecAmount:    total,
		OrderIDs:          make([]string, len(orders)),
		MerchantGroups:    []entities.MerchantGroup{},
		CreatedAt:         now,
	}
	for i := range orders {
		orders[i].BatchID = batch.ID
		batch.OrderIDs[i] = orders[i].ID
	}

	var group *entities.MerchantGroup
	if len(candidates) > 0 {
		target := candidates[0]
		batch.MerchantGroups = append(batch.MerchantGroups, entities.MerchantGroup{
			GroupID:            uuid.NewString(),
			MerchantID:         target.MerchantID,
			MerchantZecAddress: target.ZecAddress,
			PaymentRails:       rails,
			TotalZecAmount:     total,
			OrderIDs:           append([]string(nil), batch.OrderIDs...),
			ExpiresAt:          now.Add(s.opts.groupWindow),
			Status:             entities.GroupPending,
		})
		group = &batch.MerchantGroups[0]
		for i := range orders {
			orders[i].Grouping = &entities.Grouping{
				GroupID:          group.GroupID,
				ExpiresAt:        group.ExpiresAt,
				TargetMerchantID: group.MerchantID,
			}
		}
		batch.SetStatus(entities.BatchGrouped, "offered to "+target.MerchantID, now)
	} else {
		batch.SetStatus(entities.BatchPending, "no facilitator covers every rail", now)
	}

	if err = s.batches.InsertBatch(ctx, batch, orders); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	s.logger.Info("Batch created",
		"batch_id", batch.ID,
		"orders", len(orders),
		"rails", entities.RailStrings(rails),
		"grouped", group != nil)
	s.opts.metrics.RecordBatch(group != nil)

	events := make([]entities.Event, 0, len(orders)+1)
	for i := range orders {
		s.opts.metrics.RecordOrderCreated(string(orders[i].PaymentRail), orders[i].FiatCurrency, orders[i].FiatAmount)
		events = append(events, entities.OrderEvent(entities.EventOrderCreated, &orders[i], now))
	}
	if group != nil {
		events = append(events, entities.GroupEvent(entities.EventGroupCreated, batch.ID, group, now))
	}
	publish(ctx, s.logger, s.opts.publisher, events...)

	return &entities.BatchView{Batch: batch, Orders: orders}, nil
}

// AcceptGroup binds every member of the group to the target facilitator, or changes
// nothing. A group whose window has passed is split in the same transaction.
func (s *BatchService) AcceptGroup(ctx context.Context, groupID string, input AcceptInput) (*entities.GroupView, error) {
	if err := requireFields(map[string]string{"merchant_id": input.MerchantID}); err != nil {
		return nil, err
	}

	var (
		view    *entities.GroupView
		expired bool
		events  []entities.Event
	)

	err := s.batches.UpdateGroup(ctx, groupID, func(batch *entities.Batch, members []entities.Order) error {
		now := s.opts.clock()
		group := batch.Group(groupID)
		if group == nil {
			return entities.ErrGroupNotFound
		}
		if group.MerchantID != input.MerchantID {
			return fmt.Errorf("%w: group %s is offered to another facilitator", entities.ErrForbidden, groupID)
		}

		switch group.Status {
		case entities.GroupExpired:
			return fmt.Errorf("%w: group %s", entities.ErrGroupExpired, groupID)
		case entities.GroupAccepted:
			return fmt.Errorf("%w: group %s already accepted", entities.ErrGroupNotPending, groupID)
		}

		if !now.Before(group.ExpiresAt) {
			releaseGroup(batch, group, members, now)
			expired = true
			events = append(events, entities.GroupEvent(entities.EventGroupSplit, batch.ID, group, now))
			return nil
		}

		for i := range members {
			if members[i].Status != entities.OrderPending || members[i].ReservedGroupID() != groupID {
				return fmt.Errorf("%w: order %s is %s", entities.ErrGroupNotPending, members[i].ID, members[i].Status)
			}
		}

		zecAddress := input.MerchantZecAddress
		if zecAddress == "" {
			zecAddress = group.MerchantZecAddress
		}
		if zecAddress == "" {
			return fmt.Errorf("%w: merchant_zec_address", entities.ErrMissingField)
		}

		for i := range members {
			m := &members[i]
			if err := m.Transition(entities.OrderAccepted, "group "+groupID+" accepted", now); err != nil {
				return err
			}
			m.Assignment = &entities.Assignment{MerchantID: input.MerchantID, MerchantZecAddress: zecAddress}
			m.Grouping = nil
			events = append(events, entities.OrderEvent(entities.EventOrderAccepted, m, now))
		}
		group.Status = entities.GroupAccepted
		group.MerchantZecAddress = zecAddress
		batch.SetStatus(entities.BatchAccepted, "group accepted by "+input.MerchantID, now)
		events = append(events, entities.GroupEvent(entities.EventGroupAccepted, batch.ID, group, now))

		view = &entities.GroupView{BatchID: batch.ID, Group: *group, Orders: append([]entities.Order(nil), members...)}
		return nil
	})
	if err != nil {
		s.opts.metrics.RecordGroupAccept("rejected")
		return nil, err
	}

	publish(ctx, s.logger, s.opts.publisher, events...)

	if expired {
		s.logger.Info("Merchant group expired on accept", "group_id", groupID)
		s.opts.metrics.RecordGroupAccept("expired")
		s.opts.metrics.RecordGroupsSplit(1)
		return nil, fmt.Errorf("%w: group %s", entities.ErrGroupExpired, groupID)
	}

	s.logger.Info("Merchant group accepted", "group_id", groupID, "merchant_id", input.MerchantID, "orders", len(view.Orders))
	s.opts.metrics.RecordGroupAccept("accepted")
	for range view.Orders {
		s.opts.metrics.RecordTransition(string(entities.OrderPending), string(entities.OrderAccepted))
	}
	return view, nil
}

// SplitGroup releases one group if its window has passed. Returns false when there was
// nothing to do.
func (s *BatchService) SplitGroup(ctx context.Context, groupID string) (bool, error) {
	return s.splitter.split(ctx, groupID)
}

// SplitExpiredGroups handles one page of expired groups. Failures on individual groups
// are joined and do not stop the page.
func (s *BatchService) SplitExpiredGroups(ctx context.Context) (int, error) {
	n, _, err := s.splitter.sweep(ctx)
	return n, err
}

// SplitAllExpiredGroups pages through expired groups until none remain.
func (s *BatchService) SplitAllExpiredGroups(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.opts.metrics.ObserveSweep(time.Since(start)) }()

	total := 0
	for {
		n, scanned, err := s.splitter.sweep(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if scanned < s.opts.sweepBatchSize || n == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *BatchService) GetBatchOrder(ctx context.Context, batchID string) (*entities.BatchView, error) {
	batch, err := s.batches.FindBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	orders, err := s.orders.FindOrdersByIDs(ctx, batch.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("find batch orders: %w", err)
	}
	return &entities.BatchView{Batch: batch, Orders: orders}, nil
}

func (s *BatchService) GetGroupedOrders(ctx context.Context, groupID string) (*entities.GroupView, error) {
	batch, err := s.batches.FindBatchByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group := batch.Group(groupID)
	if group == nil {
		return nil, entities.ErrGroupNotFound
	}
	orders, err := s.orders.FindOrdersByIDs(ctx, group.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("find group orders: %w", err)
	}
	return &entities.GroupView{BatchID: batch.ID, Group: *group, Orders: orders}, nil
}
