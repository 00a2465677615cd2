package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

// OrderService drives the single-order state machine. Every transition is a conditional
// write on the order version, so any number of instances may serve the same orders.
type OrderService struct {
	logger   *slog.Logger
	orders   OrdersRepository
	batches  BatchesRepository
	pricing  *PricingCalculator
	splitter *groupSplitter
	opts     options
}

func NewOrderService(logger *slog.Logger, orders OrdersRepository, batches BatchesRepository, pricing *PricingCalculator, opts ...Option) *OrderService {
	s := &OrderService{
		logger:  logger,
		orders:  orders,
		batches: batches,
		pricing: pricing,
		opts:    buildOptions(opts),
	}
	s.splitter = &groupSplitter{logger: logger, batches: batches, opts: &s.opts}
	return s
}

func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*entities.Order, error) {
	now := s.opts.clock()
	order, err := newIntake(s.pricing, s.opts.rates).build(ctx, input.UserWalletAddress, input.OrderItem, now)
	if err != nil {
		return nil, err
	}

	if err = s.orders.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	s.logger.Info("Order created",
		"order_id", order.ID,
		"payment_rail", order.PaymentRail,
		"fiat_amount", order.FiatAmount.String(),
		"zec_amount", order.ZecAmount.String())
	s.opts.metrics.RecordOrderCreated(string(order.PaymentRail), order.FiatCurrency, order.FiatAmount)
	publish(ctx, s.logger, s.opts.publisher, entities.OrderEvent(entities.EventOrderCreated, order, now))

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	return s.orders.FindOrder(ctx, orderID)
}

func (s *OrderService) GetUserOrders(ctx context.Context, userWalletAddress string) ([]entities.Order, error) {
	if err := requireFields(map[string]string{"user_wallet_address": userWalletAddress}); err != nil {
		return nil, err
	}
	return s.orders.FindUserOrders(ctx, userWalletAddress)
}

// AcceptOrder binds a pending order to the calling facilitator. Of several concurrent
// callers exactly one wins; the others get ErrOrderNotPending.
func (s *OrderService) AcceptOrder(ctx context.Context, orderID string, input AcceptInput) (*entities.Order, error) {
	if err := requireFields(map[string]string{
		"merchant_id":          input.MerchantID,
		"merchant_zec_address": input.MerchantZecAddress,
	}); err != nil {
		return nil, err
	}
	if err := s.releaseIfExpired(ctx, orderID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, orderID, "accept", entities.EventOrderAccepted, func(o *entities.Order, now time.Time) error {
		if o.Status != entities.OrderPending {
			return fmt.Errorf("%w: order %s is %s", entities.ErrOrderNotPending, o.ID, o.Status)
		}
		if o.Grouping != nil {
			return fmt.Errorf("%w: group %s", entities.ErrOrderGrouped, o.Grouping.GroupID)
		}
		if err := o.Transition(entities.OrderAccepted, "accepted by "+input.MerchantID, now); err != nil {
			return err
		}
		o.Assignment = &entities.Assignment{MerchantID: input.MerchantID, MerchantZecAddress: input.MerchantZecAddress}
		return nil
	})
}

func (s *OrderService) MarkFiatSent(ctx context.Context, orderID string, input FiatSentInput) (*entities.Order, error) {
	if err := requireFields(map[string]string{"merchant_id": input.MerchantID}); err != nil {
		return nil, err
	}

	return s.mutate(ctx, orderID, "fiat_sent", entities.EventOrderFiatSent, func(o *entities.Order, now time.Time) error {
		if o.Status != entities.OrderAccepted {
			return fmt.Errorf("%w: order %s is %s", entities.ErrInvalidTransition, o.ID, o.Status)
		}
		if o.BoundMerchantID() != input.MerchantID {
			return fmt.Errorf("%w: order %s", entities.ErrForbidden, o.ID)
		}
		if err := o.Transition(entities.OrderFiatSent, input.Notes, now); err != nil {
			return err
		}
		if input.FiatPaymentReference != "" {
			o.FiatPaymentReference = input.FiatPaymentReference
		}
		return nil
	})
}

// MarkZecReceived completes an order once the facilitator has seen the ZEC arrive.
func (s *OrderService) MarkZecReceived(ctx context.Context, orderID string, input ZecReceivedInput) (*entities.Order, error) {
	if err := requireFields(map[string]string{"merchant_id": input.MerchantID}); err != nil {
		return nil, err
	}

	return s.mutate(ctx, orderID, "zec_received", entities.EventOrderCompleted, func(o *entities.Order, now time.Time) error {
		if o.Status != entities.OrderFiatSent && o.Status != entities.OrderZecSent {
			return fmt.Errorf("%w: order %s is %s", entities.ErrInvalidTransition, o.ID, o.Status)
		}
		if o.BoundMerchantID() != input.MerchantID {
			return fmt.Errorf("%w: order %s", entities.ErrForbidden, o.ID)
		}
		if err := o.Transition(entities.OrderCompleted, input.Notes, now); err != nil {
			return err
		}
		if input.ZecTxHash != "" {
			o.ZecTxHash = input.ZecTxHash
		}
		return nil
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID string, input CancelInput) (*entities.Order, error) {
	if err := requireFields(map[string]string{"user_wallet_address": input.UserWalletAddress}); err != nil {
		return nil, err
	}
	if err := s.releaseIfExpired(ctx, orderID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, orderID, "cancel", entities.EventOrderCancelled, func(o *entities.Order, now time.Time) error {
		if o.Status != entities.OrderPending {
			return fmt.Errorf("%w: order %s is %s", entities.ErrOrderNotCancellable, o.ID, o.Status)
		}
		if o.UserWalletAddress != strings.TrimSpace(input.UserWalletAddress) {
			return fmt.Errorf("%w: wallet does not own order %s", entities.ErrOrderNotCancellable, o.ID)
		}
		if o.Grouping != nil {
			return fmt.Errorf("%w: %w", entities.ErrOrderNotCancellable, entities.ErrOrderGrouped)
		}
		return o.Transition(entities.OrderCancelled, input.Reason, now)
	})
}

// MarkOrderFailed records an upstream settlement failure on any non-terminal order. A
// member of an open group is failed under the group lock and leaves the group, so a later
// group accept finds it not pending.
func (s *OrderService) MarkOrderFailed(ctx context.Context, orderID string, input FailInput) (*entities.Order, error) {
	if err := s.releaseIfExpired(ctx, orderID); err != nil {
		return nil, err
	}

	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Grouping != nil {
		failed, err := s.failGroupMember(ctx, order.Grouping.GroupID, orderID, input.Reason)
		if !errors.Is(err, errLeftGroup) {
			return failed, err
		}
	}

	return s.mutate(ctx, orderID, "fail", entities.EventOrderFailed, func(o *entities.Order, now time.Time) error {
		if o.Grouping != nil {
			return fmt.Errorf("fail order %s: %w", o.ID, entities.ErrConcurrentUpdate)
		}
		return o.Transition(entities.OrderFailed, input.Reason, now)
	})
}

// errLeftGroup means the order was released from its group before the lock was taken.
var errLeftGroup = errors.New("order left its group")

func (s *OrderService) failGroupMember(ctx context.Context, groupID, orderID, reason string) (*entities.Order, error) {
	var (
		failed *entities.Order
		from   entities.OrderStatus
		now    time.Time
	)

	err := s.batches.UpdateGroup(ctx, groupID, func(_ *entities.Batch, members []entities.Order) error {
		now = s.opts.clock()
		for i := range members {
			m := &members[i]
			if m.ID != orderID {
				continue
			}
			if m.ReservedGroupID() != groupID {
				return errLeftGroup
			}
			from = m.Status
			if err := m.Transition(entities.OrderFailed, reason, now); err != nil {
				return err
			}
			m.Grouping = nil
			failed = m.Clone()
			return nil
		}
		return errLeftGroup
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order updated", "order_id", orderID, "operation", "fail", "from", from, "to", failed.Status, "group_id", groupID)
	s.opts.metrics.RecordTransition(string(from), string(failed.Status))
	publish(ctx, s.logger, s.opts.publisher, entities.OrderEvent(entities.EventOrderFailed, failed, now))
	return failed, nil
}

// releaseIfExpired splits the order's group when its window has passed but no sweep has
// run yet.
func (s *OrderService) releaseIfExpired(ctx context.Context, orderID string) error {
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Grouping == nil || order.Grouping.ActiveAt(s.opts.clock()) {
		return nil
	}
	if _, err = s.splitter.split(ctx, order.Grouping.GroupID); err != nil {
		return fmt.Errorf("release expired group %s: %w", order.Grouping.GroupID, err)
	}
	return nil
}

// mutate applies fn to a fresh copy of the order and writes it back conditionally. A lost
// write re-reads and re-evaluates fn, which then reports the conflict.
func (s *OrderService) mutate(
	ctx context.Context,
	orderID, op string,
	eventType entities.EventType,
	fn func(o *entities.Order, now time.Time) error,
) (*entities.Order, error) {
	for attempt := 1; attempt <= ports.MaxCASAttempts; attempt++ {
		current, err := s.orders.FindOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		now := s.opts.clock()
		next := current.Clone()
		if err = fn(next, now); err != nil {
			return nil, err
		}

		swapped, err := s.orders.CompareAndSwapOrder(ctx, next, current.Version)
		if err != nil {
			return nil, fmt.Errorf("%s order %s: %w", op, orderID, err)
		}
		if swapped {
			s.logger.Info("Order updated", "order_id", orderID, "operation", op, "from", current.Status, "to", next.Status)
			s.opts.metrics.RecordTransition(string(current.Status), string(next.Status))
			publish(ctx, s.logger, s.opts.publisher, entities.OrderEvent(eventType, next, now))
			return next, nil
		}

		s.opts.metrics.RecordConflict(op)
		s.logger.Debug("Conditional write lost, retrying", "order_id", orderID, "operation", op, "attempt", attempt)
	}

	return nil, fmt.Errorf("%s order %s: %w", op, orderID, entities.ErrConcurrentUpdate)
}
