package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
	"go.openly.dev/pointy"
)

// VisibilityService projects what a facilitator may see and act on.
type VisibilityService struct {
	logger    *slog.Logger
	orders    OrdersRepository
	batches   BatchesRepository
	directory ports.FacilitatorDirectory
	opts      options
}

func NewVisibilityService(
	logger *slog.Logger,
	orders OrdersRepository,
	batches BatchesRepository,
	directory ports.FacilitatorDirectory,
	opts ...Option,
) *VisibilityService {
	return &VisibilityService{
		logger:    logger,
		orders:    orders,
		batches:   batches,
		directory: directory,
		opts:      buildOptions(opts),
	}
}

// ListPendingOrders returns pending orders on any of rails that no open merchant group
// reserves. Orders of an expired but not yet swept group are included.
func (s *VisibilityService) ListPendingOrders(ctx context.Context, rails []entities.PaymentRail) ([]entities.Order, error) {
	if len(rails) == 0 {
		return []entities.Order{}, nil
	}
	return s.orders.FindOrders(ctx, entities.OrderFilter{
		Statuses:    []entities.OrderStatus{entities.OrderPending},
		Rails:       rails,
		UngroupedAt: pointy.Pointer(s.opts.clock()),
	})
}

// ListPendingOrdersForMerchant looks up the facilitator's enabled rails in the directory.
func (s *VisibilityService) ListPendingOrdersForMerchant(ctx context.Context, merchantID string) ([]entities.Order, error) {
	f, err := s.facilitator(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !f.Active {
		return []entities.Order{}, nil
	}
	return s.ListPendingOrders(ctx, f.EnabledRails)
}

// ListPendingGroups returns open groups offered to merchantID with their member orders.
func (s *VisibilityService) ListPendingGroups(ctx context.Context, merchantID string) ([]entities.GroupView, error) {
	if err := requireFields(map[string]string{"merchant_id": merchantID}); err != nil {
		return nil, err
	}

	now := s.opts.clock()
	batches, err := s.batches.FindPendingGroups(ctx, merchantID, now)
	if err != nil {
		return nil, fmt.Errorf("find pending groups: %w", err)
	}

	views := make([]entities.GroupView, 0, len(batches))
	for _, batch := range batches {
		for _, group := range batch.MerchantGroups {
			if group.MerchantID != merchantID || group.Status != entities.GroupPending || !now.Before(group.ExpiresAt) {
				continue
			}
			orders, err := s.orders.FindOrdersByIDs(ctx, group.OrderIDs)
			if err != nil {
				return nil, fmt.Errorf("find orders of group %s: %w", group.GroupID, err)
			}
			views = append(views, entities.GroupView{BatchID: batch.ID, Group: group, Orders: orders})
		}
	}
	return views, nil
}

func (s *VisibilityService) ListActiveOrders(ctx context.Context, merchantID string) ([]entities.Order, error) {
	return s.boundOrders(ctx, merchantID, entities.ActiveStatuses, false)
}

func (s *VisibilityService) ListCompletedOrders(ctx context.Context, merchantID string) ([]entities.Order, error) {
	return s.boundOrders(ctx, merchantID, entities.FinishedStatuses, true)
}

func (s *VisibilityService) boundOrders(ctx context.Context, merchantID string, statuses []entities.OrderStatus, newestFirst bool) ([]entities.Order, error) {
	if err := requireFields(map[string]string{"merchant_id": merchantID}); err != nil {
		return nil, err
	}
	return s.orders.FindOrders(ctx, entities.OrderFilter{
		Statuses:    statuses,
		MerchantID:  merchantID,
		NewestFirst: newestFirst,
	})
}

func (s *VisibilityService) facilitator(ctx context.Context, merchantID string) (*entities.Facilitator, error) {
	if err := requireFields(map[string]string{"merchant_id": merchantID}); err != nil {
		return nil, err
	}
	return s.directory.GetFacilitator(ctx, merchantID)
}
