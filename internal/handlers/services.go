package handlers

import (
	"context"

	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
)

var (
	_ OrderService       = (*usecases.OrderService)(nil)
	_ BatchService       = (*usecases.BatchService)(nil)
	_ VisibilityService  = (*usecases.VisibilityService)(nil)
	_ FacilitatorService = (*usecases.FacilitatorService)(nil)
)

type OrderService interface {
	CreateOrder(ctx context.Context, input usecases.CreateOrderInput) (*entities.Order, error)
	GetOrder(ctx context.Context, orderID string) (*entities.Order, error)
	GetUserOrders(ctx context.Context, userWalletAddress string) ([]entities.Order, error)
	AcceptOrder(ctx context.Context, orderID string, input usecases.AcceptInput) (*entities.Order, error)
	MarkFiatSent(ctx context.Context, orderID string, input usecases.FiatSentInput) (*entities.Order, error)
	MarkZecReceived(ctx context.Context, orderID string, input usecases.ZecReceivedInput) (*entities.Order, error)
	CancelOrder(ctx context.Context, orderID string, input usecases.CancelInput) (*entities.Order, error)
	MarkOrderFailed(ctx context.Context, orderID string, input usecases.FailInput) (*entities.Order, error)
}

type BatchService interface {
	CreateBatchOrder(ctx context.Context, input usecases.CreateBatchInput) (*entities.BatchView, error)
	GetBatchOrder(ctx context.Context, batchID string) (*entities.BatchView, error)
	GetGroupedOrders(ctx context.Context, groupID string) (*entities.GroupView, error)
	AcceptGroup(ctx context.Context, groupID string, input usecases.AcceptInput) (*entities.GroupView, error)
}

type VisibilityService interface {
	ListPendingOrders(ctx context.Context, rails []entities.PaymentRail) ([]entities.Order, error)
	ListPendingOrdersForMerchant(ctx context.Context, merchantID string) ([]entities.Order, error)
	ListPendingGroups(ctx context.Context, merchantID string) ([]entities.GroupView, error)
	ListActiveOrders(ctx context.Context, merchantID string) ([]entities.Order, error)
	ListCompletedOrders(ctx context.Context, merchantID string) ([]entities.Order, error)
}

type FacilitatorService interface {
	RegisterFacilitator(ctx context.Context, input usecases.RegisterFacilitatorInput) (*entities.Facilitator, error)
}

// HealthChecker reports whether the storage backend is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
