package usecases

import (
	"context"
	"time"

	"github.com/zapp/backend/internal/entities"
)

type OrdersRepository interface {
	InsertOrder(ctx context.Context, order *entities.Order) error
	FindOrder(ctx context.Context, orderID string) (*entities.Order, error)
	FindOrdersByIDs(ctx context.Context, orderIDs []string) ([]entities.Order, error)
	FindUserOrders(ctx context.Context, userWalletAddress string) ([]entities.Order, error)
	FindOrders(ctx context.Context, filter entities.OrderFilter) ([]entities.Order, error)
	// CompareAndSwapOrder persists order only if the stored version still equals
	// expectedVersion. On success order.Version is advanced.
	CompareAndSwapOrder(ctx context.Context, order *entities.Order, expectedVersion int64) (bool, error)
}

// GroupMutation may change the batch and its member orders in place. Returning
// ports.ErrNoChanges commits nothing; any other error rolls back.
type GroupMutation func(batch *entities.Batch, members []entities.Order) error

type BatchesRepository interface {
	// InsertBatch writes the batch and all of its orders atomically.
	InsertBatch(ctx context.Context, batch *entities.Batch, orders []entities.Order) error
	FindBatch(ctx context.Context, batchID string) (*entities.Batch, error)
	FindBatchByGroup(ctx context.Context, groupID string) (*entities.Batch, error)
	// UpdateGroup locks the batch owning groupID and every member order, runs fn and
	// writes the result back as one unit.
	UpdateGroup(ctx context.Context, groupID string, fn GroupMutation) error
	FindExpiredGroupIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	FindPendingGroups(ctx context.Context, merchantID string, now time.Time) ([]entities.Batch, error)
}

type FacilitatorsRepository interface {
	UpsertFacilitator(ctx context.Context, f *entities.Facilitator) error
}
