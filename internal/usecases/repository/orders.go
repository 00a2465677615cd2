package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/pkg/database"
)

var _ usecases.OrdersRepository = (*OrdersRepository)(nil)

type OrdersRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *OrdersRepository) InsertOrder(ctx context.Context, order *entities.Order) error {
	values := orderValues(order)
	values["order_id"] = order.ID
	values["created_at"] = order.CreatedAt
	values["version"] = int64(1)

	query, args, err := psql.Insert("orders").SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	order.Version = 1
	return nil
}

func (r *OrdersRepository) FindOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	orders, err := r.selectOrders(ctx, psql.Select(orderColumns...).From("orders").Where(sq.Eq{"order_id": orderID}))
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: %s", entities.ErrOrderNotFound, orderID)
	}
	return &orders[0], nil
}

// FindOrdersByIDs returns the found orders in the order of orderIDs.
func (r *OrdersRepository) FindOrdersByIDs(ctx context.Context, orderIDs []string) ([]entities.Order, error) {
	if len(orderIDs) == 0 {
		return []entities.Order{}, nil
	}
	orders, err := r.selectOrders(ctx, psql.Select(orderColumns...).From("orders").Where(sq.Eq{"order_id": orderIDs}))
	if err != nil {
		return nil, err
	}
	return inIDOrder(orders, orderIDs), nil
}

// lockOrders selects the orders FOR UPDATE in id order so concurrent group operations
// always lock rows in the same sequence. Must run inside a transaction.
func (r *OrdersRepository) lockOrders(ctx context.Context, orderIDs []string) ([]entities.Order, error) {
	q := psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"order_id": orderIDs}).
		OrderBy("order_id").
		Suffix("FOR UPDATE")
	orders, err := r.selectOrders(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(orders) != len(orderIDs) {
		return nil, fmt.Errorf("%w: locked %d of %d group members", entities.ErrOrderNotFound, len(orders), len(orderIDs))
	}
	return inIDOrder(orders, orderIDs), nil
}

func (r *OrdersRepository) FindUserOrders(ctx context.Context, userWalletAddress string) ([]entities.Order, error) {
	return r.selectOrders(ctx, psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"user_wallet_address": userWalletAddress}).
		OrderBy("created_at DESC", "order_id"))
}

func (r *OrdersRepository) FindOrders(ctx context.Context, filter entities.OrderFilter) ([]entities.Order, error) {
	return r.selectOrders(ctx, ordersQuery(filter))
}

func ordersQuery(filter entities.OrderFilter) sq.SelectBuilder {
	q := psql.Select(orderColumns...).From("orders")

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	if len(filter.Rails) > 0 {
		q = q.Where(sq.Eq{"payment_rail": entities.RailStrings(filter.Rails)})
	}
	if filter.MerchantID != "" {
		q = q.Where(sq.Eq{"merchant_id": filter.MerchantID})
	}
	if filter.UngroupedAt != nil {
		q = q.Where(sq.Or{
			sq.Eq{"group_id": nil},
			sq.LtOrEq{"group_expires_at": *filter.UngroupedAt},
		})
	}
	if filter.NewestFirst {
		q = q.OrderBy("created_at DESC", "order_id")
	} else {
		q = q.OrderBy("created_at", "order_id")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return q
}

func (r *OrdersRepository) CompareAndSwapOrder(ctx context.Context, order *entities.Order, expectedVersion int64) (bool, error) {
	if err := r.updateVersioned(ctx, order, expectedVersion); err != nil {
		if errors.Is(err, errVersionMismatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var errVersionMismatch = errors.New("version mismatch")

func (r *OrdersRepository) updateVersioned(ctx context.Context, order *entities.Order, expectedVersion int64) error {
	query, args, err := psql.Update("orders").
		SetMap(orderValues(order)).
		Set("version", expectedVersion+1).
		Where(sq.Eq{"order_id": order.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errVersionMismatch
	}
	order.Version = expectedVersion + 1
	return nil
}

func (r *OrdersRepository) insertOrders(ctx context.Context, orders []entities.Order) error {
	for i := range orders {
		if err := r.InsertOrder(ctx, &orders[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrdersRepository) selectOrders(ctx context.Context, q sq.SelectBuilder) ([]entities.Order, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	dbRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[orderRow])
	if err != nil {
		r.logger.Error("failed to collect orders rows", "error", err)
		return nil, err
	}

	orders := make([]entities.Order, len(dbRows))
	for i, row := range dbRows {
		orders[i] = row.toEntity()
	}
	return orders, nil
}

func inIDOrder(orders []entities.Order, orderIDs []string) []entities.Order {
	byID := make(map[string]entities.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	out := make([]entities.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out
}
