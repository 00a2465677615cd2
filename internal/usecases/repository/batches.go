package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/pkg/database"
)

var _ usecases.BatchesRepository = (*BatchesRepository)(nil)

var batchColumns = []string{
	"batch_id", "user_wallet_address", "total_zec_amount", "order_ids",
	"merchant_groups", "status", "status_history", "version", "created_at", "updated_at",
}

type batchRow struct {
	BatchID           string                   `db:"batch_id"`
	UserWalletAddress string                   `db:"user_wallet_address"`
	TotalZecAmount    decimal.Decimal          `db:"total_zec_amount"`
	OrderIDs          []string                 `db:"order_ids"`
	MerchantGroups    []entities.MerchantGroup `db:"merchant_groups"`
	Status            string                   `db:"status"`
	StatusHistory     []entities.StatusEntry   `db:"status_history"`
	Version           int64                    `db:"version"`
	CreatedAt         time.Time                `db:"created_at"`
	UpdatedAt         time.Time                `db:"updated_at"`
}

func (r batchRow) toEntity() (*entities.Batch, int64) {
	return &entities.Batch{
		ID:                r.BatchID,
		UserWalletAddress: r.UserWalletAddress,
		TotalZecAmount:    r.TotalZecAmount,
		OrderIDs:          r.OrderIDs,
		MerchantGroups:    r.MerchantGroups,
		Status:            entities.BatchStatus(r.Status),
		StatusHistory:     r.StatusHistory,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, r.Version
}

// BatchesRepository stores batches and runs group mutations. Member orders are read and
// written through the orders repository so both share the transaction carried by ctx.
type BatchesRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	orders     *OrdersRepository
}

func NewBatchesRepository(logger *slog.Logger, pg *database.Postgres, orders *OrdersRepository) *BatchesRepository {
	return &BatchesRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor, orders: orders}
}

func (r *BatchesRepository) InsertBatch(ctx context.Context, batch *entities.Batch, orders []entities.Order) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := psql.Insert("batches").SetMap(map[string]any{
			"batch_id":            batch.ID,
			"user_wallet_address": batch.UserWalletAddress,
			"total_zec_amount":    batch.TotalZecAmount,
			"order_ids":           batch.OrderIDs,
			"merchant_groups":     batch.MerchantGroups,
			"status":              string(batch.Status),
			"status_history":      batch.StatusHistory,
			"version":             int64(1),
			"created_at":          batch.CreatedAt,
			"updated_at":          batch.UpdatedAt,
		}).ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert batch %s: %w", batch.ID, err)
		}
		return r.orders.insertOrders(ctx, orders)
	})
}

func (r *BatchesRepository) FindBatch(ctx context.Context, batchID string) (*entities.Batch, error) {
	batch, _, err := r.findOne(ctx, psql.Select(batchColumns...).From("batches").Where(sq.Eq{"batch_id": batchID}))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrBatchNotFound, batchID)
	}
	return batch, err
}

func (r *BatchesRepository) FindBatchByGroup(ctx context.Context, groupID string) (*entities.Batch, error) {
	q, err := byGroup(groupID)
	if err != nil {
		return nil, err
	}
	batch, _, err := r.findOne(ctx, q)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrGroupNotFound, groupID)
	}
	return batch, err
}

// UpdateGroup locks the batch row, then the member orders in id order, and commits the
// mutation with version guards on every row.
func (r *BatchesRepository) UpdateGroup(ctx context.Context, groupID string, fn usecases.GroupMutation) error {
	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		q, err := byGroup(groupID)
		if err != nil {
			return err
		}
		batch, batchVersion, err := r.findOne(ctx, q.Suffix("FOR UPDATE"))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", entities.ErrGroupNotFound, groupID)
		}
		if err != nil {
			return err
		}

		group := batch.Group(groupID)
		if group == nil {
			return fmt.Errorf("%w: %s", entities.ErrGroupNotFound, groupID)
		}
		members, err := r.orders.lockOrders(ctx, group.OrderIDs)
		if err != nil {
			return err
		}
		versions := make([]int64, len(members))
		for i := range members {
			versions[i] = members[i].Version
		}

		if err = fn(batch, members); err != nil {
			return err
		}

		for i := range members {
			if err = r.orders.updateVersioned(ctx, &members[i], versions[i]); err != nil {
				if errors.Is(err, errVersionMismatch) {
					return fmt.Errorf("%w: order %s", entities.ErrConcurrentUpdate, members[i].ID)
				}
				return err
			}
		}
		return r.updateBatch(ctx, batch, batchVersion)
	})
	if errors.Is(err, ports.ErrNoChanges) {
		return nil
	}
	return err
}

func (r *BatchesRepository) updateBatch(ctx context.Context, batch *entities.Batch, expectedVersion int64) error {
	query, args, err := psql.Update("batches").
		Set("merchant_groups", batch.MerchantGroups).
		Set("status", string(batch.Status)).
		Set("status_history", batch.StatusHistory).
		Set("updated_at", batch.UpdatedAt).
		Set("version", expectedVersion+1).
		Where(sq.Eq{"batch_id": batch.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", batch.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: batch %s", entities.ErrConcurrentUpdate, batch.ID)
	}
	return nil
}

// FindExpiredGroupIDs returns groups that still reserve pending orders past their window,
// oldest deadline first.
func (r *BatchesRepository) FindExpiredGroupIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query, args, err := psql.Select("group_id").From("orders").
		Where(sq.Eq{"status": string(entities.OrderPending)}).
		Where(sq.NotEq{"group_id": nil}).
		Where(sq.LtOrEq{"group_expires_at": now}).
		GroupBy("group_id").
		OrderBy("MIN(group_expires_at)", "group_id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expired groups: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *BatchesRepository) FindPendingGroups(ctx context.Context, merchantID string, now time.Time) ([]entities.Batch, error) {
	filter, err := json.Marshal([]map[string]string{{
		"merchant_id": merchantID,
		"status":      string(entities.GroupPending),
	}})
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select(batchColumns...).From("batches").
		Where(sq.Eq{"status": string(entities.BatchGrouped)}).
		Where("merchant_groups @> ?::jsonb", string(filter)).
		OrderBy("created_at", "batch_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending groups: %w", err)
	}
	dbRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[batchRow])
	if err != nil {
		return nil, err
	}

	batches := make([]entities.Batch, 0, len(dbRows))
	for _, row := range dbRows {
		batch, _ := row.toEntity()
		for _, g := range batch.MerchantGroups {
			if g.MerchantID == merchantID && g.Status == entities.GroupPending && now.Before(g.ExpiresAt) {
				batches = append(batches, *batch)
				break
			}
		}
	}
	return batches, nil
}

func (r *BatchesRepository) findOne(ctx context.Context, q sq.SelectBuilder) (*entities.Batch, int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query batch: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[batchRow])
	if err != nil {
		return nil, 0, err
	}
	batch, version := row.toEntity()
	return batch, version, nil
}

func byGroup(groupID string) (sq.SelectBuilder, error) {
	filter, err := json.Marshal([]map[string]string{{"group_id": groupID}})
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	return psql.Select(batchColumns...).From("batches").Where("merchant_groups @> ?::jsonb", string(filter)), nil
}
