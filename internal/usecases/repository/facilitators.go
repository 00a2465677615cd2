package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/pkg/database"
)

var (
	_ ports.FacilitatorDirectory      = (*FacilitatorsRepository)(nil)
	_ usecases.FacilitatorsRepository = (*FacilitatorsRepository)(nil)
)

var facilitatorColumns = []string{"merchant_id", "zec_address", "enabled_rails", "active", "created_at"}

type facilitatorRow struct {
	MerchantID   string    `db:"merchant_id"`
	ZecAddress   string    `db:"zec_address"`
	EnabledRails []string  `db:"enabled_rails"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r facilitatorRow) toEntity() entities.Facilitator {
	rails := make([]entities.PaymentRail, len(r.EnabledRails))
	for i, s := range r.EnabledRails {
		rails[i] = entities.PaymentRail(s)
	}
	return entities.Facilitator{
		MerchantID:   r.MerchantID,
		ZecAddress:   r.ZecAddress,
		EnabledRails: entities.SortRails(rails),
		Active:       r.Active,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// FacilitatorsRepository is the Postgres-backed facilitator directory.
type FacilitatorsRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewFacilitatorsRepository(logger *slog.Logger, pg *database.Postgres) *FacilitatorsRepository {
	return &FacilitatorsRepository{logger: logger, db: pg.DBGetter}
}

func (r *FacilitatorsRepository) UpsertFacilitator(ctx context.Context, f *entities.Facilitator) error {
	query, args, err := psql.Insert("facilitators").
		Columns("merchant_id", "zec_address", "enabled_rails", "active").
		Values(f.MerchantID, f.ZecAddress, entities.RailStrings(f.EnabledRails), f.Active).
		Suffix(`ON CONFLICT (merchant_id) DO UPDATE SET
			zec_address = EXCLUDED.zec_address,
			enabled_rails = EXCLUDED.enabled_rails,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING created_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	var createdAt time.Time
	if err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&createdAt); err != nil {
		return fmt.Errorf("upsert facilitator %s: %w", f.MerchantID, err)
	}
	f.CreatedAt = createdAt.UTC()
	return nil
}

// FindCovering relies on the GIN index over enabled_rails for the superset test.
func (r *FacilitatorsRepository) FindCovering(ctx context.Context, rails []entities.PaymentRail) ([]entities.Facilitator, error) {
	q := psql.Select(facilitatorColumns...).From("facilitators").
		Where(sq.Eq{"active": true}).
		Where("enabled_rails @> ?::text[]", entities.RailStrings(rails)).
		OrderBy("created_at", "merchant_id")
	return r.selectFacilitators(ctx, q)
}

func (r *FacilitatorsRepository) GetFacilitator(ctx context.Context, merchantID string) (*entities.Facilitator, error) {
	query, args, err := psql.Select(facilitatorColumns...).From("facilitators").
		Where(sq.Eq{"merchant_id": merchantID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facilitator: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[facilitatorRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrFacilitatorNotFound, merchantID)
	}
	if err != nil {
		return nil, err
	}
	f := row.toEntity()
	return &f, nil
}

func (r *FacilitatorsRepository) selectFacilitators(ctx context.Context, q sq.SelectBuilder) ([]entities.Facilitator, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facilitators: %w", err)
	}
	dbRows, err := pgx.CollectRows(rows, pgx.RowToStructByName[facilitatorRow])
	if err != nil {
		r.logger.Error("failed to collect facilitator rows", "error", err)
		return nil, err
	}
	out := make([]entities.Facilitator, len(dbRows))
	for i, row := range dbRows {
		out[i] = row.toEntity()
	}
	return out, nil
}
