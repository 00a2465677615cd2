package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/entities"
)

// ErrNoChanges is returned from a group mutation callback to commit nothing.
var ErrNoChanges = errors.New("no changes")

// RateSource supplies the market rate in fiat units per 1 ZEC.
type RateSource interface {
	GetRate(ctx context.Context, fiatCurrency string) (decimal.Decimal, error)
	GetName() string
}

// FacilitatorDirectory is the read-only view of registered facilitators.
type FacilitatorDirectory interface {
	// FindCovering returns active facilitators whose enabled rails include every rail
	// in rails, oldest registration first.
	FindCovering(ctx context.Context, rails []entities.PaymentRail) ([]entities.Facilitator, error)
	GetFacilitator(ctx context.Context, merchantID string) (*entities.Facilitator, error)
}

// EventPublisher delivers lifecycle events after they have been persisted.
type EventPublisher interface {
	Publish(ctx context.Context, events ...entities.Event) error
}
