package usecases

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	zatoshi = decimal.New(1, -ports.PriceScale)
)

// PricingCalculator turns a fiat amount and a market rate into the ZEC legs of an order.
type PricingCalculator struct {
	userSpread      decimal.Decimal
	merchantSpread  decimal.Decimal
	dustFloor       decimal.Decimal
	platformAddress string
}

// NewPricingCalculator takes spreads in percent, e.g. 1.5 for 1.5%.
func NewPricingCalculator(userSpreadPct, merchantSpreadPct, dustFloor decimal.Decimal, platformAddress string) (*PricingCalculator, error) {
	userSpread := userSpreadPct.Div(hundred)
	merchantSpread := merchantSpreadPct.Div(hundred)

	if userSpread.IsNegative() {
		return nil, fmt.Errorf("user spread must not be negative: %s", userSpreadPct)
	}
	if merchantSpread.IsNegative() || merchantSpread.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("merchant spread must be in [0, 100): %s", merchantSpreadPct)
	}
	if dustFloor.IsNegative() {
		return nil, fmt.Errorf("dust floor must not be negative: %s", dustFloor)
	}

	return &PricingCalculator{
		userSpread:      userSpread,
		merchantSpread:  merchantSpread,
		dustFloor:       dustFloor,
		platformAddress: platformAddress,
	}, nil
}

// Quote prices fiatAmount at baseRate fiat units per ZEC. The user leg rounds up and the
// facilitator leg rounds down, so the platform leg is never negative.
func (p *PricingCalculator) Quote(fiatAmount, baseRate decimal.Decimal) (*entities.Quote, error) {
	if !fiatAmount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", entities.ErrInvalidAmount, fiatAmount)
	}
	if !baseRate.IsPositive() {
		return nil, fmt.Errorf("%w: %s", entities.ErrInvalidExchangeRate, baseRate)
	}

	userFactor := one.Add(p.userSpread)
	merchantFactor := one.Sub(p.merchantSpread)

	zecAmount := divCeil(fiatAmount.Mul(userFactor), baseRate)
	if zecAmount.LessThan(p.dustFloor) {
		return nil, fmt.Errorf("%w: %s ZEC < %s", entities.ErrAmountTooSmall, zecAmount, p.dustFloor)
	}
	merchantZecAmount := divFloor(fiatAmount.Mul(merchantFactor), baseRate)

	return &entities.Quote{
		BaseExchangeRate:    baseRate,
		UserDisplayRate:     baseRate.DivRound(userFactor, ports.PriceScale),
		MerchantDisplayRate: baseRate.DivRound(merchantFactor, ports.PriceScale),
		ZecAmount:           zecAmount,
		MerchantZecAmount:   merchantZecAmount,
		PlatformZecAmount:   zecAmount.Sub(merchantZecAmount),
		PlatformZecAddress:  p.platformAddress,
	}, nil
}

// divFloor and divCeil are exact for positive operands: QuoRem truncates.
func divFloor(n, d decimal.Decimal) decimal.Decimal {
	q, _ := n.QuoRem(d, ports.PriceScale)
	return q
}

func divCeil(n, d decimal.Decimal) decimal.Decimal {
	q, r := n.QuoRem(d, ports.PriceScale)
	if !r.IsZero() {
		q = q.Add(zatoshi)
	}
	return q
}
