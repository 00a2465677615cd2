package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

// storedScale is the fractional precision of fiat amounts and exchange rates at rest.
const storedScale = 8

func fitsStoredScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(storedScale))
}

// intake validates and prices incoming items. It never touches storage.
type intake struct {
	pricing *PricingCalculator
	rates   ports.RateSource
	// rates looked up during one request, keyed by currency
	cache map[string]decimal.Decimal
}

func newIntake(pricing *PricingCalculator, rates ports.RateSource) *intake {
	return &intake{pricing: pricing, rates: rates, cache: make(map[string]decimal.Decimal)}
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", entities.ErrMissingField, strings.Join(missing, ", "))
}

func (in *intake) rate(ctx context.Context, item OrderItem, currency string) (decimal.Decimal, error) {
	if item.BaseExchangeRate != nil {
		return *item.BaseExchangeRate, nil
	}
	if r, ok := in.cache[currency]; ok {
		return r, nil
	}
	if in.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: no rate source for %s", entities.ErrRateUnavailable, currency)
	}
	r, err := in.rates.GetRate(ctx, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s from %s: %w", entities.ErrRateUnavailable, currency, in.rates.GetName(), err)
	}
	in.cache[currency] = r
	return r, nil
}

// build returns a priced pending order. Validation happens before the rate lookup.
func (in *intake) build(ctx context.Context, wallet string, item OrderItem, now time.Time) (*entities.Order, error) {
	if err := requireFields(map[string]string{
		"user_wallet_address": wallet,
		"merchant_code":       item.MerchantCode,
		"fiat_currency":       item.FiatCurrency,
		"payment_rail":        item.PaymentRail,
	}); err != nil {
		return nil, err
	}
	rail, err := entities.ParsePaymentRail(item.PaymentRail)
	if err != nil {
		return nil, err
	}
	if !item.FiatAmount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", entities.ErrInvalidAmount, item.FiatAmount)
	}
	if !fitsStoredScale(item.FiatAmount) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", entities.ErrInvalidAmount, item.FiatAmount, storedScale)
	}
	if item.BaseExchangeRate != nil && !fitsStoredScale(*item.BaseExchangeRate) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", entities.ErrInvalidExchangeRate, *item.BaseExchangeRate, storedScale)
	}

	currency := strings.ToUpper(strings.TrimSpace(item.FiatCurrency))
	base, err := in.rate(ctx, item, currency)
	if err != nil {
		return nil, err
	}
	quote, err := in.pricing.Quote(item.FiatAmount, base)
	if err != nil {
		return nil, err
	}

	return &entities.Order{
		ID:                uuid.NewString(),
		UserWalletAddress: strings.TrimSpace(wallet),
		MerchantCode:      strings.TrimSpace(item.MerchantCode),
		FiatAmount:        item.FiatAmount,
		FiatCurrency:      currency,
		PaymentRail:       rail,
		Quote:             quote,
		ScannedQRCodeData: item.ScannedQRCodeData,
		Status:            entities.OrderPending,
		StatusHistory:     []entities.StatusEntry{{Status: string(entities.OrderPending), Timestamp: now}},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}
