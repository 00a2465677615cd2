package rates

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
)

var _ ports.RateSource = (*StaticSource)(nil)

// StaticSource serves a fixed table of fiat per ZEC rates.
type StaticSource struct {
	rates map[string]decimal.Decimal
}

func NewStaticSource(table map[string]decimal.Decimal) *StaticSource {
	rates := make(map[string]decimal.Decimal, len(table))
	for currency, rate := range table {
		rates[strings.ToUpper(currency)] = rate
	}
	return &StaticSource{rates: rates}
}

// ParseTable converts configured currency to rate strings.
func ParseTable(raw map[string]string) (map[string]decimal.Decimal, error) {
	table := make(map[string]decimal.Decimal, len(raw))
	for currency, value := range raw {
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", currency, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive: %s", currency, rate)
		}
		table[strings.ToUpper(strings.TrimSpace(currency))] = rate
	}
	return table, nil
}

func (s *StaticSource) GetName() string {
	return "static"
}

func (s *StaticSource) GetRate(_ context.Context, fiatCurrency string) (decimal.Decimal, error) {
	rate, ok := s.rates[strings.ToUpper(fiatCurrency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate for %s", fiatCurrency)
	}
	return rate, nil
}
