package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zapp/backend/internal/core/ports"
)

var _ ports.RateSource = (*HTTPSource)(nil)

// HTTPSource asks a simple-price style endpoint for the ZEC price:
// GET {baseURL}?ids=zcash&vs_currencies=inr -> {"zcash": {"inr": 4012.5}}
type HTTPSource struct {
	client  *http.Client
	baseURL string
	coinID  string
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		coinID:  "zcash",
	}
}

func (s *HTTPSource) GetName() string {
	return "http"
}

func (s *HTTPSource) GetRate(ctx context.Context, fiatCurrency string) (decimal.Decimal, error) {
	currency := strings.ToLower(fiatCurrency)

	q := url.Values{}
	q.Set("ids", s.coinID)
	q.Set("vs_currencies", currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate API returned status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}

	var prices map[string]map[string]decimal.Decimal
	if err = json.Unmarshal(body, &prices); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate response: %w", err)
	}

	rate, ok := prices[s.coinID][currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no %s price in %s", currency, s.coinID)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive %s price: %s", currency, rate)
	}
	return rate, nil
}
