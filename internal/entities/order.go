package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusEntry is one append-only record in an order or batch history.
type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Quote holds every pricing field. An order either carries a complete Quote or none at all.
type Quote struct {
	BaseExchangeRate    decimal.Decimal `json:"base_exchange_rate"`
	UserDisplayRate     decimal.Decimal `json:"user_display_rate"`
	MerchantDisplayRate decimal.Decimal `json:"merchant_display_rate"`
	ZecAmount           decimal.Decimal `json:"zec_amount"`
	MerchantZecAmount   decimal.Decimal `json:"merchant_zec_amount"`
	PlatformZecAmount   decimal.Decimal `json:"platform_zec_amount"`
	PlatformZecAddress  string          `json:"platform_zec_address,omitempty"`
}

// Assignment binds an order to the facilitator that accepted it.
type Assignment struct {
	MerchantID         string `json:"merchant_id"`
	MerchantZecAddress string `json:"merchant_zec_address"`
}

// Grouping reserves a pending order for one target facilitator until ExpiresAt.
// An order with a nil Grouping is independently acceptable.
type Grouping struct {
	GroupID          string    `json:"group_id"`
	ExpiresAt        time.Time `json:"group_expires_at"`
	TargetMerchantID string    `json:"target_merchant_id"`
}

// ActiveAt reports whether the acceptance window is still open at now.
func (g *Grouping) ActiveAt(now time.Time) bool {
	return g != nil && now.Before(g.ExpiresAt)
}

// Order is the unit of settlement. The embedded pointers flatten into the JSON
// document and are omitted when nil.
type Order struct {
	ID                string          `json:"order_id"`
	UserWalletAddress string          `json:"user_wallet_address"`
	MerchantCode      string          `json:"merchant_code"`
	FiatAmount        decimal.Decimal `json:"fiat_amount"`
	FiatCurrency      string          `json:"fiat_currency"`
	PaymentRail       PaymentRail     `json:"payment_rail"`

	*Quote
	*Assignment

	FiatPaymentReference string `json:"fiat_payment_reference,omitempty"`
	ZecTxHash            string `json:"zec_tx_hash,omitempty"`
	ScannedQRCodeData    string `json:"scanned_qr_code_data,omitempty"`

	BatchID string `json:"batch_id,omitempty"`
	*Grouping

	Status        OrderStatus   `json:"status"`
	StatusHistory []StatusEntry `json:"status_history"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the order to status to and appends a history entry. The entry
// timestamp never goes backwards, even if the caller's clock does.
func (o *Order) Transition(to OrderStatus, note string, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if n := len(o.StatusHistory); n > 0 && at.Before(o.StatusHistory[n-1].Timestamp) {
		at = o.StatusHistory[n-1].Timestamp
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: string(to), Timestamp: at, Note: note})
	o.UpdatedAt = at
	return nil
}

// BoundMerchantID returns the bound facilitator or "" before acceptance.
func (o *Order) BoundMerchantID() string {
	if o.Assignment == nil {
		return ""
	}
	return o.Assignment.MerchantID
}

// ReservedGroupID returns the reserving group or "" when ungrouped.
func (o *Order) ReservedGroupID() string {
	if o.Grouping == nil {
		return ""
	}
	return o.Grouping.GroupID
}

// Clone returns a deep copy that can be mutated without touching o.
func (o *Order) Clone() *Order {
	c := *o
	if o.Quote != nil {
		q := *o.Quote
		c.Quote = &q
	}
	if o.Assignment != nil {
		a := *o.Assignment
		c.Assignment = &a
	}
	if o.Grouping != nil {
		g := *o.Grouping
		c.Grouping = &g
	}
	c.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	return &c
}

// OrderFilter selects orders for facilitator listings.
type OrderFilter struct {
	Statuses   []OrderStatus
	Rails      []PaymentRail
	MerchantID string
	// UngroupedAt hides orders reserved by a group whose window is open at this instant.
	UngroupedAt *time.Time
	NewestFirst bool
	Limit       uint64
}
