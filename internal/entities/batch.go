package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus tracks what happened to the merchant group of a batch.
type BatchStatus string

const (
	// BatchPending: no group was formed, every order is independent.
	BatchPending  BatchStatus = "pending"
	BatchGrouped  BatchStatus = "grouped"
	BatchAccepted BatchStatus = "accepted"
	BatchSplit    BatchStatus = "split"
)

// GroupStatus is the state of one merchant group.
type GroupStatus string

const (
	GroupPending  GroupStatus = "pending"
	GroupAccepted GroupStatus = "accepted"
	GroupExpired  GroupStatus = "expired"
)

// MerchantGroup is a candidate single-facilitator fulfilment of a batch.
type MerchantGroup struct {
	GroupID            string          `json:"group_id"`
	MerchantID         string          `json:"merchant_id"`
	MerchantZecAddress string          `json:"merchant_zec_address,omitempty"`
	PaymentRails       []PaymentRail   `json:"payment_rails"`
	TotalZecAmount     decimal.Decimal `json:"total_zec_amount"`
	OrderIDs           []string        `json:"order_ids"`
	ExpiresAt          time.Time       `json:"expires_at"`
	Status             GroupStatus     `json:"status"`
}

// Batch is the set of orders one user created together.
type Batch struct {
	ID                string          `json:"batch_id"`
	UserWalletAddress string          `json:"user_wallet_address"`
	TotalZecAmount    decimal.Decimal `json:"total_zec_amount"`
	OrderIDs          []string        `json:"order_ids"`
	MerchantGroups    []MerchantGroup `json:"merchant_groups"`
	Status            BatchStatus     `json:"status"`
	StatusHistory     []StatusEntry   `json:"status_history"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Group returns the merchant group with the given id, or nil.
func (b *Batch) Group(groupID string) *MerchantGroup {
	for i := range b.MerchantGroups {
		if b.MerchantGroups[i].GroupID == groupID {
			return &b.MerchantGroups[i]
		}
	}
	return nil
}

// SetStatus records a batch status change in the history.
func (b *Batch) SetStatus(status BatchStatus, note string, at time.Time) {
	if n := len(b.StatusHistory); n > 0 && at.Before(b.StatusHistory[n-1].Timestamp) {
		at = b.StatusHistory[n-1].Timestamp
	}
	b.Status = status
	b.StatusHistory = append(b.StatusHistory, StatusEntry{Status: string(status), Timestamp: at, Note: note})
	b.UpdatedAt = at
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	c := *b
	c.OrderIDs = append([]string(nil), b.OrderIDs...)
	c.StatusHistory = append([]StatusEntry(nil), b.StatusHistory...)
	c.MerchantGroups = make([]MerchantGroup, len(b.MerchantGroups))
	for i, g := range b.MerchantGroups {
		g.PaymentRails = append([]PaymentRail(nil), g.PaymentRails...)
		g.OrderIDs = append([]string(nil), g.OrderIDs...)
		c.MerchantGroups[i] = g
	}
	return &c
}

// BatchView joins a batch with its member orders for display.
type BatchView struct {
	Batch  *Batch  `json:"batch"`
	Orders []Order `json:"orders"`
}

// GroupView joins a merchant group with its member orders.
type GroupView struct {
	BatchID string        `json:"batch_id"`
	Group   MerchantGroup `json:"group"`
	Orders  []Order       `json:"orders,omitempty"`
}
