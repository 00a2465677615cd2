package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an order or group lifecycle event.
type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderAccepted  EventType = "order.accepted"
	EventOrderFiatSent  EventType = "order.fiat_sent"
	EventOrderCompleted EventType = "order.completed"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderFailed    EventType = "order.failed"
	EventGroupCreated   EventType = "group.created"
	EventGroupAccepted  EventType = "group.accepted"
	EventGroupSplit     EventType = "group.split"
)

// Event is published after a state change has been persisted.
type Event struct {
	Type             EventType       `json:"type"`
	OrderID          string          `json:"order_id,omitempty"`
	BatchID          string          `json:"batch_id,omitempty"`
	GroupID          string          `json:"group_id,omitempty"`
	MerchantID       string          `json:"merchant_id,omitempty"`
	TargetMerchantID string          `json:"target_merchant_id,omitempty"`
	Status           string          `json:"status,omitempty"`
	PaymentRail      PaymentRail     `json:"payment_rail,omitempty"`
	FiatAmount       decimal.Decimal `json:"fiat_amount"`
	FiatCurrency     string          `json:"fiat_currency,omitempty"`
	ZecAmount        decimal.Decimal `json:"zec_amount"`
	At               time.Time       `json:"at"`
}

// Key is the partitioning key: the group for group events, the order otherwise.
func (e Event) Key() string {
	if e.GroupID != "" && e.OrderID == "" {
		return e.GroupID
	}
	return e.OrderID
}

// OrderEvent builds an event describing order o.
func OrderEvent(t EventType, o *Order, at time.Time) Event {
	ev := Event{
		Type:         t,
		OrderID:      o.ID,
		BatchID:      o.BatchID,
		MerchantID:   o.BoundMerchantID(),
		Status:       string(o.Status),
		PaymentRail:  o.PaymentRail,
		FiatAmount:   o.FiatAmount,
		FiatCurrency: o.FiatCurrency,
		At:           at,
	}
	if o.Quote != nil {
		ev.ZecAmount = o.Quote.ZecAmount
	}
	return ev
}

// GroupEvent builds an event describing group g of batch batchID.
func GroupEvent(t EventType, batchID string, g *MerchantGroup, at time.Time) Event {
	return Event{
		Type:             t,
		BatchID:          batchID,
		GroupID:          g.GroupID,
		TargetMerchantID: g.MerchantID,
		Status:           string(g.Status),
		ZecAmount:        g.TotalZecAmount,
		At:               at,
	}
}
