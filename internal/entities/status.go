package entities

// OrderStatus is the lifecycle state of a single order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAccepted  OrderStatus = "accepted"
	OrderFiatSent  OrderStatus = "fiat_sent"
	OrderZecSent   OrderStatus = "zec_sent"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

// orderTransitions lists the forward edges. Failure is handled separately: any
// non-terminal state may move to failed.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:  {OrderAccepted, OrderCancelled},
	OrderAccepted: {OrderFiatSent},
	OrderFiatSent: {OrderZecSent, OrderCompleted},
	OrderZecSent:  {OrderCompleted},
}

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAccepted, OrderFiatSent, OrderZecSent, OrderCompleted, OrderCancelled, OrderFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled || s == OrderFailed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || from.IsTerminal() {
		return false
	}
	if to == OrderFailed {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the states in which an order is bound to a facilitator and still in flight.
var ActiveStatuses = []OrderStatus{OrderAccepted, OrderFiatSent, OrderZecSent}

// FinishedStatuses are the terminal states.
var FinishedStatuses = []OrderStatus{OrderCompleted, OrderCancelled, OrderFailed}
