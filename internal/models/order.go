package models

import "time"

// OrderStatus represents the local lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition is defined out of the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderComplete, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// CanTransition reports whether the status machine permits moving from s
// to next. Transitions are monotonic: nothing leaves a terminal state,
// and OPEN never falls back to PENDING.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch s {
	case OrderPending:
		return next == OrderOpen || next == OrderComplete || next == OrderCancelled || next == OrderRejected
	case OrderOpen:
		return next == OrderComplete || next == OrderCancelled || next == OrderRejected
	}
	return false
}

// Order represents one order lifecycle instance scoped to a broker account.
// (AccountID, BrokerOrderID) is unique; rows are never deleted.
type Order struct {
	ID            string // internal correlation id
	AccountID     string
	BrokerOrderID string // broker-assigned, unique per account
	Symbol        string
	Exchange      string
	Transaction   TransactionType
	Type          OrderType
	Product       ProductType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	FilledQty     int
	AveragePrice  float64
	Status        OrderStatus
	StatusMessage string
	PlacedAt      time.Time
}

// OrderRequest is a caller-supplied order placement request.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Transaction  TransactionType
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
}

// OrderReceipt is the normalized result of a vendor order placement.
type OrderReceipt struct {
	BrokerOrderID string
	Message       string
}
