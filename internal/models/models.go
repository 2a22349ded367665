// Package models provides domain models for broker integration and sync.
package models

import "time"

// BrokerType identifies a supported broker vendor.
type BrokerType string

const (
	BrokerZerodha  BrokerType = "zerodha"
	BrokerAngelOne BrokerType = "angelone"
	BrokerUpstox   BrokerType = "upstox"
	BrokerPaper    BrokerType = "paper"
)

// Valid reports whether the broker type is one of the supported vendors.
func (b BrokerType) Valid() bool {
	switch b {
	case BrokerZerodha, BrokerAngelOne, BrokerUpstox, BrokerPaper:
		return true
	}
	return false
}

// ConnectionStatus represents the state of an account's broker session.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "DISCONNECTED"
	ConnConnecting   ConnectionStatus = "CONNECTING"
	ConnConnected    ConnectionStatus = "CONNECTED"
	ConnError        ConnectionStatus = "ERROR"
)

// TransactionType represents the side of an order.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// ProductType represents the product type of an order or position.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductCNC  ProductType = "CNC"  // Delivery
	ProductNRML ProductType = "NRML" // Carry-forward
)

// SyncDataType represents one synchronizable data category.
type SyncDataType string

const (
	SyncHoldings  SyncDataType = "holdings"
	SyncPositions SyncDataType = "positions"
	SyncOrders    SyncDataType = "orders"
	SyncProfile   SyncDataType = "profile"
)

// AllSyncDataTypes lists every data type in the order sync applies them.
// Ordering matters: a failure midway leaves a well-defined prefix synced.
func AllSyncDataTypes() []SyncDataType {
	return []SyncDataType{SyncHoldings, SyncPositions, SyncOrders, SyncProfile}
}

// CredentialSet holds the named secrets needed to authenticate one
// broker account. Which fields are required depends on the vendor.
type CredentialSet struct {
	ClientID    string `json:"client_id"`
	APIKey      string `json:"api_key,omitempty"`
	APISecret   string `json:"api_secret,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Password    string `json:"password,omitempty"`
	TOTPSeed    string `json:"totp_seed,omitempty"`
}

// Profile holds the normalized user profile reported by a broker.
type Profile struct {
	ClientID string
	Name     string
	Email    string
	Broker   BrokerType
}

// Holding represents a delivery holding owned outright, scoped to
// one broker account. Quantities are the broker's latest snapshot.
type Holding struct {
	ID            int64
	AccountID     string
	Symbol        string
	Exchange      string
	Quantity      int
	T1Quantity    int
	PledgedQty    int
	AveragePrice  float64
	LastPrice     float64
	PnL           float64
	PnLPercent    float64
	InvestedValue float64
	CurrentValue  float64
	UpdatedAt     time.Time
}

// ComputeValues derives invested/current value and P&L from quantity
// and prices. Total quantity includes T1 and pledged shares.
func (h *Holding) ComputeValues() {
	qty := float64(h.TotalQuantity())
	h.InvestedValue = h.AveragePrice * qty
	h.CurrentValue = h.LastPrice * qty
	h.PnL = h.CurrentValue - h.InvestedValue
	if h.InvestedValue > 0 {
		h.PnLPercent = (h.PnL / h.InvestedValue) * 100
	} else {
		h.PnLPercent = 0
	}
}

// TotalQuantity returns the full share count across the breakdown.
func (h *Holding) TotalQuantity() int {
	return h.Quantity + h.T1Quantity + h.PledgedQty
}

// Position represents an intraday or derivative exposure scoped to
// (account, sync date).
type Position struct {
	ID            int64
	AccountID     string
	Symbol        string
	Exchange      string
	Product       ProductType
	NetQuantity   int
	BuyQuantity   int
	SellQuantity  int
	AvgBuyPrice   float64
	AvgSellPrice  float64
	LastPrice     float64
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalPnL      float64
	SyncDate      time.Time
}

// SyncOutcome is the result classification of one sync attempt.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "SUCCESS"
	SyncOutcomeError   SyncOutcome = "ERROR"
)

// SyncLog is an immutable record of one synchronization attempt.
type SyncLog struct {
	ID        string
	AccountID string
	DataTypes []SyncDataType
	Outcome   SyncOutcome
	Records   int
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

// SyncResult summarizes the records affected by one sync, per data type.
type SyncResult struct {
	AccountID string
	Counts    map[SyncDataType]int
	Duration  time.Duration
}

// Total returns the total records affected across all data types.
func (r *SyncResult) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}
