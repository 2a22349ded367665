package models

import "time"

// AccountSummary is one account's slice of a portfolio summary.
type AccountSummary struct {
	AccountID     string
	Broker        BrokerType
	DisplayName   string
	Status        ConnectionStatus
	LastSync      time.Time
	CurrentValue  float64
	InvestedValue float64
	PnL           float64
	HoldingsCount int
}

// PortfolioSummary is a consolidated valuation across all of a user's
// active broker accounts.
type PortfolioSummary struct {
	UserID        string
	TotalValue    float64
	TotalInvested float64
	TotalPnL      float64
	PnLPercent    float64
	HoldingsCount int
	Accounts      []AccountSummary
}
