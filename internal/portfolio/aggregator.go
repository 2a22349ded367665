// Package portfolio aggregates synced holdings into consolidated
// valuations across broker accounts.
package portfolio

import (
	"context"

	"github.com/rs/zerolog"

	"brokersync/internal/models"
	"brokersync/internal/store"
)

// Aggregator computes portfolio summaries from the store. It reads the
// latest synced snapshots only and never calls a broker.
type Aggregator struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewAggregator creates a portfolio aggregator.
func NewAggregator(st store.DataStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

// Summary consolidates holdings across all of the user's active
// accounts. Accounts whose holdings cannot be read are skipped with a
// warning rather than failing the whole summary.
func (a *Aggregator) Summary(ctx context.Context, userID string) (*models.PortfolioSummary, error) {
	accounts, err := a.store.ListAccounts(ctx, store.AccountFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	summary := &models.PortfolioSummary{UserID: userID}
	for _, account := range accounts {
		acctSummary, err := a.accountSummary(ctx, &account)
		if err != nil {
			a.logger.Warn().Err(err).
				Str("account_id", account.ID).
				Msg("Skipping account in portfolio summary")
			continue
		}
		summary.Accounts = append(summary.Accounts, *acctSummary)
		summary.TotalValue += acctSummary.CurrentValue
		summary.TotalInvested += acctSummary.InvestedValue
		summary.TotalPnL += acctSummary.PnL
		summary.HoldingsCount += acctSummary.HoldingsCount
	}

	if summary.TotalInvested > 0 {
		summary.PnLPercent = (summary.TotalPnL / summary.TotalInvested) * 100
	}
	return summary, nil
}

func (a *Aggregator) accountSummary(ctx context.Context, account *models.BrokerAccount) (*models.AccountSummary, error) {
	holdings, err := a.store.GetHoldings(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s := &models.AccountSummary{
		AccountID:     account.ID,
		Broker:        account.Broker,
		DisplayName:   account.DisplayName,
		Status:        account.Status,
		LastSync:      account.LastSync,
		HoldingsCount: len(holdings),
	}
	for _, h := range holdings {
		s.CurrentValue += h.CurrentValue
		s.InvestedValue += h.InvestedValue
		s.PnL += h.PnL
	}
	return s, nil
}

// ConsolidatedHoldings merges holdings of the same symbol and exchange
// across the user's accounts into one line each, with a quantity
// weighted average price.
func (a *Aggregator) ConsolidatedHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	accounts, err := a.store.ListAccounts(ctx, store.AccountFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*models.Holding)
	var order []string
	for _, account := range accounts {
		holdings, err := a.store.GetHoldings(ctx, account.ID)
		if err != nil {
			a.logger.Warn().Err(err).
				Str("account_id", account.ID).
				Msg("Skipping account in consolidated holdings")
			continue
		}
		for _, h := range holdings {
			key := h.Symbol + ":" + h.Exchange
			m, ok := merged[key]
			if !ok {
				copied := h
				copied.ID = 0
				copied.AccountID = ""
				merged[key] = &copied
				order = append(order, key)
				continue
			}
			total := m.TotalQuantity() + h.TotalQuantity()
			if total > 0 {
				m.AveragePrice = (m.AveragePrice*float64(m.TotalQuantity()) + h.AveragePrice*float64(h.TotalQuantity())) / float64(total)
			}
			m.Quantity += h.Quantity
			m.T1Quantity += h.T1Quantity
			m.PledgedQty += h.PledgedQty
			m.LastPrice = h.LastPrice
			m.ComputeValues()
		}
	}

	result := make([]models.Holding, 0, len(order))
	for _, key := range order {
		result = append(result, *merged[key])
	}
	return result, nil
}
