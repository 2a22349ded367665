// Package service wires the synchronization core into one inbound
// facade used by the CLI and the background scheduler.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brokersync/internal/broker"
	"brokersync/internal/config"
	"brokersync/internal/conn"
	"brokersync/internal/errors"
	"brokersync/internal/models"
	"brokersync/internal/orders"
	"brokersync/internal/portfolio"
	"brokersync/internal/store"
	syncengine "brokersync/internal/sync"
	"brokersync/internal/vault"
)

// Service is the application facade. All inbound operations flow
// through it.
type Service struct {
	cfg        *config.Config
	store      store.DataStore
	vault      *vault.Vault
	registry   *broker.Registry
	manager    *conn.Manager
	engine     *syncengine.Engine
	gateway    *orders.Gateway
	aggregator *portfolio.Aggregator
	logger     zerolog.Logger
}

// New builds the full service graph on top of an opened store. notifier
// may be nil.
func New(cfg *config.Config, st store.DataStore, notifier orders.Notifier, logger zerolog.Logger) (*Service, error) {
	if cfg.Security.MasterKey == "" {
		return nil, errors.NewCredentialError("", "security.master_key is not configured", nil)
	}

	v := vault.New(st, cfg.Security.MasterKey)

	registry := broker.NewRegistry()
	registry.Register(broker.NewZerodhaAdapter(cfg.Sync.CallTimeout, logger))
	registry.Register(broker.NewAngelOneAdapter(cfg.Vendors.AngelOne, cfg.Sync.CallTimeout, logger))
	registry.Register(broker.NewUpstoxAdapter(cfg.Vendors.Upstox, cfg.Sync.CallTimeout, logger))
	registry.Register(broker.NewPaperAdapter())

	manager := conn.NewManager(registry, v, st, logger)
	engine := syncengine.NewEngine(manager, st, cfg.Sync.Workers, logger)
	gateway := orders.NewGateway(manager, st, notifier, logger)
	aggregator := portfolio.NewAggregator(st, logger)

	return &Service{
		cfg:        cfg,
		store:      st,
		vault:      v,
		registry:   registry,
		manager:    manager,
		engine:     engine,
		gateway:    gateway,
		aggregator: aggregator,
		logger:     logger,
	}, nil
}

// AddAccount registers a broker account, stores its credentials
// encrypted and verifies them with a live connect. A failed
// verification removes the account again so no dead account lingers.
func (s *Service) AddAccount(ctx context.Context, userID string, brokerType models.BrokerType, displayName string, creds models.CredentialSet) (*models.BrokerAccount, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id", userID, "user id is required")
	}
	if !brokerType.Valid() {
		return nil, errors.Wrapf(errors.ErrUnknownBroker, "broker %q", brokerType)
	}

	account := &models.BrokerAccount{
		ID:          uuid.NewString(),
		UserID:      userID,
		Broker:      brokerType,
		DisplayName: displayName,
		Status:      models.ConnDisconnected,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := s.vault.Store(ctx, account.ID, creds); err != nil {
		s.removeQuietly(ctx, account.ID)
		return nil, err
	}

	if _, err := s.manager.Connect(ctx, account.ID); err != nil {
		s.removeQuietly(ctx, account.ID)
		return nil, err
	}

	// First account for a user becomes primary.
	existing, err := s.store.ListAccounts(ctx, store.AccountFilter{UserID: userID})
	if err == nil && len(existing) == 1 {
		if err := s.store.SetPrimaryAccount(ctx, userID, account.ID); err != nil {
			s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to mark first account primary")
		}
	}

	return s.store.GetAccount(ctx, account.ID)
}

func (s *Service) removeQuietly(ctx context.Context, accountID string) {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID).Msg("Failed to remove account after failed setup")
	}
}

// RemoveAccount disconnects and deletes an account together with its
// credentials and synced data.
func (s *Service) RemoveAccount(ctx context.Context, accountID string) error {
	s.manager.Invalidate(accountID)
	return s.store.DeleteAccount(ctx, accountID)
}

// ListAccounts returns the user's accounts.
func (s *Service) ListAccounts(ctx context.Context, userID string) ([]models.BrokerAccount, error) {
	return s.store.ListAccounts(ctx, store.AccountFilter{UserID: userID})
}

// SetPrimaryAccount marks one of the user's accounts primary.
func (s *Service) SetPrimaryAccount(ctx context.Context, userID, accountID string) error {
	return s.store.SetPrimaryAccount(ctx, userID, accountID)
}

// Connect establishes the broker session for an account.
func (s *Service) Connect(ctx context.Context, accountID string) error {
	_, err := s.manager.Connect(ctx, accountID)
	return err
}

// Disconnect drops an account's broker session.
func (s *Service) Disconnect(ctx context.Context, accountID string) error {
	return s.manager.Disconnect(ctx, accountID)
}

// SyncAccount runs one sync cycle for the account.
func (s *Service) SyncAccount(ctx context.Context, accountID string, types []models.SyncDataType) (*models.SyncResult, error) {
	return s.engine.Sync(ctx, accountID, types)
}

// SyncAll syncs every active account, optionally scoped to one user.
func (s *Service) SyncAll(ctx context.Context, userID string, types []models.SyncDataType) map[string]error {
	return s.engine.SyncAll(ctx, userID, types)
}

// PlaceOrder places an order through a connected account and follows up
// with an orders-only sync so fills surface quickly.
func (s *Service) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (*models.Order, error) {
	order, err := s.gateway.Place(ctx, accountID, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Sync(ctx, accountID, []models.SyncDataType{models.SyncOrders}); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID).Msg("Post-placement order sync failed")
	}
	return order, nil
}

// CancelOrder cancels an order by its internal id and returns the
// stored order after cancellation. The owning account is resolved from
// the stored row.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.gateway.Cancel(ctx, order.AccountID, order.BrokerOrderID)
}

// ListOrders returns stored orders matching the filter.
func (s *Service) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	return s.gateway.List(ctx, filter)
}

// PortfolioSummary returns the consolidated valuation for a user.
func (s *Service) PortfolioSummary(ctx context.Context, userID string) (*models.PortfolioSummary, error) {
	return s.aggregator.Summary(ctx, userID)
}

// ConsolidatedHoldings returns per-symbol merged holdings for a user.
func (s *Service) ConsolidatedHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	return s.aggregator.ConsolidatedHoldings(ctx, userID)
}

// Holdings returns one account's stored holdings.
func (s *Service) Holdings(ctx context.Context, accountID string) ([]models.Holding, error) {
	return s.store.GetHoldings(ctx, accountID)
}

// Positions returns one account's stored positions for a day.
func (s *Service) Positions(ctx context.Context, accountID string, day time.Time) ([]models.Position, error) {
	return s.store.GetPositions(ctx, accountID, day)
}

// SyncLogs returns recent sync attempts for an account.
func (s *Service) SyncLogs(ctx context.Context, accountID string, limit int) ([]models.SyncLog, error) {
	return s.store.ListSyncLogs(ctx, accountID, limit)
}
