// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"brokersync/internal/models"
)

// DataStore defines the interface for account and portfolio persistence.
type DataStore interface {
	// Accounts
	CreateAccount(ctx context.Context, account *models.BrokerAccount) error
	GetAccount(ctx context.Context, id string) (*models.BrokerAccount, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]models.BrokerAccount, error)
	UpdateConnectionState(ctx context.Context, id string, status models.ConnectionStatus, connErr string, connectedAt *time.Time) error
	SetPrimaryAccount(ctx context.Context, userID, accountID string) error
	DeleteAccount(ctx context.Context, id string) error

	// Encrypted credential blobs, one per account
	SaveCredentialBlob(ctx context.Context, accountID string, blob []byte) error
	GetCredentialBlob(ctx context.Context, accountID string) ([]byte, error)

	// Synced data reads
	GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error)
	GetPositions(ctx context.Context, accountID string, day time.Time) ([]models.Position, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByBrokerID(ctx context.Context, accountID, brokerOrderID string) (*models.Order, error)

	// Order writes outside a sync cycle
	UpsertOrder(ctx context.Context, order *models.Order) error

	// Sync
	RunSync(ctx context.Context, fn func(SyncTx) error) error
	InsertSyncLog(ctx context.Context, log *models.SyncLog) error
	ListSyncLogs(ctx context.Context, accountID string, limit int) ([]models.SyncLog, error)

	// Lifecycle
	Close() error
}

// SyncTx is the write surface available inside one sync transaction.
// Either every write in the cycle lands or none do.
type SyncTx interface {
	ReplaceHoldings(ctx context.Context, accountID string, holdings []models.Holding) (int, error)
	ReplacePositions(ctx context.Context, accountID string, day time.Time, positions []models.Position) (int, error)
	UpsertOrder(ctx context.Context, order *models.Order) error
	UpdateProfile(ctx context.Context, accountID string, profile models.Profile) error
	UpdateLastSync(ctx context.Context, accountID string, t time.Time) error
}

// AccountFilter represents filters for querying broker accounts.
type AccountFilter struct {
	UserID     string
	Broker     models.BrokerType
	ActiveOnly bool
}

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	AccountID string
	Symbol    string
	Status    models.OrderStatus
	Limit     int
}
