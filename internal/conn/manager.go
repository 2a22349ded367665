// Package conn manages broker connection lifecycles.
//
// The manager is the sole writer of an account's connection status,
// last connected time and connection error. Everything else reads the
// account row or asks the manager for a live session.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"brokersync/internal/broker"
	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
	"brokersync/internal/store"
	"brokersync/internal/vault"
)

// Manager owns broker sessions. Connect transitions an account through
// CONNECTING to CONNECTED or ERROR and caches the authenticated session
// until Disconnect or a failed reconnect drops it.
type Manager struct {
	registry *broker.Registry
	vault    *vault.Vault
	store    store.DataStore
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]broker.Session
}

// NewManager creates a connection manager.
func NewManager(registry *broker.Registry, v *vault.Vault, st store.DataStore, logger zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		vault:    v,
		store:    st,
		logger:   logger,
		sessions: make(map[string]broker.Session),
	}
}

// Connect establishes a broker session for the account. Connecting an
// already connected account re-verifies the cached session with a
// profile fetch and refreshes the last connected time; a session that
// fails re-verification is dropped and rebuilt from stored credentials.
// Every outcome is reflected in the account row before returning.
func (m *Manager) Connect(ctx context.Context, accountID string) (broker.Session, error) {
	m.mu.RLock()
	cached, ok := m.sessions[accountID]
	m.mu.RUnlock()
	if ok {
		if _, err := cached.GetProfile(ctx); err == nil {
			now := time.Now()
			if err := m.store.UpdateConnectionState(ctx, accountID, models.ConnConnected, "", &now); err != nil {
				return nil, err
			}
			return cached, nil
		}
		m.Invalidate(accountID)
	}

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	adapter, err := m.registry.Get(account.Broker)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateConnectionState(ctx, accountID, models.ConnConnecting, "", nil); err != nil {
		return nil, err
	}
	logging.LogConnection(m.logger, accountID, string(account.Broker), string(models.ConnConnecting), "")

	creds, err := m.vault.Retrieve(ctx, accountID)
	if err != nil {
		m.fail(ctx, accountID, account.Broker, err)
		return nil, err
	}

	session, err := adapter.Connect(ctx, creds)
	if err != nil {
		m.fail(ctx, accountID, account.Broker, err)
		return nil, err
	}

	now := time.Now()
	if err := m.store.UpdateConnectionState(ctx, accountID, models.ConnConnected, "", &now); err != nil {
		return nil, err
	}
	logging.LogConnection(m.logger, accountID, string(account.Broker), string(models.ConnConnected), "")

	m.mu.Lock()
	// Another goroutine may have raced us through Connect; keep the
	// session that landed first.
	if existing, ok := m.sessions[accountID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[accountID] = session
	m.mu.Unlock()

	return session, nil
}

func (m *Manager) fail(ctx context.Context, accountID string, b models.BrokerType, cause error) {
	m.mu.Lock()
	delete(m.sessions, accountID)
	m.mu.Unlock()

	if err := m.store.UpdateConnectionState(ctx, accountID, models.ConnError, cause.Error(), nil); err != nil {
		log := logging.WithBroker(logging.WithAccount(m.logger, accountID), string(b))
		log.Error().Err(err).Msg("Failed to record connection error")
	}
	logging.LogConnection(m.logger, accountID, string(b), string(models.ConnError), cause.Error())
}

// Session returns the cached session for a connected account, or
// ErrNotConnected.
func (m *Manager) Session(accountID string) (broker.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[accountID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotConnected, "account %s", accountID)
	}
	return s, nil
}

// EnsureSession returns the cached session, connecting first if needed.
func (m *Manager) EnsureSession(ctx context.Context, accountID string) (broker.Session, error) {
	if s, err := m.Session(accountID); err == nil {
		return s, nil
	}
	return m.Connect(ctx, accountID)
}

// Disconnect drops the session and marks the account DISCONNECTED.
// Disconnecting an account without a session still resets its status.
func (m *Manager) Disconnect(ctx context.Context, accountID string) error {
	m.mu.Lock()
	delete(m.sessions, accountID)
	m.mu.Unlock()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := m.store.UpdateConnectionState(ctx, accountID, models.ConnDisconnected, "", nil); err != nil {
		return err
	}
	logging.LogConnection(m.logger, accountID, string(account.Broker), string(models.ConnDisconnected), "")
	return nil
}

// MarkFailed records a vendor failure observed after connect: the
// session is dropped and the account moves to ERROR with the vendor
// message, so the failure stays visible on the account until a
// reconnect clears it.
func (m *Manager) MarkFailed(ctx context.Context, accountID string, cause error) {
	brokerName := ""
	if account, err := m.store.GetAccount(ctx, accountID); err == nil {
		brokerName = string(account.Broker)
	}
	m.fail(ctx, accountID, models.BrokerType(brokerName), cause)
}

// Invalidate drops a cached session without touching the account row.
// Used when a vendor call reports an expired token so the next caller
// reconnects.
func (m *Manager) Invalidate(accountID string) {
	m.mu.Lock()
	delete(m.sessions, accountID)
	m.mu.Unlock()
}

// Connected reports whether a session is cached for the account.
func (m *Manager) Connected(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[accountID]
	return ok
}
