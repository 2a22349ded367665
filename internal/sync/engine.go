// Package sync implements per-account data synchronization.
//
// One sync cycle fetches the requested data types from the broker in a
// fixed order (holdings, positions, orders, profile) and applies all
// writes inside a single store transaction: the account's local data
// moves atomically from one consistent snapshot to the next. Every
// attempt, successful or not, leaves a sync log row.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brokersync/internal/broker"
	"brokersync/internal/conn"
	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
	"brokersync/internal/store"
	"brokersync/pkg/utils"
)

// Engine coordinates sync cycles across accounts. Cycles for the same
// account serialize on a per-account lock; cycles for different
// accounts run independently.
type Engine struct {
	manager *conn.Manager
	store   store.DataStore
	logger  zerolog.Logger
	locks   *utils.KeyedMutex
	workers int
}

// NewEngine creates a sync engine. workers bounds SyncAll concurrency.
func NewEngine(manager *conn.Manager, st store.DataStore, workers int, logger zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		manager: manager,
		store:   st,
		logger:  logger,
		locks:   utils.NewKeyedMutex(),
		workers: workers,
	}
}

// Sync runs one cycle for the account, limited to the given data
// types. A nil or empty slice means all types. Concurrent calls for the
// same account queue behind each other.
func (e *Engine) Sync(ctx context.Context, accountID string, types []models.SyncDataType) (*models.SyncResult, error) {
	if len(types) == 0 {
		types = models.AllSyncDataTypes()
	}
	types = orderTypes(types)

	e.locks.Lock(accountID)
	defer e.locks.Unlock(accountID)

	start := time.Now()
	result, err := e.run(ctx, accountID, types)
	elapsed := time.Since(start)

	// A vendor-side failure mid-sync means the session can no longer be
	// trusted; surface it on the account and force a reconnect next time.
	if errors.IsBrokerAPIError(err) {
		e.manager.MarkFailed(ctx, accountID, err)
	}

	log := &models.SyncLog{
		ID:        uuid.NewString(),
		AccountID: accountID,
		DataTypes: types,
		Outcome:   models.SyncOutcomeSuccess,
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if err != nil {
		log.Outcome = models.SyncOutcomeError
		log.Error = err.Error()
	} else {
		log.Records = result.Total()
	}
	if logErr := e.store.InsertSyncLog(ctx, log); logErr != nil {
		accountLogger := logging.WithAccount(e.logger, accountID)
		accountLogger.Error().Err(logErr).Msg("Failed to write sync log")
	}
	logging.LogSync(e.logger, accountID, log.Records, elapsed, err)

	if err != nil {
		return nil, err
	}
	result.Duration = elapsed
	return result, nil
}

// run fetches the requested data and applies it transactionally.
func (e *Engine) run(ctx context.Context, accountID string, types []models.SyncDataType) (*models.SyncResult, error) {
	session, err := e.manager.EnsureSession(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{
		AccountID: accountID,
		Counts:    make(map[models.SyncDataType]int),
	}
	now := time.Now()

	err = e.store.RunSync(ctx, func(tx store.SyncTx) error {
		for _, dt := range types {
			n, err := e.syncOne(ctx, tx, session, accountID, dt, now)
			if err != nil {
				return err
			}
			result.Counts[dt] = n
		}
		return tx.UpdateLastSync(ctx, accountID, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) syncOne(ctx context.Context, tx store.SyncTx, session broker.Session, accountID string, dt models.SyncDataType, now time.Time) (int, error) {
	switch dt {
	case models.SyncHoldings:
		holdings, err := session.GetHoldings(ctx)
		if err != nil {
			return 0, err
		}
		return tx.ReplaceHoldings(ctx, accountID, holdings)

	case models.SyncPositions:
		positions, err := session.GetPositions(ctx)
		if err != nil {
			return 0, err
		}
		return tx.ReplacePositions(ctx, accountID, now, positions)

	case models.SyncOrders:
		orders, err := session.GetOrders(ctx)
		if err != nil {
			return 0, err
		}
		for i := range orders {
			o := orders[i]
			o.ID = uuid.NewString()
			o.AccountID = accountID
			if err := tx.UpsertOrder(ctx, &o); err != nil {
				return 0, err
			}
		}
		return len(orders), nil

	case models.SyncProfile:
		profile, err := session.GetProfile(ctx)
		if err != nil {
			return 0, err
		}
		if err := tx.UpdateProfile(ctx, accountID, profile); err != nil {
			return 0, err
		}
		return 1, nil
	}

	return 0, errors.NewValidationError("data_type", string(dt), "unknown sync data type")
}

// SyncAll runs one cycle for every active account of the user (or all
// users when userID is empty) through a bounded worker pool. One
// account's failure never disturbs another's; the returned map carries
// each account's outcome.
func (e *Engine) SyncAll(ctx context.Context, userID string, types []models.SyncDataType) map[string]error {
	accounts, err := e.store.ListAccounts(ctx, store.AccountFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return map[string]error{"": err}
	}

	results := make(map[string]error, len(accounts))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for _, account := range accounts {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := e.Sync(ctx, id, types)
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(account.ID)
	}
	wg.Wait()
	return results
}

// orderTypes returns the requested types in canonical apply order,
// deduplicated.
func orderTypes(requested []models.SyncDataType) []models.SyncDataType {
	want := make(map[models.SyncDataType]bool, len(requested))
	for _, dt := range requested {
		want[dt] = true
	}
	var ordered []models.SyncDataType
	for _, dt := range models.AllSyncDataTypes() {
		if want[dt] {
			ordered = append(ordered, dt)
			delete(want, dt)
		}
	}
	// Unknown types keep their position at the end so validation in
	// syncOne reports them.
	for _, dt := range requested {
		if want[dt] {
			ordered = append(ordered, dt)
			delete(want, dt)
		}
	}
	return ordered
}
