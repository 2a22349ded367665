package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brokersync/internal/broker"
	"brokersync/internal/conn"
	"brokersync/internal/errors"
	"brokersync/internal/models"
	"brokersync/internal/store"
	"brokersync/internal/vault"
)

type fixture struct {
	store   *store.SQLiteStore
	paper   *broker.PaperAdapter
	manager *conn.Manager
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v := vault.New(st, "test-master-key")
	paper := broker.NewPaperAdapter()
	registry := broker.NewRegistry()
	registry.Register(paper)
	manager := conn.NewManager(registry, v, st, zerolog.Nop())

	return &fixture{
		store:   st,
		paper:   paper,
		manager: manager,
		engine:  NewEngine(manager, st, 4, zerolog.Nop()),
	}
}

func (f *fixture) addAccount(t *testing.T, userID string) *models.BrokerAccount {
	t.Helper()
	ctx := context.Background()
	account := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    userID,
		Broker:    models.BrokerPaper,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	v := vault.New(f.store, "test-master-key")
	if err := v.Store(ctx, account.ID, models.CredentialSet{ClientID: "PAPER001"}); err != nil {
		t.Fatalf("failed to store credentials: %v", err)
	}
	return account
}

func seedPaper(p *broker.PaperAdapter) {
	p.SeedHoldings([]models.Holding{
		{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 100, AveragePrice: 2500, LastPrice: 2650},
		{Symbol: "TCS", Exchange: "NSE", Quantity: 50, AveragePrice: 3400, LastPrice: 3500},
	})
	p.SeedPositions([]models.Position{
		{Symbol: "INFY", Exchange: "NSE", Product: models.ProductMIS, NetQuantity: 25},
	})
	p.SeedOrders([]models.Order{
		{
			BrokerOrderID: "P1",
			Symbol:        "SBIN",
			Exchange:      "NSE",
			Transaction:   models.TransactionBuy,
			Type:          models.OrderTypeLimit,
			Product:       models.ProductCNC,
			Quantity:      10,
			Price:         600,
			Status:        models.OrderOpen,
			PlacedAt:      time.Now().UTC().Truncate(time.Second),
		},
	})
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	result, err := f.engine.Sync(ctx, account.ID, nil)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Counts[models.SyncHoldings] != 2 {
		t.Errorf("holdings count = %d", result.Counts[models.SyncHoldings])
	}
	if result.Counts[models.SyncPositions] != 1 {
		t.Errorf("positions count = %d", result.Counts[models.SyncPositions])
	}
	if result.Counts[models.SyncOrders] != 1 {
		t.Errorf("orders count = %d", result.Counts[models.SyncOrders])
	}
	if result.Total() != 5 {
		t.Errorf("total = %d", result.Total())
	}

	holdings, _ := f.store.GetHoldings(ctx, account.ID)
	if len(holdings) != 2 {
		t.Errorf("stored holdings = %d", len(holdings))
	}
	positions, _ := f.store.GetPositions(ctx, account.ID, time.Now())
	if len(positions) != 1 {
		t.Errorf("stored positions = %d", len(positions))
	}
	orders, _ := f.store.GetOrders(ctx, store.OrderFilter{AccountID: account.ID})
	if len(orders) != 1 || orders[0].Status != models.OrderOpen {
		t.Errorf("stored orders = %+v", orders)
	}

	got, _ := f.store.GetAccount(ctx, account.ID)
	if got.LastSync.IsZero() {
		t.Error("last_sync not stamped")
	}

	logs, _ := f.store.ListSyncLogs(ctx, account.ID, 10)
	if len(logs) != 1 || logs[0].Outcome != models.SyncOutcomeSuccess {
		t.Errorf("sync log = %+v", logs)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Sync(ctx, account.ID, nil); err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}

	holdings, _ := f.store.GetHoldings(ctx, account.ID)
	if len(holdings) != 2 {
		t.Errorf("repeated sync duplicated holdings: %d", len(holdings))
	}
	orders, _ := f.store.GetOrders(ctx, store.OrderFilter{AccountID: account.ID})
	if len(orders) != 1 {
		t.Errorf("repeated sync duplicated orders: %d", len(orders))
	}
}

func TestPartialSyncLeavesOtherDataAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	if _, err := f.engine.Sync(ctx, account.ID, nil); err != nil {
		t.Fatalf("full sync failed: %v", err)
	}

	// Shrink the vendor book, then sync orders only.
	f.paper.SeedHoldings(nil)
	result, err := f.engine.Sync(ctx, account.ID, []models.SyncDataType{models.SyncOrders})
	if err != nil {
		t.Fatalf("orders sync failed: %v", err)
	}
	if _, ok := result.Counts[models.SyncHoldings]; ok {
		t.Error("orders-only sync touched holdings")
	}

	holdings, _ := f.store.GetHoldings(ctx, account.ID)
	if len(holdings) != 2 {
		t.Errorf("orders-only sync disturbed holdings: %d", len(holdings))
	}
}

func TestSyncFailureRollsBackAndLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	if _, err := f.engine.Sync(ctx, account.ID, nil); err != nil {
		t.Fatalf("seed sync failed: %v", err)
	}

	// The positions fetch dies mid-cycle, after holdings were already
	// written inside the transaction.
	f.paper.SeedHoldings(nil)
	f.paper.FailPositions = true
	if _, err := f.engine.Sync(ctx, account.ID, nil); !errors.IsBrokerAPIError(err) {
		t.Fatalf("expected BrokerAPIError, got %v", err)
	}

	// The holdings write from the failed cycle rolled back.
	holdings, _ := f.store.GetHoldings(ctx, account.ID)
	if len(holdings) != 2 {
		t.Errorf("failed sync disturbed holdings: %d", len(holdings))
	}

	logs, _ := f.store.ListSyncLogs(ctx, account.ID, 10)
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Outcome != models.SyncOutcomeError || logs[0].Error == "" {
		t.Errorf("newest log = %+v", logs[0])
	}
}

func TestSyncVendorFailureMarksAccountError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	if _, err := f.engine.Sync(ctx, account.ID, nil); err != nil {
		t.Fatalf("seed sync failed: %v", err)
	}

	f.paper.FailPositions = true
	if _, err := f.engine.Sync(ctx, account.ID, nil); !errors.IsBrokerAPIError(err) {
		t.Fatalf("expected BrokerAPIError, got %v", err)
	}

	// The failure is persistent on the account, not just in the log.
	stored, err := f.store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Status != models.ConnError {
		t.Errorf("status after failed sync = %s, want ERROR", stored.Status)
	}
	if stored.ConnectionError == "" {
		t.Error("connection_error not recorded")
	}
	if f.manager.Connected(account.ID) {
		t.Error("stale session still cached after vendor failure")
	}

	// The next sync reconnects and clears the error state.
	f.paper.FailPositions = false
	if _, err := f.engine.Sync(ctx, account.ID, nil); err != nil {
		t.Fatalf("recovery sync failed: %v", err)
	}
	stored, _ = f.store.GetAccount(ctx, account.ID)
	if stored.Status != models.ConnConnected || stored.ConnectionError != "" {
		t.Errorf("after recovery: status=%s error=%q", stored.Status, stored.ConnectionError)
	}
}

func TestConcurrentSameAccountSyncSerializes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	account := f.addAccount(t, "user1")

	var wg gosync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Sync(ctx, account.ID, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("sync %d failed: %v", i, err)
		}
	}
	holdings, _ := f.store.GetHoldings(ctx, account.ID)
	if len(holdings) != 2 {
		t.Errorf("concurrent syncs corrupted holdings: %d", len(holdings))
	}
	logs, _ := f.store.ListSyncLogs(ctx, account.ID, 20)
	if len(logs) != 8 {
		t.Errorf("expected 8 logs, got %d", len(logs))
	}
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedPaper(f.paper)
	good := f.addAccount(t, "user1")

	// Second account with no stored credentials: its sync fails.
	bad := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    "user2",
		Broker:    models.BrokerPaper,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateAccount(ctx, bad); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	results := f.engine.SyncAll(ctx, "", nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[good.ID] != nil {
		t.Errorf("good account failed: %v", results[good.ID])
	}
	if results[bad.ID] == nil {
		t.Error("credential-less account unexpectedly synced")
	}

	holdings, _ := f.store.GetHoldings(ctx, good.ID)
	if len(holdings) != 2 {
		t.Errorf("good account not synced: %d holdings", len(holdings))
	}
}

func TestOrderTypesCanonicalOrder(t *testing.T) {
	got := orderTypes([]models.SyncDataType{models.SyncOrders, models.SyncHoldings, models.SyncOrders})
	if len(got) != 2 || got[0] != models.SyncHoldings || got[1] != models.SyncOrders {
		t.Errorf("orderTypes = %v", got)
	}
}
