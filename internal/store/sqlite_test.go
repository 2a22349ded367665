package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"brokersync/internal/errors"
	"brokersync/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestAccount(t *testing.T, s *SQLiteStore, userID string, broker models.BrokerType) *models.BrokerAccount {
	t.Helper()
	account := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    userID,
		Broker:    broker,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return account
}

func TestAccountCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	got, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Broker != models.BrokerZerodha || got.Status != models.ConnDisconnected {
		t.Errorf("unexpected account %+v", got)
	}

	// Second account for same (user, broker) pair is rejected.
	dup := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    "user1",
		Broker:    models.BrokerZerodha,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.CreateAccount(ctx, dup); !stderrors.Is(err, errors.ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}

	// Same broker for another user is fine.
	newTestAccount(t, s, "user2", models.BrokerZerodha)
	newTestAccount(t, s, "user1", models.BrokerAngelOne)

	accounts, err := s.ListAccounts(ctx, AccountFilter{UserID: "user1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("expected 2 accounts for user1, got %d", len(accounts))
	}

	if err := s.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetAccount(ctx, account.ID); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound after delete, got %v", err)
	}
	if err := s.DeleteAccount(ctx, account.ID); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound on second delete, got %v", err)
	}
}

func TestUpdateConnectionState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	now := time.Now()
	if err := s.UpdateConnectionState(ctx, account.ID, models.ConnConnected, "", &now); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := s.GetAccount(ctx, account.ID)
	if got.Status != models.ConnConnected || got.LastConnected.IsZero() {
		t.Errorf("unexpected state %+v", got)
	}

	if err := s.UpdateConnectionState(ctx, account.ID, models.ConnError, "token expired", nil); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = s.GetAccount(ctx, account.ID)
	if got.Status != models.ConnError || got.ConnectionError != "token expired" {
		t.Errorf("unexpected error state %+v", got)
	}
	// last_connected survives an error transition
	if got.LastConnected.IsZero() {
		t.Error("last_connected was cleared by error transition")
	}

	if err := s.UpdateConnectionState(ctx, "missing", models.ConnConnected, "", nil); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSetPrimaryAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a1 := newTestAccount(t, s, "user1", models.BrokerZerodha)
	a2 := newTestAccount(t, s, "user1", models.BrokerAngelOne)

	if err := s.SetPrimaryAccount(ctx, "user1", a1.ID); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}
	if err := s.SetPrimaryAccount(ctx, "user1", a2.ID); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}

	accounts, _ := s.ListAccounts(ctx, AccountFilter{UserID: "user1"})
	primaries := 0
	for _, a := range accounts {
		if a.IsPrimary {
			primaries++
			if a.ID != a2.ID {
				t.Errorf("wrong primary account %s", a.ID)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("expected exactly one primary, got %d", primaries)
	}
}

func TestCredentialBlobCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	blob := []byte("opaque-encrypted-envelope")
	if err := s.SaveCredentialBlob(ctx, account.ID, blob); err != nil {
		t.Fatalf("save blob failed: %v", err)
	}
	got, err := s.GetCredentialBlob(ctx, account.ID)
	if err != nil {
		t.Fatalf("get blob failed: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("blob mismatch: %q", got)
	}

	// Overwrite replaces
	if err := s.SaveCredentialBlob(ctx, account.ID, []byte("rotated")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = s.GetCredentialBlob(ctx, account.ID)
	if string(got) != "rotated" {
		t.Errorf("blob after overwrite = %q", got)
	}

	// Deleting the account removes the blob
	if err := s.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetCredentialBlob(ctx, account.ID); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound after cascade, got %v", err)
	}
}

func TestReplaceHoldings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	first := []models.Holding{
		{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 100, AveragePrice: 2500, LastPrice: 2650},
		{Symbol: "TCS", Exchange: "NSE", Quantity: 50, AveragePrice: 3400, LastPrice: 3500},
	}
	err := s.RunSync(ctx, func(tx SyncTx) error {
		n, err := tx.ReplaceHoldings(ctx, account.ID, first)
		if n != 2 {
			t.Errorf("expected 2 records, got %d", n)
		}
		return err
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// A smaller snapshot fully replaces the previous one.
	second := []models.Holding{
		{Symbol: "INFY", Exchange: "NSE", Quantity: 25, AveragePrice: 1500, LastPrice: 1550},
	}
	err = s.RunSync(ctx, func(tx SyncTx) error {
		_, err := tx.ReplaceHoldings(ctx, account.ID, second)
		return err
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	holdings, err := s.GetHoldings(ctx, account.ID)
	if err != nil {
		t.Fatalf("get holdings failed: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Symbol != "INFY" {
		t.Fatalf("expected full replacement, got %+v", holdings)
	}
}

func TestReplacePositionsIsDateScoped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	yesterday := time.Now().AddDate(0, 0, -1)
	today := time.Now()

	write := func(day time.Time, positions []models.Position) {
		t.Helper()
		err := s.RunSync(ctx, func(tx SyncTx) error {
			_, err := tx.ReplacePositions(ctx, account.ID, day, positions)
			return err
		})
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
	}

	write(yesterday, []models.Position{{Symbol: "SBIN", Exchange: "NSE", Product: models.ProductMIS, NetQuantity: 10}})
	write(today, []models.Position{{Symbol: "INFY", Exchange: "NSE", Product: models.ProductMIS, NetQuantity: 20}})
	// Re-sync today with an empty book
	write(today, nil)

	got, err := s.GetPositions(ctx, account.ID, yesterday)
	if err != nil {
		t.Fatalf("get positions failed: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "SBIN" {
		t.Errorf("yesterday's snapshot disturbed: %+v", got)
	}
	got, _ = s.GetPositions(ctx, account.ID, today)
	if len(got) != 0 {
		t.Errorf("today's snapshot not cleared: %+v", got)
	}
}

func TestUpsertOrderMonotonicStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	order := &models.Order{
		ID:            uuid.NewString(),
		AccountID:     account.ID,
		BrokerOrderID: "Z123",
		Symbol:        "RELIANCE",
		Exchange:      "NSE",
		Transaction:   models.TransactionBuy,
		Type:          models.OrderTypeLimit,
		Product:       models.ProductCNC,
		Quantity:      10,
		Price:         2500,
		Status:        models.OrderPending,
		PlacedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := s.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// PENDING -> OPEN advances.
	order.Status = models.OrderOpen
	if err := s.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := s.GetOrderByBrokerID(ctx, account.ID, "Z123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.OrderOpen {
		t.Errorf("status = %s, want OPEN", got.Status)
	}

	// OPEN -> COMPLETE advances and records fills.
	order.Status = models.OrderComplete
	order.FilledQty = 10
	order.AveragePrice = 2498.5
	if err := s.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// A stale PENDING snapshot must not regress the terminal status.
	stale := *order
	stale.Status = models.OrderPending
	stale.StatusMessage = "stale snapshot"
	if err := s.UpsertOrder(ctx, &stale); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, _ = s.GetOrderByBrokerID(ctx, account.ID, "Z123")
	if got.Status != models.OrderComplete {
		t.Errorf("status regressed to %s", got.Status)
	}
	if got.StatusMessage == "stale snapshot" {
		t.Error("status message overwritten by rejected transition")
	}
	if got.FilledQty != 10 || got.AveragePrice != 2498.5 {
		t.Errorf("fill fields lost: %+v", got)
	}

	if _, err := s.GetOrderByBrokerID(ctx, account.ID, "missing"); !stderrors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	// Lookup by internal id resolves the same row without the account.
	byID, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get by id failed: %v", err)
	}
	if byID.BrokerOrderID != "Z123" || byID.AccountID != account.ID {
		t.Errorf("get by id returned %+v", byID)
	}
	if _, err := s.GetOrder(ctx, "no-such-id"); !stderrors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound by id, got %v", err)
	}
}

func TestUpsertOrderConcurrentStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	order := &models.Order{
		ID:            uuid.NewString(),
		AccountID:     account.ID,
		BrokerOrderID: "Z900",
		Symbol:        "INFY",
		Exchange:      "NSE",
		Transaction:   models.TransactionBuy,
		Type:          models.OrderTypeLimit,
		Product:       models.ProductCNC,
		Quantity:      5,
		Price:         1500,
		Status:        models.OrderCancelled,
		StatusMessage: "cancelled by user",
		PlacedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := s.UpsertOrder(ctx, order); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Stale OPEN snapshots racing against reads must never win over the
	// terminal status; the read-check-write runs in one transaction.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stale := *order
			stale.Status = models.OrderOpen
			stale.StatusMessage = "vendor snapshot"
			if err := s.UpsertOrder(ctx, &stale); err != nil {
				t.Errorf("upsert failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetOrderByBrokerID(ctx, account.ID, "Z900")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	if got.StatusMessage != "cancelled by user" {
		t.Errorf("status message = %q", got.StatusMessage)
	}
}

func TestReplacePositionsDuplicateRowIsReconciliationError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	// A vendor snapshot carrying the same instrument twice violates the
	// per-day uniqueness and must surface as a reconciliation failure.
	dup := models.Position{Symbol: "INFY", Exchange: "NSE", Product: models.ProductMIS, NetQuantity: 10}
	err := s.RunSync(ctx, func(tx SyncTx) error {
		_, err := tx.ReplacePositions(ctx, account.ID, time.Now(), []models.Position{dup, dup})
		return err
	})
	var recErr *errors.ReconciliationError
	if !stderrors.As(err, &recErr) {
		t.Fatalf("expected *ReconciliationError, got %v", err)
	}
	if recErr.Entity != "position" {
		t.Errorf("entity = %s", recErr.Entity)
	}

	// The failed snapshot left nothing behind.
	positions, _ := s.GetPositions(ctx, account.ID, time.Now())
	if len(positions) != 0 {
		t.Errorf("rolled-back positions visible: %d", len(positions))
	}
}

func TestRunSyncRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	boom := stderrors.New("vendor call failed")
	err := s.RunSync(ctx, func(tx SyncTx) error {
		if _, err := tx.ReplaceHoldings(ctx, account.ID, []models.Holding{
			{Symbol: "RELIANCE", Exchange: "NSE", Quantity: 100, AveragePrice: 2500, LastPrice: 2650},
		}); err != nil {
			return err
		}
		return boom
	})
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected error to surface, got %v", err)
	}

	holdings, _ := s.GetHoldings(ctx, account.ID)
	if len(holdings) != 0 {
		t.Errorf("writes survived rollback: %+v", holdings)
	}
}

func TestSyncLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account := newTestAccount(t, s, "user1", models.BrokerZerodha)

	log := &models.SyncLog{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		DataTypes: []models.SyncDataType{models.SyncHoldings, models.SyncOrders},
		Outcome:   models.SyncOutcomeError,
		Records:   3,
		Duration:  1500 * time.Millisecond,
		Error:     "broker api error",
		CreatedAt: time.Now(),
	}
	if err := s.InsertSyncLog(ctx, log); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	logs, err := s.ListSyncLogs(ctx, account.ID, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	got := logs[0]
	if got.Outcome != models.SyncOutcomeError || got.Records != 3 || got.Error != "broker api error" {
		t.Errorf("unexpected log %+v", got)
	}
	if len(got.DataTypes) != 2 || got.DataTypes[0] != models.SyncHoldings {
		t.Errorf("data types round trip failed: %v", got.DataTypes)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("duration round trip failed: %v", got.Duration)
	}
}
