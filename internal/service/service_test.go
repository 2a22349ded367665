package service

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"brokersync/internal/config"
	"brokersync/internal/errors"
	"brokersync/internal/models"
	"brokersync/internal/orders"
	"brokersync/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Sync: config.SyncConfig{
			Interval:    5 * time.Minute,
			CallTimeout: 10 * time.Second,
			Workers:     2,
			MaxRetries:  2,
		},
		Vendors: config.VendorConfig{
			AngelOne: config.VendorAPIConfig{BaseURL: "https://apiconnect.angelone.in", RatePerSecond: 10},
			Upstox:   config.VendorAPIConfig{BaseURL: "https://api.upstox.com/v2", RatePerSecond: 10},
		},
		Security: config.SecurityConfig{MasterKey: "test-master-key"},
	}
}

func newService(t *testing.T, notifier orders.Notifier) (*Service, *store.SQLiteStore) {
	t.Helper()
	cfg := testConfig(t)
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc, err := New(cfg, st, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return svc, st
}

func TestNewRequiresMasterKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.MasterKey = ""
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	_, err = New(cfg, st, nil, zerolog.Nop())
	var credErr *errors.CredentialError
	if !stderrors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %v", err)
	}
}

func TestAddAccountVerifiesAndMarksPrimary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	account, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Paper", models.CredentialSet{ClientID: "PAPER001"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if account.Status != models.ConnConnected {
		t.Errorf("status = %s, want CONNECTED", account.Status)
	}
	if !account.IsPrimary {
		t.Error("first account not marked primary")
	}

	// Duplicate (user, broker) pair fails.
	if _, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Again", models.CredentialSet{ClientID: "PAPER001"}); !stderrors.Is(err, errors.ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestAddAccountRollsBackOnFailedVerification(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	// Paper connect rejects an empty client id, so verification fails
	// and the half-created account is removed.
	_, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Paper", models.CredentialSet{})
	var credErr *errors.CredentialError
	if !stderrors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %v", err)
	}

	accounts, err := svc.ListAccounts(ctx, "user1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("failed verification left %d accounts", len(accounts))
	}
}

func TestAddAccountUnknownBroker(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.AddAccount(context.Background(), "user1", "etrade", "", models.CredentialSet{})
	if !stderrors.Is(err, errors.ErrUnknownBroker) {
		t.Fatalf("expected ErrUnknownBroker, got %v", err)
	}
}

func TestSyncAndPortfolioFlow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)

	account, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Paper", models.CredentialSet{ClientID: "PAPER001"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if _, err := svc.SyncAccount(ctx, account.ID, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	summary, err := svc.PortfolioSummary(ctx, "user1")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if len(summary.Accounts) != 1 {
		t.Errorf("accounts in summary = %d", len(summary.Accounts))
	}

	logs, err := svc.SyncLogs(ctx, account.ID, 10)
	if err != nil || len(logs) == 0 {
		t.Errorf("sync logs = %v, %v", logs, err)
	}
}

func TestOrderFlowWithNotifier(t *testing.T) {
	ctx := context.Background()
	var events []string
	notifier := orders.NotifierFunc(func(order *models.Order, previous models.OrderStatus) {
		events = append(events, string(order.Status))
	})
	svc, st := newService(t, notifier)

	account, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Paper", models.CredentialSet{ClientID: "PAPER001"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	order, err := svc.PlaceOrder(ctx, account.ID, models.OrderRequest{
		Symbol:      "RELIANCE",
		Exchange:    "NSE",
		Transaction: models.TransactionBuy,
		Type:        models.OrderTypeLimit,
		Product:     models.ProductCNC,
		Quantity:    10,
		Price:       2500,
	})
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if len(events) == 0 || events[0] != "PENDING" {
		t.Errorf("events = %v", events)
	}

	// The post-placement sync pulled the vendor's OPEN status.
	stored, err := st.GetOrderByBrokerID(ctx, account.ID, order.BrokerOrderID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Status != models.OrderOpen {
		t.Errorf("status after sync = %s, want OPEN", stored.Status)
	}

	// Cancel is keyed by the internal order id; the owning account is
	// resolved from the stored row.
	cancelled, err := svc.CancelOrder(ctx, stored.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.OrderCancelled {
		t.Errorf("cancel returned status %s", cancelled.Status)
	}
	stored, _ = st.GetOrderByBrokerID(ctx, account.ID, order.BrokerOrderID)
	if stored.Status != models.OrderCancelled {
		t.Errorf("status after cancel = %s", stored.Status)
	}

	listed, err := svc.ListOrders(ctx, store.OrderFilter{AccountID: account.ID})
	if err != nil || len(listed) != 1 {
		t.Errorf("listed orders = %v, %v", listed, err)
	}

	if _, err := svc.CancelOrder(ctx, "no-such-order"); !stderrors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for unknown order id, got %v", err)
	}
}

func TestRemoveAccount(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, nil)

	account, err := svc.AddAccount(ctx, "user1", models.BrokerPaper, "Paper", models.CredentialSet{ClientID: "PAPER001"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := svc.SyncAccount(ctx, account.ID, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	if err := svc.RemoveAccount(ctx, account.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := st.GetAccount(ctx, account.ID); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("account survived removal: %v", err)
	}
	if _, err := st.GetCredentialBlob(ctx, account.ID); !stderrors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("credentials survived removal: %v", err)
	}
	holdings, _ := st.GetHoldings(ctx, account.ID)
	if len(holdings) != 0 {
		t.Errorf("holdings survived removal: %d", len(holdings))
	}
}
