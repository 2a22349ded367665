package orders

import (
	"context"
	stderrors "errors"
	"path/filepath"
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
	gateway *Gateway
	account *models.BrokerAccount
	events  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

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

	account := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    "user1",
		Broker:    models.BrokerPaper,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := st.CreateAccount(ctx, account); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if err := v.Store(ctx, account.ID, models.CredentialSet{ClientID: "PAPER001"}); err != nil {
		t.Fatalf("failed to store credentials: %v", err)
	}
	if _, err := manager.Connect(ctx, account.ID); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	f := &fixture{store: st, paper: paper, manager: manager, account: account}
	notifier := NotifierFunc(func(order *models.Order, previous models.OrderStatus) {
		f.events = append(f.events, string(previous)+"->"+string(order.Status))
	})
	f.gateway = NewGateway(manager, st, notifier, zerolog.Nop())
	return f
}

func limitRequest() models.OrderRequest {
	return models.OrderRequest{
		Symbol:      "RELIANCE",
		Exchange:    "NSE",
		Transaction: models.TransactionBuy,
		Type:        models.OrderTypeLimit,
		Product:     models.ProductCNC,
		Quantity:    10,
		Price:       2500,
	}
}

func TestPlacePersistsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	order, err := f.gateway.Place(ctx, f.account.ID, limitRequest())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if order.Status != models.OrderPending {
		t.Errorf("status = %s, want PENDING", order.Status)
	}
	if order.BrokerOrderID == "" {
		t.Error("missing broker order id")
	}

	stored, err := f.store.GetOrderByBrokerID(ctx, f.account.ID, order.BrokerOrderID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.Status != models.OrderPending || stored.Symbol != "RELIANCE" {
		t.Errorf("stored order = %+v", stored)
	}
	if len(f.events) != 1 {
		t.Errorf("expected 1 notification, got %d", len(f.events))
	}
}

func TestPlaceValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*models.OrderRequest)
	}{
		{"empty symbol", func(r *models.OrderRequest) { r.Symbol = "" }},
		{"zero quantity", func(r *models.OrderRequest) { r.Quantity = 0 }},
		{"negative quantity", func(r *models.OrderRequest) { r.Quantity = -5 }},
		{"bad transaction", func(r *models.OrderRequest) { r.Transaction = "HOLD" }},
		{"limit without price", func(r *models.OrderRequest) { r.Price = 0 }},
		{"bad product", func(r *models.OrderRequest) { r.Product = "BO" }},
		{"bad order type", func(r *models.OrderRequest) { r.Type = "ICEBERG" }},
		{"stop loss without trigger", func(r *models.OrderRequest) { r.Type = models.OrderTypeStopLossM; r.TriggerPrice = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitRequest()
			tt.mutate(&req)
			_, err := f.gateway.Place(ctx, f.account.ID, req)
			var vErr *errors.ValidationError
			if !stderrors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
		})
	}

	// Nothing was persisted for any rejected request.
	orders, _ := f.store.GetOrders(ctx, store.OrderFilter{AccountID: f.account.ID})
	if len(orders) != 0 {
		t.Errorf("validation failures left %d rows", len(orders))
	}
}

func TestVendorRejectionLeavesNoGhostOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.paper.RejectOrders = true

	if _, err := f.gateway.Place(ctx, f.account.ID, limitRequest()); !errors.IsBrokerAPIError(err) {
		t.Fatalf("expected BrokerAPIError, got %v", err)
	}

	orders, _ := f.store.GetOrders(ctx, store.OrderFilter{AccountID: f.account.ID})
	if len(orders) != 0 {
		t.Errorf("rejected placement left %d rows", len(orders))
	}
	if len(f.events) != 0 {
		t.Errorf("rejected placement fired %d notifications", len(f.events))
	}
}

func TestCancelIsIdempotentOnTerminalOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	order, err := f.gateway.Place(ctx, f.account.ID, limitRequest())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	cancelled, err := f.gateway.Cancel(ctx, f.account.ID, order.BrokerOrderID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.OrderCancelled {
		t.Errorf("returned status = %s, want CANCELLED", cancelled.Status)
	}
	stored, _ := f.store.GetOrderByBrokerID(ctx, f.account.ID, order.BrokerOrderID)
	if stored.Status != models.OrderCancelled {
		t.Errorf("status = %s, want CANCELLED", stored.Status)
	}

	// Second cancel is a no-op, not an error and not a vendor call.
	repeat, err := f.gateway.Cancel(ctx, f.account.ID, order.BrokerOrderID)
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if repeat.Status != models.OrderCancelled {
		t.Errorf("repeat cancel status = %s", repeat.Status)
	}

	if _, err := f.gateway.Cancel(ctx, f.account.ID, "missing"); !stderrors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestApplyStatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	order, err := f.gateway.Place(ctx, f.account.ID, limitRequest())
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	f.events = nil

	if err := f.gateway.ApplyStatus(ctx, f.account.ID, order.BrokerOrderID, models.OrderOpen, "accepted"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := f.gateway.ApplyStatus(ctx, f.account.ID, order.BrokerOrderID, models.OrderComplete, "filled"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// COMPLETE is terminal; a late OPEN report is rejected.
	if err := f.gateway.ApplyStatus(ctx, f.account.ID, order.BrokerOrderID, models.OrderOpen, "late"); !stderrors.Is(err, errors.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}

	stored, _ := f.store.GetOrderByBrokerID(ctx, f.account.ID, order.BrokerOrderID)
	if stored.Status != models.OrderComplete || stored.StatusMessage != "filled" {
		t.Errorf("stored = %+v", stored)
	}
	if len(f.events) != 2 {
		t.Errorf("expected 2 notifications, got %d: %v", len(f.events), f.events)
	}
	if f.events[0] != "PENDING->OPEN" || f.events[1] != "OPEN->COMPLETE" {
		t.Errorf("events = %v", f.events)
	}
}

func TestPlaceConnectsOnDemand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Drop the live session; placement must bring it back up from
	// stored credentials rather than failing.
	if err := f.manager.Disconnect(ctx, f.account.ID); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	order, err := f.gateway.Place(ctx, f.account.ID, limitRequest())
	if err != nil {
		t.Fatalf("place on disconnected account failed: %v", err)
	}
	if order.BrokerOrderID == "" {
		t.Error("no broker order id recorded")
	}
	if !f.manager.Connected(f.account.ID) {
		t.Error("placement did not establish a session")
	}
}

func TestPlaceWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := &models.BrokerAccount{
		ID:        uuid.NewString(),
		UserID:    "user2",
		Broker:    models.BrokerPaper,
		Status:    models.ConnDisconnected,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := f.store.CreateAccount(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var credErr *errors.CredentialError
	if _, err := f.gateway.Place(ctx, other.ID, limitRequest()); !stderrors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %v", err)
	}
}
