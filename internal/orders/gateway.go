// Package orders implements order placement and cancellation through
// connected broker accounts.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"brokersync/internal/conn"
	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
	"brokersync/internal/store"
)

// Notifier receives order status change events. The gateway calls it
// synchronously after each persisted transition.
type Notifier interface {
	OrderStatusChanged(order *models.Order, previous models.OrderStatus)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(order *models.Order, previous models.OrderStatus)

func (f NotifierFunc) OrderStatusChanged(order *models.Order, previous models.OrderStatus) {
	f(order, previous)
}

// Gateway validates, places and cancels orders. Vendor rejections never
// leave a ghost order row; accepted orders are persisted as PENDING
// before the call returns.
type Gateway struct {
	manager  *conn.Manager
	store    store.DataStore
	logger   zerolog.Logger
	notifier Notifier
}

// NewGateway creates an order gateway. notifier may be nil.
func NewGateway(manager *conn.Manager, st store.DataStore, notifier Notifier, logger zerolog.Logger) *Gateway {
	return &Gateway{manager: manager, store: st, logger: logger, notifier: notifier}
}

// Place validates the request, forwards it to the broker and persists
// the accepted order as PENDING. A validation failure or vendor
// rejection writes nothing.
func (g *Gateway) Place(ctx context.Context, accountID string, req models.OrderRequest) (*models.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	session, err := g.manager.EnsureSession(ctx, accountID)
	if err != nil {
		return nil, err
	}

	receipt, err := session.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		BrokerOrderID: receipt.BrokerOrderID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Transaction:   req.Transaction,
		Type:          req.Type,
		Product:       req.Product,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		Status:        models.OrderPending,
		StatusMessage: receipt.Message,
		PlacedAt:      time.Now(),
	}
	if err := g.store.UpsertOrder(ctx, order); err != nil {
		// The broker accepted the order but we could not record it; the
		// next order sync reconciles the row from the vendor book.
		g.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("broker_order_id", receipt.BrokerOrderID).
			Msg("Failed to persist placed order")
		return nil, err
	}

	logging.LogOrder(g.logger, order.ID, order.BrokerOrderID, order.Symbol, string(order.Status))
	g.notify(order, "")
	return order, nil
}

// Cancel requests cancellation of an order by broker order id and
// returns the order as stored afterwards. Cancelling an order already
// in a terminal state is a no-op.
func (g *Gateway) Cancel(ctx context.Context, accountID, brokerOrderID string) (*models.Order, error) {
	order, err := g.store.GetOrderByBrokerID(ctx, accountID, brokerOrderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return order, nil
	}

	session, err := g.manager.EnsureSession(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := session.CancelOrder(ctx, brokerOrderID); err != nil {
		return nil, err
	}

	previous := order.Status
	order.Status = models.OrderCancelled
	order.StatusMessage = "cancelled by user"
	if err := g.store.UpsertOrder(ctx, order); err != nil {
		return nil, err
	}

	logging.LogOrder(g.logger, order.ID, order.BrokerOrderID, order.Symbol, string(order.Status))
	g.notify(order, previous)
	return order, nil
}

// ApplyStatus records a vendor-reported status for an order. A
// transition the state machine rejects keeps the stored status; the
// notifier only fires when the status actually changed.
func (g *Gateway) ApplyStatus(ctx context.Context, accountID, brokerOrderID string, status models.OrderStatus, message string) error {
	order, err := g.store.GetOrderByBrokerID(ctx, accountID, brokerOrderID)
	if err != nil {
		return err
	}
	if !order.Status.CanTransition(status) {
		g.logger.Warn().
			Str("broker_order_id", brokerOrderID).
			Str("from", string(order.Status)).
			Str("to", string(status)).
			Msg("Ignoring disallowed order status transition")
		if order.Status.Terminal() {
			return errors.ErrTerminalState
		}
		return nil
	}
	if order.Status == status {
		return nil
	}

	previous := order.Status
	order.Status = status
	order.StatusMessage = message
	if err := g.store.UpsertOrder(ctx, order); err != nil {
		return err
	}

	logging.LogOrder(g.logger, order.ID, order.BrokerOrderID, order.Symbol, string(order.Status))
	g.notify(order, previous)
	return nil
}

// List returns stored orders matching the filter.
func (g *Gateway) List(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	return g.store.GetOrders(ctx, filter)
}

func (g *Gateway) notify(order *models.Order, previous models.OrderStatus) {
	if g.notifier != nil {
		g.notifier.OrderStatusChanged(order, previous)
	}
}

func validateRequest(req models.OrderRequest) error {
	if req.Symbol == "" {
		return errors.NewValidationError("symbol", req.Symbol, "symbol is required")
	}
	if req.Quantity <= 0 {
		return errors.NewValidationError("quantity", req.Quantity, "quantity must be positive")
	}
	if req.Transaction != models.TransactionBuy && req.Transaction != models.TransactionSell {
		return errors.NewValidationError("transaction", string(req.Transaction), "transaction must be BUY or SELL")
	}
	switch req.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if req.Price <= 0 {
			return errors.NewValidationError("price", req.Price, "limit orders require a positive price")
		}
	case models.OrderTypeStopLoss:
		if req.Price <= 0 {
			return errors.NewValidationError("price", req.Price, "stop loss orders require a positive price")
		}
		if req.TriggerPrice <= 0 {
			return errors.NewValidationError("trigger_price", req.TriggerPrice, "stop loss orders require a positive trigger price")
		}
	case models.OrderTypeStopLossM:
		if req.TriggerPrice <= 0 {
			return errors.NewValidationError("trigger_price", req.TriggerPrice, "stop loss orders require a positive trigger price")
		}
	default:
		return errors.NewValidationError("order_type", string(req.Type), "unknown order type")
	}
	switch req.Product {
	case models.ProductMIS, models.ProductCNC, models.ProductNRML:
	default:
		return errors.NewValidationError("product", string(req.Product), "unknown product type")
	}
	return nil
}
