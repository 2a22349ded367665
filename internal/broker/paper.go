package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brokersync/internal/errors"
	"brokersync/internal/models"
)

// PaperAdapter is an in-memory broker simulation. It answers the full
// Session surface without touching the network, which makes it the
// vendor of choice for tests and dry runs.
type PaperAdapter struct {
	mu sync.Mutex

	// Seeded state handed to every session created by Connect.
	holdings  []models.Holding
	positions []models.Position
	orders    []models.Order
	profile   models.Profile

	// Failure switches for exercising error paths.
	FailConnect   bool
	RejectOrders  bool
	FailPositions bool
	FailProfile   bool

	orderCounter int
}

// NewPaperAdapter creates a paper adapter with an empty book.
func NewPaperAdapter() *PaperAdapter {
	return &PaperAdapter{
		profile: models.Profile{
			ClientID: "PAPER001",
			Name:     "Paper Trader",
			Email:    "paper@localhost",
			Broker:   models.BrokerPaper,
		},
	}
}

func (a *PaperAdapter) Type() models.BrokerType {
	return models.BrokerPaper
}

// SeedHoldings replaces the holdings snapshot served by future sessions.
func (a *PaperAdapter) SeedHoldings(holdings []models.Holding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.holdings = append([]models.Holding(nil), holdings...)
}

// SeedPositions replaces the positions snapshot served by future sessions.
func (a *PaperAdapter) SeedPositions(positions []models.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions = append([]models.Position(nil), positions...)
}

// SeedOrders replaces the order book served by future sessions.
func (a *PaperAdapter) SeedOrders(orders []models.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append([]models.Order(nil), orders...)
}

// Connect hands out a session over the seeded state. The only required
// credential is a client id so that connect-time validation still has
// something to check.
func (a *PaperAdapter) Connect(ctx context.Context, creds models.CredentialSet) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailConnect {
		return nil, errors.NewBrokerAPIError("paper", "connect", "simulated connect failure", nil)
	}
	if creds.ClientID == "" {
		return nil, errors.NewCredentialError("", "paper broker requires a client_id", nil)
	}

	profile := a.profile
	profile.ClientID = creds.ClientID

	s := &paperSession{
		adapter: a,
		profile: profile,
	}
	s.holdings = append([]models.Holding(nil), a.holdings...)
	s.positions = append([]models.Position(nil), a.positions...)
	s.orders = append([]models.Order(nil), a.orders...)
	return s, nil
}

type paperSession struct {
	mu      sync.Mutex
	adapter *PaperAdapter
	profile models.Profile

	holdings  []models.Holding
	positions []models.Position
	orders    []models.Order
}

func (s *paperSession) Profile() models.Profile {
	return s.profile
}

func (s *paperSession) GetProfile(ctx context.Context) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, errors.NewBrokerAPIError("paper", "profile", "context ended", err)
	}
	s.adapter.mu.Lock()
	fail := s.adapter.FailProfile
	s.adapter.mu.Unlock()
	if fail {
		return models.Profile{}, errors.NewBrokerAPIError("paper", "profile", "simulated profile failure", nil)
	}
	return s.profile, nil
}

func (s *paperSession) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewBrokerAPIError("paper", "holdings", "context ended", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Holding(nil), s.holdings...)
	for i := range out {
		out[i].ComputeValues()
	}
	return out, nil
}

func (s *paperSession) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewBrokerAPIError("paper", "positions", "context ended", err)
	}
	s.adapter.mu.Lock()
	fail := s.adapter.FailPositions
	s.adapter.mu.Unlock()
	if fail {
		return nil, errors.NewBrokerAPIError("paper", "positions", "simulated fetch failure", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Position(nil), s.positions...), nil
}

func (s *paperSession) GetOrders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewBrokerAPIError("paper", "orders", "context ended", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Order(nil), s.orders...), nil
}

// PlaceOrder records a new paper order. Market orders fill instantly at
// the limit price (or zero if none was given); limit and stop orders
// rest as OPEN.
func (s *paperSession) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderReceipt{}, errors.NewBrokerAPIError("paper", "place_order", "context ended", err)
	}

	s.adapter.mu.Lock()
	reject := s.adapter.RejectOrders
	s.adapter.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), s.adapter.orderCounter)
	s.adapter.mu.Unlock()

	if reject {
		return models.OrderReceipt{}, errors.NewBrokerAPIError("paper", "place_order", "order rejected by simulation", nil)
	}

	order := models.Order{
		BrokerOrderID: orderID,
		Symbol:        req.Symbol,
		Exchange:      req.Exchange,
		Transaction:   req.Transaction,
		Type:          req.Type,
		Product:       req.Product,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		Status:        models.OrderOpen,
		PlacedAt:      time.Now(),
	}
	if req.Type == models.OrderTypeMarket {
		order.Status = models.OrderComplete
		order.FilledQty = req.Quantity
		order.AveragePrice = req.Price
	}

	s.mu.Lock()
	s.orders = append(s.orders, order)
	s.mu.Unlock()

	return models.OrderReceipt{BrokerOrderID: orderID, Message: "paper order placed"}, nil
}

func (s *paperSession) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewBrokerAPIError("paper", "cancel_order", "context ended", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].BrokerOrderID != brokerOrderID {
			continue
		}
		if s.orders[i].Status.Terminal() {
			return errors.NewBrokerAPIError("paper", "cancel_order",
				fmt.Sprintf("cannot cancel order with status %s", s.orders[i].Status), nil)
		}
		s.orders[i].Status = models.OrderCancelled
		return nil
	}
	return errors.NewBrokerAPIError("paper", "cancel_order", "order not found: "+brokerOrderID, nil)
}

var _ Adapter = (*PaperAdapter)(nil)
var _ Session = (*paperSession)(nil)
