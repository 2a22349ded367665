package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"go.uber.org/ratelimit"

	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
)

// Kite Connect allows 3 requests per second per user.
const zerodhaRatePerSecond = 3

// ZerodhaAdapter implements the Adapter contract against Zerodha Kite Connect.
type ZerodhaAdapter struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewZerodhaAdapter creates a new Zerodha adapter.
func NewZerodhaAdapter(timeout time.Duration, logger zerolog.Logger) *ZerodhaAdapter {
	return &ZerodhaAdapter{timeout: timeout, logger: logger}
}

// Type returns the broker type identifier.
func (a *ZerodhaAdapter) Type() models.BrokerType {
	return models.BrokerZerodha
}

// Connect builds an SDK client from the stored credentials and verifies
// it with a live profile fetch. A credential that parses but does not
// authenticate fails here, not during sync.
func (a *ZerodhaAdapter) Connect(ctx context.Context, creds models.CredentialSet) (Session, error) {
	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil, errors.NewCredentialError("", "zerodha requires api_key and access_token", nil)
	}

	client := kiteconnect.New(creds.APIKey)
	client.SetAccessToken(creds.AccessToken)
	client.SetHTTPClient(&http.Client{Timeout: a.timeout})

	s := &zerodhaSession{
		client:  client,
		limiter: ratelimit.New(zerodhaRatePerSecond),
		logger:  a.logger,
	}

	profile, err := s.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	s.profile = profile
	return s, nil
}

type zerodhaSession struct {
	client  *kiteconnect.Client
	limiter ratelimit.Limiter
	logger  zerolog.Logger
	profile models.Profile
}

func (s *zerodhaSession) Profile() models.Profile {
	return s.profile
}

// take blocks for the rate limiter and checks context expiry. The SDK
// does not accept a context; the HTTP client timeout bounds each call.
func (s *zerodhaSession) take(ctx context.Context, op string) error {
	s.limiter.Take()
	if err := ctx.Err(); err != nil {
		return errors.NewBrokerAPIError("zerodha", op, "context expired", err)
	}
	return nil
}

func (s *zerodhaSession) GetProfile(ctx context.Context) (models.Profile, error) {
	if err := s.take(ctx, "profile"); err != nil {
		return models.Profile{}, err
	}
	p, err := s.client.GetUserProfile()
	if err != nil {
		return models.Profile{}, errors.NewBrokerAPIError("zerodha", "profile", err.Error(), err)
	}
	return models.Profile{
		ClientID: p.UserID,
		Name:     p.UserName,
		Email:    p.Email,
		Broker:   models.BrokerZerodha,
	}, nil
}

func (s *zerodhaSession) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	if err := s.take(ctx, "holdings"); err != nil {
		return nil, err
	}
	holdings, err := s.client.GetHoldings()
	if err != nil {
		return nil, errors.NewBrokerAPIError("zerodha", "holdings", err.Error(), err)
	}

	result := make([]models.Holding, 0, len(holdings))
	for _, h := range holdings {
		holding := models.Holding{
			Symbol:       h.Tradingsymbol,
			Exchange:     h.Exchange,
			Quantity:     int(h.Quantity),
			T1Quantity:   int(h.T1Quantity),
			PledgedQty:   int(h.CollateralQuantity),
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
		}
		holding.ComputeValues()
		result = append(result, holding)
	}
	return result, nil
}

func (s *zerodhaSession) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := s.take(ctx, "positions"); err != nil {
		return nil, err
	}
	positions, err := s.client.GetPositions()
	if err != nil {
		return nil, errors.NewBrokerAPIError("zerodha", "positions", err.Error(), err)
	}

	result := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		result = append(result, models.Position{
			Symbol:        p.Tradingsymbol,
			Exchange:      p.Exchange,
			Product:       zerodhaProduct(p.Product),
			NetQuantity:   int(p.Quantity),
			BuyQuantity:   int(p.BuyQuantity),
			SellQuantity:  int(p.SellQuantity),
			AvgBuyPrice:   p.BuyPrice,
			AvgSellPrice:  p.SellPrice,
			LastPrice:     p.LastPrice,
			RealizedPnL:   p.Realised,
			UnrealizedPnL: p.Unrealised,
			TotalPnL:      p.PnL,
		})
	}
	return result, nil
}

func (s *zerodhaSession) GetOrders(ctx context.Context) ([]models.Order, error) {
	if err := s.take(ctx, "orders"); err != nil {
		return nil, err
	}
	orders, err := s.client.GetOrders()
	if err != nil {
		return nil, errors.NewBrokerAPIError("zerodha", "orders", err.Error(), err)
	}

	result := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		result = append(result, models.Order{
			BrokerOrderID: o.OrderID,
			Symbol:        o.TradingSymbol,
			Exchange:      o.Exchange,
			Transaction:   models.TransactionType(o.TransactionType),
			Type:          models.OrderType(o.OrderType),
			Product:       zerodhaProduct(o.Product),
			Quantity:      int(o.Quantity),
			Price:         o.Price,
			TriggerPrice:  o.TriggerPrice,
			FilledQty:     int(o.FilledQuantity),
			AveragePrice:  o.AveragePrice,
			Status:        s.mapStatus(o.Status),
			StatusMessage: o.StatusMessage,
			PlacedAt:      o.OrderTimestamp.Time,
		})
	}
	return result, nil
}

func (s *zerodhaSession) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error) {
	if err := s.take(ctx, "place_order"); err != nil {
		return models.OrderReceipt{}, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        req.Exchange,
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Transaction),
		OrderType:       string(req.Type),
		Product:         string(req.Product),
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Validity:        "DAY",
	}

	resp, err := s.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return models.OrderReceipt{}, errors.NewBrokerAPIError("zerodha", "place_order", err.Error(), err)
	}
	return models.OrderReceipt{BrokerOrderID: resp.OrderID, Message: "order placed"}, nil
}

func (s *zerodhaSession) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := s.take(ctx, "cancel_order"); err != nil {
		return err
	}
	if _, err := s.client.CancelOrder(kiteconnect.VarietyRegular, brokerOrderID, nil); err != nil {
		return errors.NewBrokerAPIError("zerodha", "cancel_order", err.Error(), err)
	}
	return nil
}

// zerodhaStatusMap translates Kite order statuses into the local state
// machine. Transitional broker states count as PENDING.
var zerodhaStatusMap = map[string]models.OrderStatus{
	"COMPLETE":               models.OrderComplete,
	"REJECTED":               models.OrderRejected,
	"CANCELLED":              models.OrderCancelled,
	"OPEN":                   models.OrderOpen,
	"TRIGGER PENDING":        models.OrderPending,
	"VALIDATION PENDING":     models.OrderPending,
	"OPEN PENDING":           models.OrderPending,
	"MODIFY PENDING":         models.OrderPending,
	"PUT ORDER REQ RECEIVED": models.OrderPending,
}

func (s *zerodhaSession) mapStatus(vendor string) models.OrderStatus {
	if status, ok := zerodhaStatusMap[vendor]; ok {
		return status
	}
	logging.LogUnknownStatus(s.logger, "zerodha", vendor)
	return models.OrderPending
}

// zerodhaProduct maps Kite product strings onto the internal enum. The
// internal enum uses Kite's vocabulary, so unknown values pass through.
func zerodhaProduct(p string) models.ProductType {
	switch p {
	case "MIS":
		return models.ProductMIS
	case "CNC":
		return models.ProductCNC
	case "NRML":
		return models.ProductNRML
	}
	return models.ProductType(p)
}

var _ Adapter = (*ZerodhaAdapter)(nil)
