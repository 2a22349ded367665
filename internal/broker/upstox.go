package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"brokersync/internal/config"
	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
)

const (
	upstoxProfileURL   = "/user/profile"
	upstoxHoldingsURL  = "/portfolio/long-term-holdings"
	upstoxPositionsURL = "/portfolio/short-term-positions"
	upstoxOrdersURL    = "/order/retrieve-all"
	upstoxPlaceURL     = "/order/place"
	upstoxCancelURL    = "/order/cancel"
)

// UpstoxAdapter implements the Adapter contract against the Upstox v2
// REST interface.
type UpstoxAdapter struct {
	cfg     config.VendorAPIConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewUpstoxAdapter creates a new Upstox adapter.
func NewUpstoxAdapter(cfg config.VendorAPIConfig, timeout time.Duration, logger zerolog.Logger) *UpstoxAdapter {
	return &UpstoxAdapter{cfg: cfg, timeout: timeout, logger: logger}
}

// Type returns the broker type identifier.
func (a *UpstoxAdapter) Type() models.BrokerType {
	return models.BrokerUpstox
}

// Connect builds a bearer-token client and verifies it with a live
// profile fetch. Upstox issues day tokens through its own OAuth flow;
// the stored access token is the product of that flow.
func (a *UpstoxAdapter) Connect(ctx context.Context, creds models.CredentialSet) (Session, error) {
	if creds.AccessToken == "" {
		return nil, errors.NewCredentialError("", "upstox requires an access_token", nil)
	}

	client := resty.New().
		SetBaseURL(a.cfg.BaseURL).
		SetTimeout(a.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+creds.AccessToken)

	s := &upstoxSession{
		client:  client,
		limiter: ratelimit.New(ratePerSecond(a.cfg.RatePerSecond)),
		logger:  a.logger,
	}

	profile, err := s.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	s.profile = profile
	return s, nil
}

type upstoxSession struct {
	client  *resty.Client
	limiter ratelimit.Limiter
	logger  zerolog.Logger
	profile models.Profile
}

func (s *upstoxSession) Profile() models.Profile {
	return s.profile
}

// upstoxError is the v2 API error body.
type upstoxError struct {
	Status string `json:"status"`
	Errors []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	} `json:"errors"`
}

func (e *upstoxError) message() string {
	if e == nil || len(e.Errors) == 0 {
		return "unknown error"
	}
	return e.Errors[0].Message
}

// call executes one Upstox request and decodes the success payload into
// result (a struct whose Data field matches the endpoint).
func (s *upstoxSession) call(ctx context.Context, op string, result interface{}, do func(*resty.Request) (*resty.Response, error)) error {
	s.limiter.Take()

	req := s.client.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&upstoxError{})

	resp, err := do(req)
	if err != nil {
		return errors.NewBrokerAPIError("upstox", op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		apiErr, _ := resp.Error().(*upstoxError)
		msg := apiErr.message()
		if msg == "unknown error" {
			msg = fmt.Sprintf("http %s", resp.Status())
		}
		return errors.NewBrokerAPIError("upstox", op, msg, nil)
	}
	if !resp.IsSuccess() {
		return errors.NewBrokerAPIError("upstox", op, fmt.Sprintf("unexpected status %s", resp.Status()), nil)
	}
	return nil
}

func (s *upstoxSession) GetProfile(ctx context.Context) (models.Profile, error) {
	var result struct {
		Data struct {
			UserID   string `json:"user_id"`
			UserName string `json:"user_name"`
			Email    string `json:"email"`
		} `json:"data"`
	}
	err := s.call(ctx, "profile", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(upstoxProfileURL)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		ClientID: result.Data.UserID,
		Name:     result.Data.UserName,
		Email:    result.Data.Email,
		Broker:   models.BrokerUpstox,
	}, nil
}

func (s *upstoxSession) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	var result struct {
		Data []struct {
			TradingSymbol string  `json:"trading_symbol"`
			Exchange      string  `json:"exchange"`
			Quantity      int     `json:"quantity"`
			T1Quantity    int     `json:"t1_quantity"`
			CollateralQty int     `json:"collateral_quantity"`
			AveragePrice  float64 `json:"average_price"`
			LastPrice     float64 `json:"last_price"`
		} `json:"data"`
	}
	err := s.call(ctx, "holdings", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(upstoxHoldingsURL)
	})
	if err != nil {
		return nil, err
	}

	holdings := make([]models.Holding, 0, len(result.Data))
	for _, h := range result.Data {
		holding := models.Holding{
			Symbol:       h.TradingSymbol,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			T1Quantity:   h.T1Quantity,
			PledgedQty:   h.CollateralQty,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
		}
		holding.ComputeValues()
		holdings = append(holdings, holding)
	}
	return holdings, nil
}

func (s *upstoxSession) GetPositions(ctx context.Context) ([]models.Position, error) {
	var result struct {
		Data []struct {
			TradingSymbol string  `json:"trading_symbol"`
			Exchange      string  `json:"exchange"`
			Product       string  `json:"product"`
			Quantity      int     `json:"quantity"`
			BuyQuantity   int     `json:"day_buy_quantity"`
			SellQuantity  int     `json:"day_sell_quantity"`
			BuyPrice      float64 `json:"day_buy_price"`
			SellPrice     float64 `json:"day_sell_price"`
			LastPrice     float64 `json:"last_price"`
			Realised      float64 `json:"realised"`
			Unrealised    float64 `json:"unrealised"`
			PnL           float64 `json:"pnl"`
		} `json:"data"`
	}
	err := s.call(ctx, "positions", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(upstoxPositionsURL)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(result.Data))
	for _, p := range result.Data {
		positions = append(positions, models.Position{
			Symbol:        p.TradingSymbol,
			Exchange:      p.Exchange,
			Product:       upstoxProductToInternal(p.Product),
			NetQuantity:   p.Quantity,
			BuyQuantity:   p.BuyQuantity,
			SellQuantity:  p.SellQuantity,
			AvgBuyPrice:   p.BuyPrice,
			AvgSellPrice:  p.SellPrice,
			LastPrice:     p.LastPrice,
			RealizedPnL:   p.Realised,
			UnrealizedPnL: p.Unrealised,
			TotalPnL:      p.PnL,
		})
	}
	return positions, nil
}

func (s *upstoxSession) GetOrders(ctx context.Context) ([]models.Order, error) {
	var result struct {
		Data []struct {
			OrderID         string  `json:"order_id"`
			TradingSymbol   string  `json:"trading_symbol"`
			Exchange        string  `json:"exchange"`
			TransactionType string  `json:"transaction_type"`
			OrderType       string  `json:"order_type"`
			Product         string  `json:"product"`
			Quantity        int     `json:"quantity"`
			Price           float64 `json:"price"`
			TriggerPrice    float64 `json:"trigger_price"`
			FilledQuantity  int     `json:"filled_quantity"`
			AveragePrice    float64 `json:"average_price"`
			Status          string  `json:"status"`
			StatusMessage   string  `json:"status_message"`
			OrderTimestamp  string  `json:"order_timestamp"`
		} `json:"data"`
	}
	err := s.call(ctx, "orders", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(upstoxOrdersURL)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(result.Data))
	for _, o := range result.Data {
		orders = append(orders, models.Order{
			BrokerOrderID: o.OrderID,
			Symbol:        o.TradingSymbol,
			Exchange:      o.Exchange,
			Transaction:   models.TransactionType(o.TransactionType),
			Type:          upstoxOrderTypeToInternal(o.OrderType),
			Product:       upstoxProductToInternal(o.Product),
			Quantity:      o.Quantity,
			Price:         o.Price,
			TriggerPrice:  o.TriggerPrice,
			FilledQty:     o.FilledQuantity,
			AveragePrice:  o.AveragePrice,
			Status:        s.mapStatus(o.Status),
			StatusMessage: o.StatusMessage,
			PlacedAt:      parseVendorTime(o.OrderTimestamp),
		})
	}
	return orders, nil
}

func (s *upstoxSession) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error) {
	var result struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	body := map[string]interface{}{
		"instrument_token": upstoxInstrumentToken(req.Exchange, req.Symbol),
		"transaction_type": string(req.Transaction),
		"order_type":       upstoxOrderTypeFromInternal(req.Type),
		"product":          upstoxProductFromInternal(req.Product),
		"validity":         "DAY",
		"quantity":         req.Quantity,
		"price":            req.Price,
		"trigger_price":    req.TriggerPrice,
		"is_amo":           false,
	}
	err := s.call(ctx, "place_order", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader("Content-Type", "application/json").SetBody(body).Post(upstoxPlaceURL)
	})
	if err != nil {
		return models.OrderReceipt{}, err
	}
	return models.OrderReceipt{BrokerOrderID: result.Data.OrderID, Message: "order placed"}, nil
}

func (s *upstoxSession) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var result struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	return s.call(ctx, "cancel_order", &result, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("order_id", brokerOrderID).Delete(upstoxCancelURL)
	})
}

// upstoxStatusMap translates Upstox order statuses (lowercase) into the
// local state machine.
var upstoxStatusMap = map[string]models.OrderStatus{
	"complete":               models.OrderComplete,
	"rejected":               models.OrderRejected,
	"cancelled":              models.OrderCancelled,
	"open":                   models.OrderOpen,
	"pending":                models.OrderPending,
	"trigger pending":        models.OrderPending,
	"open pending":           models.OrderPending,
	"validation pending":     models.OrderPending,
	"put order req received": models.OrderPending,
}

func (s *upstoxSession) mapStatus(vendor string) models.OrderStatus {
	if status, ok := upstoxStatusMap[strings.ToLower(vendor)]; ok {
		return status
	}
	logging.LogUnknownStatus(s.logger, "upstox", vendor)
	return models.OrderPending
}

// upstoxProductToInternal maps Upstox single-letter products. I is
// intraday, D covers both delivery and carry-forward.
func upstoxProductToInternal(p string) models.ProductType {
	switch p {
	case "I":
		return models.ProductMIS
	case "D":
		return models.ProductCNC
	}
	return models.ProductCNC
}

func upstoxProductFromInternal(p models.ProductType) string {
	if p == models.ProductMIS {
		return "I"
	}
	return "D"
}

func upstoxOrderTypeToInternal(t string) models.OrderType {
	switch t {
	case "MARKET":
		return models.OrderTypeMarket
	case "LIMIT":
		return models.OrderTypeLimit
	case "SL":
		return models.OrderTypeStopLoss
	case "SL-M":
		return models.OrderTypeStopLossM
	}
	return models.OrderTypeMarket
}

func upstoxOrderTypeFromInternal(t models.OrderType) string {
	switch t {
	case models.OrderTypeLimit:
		return "LIMIT"
	case models.OrderTypeStopLoss:
		return "SL"
	case models.OrderTypeStopLossM:
		return "SL-M"
	default:
		return "MARKET"
	}
}

func upstoxInstrumentToken(exchange, symbol string) string {
	if exchange == "" {
		exchange = "NSE"
	}
	return fmt.Sprintf("%s_EQ|%s", exchange, symbol)
}

var _ Adapter = (*UpstoxAdapter)(nil)
