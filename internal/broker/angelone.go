package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	"brokersync/internal/config"
	"brokersync/internal/errors"
	"brokersync/internal/logging"
	"brokersync/internal/models"
)

const (
	angelLoginURL     = "/rest/auth/angelbroking/user/v1/loginByPassword"
	angelProfileURL   = "/rest/secure/angelbroking/user/v1/getProfile"
	angelHoldingsURL  = "/rest/secure/angelbroking/portfolio/v1/getAllHolding"
	angelPositionsURL = "/rest/secure/angelbroking/order/v1/getPosition"
	angelOrdersURL    = "/rest/secure/angelbroking/order/v1/getOrderBook"
	angelPlaceURL     = "/rest/secure/angelbroking/order/v1/placeOrder"
	angelCancelURL    = "/rest/secure/angelbroking/order/v1/cancelOrder"
)

// AngelOneAdapter implements the Adapter contract against the Angel One
// SmartAPI REST interface.
type AngelOneAdapter struct {
	cfg     config.VendorAPIConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAngelOneAdapter creates a new Angel One adapter.
func NewAngelOneAdapter(cfg config.VendorAPIConfig, timeout time.Duration, logger zerolog.Logger) *AngelOneAdapter {
	return &AngelOneAdapter{cfg: cfg, timeout: timeout, logger: logger}
}

// Type returns the broker type identifier.
func (a *AngelOneAdapter) Type() models.BrokerType {
	return models.BrokerAngelOne
}

// angelEnvelope is the common SmartAPI response wrapper. The API reports
// failures with HTTP 200 and status=false.
type angelEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// Connect performs the TOTP login flow and verifies the session with a
// live profile fetch.
func (a *AngelOneAdapter) Connect(ctx context.Context, creds models.CredentialSet) (Session, error) {
	if creds.ClientID == "" || creds.Password == "" || creds.APIKey == "" {
		return nil, errors.NewCredentialError("", "angelone requires client_id, password and api_key", nil)
	}
	if creds.TOTPSeed == "" {
		return nil, errors.NewCredentialError("", "angelone requires a totp_seed", nil)
	}

	code, err := totp.GenerateCode(creds.TOTPSeed, time.Now())
	if err != nil {
		return nil, errors.NewCredentialError("", "generating totp code", err)
	}

	client := resty.New().
		SetBaseURL(a.cfg.BaseURL).
		SetTimeout(a.timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-PrivateKey", creds.APIKey)

	s := &angelSession{
		client:  client,
		limiter: ratelimit.New(ratePerSecond(a.cfg.RatePerSecond)),
		logger:  a.logger,
	}

	var login struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	err = s.call(ctx, "login", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{
			"clientcode": creds.ClientID,
			"password":   creds.Password,
			"totp":       code,
		}).Post(angelLoginURL)
	}, &login)
	if err != nil {
		return nil, err
	}
	if login.JWTToken == "" {
		return nil, errors.NewBrokerAPIError("angelone", "login", "login succeeded but no session token returned", nil)
	}
	client.SetHeader("Authorization", "Bearer "+login.JWTToken)

	profile, err := s.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	s.profile = profile
	return s, nil
}

type angelSession struct {
	client  *resty.Client
	limiter ratelimit.Limiter
	logger  zerolog.Logger
	profile models.Profile
}

func (s *angelSession) Profile() models.Profile {
	return s.profile
}

// call executes one SmartAPI request, unwraps the envelope, and decodes
// the data payload into out (when non-nil).
func (s *angelSession) call(ctx context.Context, op string, do func(*resty.Request) (*resty.Response, error), out interface{}) error {
	s.limiter.Take()

	req := s.client.R().
		SetContext(ctx).
		SetResult(&angelEnvelope{})

	resp, err := do(req)
	if err != nil {
		return errors.NewBrokerAPIError("angelone", op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return errors.NewBrokerAPIError("angelone", op, fmt.Sprintf("http %s", resp.Status()), nil)
	}

	env, ok := resp.Result().(*angelEnvelope)
	if !ok || env == nil {
		return errors.NewBrokerAPIError("angelone", op, "malformed response", nil)
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "error " + env.ErrorCode
		}
		return errors.NewBrokerAPIError("angelone", op, msg, nil)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.NewBrokerAPIError("angelone", op, "malformed response data", err)
		}
	}
	return nil
}

func (s *angelSession) GetProfile(ctx context.Context) (models.Profile, error) {
	var data struct {
		ClientCode string `json:"clientcode"`
		Name       string `json:"name"`
		Email      string `json:"email"`
	}
	err := s.call(ctx, "profile", func(r *resty.Request) (*resty.Response, error) {
		return r.Get(angelProfileURL)
	}, &data)
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{
		ClientID: data.ClientCode,
		Name:     data.Name,
		Email:    data.Email,
		Broker:   models.BrokerAngelOne,
	}, nil
}

// angelHolding mirrors a SmartAPI holding row. The API mixes JSON
// numbers and quoted numbers, so every numeric field is coerced.
type angelHolding struct {
	TradingSymbol string     `json:"tradingsymbol"`
	Exchange      string     `json:"exchange"`
	Quantity      flexNumber `json:"quantity"`
	T1Quantity    flexNumber `json:"t1quantity"`
	CollateralQty flexNumber `json:"collateralquantity"`
	AveragePrice  flexNumber `json:"averageprice"`
	LTP           flexNumber `json:"ltp"`
}

func (s *angelSession) GetHoldings(ctx context.Context) ([]models.Holding, error) {
	var data struct {
		Holdings []angelHolding `json:"holdings"`
	}
	err := s.call(ctx, "holdings", func(r *resty.Request) (*resty.Response, error) {
		return r.Get(angelHoldingsURL)
	}, &data)
	if err != nil {
		return nil, err
	}

	result := make([]models.Holding, 0, len(data.Holdings))
	for _, h := range data.Holdings {
		holding := models.Holding{
			Symbol:       strings.TrimSuffix(h.TradingSymbol, "-EQ"),
			Exchange:     h.Exchange,
			Quantity:     h.Quantity.Int(),
			T1Quantity:   h.T1Quantity.Int(),
			PledgedQty:   h.CollateralQty.Int(),
			AveragePrice: h.AveragePrice.Float(),
			LastPrice:    h.LTP.Float(),
		}
		holding.ComputeValues()
		result = append(result, holding)
	}
	return result, nil
}

type angelPosition struct {
	TradingSymbol string     `json:"tradingsymbol"`
	Exchange      string     `json:"exchange"`
	ProductType   string     `json:"producttype"`
	NetQty        flexNumber `json:"netqty"`
	BuyQty        flexNumber `json:"buyqty"`
	SellQty       flexNumber `json:"sellqty"`
	BuyAvgPrice   flexNumber `json:"buyavgprice"`
	SellAvgPrice  flexNumber `json:"sellavgprice"`
	LTP           flexNumber `json:"ltp"`
	Realised      flexNumber `json:"realised"`
	Unrealised    flexNumber `json:"unrealised"`
}

func (s *angelSession) GetPositions(ctx context.Context) ([]models.Position, error) {
	var data []angelPosition
	err := s.call(ctx, "positions", func(r *resty.Request) (*resty.Response, error) {
		return r.Get(angelPositionsURL)
	}, &data)
	if err != nil {
		return nil, err
	}

	result := make([]models.Position, 0, len(data))
	for _, p := range data {
		realized := p.Realised.Float()
		unrealized := p.Unrealised.Float()
		result = append(result, models.Position{
			Symbol:        strings.TrimSuffix(p.TradingSymbol, "-EQ"),
			Exchange:      p.Exchange,
			Product:       angelProductToInternal(p.ProductType),
			NetQuantity:   p.NetQty.Int(),
			BuyQuantity:   p.BuyQty.Int(),
			SellQuantity:  p.SellQty.Int(),
			AvgBuyPrice:   p.BuyAvgPrice.Float(),
			AvgSellPrice:  p.SellAvgPrice.Float(),
			LastPrice:     p.LTP.Float(),
			RealizedPnL:   realized,
			UnrealizedPnL: unrealized,
			TotalPnL:      realized + unrealized,
		})
	}
	return result, nil
}

type angelOrder struct {
	OrderID         string     `json:"orderid"`
	TradingSymbol   string     `json:"tradingsymbol"`
	Exchange        string     `json:"exchange"`
	TransactionType string     `json:"transactiontype"`
	OrderType       string     `json:"ordertype"`
	ProductType     string     `json:"producttype"`
	Quantity        flexNumber `json:"quantity"`
	Price           flexNumber `json:"price"`
	TriggerPrice    flexNumber `json:"triggerprice"`
	FilledShares    flexNumber `json:"filledshares"`
	AveragePrice    flexNumber `json:"averageprice"`
	Status          string     `json:"status"`
	Text            string     `json:"text"`
	UpdateTime      string     `json:"updatetime"`
}

func (s *angelSession) GetOrders(ctx context.Context) ([]models.Order, error) {
	var data []angelOrder
	err := s.call(ctx, "orders", func(r *resty.Request) (*resty.Response, error) {
		return r.Get(angelOrdersURL)
	}, &data)
	if err != nil {
		return nil, err
	}

	result := make([]models.Order, 0, len(data))
	for _, o := range data {
		result = append(result, models.Order{
			BrokerOrderID: o.OrderID,
			Symbol:        strings.TrimSuffix(o.TradingSymbol, "-EQ"),
			Exchange:      o.Exchange,
			Transaction:   models.TransactionType(o.TransactionType),
			Type:          angelOrderTypeToInternal(o.OrderType),
			Product:       angelProductToInternal(o.ProductType),
			Quantity:      o.Quantity.Int(),
			Price:         o.Price.Float(),
			TriggerPrice:  o.TriggerPrice.Float(),
			FilledQty:     o.FilledShares.Int(),
			AveragePrice:  o.AveragePrice.Float(),
			Status:        s.mapStatus(o.Status),
			StatusMessage: o.Text,
			PlacedAt:      parseVendorTime(o.UpdateTime),
		})
	}
	return result, nil
}

func (s *angelSession) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error) {
	// SmartAPI expects all numeric order fields as quoted strings.
	body := map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Symbol,
		"exchange":        req.Exchange,
		"transactiontype": string(req.Transaction),
		"ordertype":       angelOrderTypeFromInternal(req.Type),
		"producttype":     angelProductFromInternal(req.Product),
		"duration":        "DAY",
		"quantity":        strconv.Itoa(req.Quantity),
		"price":           strconv.FormatFloat(req.Price, 'f', 2, 64),
		"triggerprice":    strconv.FormatFloat(req.TriggerPrice, 'f', 2, 64),
	}

	var data struct {
		OrderID string `json:"orderid"`
	}
	err := s.call(ctx, "place_order", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Post(angelPlaceURL)
	}, &data)
	if err != nil {
		return models.OrderReceipt{}, err
	}
	return models.OrderReceipt{BrokerOrderID: data.OrderID, Message: "order placed"}, nil
}

func (s *angelSession) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return s.call(ctx, "cancel_order", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{
			"variety": "NORMAL",
			"orderid": brokerOrderID,
		}).Post(angelCancelURL)
	}, nil)
}

// angelStatusMap translates SmartAPI order statuses, which are reported
// in lowercase, into the local state machine.
var angelStatusMap = map[string]models.OrderStatus{
	"complete":               models.OrderComplete,
	"rejected":               models.OrderRejected,
	"cancelled":              models.OrderCancelled,
	"open":                   models.OrderOpen,
	"modified":               models.OrderOpen,
	"pending":                models.OrderPending,
	"trigger pending":        models.OrderPending,
	"open pending":           models.OrderPending,
	"validation pending":     models.OrderPending,
	"put order req received": models.OrderPending,
}

func (s *angelSession) mapStatus(vendor string) models.OrderStatus {
	if status, ok := angelStatusMap[strings.ToLower(vendor)]; ok {
		return status
	}
	logging.LogUnknownStatus(s.logger, "angelone", vendor)
	return models.OrderPending
}

func angelProductToInternal(p string) models.ProductType {
	switch p {
	case "INTRADAY":
		return models.ProductMIS
	case "DELIVERY":
		return models.ProductCNC
	case "CARRYFORWARD":
		return models.ProductNRML
	}
	return models.ProductCNC
}

func angelProductFromInternal(p models.ProductType) string {
	switch p {
	case models.ProductMIS:
		return "INTRADAY"
	case models.ProductNRML:
		return "CARRYFORWARD"
	default:
		return "DELIVERY"
	}
}

func angelOrderTypeToInternal(t string) models.OrderType {
	switch t {
	case "MARKET":
		return models.OrderTypeMarket
	case "LIMIT":
		return models.OrderTypeLimit
	case "STOPLOSS_LIMIT":
		return models.OrderTypeStopLoss
	case "STOPLOSS_MARKET":
		return models.OrderTypeStopLossM
	}
	return models.OrderTypeMarket
}

func angelOrderTypeFromInternal(t models.OrderType) string {
	switch t {
	case models.OrderTypeLimit:
		return "LIMIT"
	case models.OrderTypeStopLoss:
		return "STOPLOSS_LIMIT"
	case models.OrderTypeStopLossM:
		return "STOPLOSS_MARKET"
	default:
		return "MARKET"
	}
}

// flexNumber decodes a JSON value that may arrive as a number or as a
// quoted numeric string.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexNumber(v)
	return nil
}

func (f flexNumber) Float() float64 {
	return float64(f)
}

func (f flexNumber) Int() int {
	return int(f)
}

func ratePerSecond(configured int) int {
	if configured <= 0 {
		return 10
	}
	return configured
}

var _ Adapter = (*AngelOneAdapter)(nil)
