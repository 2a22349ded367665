// Package broker provides broker adapter interfaces and implementations.
//
// Each adapter translates one vendor's wire protocol into the shared
// normalized model. Callers above this package never see vendor-native
// shapes, and vendor-specific failures never escape except as
// *errors.BrokerAPIError.
package broker

import (
	"context"
	"time"

	"brokersync/internal/errors"
	"brokersync/internal/models"
)

// Adapter is the fixed capability contract every vendor implements.
// Connect authenticates with the stored credentials and must perform a
// live profile fetch before reporting success.
type Adapter interface {
	Type() models.BrokerType
	Connect(ctx context.Context, creds models.CredentialSet) (Session, error)
}

// Session is an authenticated broker session returned by Connect and
// threaded explicitly through subsequent calls. All results are
// normalized into the shared model.
type Session interface {
	// Profile returns the profile fetched during connect verification.
	Profile() models.Profile

	GetProfile(ctx context.Context) (models.Profile, error)
	GetHoldings(ctx context.Context) ([]models.Holding, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
}

// Registry maps a broker type to its adapter. This is the only place
// vendor-specific construction occurs.
type Registry struct {
	adapters map[models.BrokerType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.BrokerType]Adapter)}
}

// Register adds an adapter to the registry, replacing any existing
// adapter for the same broker type.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for the broker type.
func (r *Registry) Get(t models.BrokerType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownBroker, "broker %q", t)
	}
	return a, nil
}

// Types returns the registered broker types.
func (r *Registry) Types() []models.BrokerType {
	types := make([]models.BrokerType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}

// vendorTimeLayouts are the accepted vendor timestamp formats. Angel One
// reports "09-Oct-2023 18:22:02", Upstox "2023-10-09 18:22:02", and both
// occasionally ISO-8601.
var vendorTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02-Jan-2006 15:04:05",
}

// parseVendorTime parses a vendor timestamp, tolerating every known
// format. An unparseable or empty timestamp yields the current time
// rather than failing the whole sync.
func parseVendorTime(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	for _, layout := range vendorTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
