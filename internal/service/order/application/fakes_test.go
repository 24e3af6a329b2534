package application

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/bootstrap"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/order/domain/port"
	"tableside/internal/service/order/infrastructure/adapter"
	"tableside/internal/service/order/infrastructure/rule"
	"tableside/internal/service/realtime"
)

type memOrders struct {
	mu           sync.Mutex
	rows         map[string]domain.Order
	beforeUpdate func(id string)
}

func newMemOrders() *memOrders { return &memOrders{rows: map[string]domain.Order{}} }

func (m *memOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[o.ID] = *o
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	return &o, nil
}

func (m *memOrders) ListActive(_ context.Context, restaurantID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.rows {
		o := o
		if o.RestaurantID == restaurantID && o.Status.IsActive() {
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, o *domain.Order, expected domain.Status) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(o.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.rows[o.ID]
	if cur.Status != expected {
		return domain.ErrStaleStatus
	}
	cur.Status = o.Status
	cur.UpdatedAt = o.UpdatedAt
	cur.CompletedAt = o.CompletedAt
	m.rows[o.ID] = cur
	return nil
}

func (m *memOrders) ListCreatedSince(_ context.Context, restaurantID string, since time.Time) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.rows {
		o := o
		if o.RestaurantID == restaurantID && !o.CreatedAt.Before(since) {
			out = append(out, &o)
		}
	}
	return out, nil
}

type memRestaurants map[string]domain.Restaurant

func (m memRestaurants) FindRestaurant(_ context.Context, id string) (*domain.Restaurant, error) {
	r, ok := m[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "restaurant %s", id)
	}
	return &r, nil
}

func (m memRestaurants) ListSettings(context.Context) ([]domain.RestaurantSettings, error) {
	return nil, nil
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	km    map[string]float64
	err   error
}

func (g *fakeGeocoder) Resolve(_ context.Context, address string, _ domain.Geocoordinate) (port.Resolution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return port.Resolution{}, g.err
	}
	return port.Resolution{DistanceKm: g.km[address], DurationMin: 15, FormattedAddress: address + ", Bangkok"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

var origin = domain.Geocoordinate{Lat: 13.7563, Lng: 100.5018}

func tiers() []domain.DeliveryRateTier {
	return []domain.DeliveryRateTier{
		{ID: "t1", DistanceKm: decimal.RequireFromString("2"), Price: decimal.RequireFromString("2.00")},
		{ID: "t2", DistanceKm: decimal.RequireFromString("5"), Price: decimal.RequireFromString("4.00")},
		{ID: "t3", DistanceKm: decimal.RequireFromString("8"), Price: decimal.RequireFromString("6.50")},
	}
}

type fixture struct {
	svc       *OrderApplicationService
	orders    *memOrders
	geocoder  *fakeGeocoder
	publisher *recordingPublisher
	cache     *adapter.QuoteCacheRedis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	policy, err := rule.NewCELPolicy(bootstrap.DefaultForwardPolicy, bootstrap.DefaultCancelPolicy)
	require.NoError(t, err)

	f := &fixture{
		orders:    newMemOrders(),
		geocoder:  &fakeGeocoder{km: map[string]float64{"near": 1.5, "mid": 4.999, "far": 12}},
		publisher: &recordingPublisher{},
		cache:     adapter.NewQuoteCacheRedis(rdb, 30*time.Minute),
	}
	restaurants := memRestaurants{
		"r1":    {ID: "r1", Origin: &origin, Tiers: tiers()},
		"nogeo": {ID: "nogeo", Tiers: tiers()},
		"r2": {ID: "r2", Origin: &origin, Tiers: []domain.DeliveryRateTier{
			{ID: "wide", DistanceKm: decimal.RequireFromString("20"), Price: decimal.RequireFromString("9.00")},
		}},
	}
	f.svc = NewOrderApplicationService(f.orders, restaurants, policy,
		NewDeliveryFeeCalculator(f.geocoder, f.cache), f.publisher, noop.NewTracerProvider().Tracer("test"), time.UTC)

	clock := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}
