package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"tableside/internal/pkg/httpclient"
	"tableside/internal/service/order/domain"
)

func TestQuoteCacheRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := NewQuoteCacheRedis(rdb, 30*time.Minute)
	ctx := context.Background()

	got, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	q := domain.DeliveryQuote{Address: "a", IsWithinRange: true, Fee: decimal.RequireFromString("4.00"), DistanceKm: decimal.RequireFromString("3.2")}
	require.NoError(t, cache.Put(ctx, "s1", q))

	got, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Address)
	assert.True(t, q.Fee.Equal(got.Fee))

	mr.FastForward(31 * time.Minute)
	got, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Put(ctx, "s1", q))
	require.NoError(t, cache.Invalidate(ctx, "s1"))
	got, err = cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGeocoderHTTPAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resolve", r.URL.Path)
		var req resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Address == "nowhere" {
			http.Error(w, "unparseable address", http.StatusUnprocessableEntity)
			return
		}
		assert.Equal(t, 13.75, req.Lat)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"distance_km": 3.456, "duration_min": 12, "formatted_address": "Formatted",
		})
	}))
	defer srv.Close()

	a := NewGeocoderHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("t")), "geocoding-service", srv.URL)
	res, err := a.Resolve(context.Background(), "Jl. Melati 3", domain.Geocoordinate{Lat: 13.75, Lng: 100.5})
	require.NoError(t, err)
	assert.Equal(t, 3.456, res.DistanceKm)
	assert.Equal(t, 12, res.DurationMin)
	assert.Equal(t, "Formatted", res.FormattedAddress)

	_, err = a.Resolve(context.Background(), "nowhere", domain.Geocoordinate{Lat: 13.75})
	assert.Error(t, err)
}
