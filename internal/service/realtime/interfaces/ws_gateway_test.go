package interfaces

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/session"
	orderdomain "tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
	"tableside/internal/service/realtime/infrastructure"
	requestdomain "tableside/internal/service/request/domain"
)

type nopPresence struct{}

func (nopPresence) SetClientGateway(context.Context, session.Session, string) error { return nil }
func (nopPresence) ClearClientGateway(context.Context, string) error                { return nil }

type tokenVerifier map[string]session.Session

func (v tokenVerifier) Verify(_ context.Context, token string) (session.Session, error) {
	if s, ok := v[token]; ok {
		return s, nil
	}
	return session.Session{}, apperr.ErrUnauthorized
}

func startGateway(t *testing.T, v tokenVerifier) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub("node-test", nopPresence{})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	NewGateway(hub, v).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayRejectsUnknownToken(t *testing.T) {
	_, url := startGateway(t, tokenVerifier{})
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayFansOutByRoleFilter(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	hub, url := startGateway(t, tokenVerifier{
		"k": {ID: "s-k", Role: "kitchen", RestaurantID: "r1", ExpiresAt: exp},
		"s": {ID: "s-s", Role: "staff", RestaurantID: "r1", ExpiresAt: exp},
	})

	kitchen, _, err := websocket.DefaultDialer.Dial(url+"?token=k", nil)
	require.NoError(t, err)
	defer kitchen.Close()
	staff, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer s"}})
	require.NoError(t, err)
	defer staff.Close()
	waitClients(t, hub, 2)

	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	reqEv, err := realtime.Encode(realtime.NewRequestEvent(realtime.OpInsert, requestdomain.ServiceRequest{
		ID: "q1", RestaurantID: "r1", TableNo: "12", RequestType: requestdomain.TypeCallWaiter,
		Status: requestdomain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}, now))
	require.NoError(t, err)
	orderEv, err := realtime.Encode(realtime.NewOrderEvent(realtime.OpInsert, orderdomain.Order{
		ID: "o1", RestaurantID: "r1", ServiceType: orderdomain.ServiceDineIn, TableNo: "5",
		Status: orderdomain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}, now))
	require.NoError(t, err)

	hub.Broadcast(context.Background(), reqEv)
	hub.Broadcast(context.Background(), orderEv)

	// 厨房只应该收到订单事件
	_ = kitchen.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := kitchen.ReadMessage()
	require.NoError(t, err)
	ev, err := realtime.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "o1", ev.EntityID)

	_ = staff.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = staff.ReadMessage()
	require.NoError(t, err)
	ev, _ = realtime.Decode(raw)
	assert.Equal(t, "q1", ev.EntityID)
	_, raw, err = staff.ReadMessage()
	require.NoError(t, err)
	ev, _ = realtime.Decode(raw)
	assert.Equal(t, "o1", ev.EntityID)
}

func TestGatewayClosesExpiredSession(t *testing.T) {
	_, url := startGateway(t, tokenVerifier{
		"k": {ID: "s-k", Role: "kitchen", RestaurantID: "r1", ExpiresAt: time.Now().Add(150 * time.Millisecond)},
	})

	transport := infrastructure.NewWSTransport(url, "k")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := transport.Subscribe(ctx, realtime.Filter{}, func([]byte) {})
	assert.ErrorIs(t, err, realtime.ErrSessionExpired)
}

func TestGatewayDisconnectUnregisters(t *testing.T) {
	hub, url := startGateway(t, tokenVerifier{
		"k": {ID: "s-k", Role: "kitchen", RestaurantID: "r1", ExpiresAt: time.Now().Add(time.Hour)},
	})
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=k", nil)
	require.NoError(t, err)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}
