package alert

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableside/internal/pkg/metrics"
	orderdomain "tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
	requestdomain "tableside/internal/service/request/domain"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func order(id string, status orderdomain.Status, at time.Time) orderdomain.Order {
	return orderdomain.Order{ID: id, RestaurantID: "r1", ServiceType: orderdomain.ServiceDineIn, TableNo: "1", Status: status, CreatedAt: t0, UpdatedAt: at}
}

func request(id string, status requestdomain.Status, at time.Time) requestdomain.ServiceRequest {
	return requestdomain.ServiceRequest{ID: id, RestaurantID: "r1", TableNo: "7", RequestType: requestdomain.TypeRequestWater, Status: status, CreatedAt: t0, UpdatedAt: at}
}

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	views  []string
}

func (r *recorder) onAlert(a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *recorder) onView(v string) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.alerts {
		out = append(out, a.Pattern.Name)
	}
	return out
}

// feed 把事件依次归并进视图并交给分发器，和路由器的调用方式一致
func feed(d *Dispatcher, v *realtime.View, evs ...realtime.ChangeEvent) {
	for _, ev := range evs {
		d.Deliver(v.Apply(ev), v)
	}
}

func newTestDispatcher(role orderdomain.Role, s Settings, player Player, opts Options) (*Dispatcher, *recorder) {
	rec := &recorder{}
	opts.OnAlert = rec.onAlert
	opts.OnViewChange = rec.onView
	return NewDispatcher(role, s, player, opts), rec
}

func TestDuplicateInsertAlertsOnce(t *testing.T) {
	d, rec := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1}, nil, Options{})
	v := realtime.NewView()
	ev := realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0)

	feed(d, v, ev, ev)
	assert.Equal(t, []string{"new-order"}, rec.names())
	assert.Equal(t, 1, d.Badges().NewOrders)

	// 即使视图被重建，同一个订单也不会再次提示
	d.Deliver(realtime.Outcome{Event: ev, Applied: true, Inserted: true}, realtime.NewView())
	assert.Len(t, rec.names(), 1)
}

func TestUpdatesNeverAlert(t *testing.T) {
	d, rec := newTestDispatcher(orderdomain.RoleStaff, Settings{Volume: 1}, nil, Options{})
	v := realtime.NewView()
	feed(d, v,
		realtime.NewOrderEvent(realtime.OpUpdate, order("o1", orderdomain.StatusConfirmed, t0), t0),
		realtime.NewOrderEvent(realtime.OpUpdate, order("o1", orderdomain.StatusPreparing, t0.Add(time.Second)), t0),
	)
	assert.Empty(t, rec.names())
	assert.Zero(t, d.Badges().NewOrders)
}

func TestRolesDecideWhichPatternsFire(t *testing.T) {
	orderEv := realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0)
	reqEv := realtime.NewRequestEvent(realtime.OpInsert, request("q1", requestdomain.StatusPending, t0), t0)

	cases := []struct {
		role orderdomain.Role
		want []string
	}{
		{orderdomain.RoleKitchen, []string{"new-order"}},
		{orderdomain.RoleStaff, []string{"new-order", "new-request"}},
		{orderdomain.RoleManager, nil},
		{orderdomain.RoleCashier, nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			d, rec := newTestDispatcher(tc.role, Settings{Volume: 0.5}, nil, Options{})
			feed(d, realtime.NewView(), orderEv, reqEv)
			assert.Equal(t, tc.want, rec.names())
		})
	}
}

func TestNewRequestSwitchesStaffView(t *testing.T) {
	d, rec := newTestDispatcher(orderdomain.RoleStaff, Settings{Volume: 1}, nil, Options{})
	v := realtime.NewView()

	feed(d, v, realtime.NewRequestEvent(realtime.OpInsert, request("q1", requestdomain.StatusPending, t0), t0))
	assert.Equal(t, ViewRequests, d.View())
	assert.Equal(t, 1, d.Badges().PendingRequests)

	// 已经在请求列表时不再切换
	feed(d, v, realtime.NewRequestEvent(realtime.OpInsert, request("q2", requestdomain.StatusPending, t0), t0))
	assert.Equal(t, []string{ViewRequests}, rec.views)
	assert.Equal(t, 2, d.Badges().PendingRequests)

	feed(d, v, realtime.NewRequestEvent(realtime.OpUpdate, request("q1", requestdomain.StatusAcknowledged, t0.Add(time.Second)), t0))
	assert.Equal(t, 1, d.Badges().PendingRequests)
}

func TestMuteSuppressesSoundButNotBadges(t *testing.T) {
	player := &fakePlayer{}
	d, rec := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1, Muted: true, Vibrate: true}, player, Options{})
	feed(d, realtime.NewView(), realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0))

	require.Len(t, rec.alerts, 1)
	assert.False(t, rec.alerts[0].Audible)
	assert.Equal(t, NewOrder.Vibration, rec.alerts[0].Vibration)
	assert.Equal(t, 1, d.Badges().NewOrders)
	assert.Empty(t, d.pending)

	d.ClearNewOrders()
	assert.Zero(t, d.Badges().NewOrders)
}

func TestVolumeBounds(t *testing.T) {
	d := NewDispatcher(orderdomain.RoleStaff, Settings{Volume: 3}, nil, Options{})
	assert.Equal(t, 1.0, d.Settings().Volume)
	assert.Error(t, d.SetVolume(1.5))
	require.NoError(t, d.SetVolume(0.25))
	assert.Equal(t, 0.25, d.Settings().Volume)
}

type fakePlayer struct {
	mu    sync.Mutex
	err   error
	plays []string
}

func (p *fakePlayer) Play(_ context.Context, pat Pattern, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, pat.Name)
	return p.err
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPlayerUsedWhenHealthy(t *testing.T) {
	player := &fakePlayer{}
	sink := &syncBuffer{}
	d, _ := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1}, player, Options{Fallback: NewToneSynth(sink)})
	runDispatcher(t, d)

	feed(d, realtime.NewView(), realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0))
	assert.Eventually(t, func() bool { return player.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.Len())
}

func TestFallsBackToSynthOnPlayError(t *testing.T) {
	player := &fakePlayer{err: errors.New("device busy")}
	sink := &syncBuffer{}
	d, _ := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1}, player, Options{Fallback: NewToneSynth(sink)})
	runDispatcher(t, d)

	feed(d, realtime.NewView(), realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0))
	want := 2 * (NewOrder.Beeps*samples(NewOrder.Beep, DefaultSampleRate) + (NewOrder.Beeps-1)*samples(NewOrder.Gap, DefaultSampleRate))
	assert.Eventually(t, func() bool { return sink.Len() == want }, time.Second, 5*time.Millisecond)
}

func TestFallsBackToSynthWhenPlayerMissing(t *testing.T) {
	_, err := NewExecPlayer("definitely-not-a-sound-player-xyz -q -")
	require.Error(t, err)

	sink := &syncBuffer{}
	d, _ := newTestDispatcher(orderdomain.RoleStaff, Settings{Volume: 1}, nil, Options{Fallback: NewToneSynth(sink)})
	runDispatcher(t, d)

	feed(d, realtime.NewView(), realtime.NewRequestEvent(realtime.OpInsert, request("q1", requestdomain.StatusPending, t0), t0))
	assert.Eventually(t, func() bool { return sink.Len() > 0 }, time.Second, 5*time.Millisecond)
}

func TestDiscardedFallbackIsCountedAsDropped(t *testing.T) {
	dropped := metrics.AlertsFired.WithLabelValues(NewOrder.Name, "dropped")
	synth := metrics.AlertsFired.WithLabelValues(NewOrder.Name, "synth")
	droppedBefore, synthBefore := testutil.ToFloat64(dropped), testutil.ToFloat64(synth)

	d, _ := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1}, nil, Options{Fallback: NewToneSynth(nil)})
	runDispatcher(t, d)

	feed(d, realtime.NewView(), realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(dropped) == droppedBefore+1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, synthBefore, testutil.ToFloat64(synth))
}

func TestTerminalBellFallback(t *testing.T) {
	sink := &syncBuffer{}
	d, _ := newTestDispatcher(orderdomain.RoleKitchen, Settings{Volume: 1}, nil, Options{Fallback: NewTerminalBell(sink)})
	runDispatcher(t, d)

	feed(d, realtime.NewView(), realtime.NewOrderEvent(realtime.OpInsert, order("o1", orderdomain.StatusPending, t0), t0))
	assert.Eventually(t, func() bool { return sink.Len() == NewOrder.Beeps }, 2*time.Second, 5*time.Millisecond)
}
