package realtime

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/pkg/session"
	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

var (
	ErrSessionExpired  = errors.New("role session expired, re-authentication required")
	ErrTransportClosed = errors.New("change event transport closed")
)

// State 是通道暴露给界面层的连接状态
type State string

const (
	StateSyncing         State = "syncing"
	StateLive            State = "live"
	StateChannelDegraded State = "channel_degraded"
	StateSessionExpired  State = "session_expired"
)

// Snapshotter 从权威存储读取当前活跃的实体
type Snapshotter interface {
	ActiveOrders(ctx context.Context, restaurantID string) ([]orderdomain.Order, error)
	ActiveRequests(ctx context.Context, restaurantID string) ([]requestdomain.ServiceRequest, error)
}

// Transport 投递原始事件，阻塞直到出错或 ctx 结束。
// 投递至少一次，不保证顺序。
type Transport interface {
	Subscribe(ctx context.Context, f Filter, deliver func(raw []byte)) error
}

// Sink 接收每一个作用在视图上的结果，和 Apply 在同一个 goroutine 中调用
type Sink interface {
	Deliver(out Outcome, v *View)
}

type SinkFunc func(out Outcome, v *View)

func (f SinkFunc) Deliver(out Outcome, v *View) { f(out, v) }

type RouterOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnState 在状态变化时调用，err 仅在 ChannelDegraded 时非空
	OnState func(s State, err error)
	// OnResync 在每次全量同步完成后调用
	OnResync func(v *View)
}

// Router 为一个已登录的角色客户端维护物化视图。
// 先拉取快照，再增量应用事件；断线后指数退避重连并重新全量同步。
type Router struct {
	sess        session.Session
	filter      Filter
	transport   Transport
	snapshotter Snapshotter
	sink        Sink
	opts        RouterOptions
	view        *View
	now         func() time.Time
	after       func(d time.Duration) <-chan time.Time
}

func NewRouter(sess session.Session, t Transport, s Snapshotter, sink Sink, opts RouterOptions) *Router {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if sink == nil {
		sink = SinkFunc(func(Outcome, *View) {})
	}
	return &Router{
		sess:        sess,
		filter:      FilterFor(orderdomain.Role(sess.Role), sess.RestaurantID),
		transport:   t,
		snapshotter: s,
		sink:        sink,
		opts:        opts,
		view:        NewView(),
		now:         time.Now,
		after:       time.After,
	}
}

func (r *Router) Filter() Filter { return r.filter }

// Run 阻塞运行直到 ctx 结束或会话过期
func (r *Router) Run(ctx context.Context) error {
	backoff := r.opts.MinBackoff
	for {
		if r.sess.Expired(r.now()) {
			r.setState(StateSessionExpired, nil)
			return ErrSessionExpired
		}

		reachedLive, err := r.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionExpired) {
			r.setState(StateSessionExpired, nil)
			return err
		}
		if reachedLive {
			backoff = r.opts.MinBackoff
		}

		r.setState(StateChannelDegraded, err)
		logger.Ctx(ctx).Warn().Err(err).Dur("backoff", backoff).
			Str("restaurant_id", r.sess.RestaurantID).Str("role", r.sess.Role).
			Msg("⚠️ change channel degraded, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.expiry():
			r.setState(StateSessionExpired, nil)
			return ErrSessionExpired
		case <-r.after(backoff):
		}
		backoff *= 2
		if backoff > r.opts.MaxBackoff {
			backoff = r.opts.MaxBackoff
		}
	}
}

type snapshot struct {
	orders   []orderdomain.Order
	requests []requestdomain.ServiceRequest
	err      error
}

// runOnce 完成一次连接的完整生命周期。
// 快照完成前收到的事件先缓存，快照加载后按到达顺序应用。
func (r *Router) runOnce(ctx context.Context) (reachedLive bool, err error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.setState(StateSyncing, nil)

	events := make(chan []byte, 256)
	transportErr := make(chan error, 1)
	go func() {
		err := r.transport.Subscribe(sctx, r.filter, func(raw []byte) {
			select {
			case events <- raw:
			case <-sctx.Done():
			}
		})
		transportErr <- err
	}()

	snapc := make(chan snapshot, 1)
	go func() { snapc <- r.fetchSnapshot(sctx) }()

	var buffered [][]byte
	synced := false
	expiry := r.expiry()

	for {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		case <-expiry:
			return synced, ErrSessionExpired
		case err := <-transportErr:
			if err == nil {
				err = ErrTransportClosed
			}
			return synced, err
		case snap := <-snapc:
			if snap.err != nil {
				return false, errors.Wrap(snap.err, "resync snapshot")
			}
			fresh := r.view.Load(snap.orders, snap.requests, r.filter.Wants(EntityOrder), r.filter.Wants(EntityServiceRequest))
			synced = true
			if r.opts.OnResync != nil {
				r.opts.OnResync(r.view)
			}
			r.setState(StateLive, nil)
			for _, raw := range buffered {
				r.handle(ctx, raw, fresh)
			}
			buffered = nil
		case raw := <-events:
			if !synced {
				buffered = append(buffered, raw)
				continue
			}
			if r.sess.Expired(r.now()) {
				return synced, ErrSessionExpired
			}
			r.handle(ctx, raw, nil)
		}
	}
}

func (r *Router) fetchSnapshot(ctx context.Context) snapshot {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	if r.filter.Wants(EntityOrder) {
		g.Go(func() error {
			orders, err := r.snapshotter.ActiveOrders(gctx, r.sess.RestaurantID)
			snap.orders = orders
			return err
		})
	}
	if r.filter.Wants(EntityServiceRequest) {
		g.Go(func() error {
			reqs, err := r.snapshotter.ActiveRequests(gctx, r.sess.RestaurantID)
			snap.requests = reqs
			return err
		})
	}
	snap.err = g.Wait()
	return snap
}

// handle 解码并应用一条事件；fresh 只在回放快照期间缓存的事件时非空
func (r *Router) handle(ctx context.Context, raw []byte, fresh map[EntityKey]bool) {
	ev, err := Decode(raw)
	if err != nil {
		metrics.EventsApplied.WithLabelValues("invalid").Inc()
		logger.Ctx(ctx).Warn().Err(err).Msg("⚠️ dropping invalid change event")
		return
	}
	if !r.filter.Allows(ev) {
		metrics.EventsApplied.WithLabelValues("ignored").Inc()
		return
	}

	out := r.view.ApplyBuffered(ev, fresh)
	switch {
	case out.Stale:
		metrics.EventsApplied.WithLabelValues("stale").Inc()
	case out.Duplicate:
		metrics.EventsApplied.WithLabelValues("duplicate").Inc()
	default:
		metrics.EventsApplied.WithLabelValues("applied").Inc()
	}
	r.sink.Deliver(out, r.view)
}

// expiry 在会话过期时触发；没有过期时间时永不触发
func (r *Router) expiry() <-chan time.Time {
	if r.sess.ExpiresAt.IsZero() {
		return nil
	}
	d := r.sess.ExpiresAt.Sub(r.now())
	if d < 0 {
		d = 0
	}
	return r.after(d)
}

func (r *Router) setState(s State, err error) {
	if r.opts.OnState != nil {
		r.opts.OnState(s, err)
	}
}
