package alert

import (
	"context"
	"sync"
	"time"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	orderdomain "tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
)

const (
	ViewOrders   = "orders"
	ViewRequests = "requests"

	defaultQueueSize   = 16
	defaultPlayTimeout = 5 * time.Second
)

// Settings 是每个客户端自己的提示设置
type Settings struct {
	Muted   bool    `json:"muted"`
	Volume  float64 `json:"volume"`
	Vibrate bool    `json:"vibrate"`
}

// Badges 是界面上的计数角标，不受静音影响
type Badges struct {
	NewOrders       int `json:"new_orders"`
	PendingRequests int `json:"pending_requests"`
}

// Alert 是一次被触发的提示
type Alert struct {
	Pattern  Pattern
	EntityID string
	// Audible 为 false 表示被静音，只更新角标
	Audible   bool
	Volume    float64
	Vibration []time.Duration
	At        time.Time
}

type Options struct {
	// Fallback 在主播放器不可用或播放失败时使用，为空时丢弃声音
	Fallback Player
	// OnAlert 在每次提示被触发时同步调用
	OnAlert func(Alert)
	// OnViewChange 在服务员界面被切换到请求列表时调用
	OnViewChange func(view string)
	QueueSize    int
	PlayTimeout  time.Duration
}

// Dispatcher 实现 realtime.Sink：只看 Outcome，决定是否提示，
// 声音在 Run 的后台协程里顺序播放，不阻塞事件归并。
type Dispatcher struct {
	role    orderdomain.Role
	player  Player
	opts    Options
	pending chan Alert

	mu       sync.Mutex
	settings Settings
	badges   Badges
	view     string
	seen     map[realtime.EntityKey]struct{}

	now func() time.Time
}

// NewDispatcher 创建提示分发器。player 为 nil 表示主播放器初始化失败。
func NewDispatcher(role orderdomain.Role, settings Settings, player Player, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PlayTimeout <= 0 {
		opts.PlayTimeout = defaultPlayTimeout
	}
	return &Dispatcher{
		role:     role,
		player:   player,
		opts:     opts,
		pending:  make(chan Alert, opts.QueueSize),
		settings: clampSettings(settings),
		view:     ViewOrders,
		seen:     make(map[realtime.EntityKey]struct{}),
		now:      time.Now,
	}
}

// Deliver 处理一次视图变化
func (d *Dispatcher) Deliver(out realtime.Outcome, v *realtime.View) {
	var (
		pattern  *Pattern
		switched bool
	)

	d.mu.Lock()
	if out.Applied && v != nil {
		d.badges.PendingRequests = v.PendingRequestCount()
	}
	if out.Inserted {
		key := out.Event.Key()
		_, dup := d.seen[key]
		switch {
		case dup:
		case out.Event.EntityType == realtime.EntityOrder:
			d.seen[key] = struct{}{}
			d.badges.NewOrders++
			if d.role == orderdomain.RoleKitchen || d.role == orderdomain.RoleStaff {
				pattern = &NewOrder
			}
		case out.Event.EntityType == realtime.EntityServiceRequest:
			d.seen[key] = struct{}{}
			if d.role == orderdomain.RoleStaff {
				pattern = &NewRequest
				if d.view != ViewRequests {
					d.view = ViewRequests
					switched = true
				}
			}
		}
	}
	var a Alert
	if pattern != nil {
		a = Alert{
			Pattern:  *pattern,
			EntityID: out.Event.EntityID,
			Audible:  !d.settings.Muted && d.settings.Volume > 0,
			Volume:   d.settings.Volume,
			At:       d.now(),
		}
		if d.settings.Vibrate {
			a.Vibration = pattern.Vibration
		}
	}
	d.mu.Unlock()

	if switched && d.opts.OnViewChange != nil {
		d.opts.OnViewChange(ViewRequests)
	}
	if pattern == nil {
		return
	}
	if d.opts.OnAlert != nil {
		d.opts.OnAlert(a)
	}
	if !a.Audible {
		metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "muted").Inc()
		return
	}
	select {
	case d.pending <- a:
	default:
		metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "dropped").Inc()
		logger.L().Warn().Str("pattern", a.Pattern.Name).Msg("⚠️ alert queue full, sound dropped")
	}
}

// Run 顺序播放排队的提示音，直到 ctx 结束
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.pending:
			d.play(ctx, a)
		}
	}
}

func (d *Dispatcher) play(ctx context.Context, a Alert) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PlayTimeout)
	defer cancel()

	if d.player != nil {
		err := d.player.Play(ctx, a.Pattern, a.Volume)
		if err == nil {
			metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "player").Inc()
			return
		}
		logger.L().Warn().Err(err).Str("pattern", a.Pattern.Name).Msg("⚠️ player failed, using synthesized tone")
	}
	if d.opts.Fallback == nil {
		metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "dropped").Inc()
		return
	}
	if err := d.opts.Fallback.Play(ctx, a.Pattern, a.Volume); err != nil {
		metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "dropped").Inc()
		logger.L().Error().Err(err).Str("pattern", a.Pattern.Name).Msg("synthesized tone failed")
		return
	}
	if sink, ok := d.opts.Fallback.(interface{ Discards() bool }); ok && sink.Discards() {
		metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "dropped").Inc()
		logger.L().Warn().Str("pattern", a.Pattern.Name).Msg("⚠️ fallback tone has no output, sound dropped")
		return
	}
	metrics.AlertsFired.WithLabelValues(a.Pattern.Name, "synth").Inc()
}

func (d *Dispatcher) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	d.settings.Muted = muted
	d.mu.Unlock()
}

func (d *Dispatcher) SetVibrate(on bool) {
	d.mu.Lock()
	d.settings.Vibrate = on
	d.mu.Unlock()
}

// SetVolume 只接受 0..1
func (d *Dispatcher) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return apperr.NewValidation("volume", "must be between 0 and 1")
	}
	d.mu.Lock()
	d.settings.Volume = v
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) Badges() Badges {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badges
}

// ClearNewOrders 在操作员看过新订单后清零角标
func (d *Dispatcher) ClearNewOrders() {
	d.mu.Lock()
	d.badges.NewOrders = 0
	d.mu.Unlock()
}

func (d *Dispatcher) View() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

func (d *Dispatcher) SetView(view string) {
	d.mu.Lock()
	d.view = view
	d.mu.Unlock()
}

// Resync 在全量同步后刷新角标
func (d *Dispatcher) Resync(v *realtime.View) {
	d.mu.Lock()
	d.badges.PendingRequests = v.PendingRequestCount()
	d.mu.Unlock()
}

func clampSettings(s Settings) Settings {
	if s.Volume < 0 {
		s.Volume = 0
	}
	if s.Volume > 1 {
		s.Volume = 1
	}
	return s
}
