// cmd/role-console/main.go
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"tableside/internal/pkg/bootstrap"
	"tableside/internal/pkg/httpclient"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/session"
	"tableside/internal/pkg/tracing"
	"tableside/internal/pkg/utils"
	"tableside/internal/service/alert"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
	realtimeinfra "tableside/internal/service/realtime/infrastructure"
)

const serviceName = "role-console"

const exitSessionExpired = 2

// role-console 是一个无界面的角色客户端：
// 订阅实时通道，维护活动订单视图，按角色发出提示，并从 stdin 读取操作指令。
func main() {
	os.Exit(run())
}

// run 返回退出码，保证 defer 的 tracer 刷新和信号注销在退出前执行
func run() int {
	cfg, err := bootstrap.LoadConfig(bootstrap.ConfigPath())
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	bootstrap.SetCurrentConfig(cfg)
	logger.Init(serviceName, cfg.App.LogLevel)

	shutdownTracer, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	token := utils.GetEnv("SESSION_TOKEN", "")
	if token == "" {
		logger.L().Error().Msg("SESSION_TOKEN is required, obtain one from POST /api/sessions")
		return 1
	}
	sess, err := session.ParseUnverified(token)
	if err != nil {
		logger.L().Error().Err(err).Msg("invalid session token")
		return 1
	}
	role := domain.Role(sess.Role)

	player, err := alert.NewExecPlayer(cfg.Alerts.PlayerCommand)
	var primary alert.Player
	if err != nil {
		logger.L().Warn().Err(err).Msg("⚠️ sound player unavailable, alerts use the fallback tone")
	} else {
		primary = player
	}
	fallback, closeFallback := openFallback(cfg.Alerts.SynthOutput)
	defer closeFallback()

	dispatcher := alert.NewDispatcher(role,
		alert.Settings{Muted: cfg.Alerts.Muted, Volume: cfg.Alerts.Volume, Vibrate: cfg.Alerts.Vibrate},
		primary,
		alert.Options{
			Fallback: fallback,
			OnAlert: func(a alert.Alert) {
				logger.L().Info().Str("pattern", a.Pattern.Name).Str("entity_id", a.EntityID).
					Bool("audible", a.Audible).Msg("🔔 alert")
			},
			OnViewChange: func(view string) {
				logger.L().Info().Str("view", view).Msg("ℹ️ switched view")
			},
		})

	client := httpclient.NewClient(otel.Tracer(serviceName))
	api := realtimeinfra.NewAPIClient(client, cfg.Realtime.APIBaseURL, token)
	transport := realtimeinfra.NewWSTransport(cfg.Realtime.GatewayURL, token)

	sink := realtime.SinkFunc(func(out realtime.Outcome, v *realtime.View) {
		dispatcher.Deliver(out, v)
		if out.Applied {
			render(role, v, dispatcher.Badges())
		}
	})
	router := realtime.NewRouter(sess, transport, api, sink, realtime.RouterOptions{
		MinBackoff: cfg.Realtime.MinBackoff,
		MaxBackoff: cfg.Realtime.MaxBackoff,
		OnState: func(s realtime.State, err error) {
			ev := logger.L().Info()
			if err != nil {
				ev = logger.L().Warn().Err(err)
			}
			ev.Str("state", string(s)).Msg("channel state")
		},
		OnResync: func(v *realtime.View) {
			dispatcher.Resync(v)
			render(role, v, dispatcher.Badges())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)
	go readCommands(ctx, bufio.NewScanner(os.Stdin), &console{
		actions:    realtime.NewActions(api, 5*time.Second),
		dispatcher: dispatcher,
		out:        os.Stdout,
	})

	logger.L().Info().Str("role", sess.Role).Str("restaurant_id", sess.RestaurantID).
		Time("expires_at", sess.ExpiresAt).Msg("✅ role console started")
	err = router.Run(ctx)
	switch code := exitCode(err); code {
	case 0:
		logger.L().Info().Msg("🛑 role console stopped")
		return 0
	case exitSessionExpired:
		logger.L().Error().Msg("🛑 session expired, log in again with your PIN")
		return code
	default:
		logger.L().Error().Err(err).Msg("role channel stopped")
		return code
	}
}

func exitCode(err error) int {
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, realtime.ErrSessionExpired):
		return exitSessionExpired
	default:
		return 1
	}
}

func render(role domain.Role, v *realtime.View, badges alert.Badges) {
	ev := logger.L().Info().Str("role", string(role)).
		Int("new_orders", badges.NewOrders).Int("pending_requests", badges.PendingRequests)
	orders := v.ActiveOrders()
	ev = ev.Int("active_orders", len(orders))
	if len(orders) > 0 {
		ev = ev.Str("oldest_order", orders[0].ID).Str("oldest_status", string(orders[0].Status))
	}
	if s, ok := v.Settings(); ok {
		ev = ev.Str("business_date", s.BusinessDate)
	}
	ev.Msg("view")
}

// openFallback 选择兜底提示音：配置了输出路径时写 PCM，否则在终端上响铃
func openFallback(path string) (alert.Player, func()) {
	if path == "" {
		return alert.NewTerminalBell(os.Stderr), func() {}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		logger.L().Warn().Err(err).Str("path", path).Msg("⚠️ cannot open synth output, falling back to the terminal bell")
		return alert.NewTerminalBell(os.Stderr), func() {}
	}
	return alert.NewToneSynth(f), func() { _ = f.Close() }
}
