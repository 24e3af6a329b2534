// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/nacos"
	"tableside/internal/pkg/tracing"
	"tableside/internal/pkg/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // nacos 未启用时为 nil
	Config *Config
	Tracer trace.Tracer
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	// RegisterHandlers 注册服务自己的 HTTP 路由，/healthz 和 /metrics 由 bootstrap 注册
	RegisterHandlers func(appCtx AppCtx) error
	// Background 是随服务一起运行的后台任务（消费者、定时器等），ctx 在关停时取消
	Background []func(ctx context.Context, appCtx AppCtx)
	// Cleanup 在 HTTP 服务关闭之后按注册顺序执行
	Cleanup []func()
}

// ConfigPath 返回配置文件路径，可以用 CONFIG_PATH 覆盖
func ConfigPath() string {
	return utils.GetEnv("CONFIG_PATH", "config.yaml")
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	// 1. 读取配置并初始化日志
	cfg, err := LoadConfig(ConfigPath())
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	SetCurrentConfig(cfg)
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	// 2. 初始化 Tracer
	shutdownTracer, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 3. 服务注册（可选）
	var (
		namingClient *nacos.Client
		self         nacos.Instance
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewClient(nacos.Options{
			ServerAddrs: cfg.Infra.Nacos.ServerAddrs,
			Namespace:   cfg.Infra.Nacos.Namespace,
			Group:       cfg.Infra.Nacos.Group,
		})
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err := utils.GetOutboundIP()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		self = nacos.Instance{
			Service:  info.ServiceName,
			IP:       ip,
			Port:     info.Port,
			Metadata: map[string]string{"env": cfg.App.Env},
		}
		if err := namingClient.Register(self); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 4. 注册路由
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	appCtx := AppCtx{Mux: mux, Nacos: namingClient, Config: cfg, Tracer: otel.Tracer(info.ServiceName)}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to register handlers")
		}
	}

	// 5. 启动后台任务和 HTTP Server
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, task := range info.Background {
		wg.Add(1)
		go func(task func(context.Context, AppCtx)) {
			defer wg.Done()
			task(bgCtx, appCtx)
		}(task)
	}

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.L().Info().Msgf("✅ %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 6. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info().Msgf("🛑 Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 先从 Nacos 注销，不再接收新流量
	if namingClient != nil {
		if err := namingClient.Deregister(self); err != nil {
			logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
		}
		namingClient.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down http server")
	}

	// c. 停止后台任务
	stopBackground()
	wg.Wait()

	for _, fn := range info.Cleanup {
		fn()
	}

	// d. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := shutdownTracer(ctx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
	}

	logger.L().Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
