// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init 初始化全局 logger，所有服务在启动时调用一次。
// level 为空或无法解析时使用 info。
func Init(serviceName, level string) {
	InitWithWriter(serviceName, level, os.Stdout)
}

// InitWithWriter 与 Init 相同，但允许指定输出目标（测试中使用）。
func InitWithWriter(serviceName, level string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	hostname, _ := os.Hostname()

	mu.Lock()
	base = zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Str("hostname", hostname).
		Logger()
	mu.Unlock()
}

// L 返回不带请求上下文的全局 logger。
func L() *zerolog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	return &l
}

// Ctx 返回携带当前 trace_id / span_id 的 logger，
// 这样日志可以和 Jaeger 中的链路关联起来。
func Ctx(ctx context.Context) *zerolog.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()

	if ctx == nil {
		return &l
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()
	}
	return &l
}
