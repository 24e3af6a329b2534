// internal/pkg/tracing/tracer.go
package tracing

import (
	"context"

	"tableside/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc 在服务退出时调用，确保缓冲中的 span 被发送出去。
type ShutdownFunc func(ctx context.Context) error

// InitTracerProvider initializes and registers a Jaeger TraceProvider.
// endpoint 为空时只注册 propagator，不导出任何 span。
func InitTracerProvider(serviceName, jaegerEndpoint string) (ShutdownFunc, error) {
	// 设置全局的 TextMapPropagator，用于在服务间（HTTP header / Kafka header）传递上下文
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if jaegerEndpoint == "" {
		logger.L().Warn().Str("service", serviceName).Msg("⚠️ Jaeger endpoint not set, tracing export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.L().Info().Str("endpoint", jaegerEndpoint).Msgf("Tracing initialized for service '%s'", serviceName)
	return tp.Shutdown, nil
}
