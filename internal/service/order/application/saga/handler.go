package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
)

// QuoteResolver 为下单会话计算（或复用）运费报价
type QuoteResolver interface {
	Quote(ctx context.Context, sessionID string, restaurant domain.Restaurant, address string) (domain.DeliveryQuote, error)
	Release(ctx context.Context, sessionID string)
}

// OrderContext 在创建订单的责任链中传递上下文数据。
type OrderContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Now    time.Time

	// 输入
	OrderID string
	Spec    domain.OrderSpec
	// QuoteSession 是下单会话 ID，运费报价按它缓存
	QuoteSession string

	// 各步骤的产出
	Restaurant *domain.Restaurant
	Quote      *domain.DeliveryQuote
	Order      *domain.Order

	// 依赖出站端口
	Restaurants domain.RestaurantRepository
	Orders      domain.OrderRepository
	Quotes      QuoteResolver
	Publisher   realtime.Publisher
}

// Handler 和 NextHandler 组成创建订单的责任链
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}

// BuildCreateChain 组装创建订单的完整流程
func BuildCreateChain() Handler {
	chain := new(LoadRestaurantHandler)
	chain.
		SetNext(new(DeliveryFeeHandler)).
		SetNext(new(BuildOrderHandler)).
		SetNext(new(PersistOrderHandler)).
		SetNext(new(PublishHandler)).
		SetNext(new(ReleaseQuoteHandler))
	return chain
}
