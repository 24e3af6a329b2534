package saga

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
)

// LoadRestaurantHandler 读取餐厅的配送配置
type LoadRestaurantHandler struct {
	NextHandler
}

func (h *LoadRestaurantHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.LoadRestaurant")
	defer span.End()

	if orderCtx.Spec.RestaurantID == "" {
		// 交给 NewOrder 给出字段级的校验错误
		orderCtx.Restaurant = &domain.Restaurant{}
		return h.executeNext(orderCtx)
	}
	r, err := orderCtx.Restaurants.FindRestaurant(ctx, orderCtx.Spec.RestaurantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restaurant lookup failed")
		return err
	}
	orderCtx.Restaurant = r
	return h.executeNext(orderCtx)
}

// DeliveryFeeHandler 为按距离计价的配送单解析运费。
// 解析成功时总是按报价计费；只有解析失败且顾客选了档位时才退回手动档位。
type DeliveryFeeHandler struct {
	NextHandler
}

func (h *DeliveryFeeHandler) Handle(orderCtx *OrderContext) error {
	spec := orderCtx.Spec
	if spec.ServiceType != domain.ServiceDelivery || !orderCtx.Restaurant.QuotesByDistance() || spec.Address == "" {
		return h.executeNext(orderCtx)
	}

	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.DeliveryFee")
	defer span.End()

	quote, err := orderCtx.Quotes.Quote(ctx, orderCtx.QuoteSession, *orderCtx.Restaurant, spec.Address)
	var resolveErr *apperr.ResolutionError
	switch {
	case err == nil:
		if spec.ManualTierID != "" {
			logger.Ctx(ctx).Info().Str("manual_tier_id", spec.ManualTierID).Msg("ℹ️ address resolved, manual tier ignored")
		}
	case errors.As(err, &resolveErr) && spec.ManualTierID != "":
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("manual_tier_id", spec.ManualTierID).Msg("⚠️ address not resolved, using manual tier")
		quote = domain.DeliveryQuote{RestaurantID: orderCtx.Restaurant.ID, Address: spec.Address, Unresolved: true}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery fee resolution failed")
		return err
	}
	span.SetAttributes(
		attribute.String("delivery.distance_km", quote.DistanceKm.String()),
		attribute.Bool("delivery.within_range", quote.IsWithinRange),
		attribute.Bool("delivery.unresolved", quote.Unresolved),
	)
	orderCtx.Quote = &quote
	return h.executeNext(orderCtx)
}

// BuildOrderHandler 校验输入并算出金额
type BuildOrderHandler struct {
	NextHandler
}

func (h *BuildOrderHandler) Handle(orderCtx *OrderContext) error {
	_, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.BuildOrder")
	defer span.End()

	o, err := domain.NewOrder(orderCtx.OrderID, orderCtx.Spec, *orderCtx.Restaurant, orderCtx.Quote, orderCtx.Now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order validation failed")
		return err
	}
	span.SetAttributes(attribute.String("order.total_price", o.TotalPrice.String()))
	orderCtx.Order = o
	return h.executeNext(orderCtx)
}

// PersistOrderHandler 写入存储，这是唯一的权威写入点
type PersistOrderHandler struct {
	NextHandler
}

func (h *PersistOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PersistOrder")
	defer span.End()

	if err := orderCtx.Orders.Create(ctx, orderCtx.Order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		return err
	}
	metrics.OrdersCreated.WithLabelValues(string(orderCtx.Order.ServiceType)).Inc()
	return h.executeNext(orderCtx)
}

// PublishHandler 发出 insert 事件。
// 订单已经写入，发送失败只记录日志，订阅端会在下一次全量同步时补上。
type PublishHandler struct {
	NextHandler
}

func (h *PublishHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := orderCtx.Tracer.Start(orderCtx.Ctx, "saga.PublishInsert")
	defer span.End()

	ev := realtime.NewOrderEvent(realtime.OpInsert, *orderCtx.Order, orderCtx.Now)
	if err := orderCtx.Publisher.Publish(ctx, ev); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderCtx.Order.ID).Msg("⚠️ order created but insert event was not published")
	}
	return h.executeNext(orderCtx)
}

// ReleaseQuoteHandler 在订单创建后清掉会话的运费报价
type ReleaseQuoteHandler struct {
	NextHandler
}

func (h *ReleaseQuoteHandler) Handle(orderCtx *OrderContext) error {
	if orderCtx.Quote != nil && orderCtx.QuoteSession != "" {
		orderCtx.Quotes.Release(orderCtx.Ctx, orderCtx.QuoteSession)
	}
	return h.executeNext(orderCtx)
}
