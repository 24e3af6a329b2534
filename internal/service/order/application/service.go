// internal/service/order/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/service/order/application/saga"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
)

// OrderApplicationService 只关注业务流程编排，
// 所有不变量都在领域层和存储的比较并交换中保证。
type OrderApplicationService struct {
	orders      domain.OrderRepository
	restaurants domain.RestaurantRepository
	policy      domain.Policy
	fees        *DeliveryFeeCalculator
	publisher   realtime.Publisher
	tracer      trace.Tracer
	location    *time.Location

	now   func() time.Time
	newID func() string
}

func NewOrderApplicationService(
	orders domain.OrderRepository,
	restaurants domain.RestaurantRepository,
	policy domain.Policy,
	fees *DeliveryFeeCalculator,
	publisher realtime.Publisher,
	tracer trace.Tracer,
	location *time.Location,
) *OrderApplicationService {
	if location == nil {
		location = time.UTC
	}
	return &OrderApplicationService{
		orders:      orders,
		restaurants: restaurants,
		policy:      policy,
		fees:        fees,
		publisher:   publisher,
		tracer:      tracer,
		location:    location,
		now:         realtime.Now,
		newID:       uuid.NewString,
	}
}

// CreateOrder 校验、计价、写入并发出 insert 事件
func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.restaurant_id", req.RestaurantID),
		attribute.String("order.service_type", string(req.ServiceType)),
	)

	orderCtx := &saga.OrderContext{
		Ctx:          ctx,
		Tracer:       s.tracer,
		Now:          s.now(),
		OrderID:      s.newID(),
		Spec:         req.ToSpec(),
		QuoteSession: req.QuoteSession,
		Restaurants:  s.restaurants,
		Orders:       s.orders,
		Quotes:       s.fees,
		Publisher:    s.publisher,
	}

	if err := saga.BuildCreateChain().Handle(orderCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order creation failed")
		logger.Ctx(ctx).Info().Err(err).Str("restaurant_id", req.RestaurantID).Msg("order rejected")
		return nil, err
	}

	o := orderCtx.Order
	span.SetAttributes(attribute.String("order.id", o.ID))
	logger.Ctx(ctx).Info().Str("order_id", o.ID).Str("service_type", string(o.ServiceType)).
		Str("total_price", o.TotalPrice.String()).Msg("✅ order created")
	return o, nil
}

// SetStatus 按状态图和角色权限推进订单。
// 存储拒绝比较并交换时，重新读取当前状态并以它为起点报告 InvalidTransition。
func (s *OrderApplicationService) SetStatus(ctx context.Context, actor Actor, orderID string, target domain.Status) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.SetOrderStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target", string(target)),
		attribute.String("actor.role", string(actor.Role)),
	)

	cur, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	next, err := domain.Transition(*cur, target, actor.Role, s.policy, s.now())
	if err != nil {
		metrics.OrderTransitions.WithLabelValues(string(target), "rejected").Inc()
		span.RecordError(err)
		return nil, err
	}

	if err := s.orders.UpdateStatus(ctx, &next, cur.Status); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			metrics.OrderTransitions.WithLabelValues(string(target), "stale").Inc()
			return nil, s.staleTransition(ctx, orderID, target, actor.Role)
		}
		metrics.OrderTransitions.WithLabelValues(string(target), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update order status")
		return nil, err
	}
	metrics.OrderTransitions.WithLabelValues(string(target), "ok").Inc()

	if err := s.publisher.Publish(ctx, realtime.NewOrderEvent(realtime.OpUpdate, next, s.now())); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", next.ID).Msg("⚠️ order updated but change event was not published")
	}
	logger.Ctx(ctx).Info().Str("order_id", next.ID).Str("from", string(cur.Status)).
		Str("to", string(next.Status)).Str("actor", actor.StaffID).Msg("order status changed")
	return &next, nil
}

func (s *OrderApplicationService) staleTransition(ctx context.Context, orderID string, target domain.Status, role domain.Role) error {
	latest, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	return &apperr.InvalidTransition{
		From:   string(latest.Status),
		To:     string(target),
		Role:   string(role),
		Reason: "status changed concurrently",
	}
}

func (s *OrderApplicationService) ListActive(ctx context.Context, restaurantID string) ([]*domain.Order, error) {
	if restaurantID == "" {
		return nil, apperr.NewValidation("restaurant_id", "required")
	}
	return s.orders.ListActive(ctx, restaurantID)
}

// Get 按 id 查询订单，终态订单同样可以查到
func (s *OrderApplicationService) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, id)
}

// Quote 为下单会话计算运费
func (s *OrderApplicationService) Quote(ctx context.Context, req QuoteRequest) (domain.DeliveryQuote, error) {
	ctx, span := s.tracer.Start(ctx, "app.DeliveryQuote")
	defer span.End()

	if req.RestaurantID == "" {
		return domain.DeliveryQuote{}, apperr.NewValidation("restaurant_id", "required")
	}
	r, err := s.restaurants.FindRestaurant(ctx, req.RestaurantID)
	if err != nil {
		span.RecordError(err)
		return domain.DeliveryQuote{}, err
	}
	q, err := s.fees.Quote(ctx, req.QuoteSession, *r, req.Address)
	if err != nil {
		span.RecordError(err)
		return domain.DeliveryQuote{}, err
	}
	return q, nil
}

// RevenueReport 汇总最近 days 天的营业数据
func (s *OrderApplicationService) RevenueReport(ctx context.Context, restaurantID string, days int) (RevenueReport, error) {
	ctx, span := s.tracer.Start(ctx, "app.RevenueReport")
	defer span.End()

	if restaurantID == "" {
		return RevenueReport{}, apperr.NewValidation("restaurant_id", "required")
	}
	days = clampDays(days)
	since := reportStart(s.now(), days, s.location)
	orders, err := s.orders.ListCreatedSince(ctx, restaurantID, since)
	if err != nil {
		span.RecordError(err)
		return RevenueReport{}, err
	}
	return BuildRevenueReport(restaurantID, orders, since, days, s.location), nil
}
