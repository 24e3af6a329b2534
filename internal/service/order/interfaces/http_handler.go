package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/session"
	"tableside/internal/service/order/application"
	"tableside/internal/service/order/domain"
)

const serviceName = "order-service"

// OrderService 是 HTTP 层用到的订单用例
type OrderService interface {
	CreateOrder(ctx context.Context, req *application.CreateOrderRequest) (*domain.Order, error)
	SetStatus(ctx context.Context, actor application.Actor, orderID string, target domain.Status) (*domain.Order, error)
	ListActive(ctx context.Context, restaurantID string) ([]*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	Quote(ctx context.Context, req application.QuoteRequest) (domain.DeliveryQuote, error)
	RevenueReport(ctx context.Context, restaurantID string, days int) (application.RevenueReport, error)
}

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service  OrderService
	verifier session.Verifier
}

func NewOrderHandler(service OrderService, verifier session.Verifier) *OrderHandler {
	return &OrderHandler{service: service, verifier: verifier}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
// 顾客下单和报价不需要员工会话，其余接口都需要。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("POST /api/delivery/quote", h.quote)
	mux.HandleFunc("GET /api/orders", session.RequireSession(h.verifier, h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", session.RequireSession(h.verifier, h.getOrder))
	mux.HandleFunc("PUT /api/orders/{id}/status", session.RequireSession(h.verifier, h.setStatus))
	mux.HandleFunc("GET /api/reports/revenue", session.RequireSession(h.verifier, h.revenueReport))
}

// StatusUpdate 是状态流转接口的请求体
type StatusUpdate struct {
	Status string `json:"status"`
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(serviceName).Start(extract(r), "http.CreateOrder")
	defer span.End()

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, apperr.NewValidation("", "malformed JSON body"))
		return
	}
	if req.QuoteSession == "" {
		req.QuoteSession = h.callerSession(ctx, r)
	}
	o, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) quote(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(serviceName).Start(extract(r), "http.DeliveryQuote")
	defer span.End()

	var req application.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteError(w, apperr.NewValidation("", "malformed JSON body"))
		return
	}
	if req.QuoteSession == "" {
		req.QuoteSession = h.callerSession(ctx, r)
	}
	q, err := h.service.Quote(ctx, req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	restaurantID := restaurantParam(r)
	orders, err := h.service.ListActive(ctx, restaurantID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(extract(r), r.PathValue("id"))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(serviceName).Start(extract(r), "http.SetOrderStatus")
	defer span.End()

	sess, _ := session.FromContext(r.Context())
	var body StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		apperr.WriteError(w, apperr.NewValidation("status", "required"))
		return
	}
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("order.id", id), attribute.String("actor.role", sess.Role))

	actor := application.Actor{StaffID: sess.StaffID, Role: domain.Role(sess.Role), RestaurantID: sess.RestaurantID}
	o, err := h.service.SetStatus(ctx, actor, id, domain.Status(body.Status))
	if err != nil {
		logger.Ctx(ctx).Info().Err(err).Str("order_id", id).Str("target", body.Status).Msg("status change refused")
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) revenueReport(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apperr.WriteError(w, apperr.NewValidation("days", "must be an integer"))
			return
		}
		days = n
	}
	rep, err := h.service.RevenueReport(extract(r), restaurantParam(r), days)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// callerSession 返回请求里携带的有效会话 ID，没有时返回空字符串
func (h *OrderHandler) callerSession(ctx context.Context, r *http.Request) string {
	token := session.BearerToken(r)
	if token == "" {
		return ""
	}
	sess, err := h.verifier.Verify(ctx, token)
	if err != nil {
		return ""
	}
	return sess.ID
}

// restaurantParam 默认使用会话所属的餐厅
func restaurantParam(r *http.Request) string {
	if id := r.URL.Query().Get("restaurant_id"); id != "" {
		return id
	}
	sess, _ := session.FromContext(r.Context())
	return sess.RestaurantID
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
