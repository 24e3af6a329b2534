package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/session"
	"tableside/internal/service/request/application"
	"tableside/internal/service/request/domain"
)

// RequestService 是 HTTP 层用到的服务请求用例
type RequestService interface {
	Create(ctx context.Context, in application.CreateServiceRequest) (*domain.ServiceRequest, error)
	SetStatus(ctx context.Context, actorID, id string, target domain.Status) (*domain.ServiceRequest, error)
	ListActive(ctx context.Context, restaurantID string) ([]*domain.ServiceRequest, error)
	Get(ctx context.Context, id string) (*domain.ServiceRequest, error)
}

type RequestHandler struct {
	service  RequestService
	verifier session.Verifier
}

func NewRequestHandler(service RequestService, verifier session.Verifier) *RequestHandler {
	return &RequestHandler{service: service, verifier: verifier}
}

// RegisterRoutes 注册服务请求接口，创建由桌边顾客发起，不需要会话
func (h *RequestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/service-requests", h.create)
	mux.HandleFunc("GET /api/service-requests", session.RequireSession(h.verifier, h.list))
	mux.HandleFunc("GET /api/service-requests/{id}", session.RequireSession(h.verifier, h.get))
	mux.HandleFunc("PUT /api/service-requests/{id}/status", session.RequireSession(h.verifier, h.setStatus))
}

func (h *RequestHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("order-service").Start(extract(r), "http.CreateServiceRequest")
	defer span.End()

	var in application.CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperr.WriteError(w, apperr.NewValidation("", "malformed JSON body"))
		return
	}
	req, err := h.service.Create(ctx, in)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) list(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.URL.Query().Get("restaurant_id")
	if restaurantID == "" {
		sess, _ := session.FromContext(r.Context())
		restaurantID = sess.RestaurantID
	}
	reqs, err := h.service.ListActive(extract(r), restaurantID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*domain.ServiceRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

func (h *RequestHandler) get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(extract(r), r.PathValue("id"))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("order-service").Start(extract(r), "http.SetServiceRequestStatus")
	defer span.End()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		apperr.WriteError(w, apperr.NewValidation("status", "required"))
		return
	}
	sess, _ := session.FromContext(r.Context())
	id := r.PathValue("id")
	span.SetAttributes(attribute.String("request.id", id), attribute.String("actor.staff_id", sess.StaffID))

	req, err := h.service.SetStatus(ctx, sess.StaffID, id, domain.Status(body.Status))
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
