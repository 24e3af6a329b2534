// internal/service/request/application/service.go
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
	"tableside/internal/service/realtime"
	"tableside/internal/service/request/domain"
)

// CreateServiceRequest 是顾客在桌边发起请求的输入
type CreateServiceRequest struct {
	RestaurantID string             `json:"restaurant_id"`
	TableNo      string             `json:"table_no"`
	RequestType  domain.RequestType `json:"request_type"`
	Message      string             `json:"message"`
}

// RequestApplicationService 编排服务请求的创建与流转
type RequestApplicationService struct {
	repo      domain.Repository
	publisher realtime.Publisher
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

func NewRequestApplicationService(repo domain.Repository, publisher realtime.Publisher, tracer trace.Tracer) *RequestApplicationService {
	return &RequestApplicationService{
		repo:      repo,
		publisher: publisher,
		tracer:    tracer,
		now:       realtime.Now,
		newID:     uuid.NewString,
	}
}

func (s *RequestApplicationService) Create(ctx context.Context, in CreateServiceRequest) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateServiceRequest")
	defer span.End()

	now := s.now()
	req, err := domain.NewServiceRequest(s.newID(), in.RestaurantID, in.TableNo, in.RequestType, in.Message, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "service request validation failed")
		return nil, err
	}
	if err := s.repo.Create(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist service request")
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", req.ID), attribute.String("request.type", string(req.RequestType)))

	s.publish(ctx, realtime.NewRequestEvent(realtime.OpInsert, *req, now))
	logger.Ctx(ctx).Info().Str("request_id", req.ID).Str("table_no", req.TableNo).
		Str("type", string(req.RequestType)).Msg("✅ service request created")
	return req, nil
}

// SetStatus 推进服务请求的状态，并发冲突时返回以当前状态为起点的 InvalidTransition
func (s *RequestApplicationService) SetStatus(ctx context.Context, actorID, id string, target domain.Status) (*domain.ServiceRequest, error) {
	ctx, span := s.tracer.Start(ctx, "app.SetServiceRequestStatus")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", id), attribute.String("request.target", string(target)))

	cur, err := s.repo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	next, err := cur.Transition(target, actorID, s.now())
	if err != nil {
		metrics.RequestTransitions.WithLabelValues(string(target), "rejected").Inc()
		span.RecordError(err)
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, &next, cur.Status); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			metrics.RequestTransitions.WithLabelValues(string(target), "stale").Inc()
			return nil, s.staleTransition(ctx, id, target)
		}
		metrics.RequestTransitions.WithLabelValues(string(target), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update service request")
		return nil, err
	}
	metrics.RequestTransitions.WithLabelValues(string(target), "ok").Inc()

	s.publish(ctx, realtime.NewRequestEvent(realtime.OpUpdate, next, s.now()))
	return &next, nil
}

func (s *RequestApplicationService) staleTransition(ctx context.Context, id string, target domain.Status) error {
	latest, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return &apperr.InvalidTransition{
		From:   string(latest.Status),
		To:     string(target),
		Reason: "status changed concurrently",
	}
}

func (s *RequestApplicationService) ListActive(ctx context.Context, restaurantID string) ([]*domain.ServiceRequest, error) {
	if restaurantID == "" {
		return nil, apperr.NewValidation("restaurant_id", "required")
	}
	return s.repo.ListActive(ctx, restaurantID)
}

func (s *RequestApplicationService) Get(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	return s.repo.FindByID(ctx, id)
}

// publish 失败只记录日志，请求已经写入存储
func (s *RequestApplicationService) publish(ctx context.Context, ev realtime.ChangeEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", ev.EntityID).Msg("⚠️ service request change event was not published")
	}
}
