// Package dayboundary 在每个餐厅的当地零点发出一次营业日切换事件，
// 收银端据此清空当日汇总。
package dayboundary

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tableside/internal/pkg/logger"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
)

const markerPrefix = "day_boundary:"

// SettingsSource 列出所有餐厅的展示设置
type SettingsSource interface {
	ListSettings(ctx context.Context) ([]domain.RestaurantSettings, error)
}

// Marker 保证每个餐厅每个营业日只发一次，换主节点后也不会重复
type Marker interface {
	Claim(ctx context.Context, restaurantID, date string) (bool, error)
	Release(ctx context.Context, restaurantID, date string) error
}

// RedisMarker 用 SETNX 记录已经发出的营业日
type RedisMarker struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewRedisMarker(rdb goredis.UniversalClient) *RedisMarker {
	return &RedisMarker{rdb: rdb, ttl: 48 * time.Hour}
}

func (m *RedisMarker) Claim(ctx context.Context, restaurantID, date string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, markerPrefix+restaurantID+":"+date, 1, m.ttl).Result()
	return ok, errors.Wrap(err, "claim day boundary")
}

func (m *RedisMarker) Release(ctx context.Context, restaurantID, date string) error {
	return m.rdb.Del(ctx, markerPrefix+restaurantID+":"+date).Err()
}

type Scheduler struct {
	settings  SettingsSource
	marker    Marker
	publisher realtime.Publisher
	tracer    trace.Tracer
	now       func() time.Time
}

func NewScheduler(settings SettingsSource, marker Marker, publisher realtime.Publisher, tracer trace.Tracer) *Scheduler {
	return &Scheduler{
		settings:  settings,
		marker:    marker,
		publisher: publisher,
		tracer:    tracer,
		now:       realtime.Now,
	}
}

// Run 每个 interval 检查一次，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	logger.L().Info().Dur("interval", interval).Msg("✅ day boundary scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil {
			logger.L().Error().Err(err).Msg("day boundary check failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.L().Info().Msg("🛑 day boundary scheduler stopped")
			return
		}
	}
}

// Tick 为当地日期已经变化、且还没发过事件的餐厅发出设置事件，返回发出的数量
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.DayBoundary")
	defer span.End()

	all, err := s.settings.ListSettings(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list settings failed")
		return 0, err
	}

	now := s.now()
	sent := 0
	for _, st := range all {
		date := now.In(location(st.TimeZone)).Format("2006-01-02")
		claimed, err := s.marker.Claim(ctx, st.RestaurantID, date)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("restaurant_id", st.RestaurantID).Msg("⚠️ could not claim day boundary")
			continue
		}
		if !claimed {
			continue
		}

		st.BusinessDate = date
		// 事件时间必须比该餐厅之前的设置事件新，否则会被订阅端当作旧事件丢掉
		if st.UpdatedAt.Before(now) {
			st.UpdatedAt = now
		} else {
			st.UpdatedAt = st.UpdatedAt.Add(time.Microsecond)
		}
		if err := s.publisher.Publish(ctx, realtime.NewSettingsEvent(st, now)); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("restaurant_id", st.RestaurantID).Msg("⚠️ day boundary not published, will retry")
			if err := s.marker.Release(ctx, st.RestaurantID, date); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("restaurant_id", st.RestaurantID).Msg("failed to release day boundary marker")
			}
			continue
		}
		sent++
		logger.Ctx(ctx).Info().Str("restaurant_id", st.RestaurantID).Str("business_date", date).Msg("✅ day boundary published")
	}
	span.SetAttributes(attribute.Int("day_boundary.sent", sent))
	return sent, nil
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
