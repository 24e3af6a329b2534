package application

import (
	"context"
	"strings"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/order/domain/port"
)

// ErrManualTierRequired 表示餐厅没有坐标，无法按距离计价，只能手动选择档位
var ErrManualTierRequired = apperr.NewValidation("manual_tier_id", "restaurant has no geocoded origin, choose a delivery tier")

// DeliveryFeeCalculator 解析地址距离并选出运费档位。
// 同一个下单会话内报价会被缓存，地址变化时作废。
type DeliveryFeeCalculator struct {
	geocoder port.Geocoder
	cache    port.QuoteCache
}

func NewDeliveryFeeCalculator(geocoder port.Geocoder, cache port.QuoteCache) *DeliveryFeeCalculator {
	return &DeliveryFeeCalculator{geocoder: geocoder, cache: cache}
}

// Quote 返回地址的运费报价。超出所有档位时 IsWithinRange 为 false，不是错误。
func (c *DeliveryFeeCalculator) Quote(ctx context.Context, sessionID string, restaurant domain.Restaurant, address string) (domain.DeliveryQuote, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.DeliveryQuote{}, apperr.NewValidation("address", "required for delivery orders")
	}
	if !restaurant.QuotesByDistance() {
		return domain.DeliveryQuote{}, ErrManualTierRequired
	}

	if sessionID != "" {
		cached, err := c.cache.Get(ctx, sessionID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("session", sessionID).Msg("⚠️ quote cache read failed, resolving again")
		}
		if cached != nil {
			if cached.Address == address && cached.RestaurantID == restaurant.ID {
				metrics.DeliveryQuotes.WithLabelValues("cached").Inc()
				return *cached, nil
			}
			if err := c.cache.Invalidate(ctx, sessionID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("session", sessionID).Msg("⚠️ failed to drop stale quote")
			}
		}
	}

	res, err := c.geocoder.Resolve(ctx, address, *restaurant.Origin)
	if err != nil {
		metrics.DeliveryQuotes.WithLabelValues("error").Inc()
		return domain.DeliveryQuote{}, &apperr.ResolutionError{Address: address, Err: err}
	}

	distance := domain.TruncateKm(res.DistanceKm)
	quote := domain.DeliveryQuote{
		RestaurantID:     restaurant.ID,
		Address:          address,
		FormattedAddress: res.FormattedAddress,
		DistanceKm:       distance,
		DurationMin:      res.DurationMin,
	}
	if tier, ok := domain.SelectTier(distance, restaurant.Tiers); ok {
		quote.IsWithinRange = true
		quote.TierID = tier.ID
		quote.Fee = tier.Price
		metrics.DeliveryQuotes.WithLabelValues("in_range").Inc()
	} else {
		metrics.DeliveryQuotes.WithLabelValues("out_of_range").Inc()
	}

	if sessionID != "" {
		if err := c.cache.Put(ctx, sessionID, quote); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("session", sessionID).Msg("⚠️ failed to cache delivery quote")
		}
	}
	return quote, nil
}

// Release 在订单创建后清除会话的报价
func (c *DeliveryFeeCalculator) Release(ctx context.Context, sessionID string) {
	if err := c.cache.Invalidate(ctx, sessionID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session", sessionID).Msg("⚠️ failed to release delivery quote")
	}
}
