package port

import (
	"context"

	"tableside/internal/service/order/domain"
)

// Resolution 是地址解析服务的返回结果
type Resolution struct {
	DistanceKm       float64 `json:"distance_km"`
	DurationMin      int     `json:"duration_min"`
	FormattedAddress string  `json:"formatted_address"`
}

// Geocoder 是地理编码/距离服务的出站端口。
type Geocoder interface {
	// Resolve 把地址解析为与 origin 之间的行驶距离
	Resolve(ctx context.Context, address string, origin domain.Geocoordinate) (Resolution, error)
}

// QuoteCache 在一次下单会话内缓存运费报价
type QuoteCache interface {
	Get(ctx context.Context, sessionID string) (*domain.DeliveryQuote, error)
	Put(ctx context.Context, sessionID string, quote domain.DeliveryQuote) error
	Invalidate(ctx context.Context, sessionID string) error
}
