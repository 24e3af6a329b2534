package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DeliveryRateTier 是按距离计价的一档运费
type DeliveryRateTier struct {
	ID         string          `json:"id"`
	DistanceKm decimal.Decimal `json:"distance_km"`
	Price      decimal.Decimal `json:"price"`
}

// Geocoordinate 是餐厅的经纬度
type Geocoordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DeliveryQuote 是一次运费计算的结果，只在当前下单会话内有效。
// Unresolved 表示该地址解析失败，只有这时才允许手动选择档位。
type DeliveryQuote struct {
	RestaurantID     string          `json:"restaurant_id"`
	Address          string          `json:"address"`
	FormattedAddress string          `json:"formatted_address"`
	DistanceKm       decimal.Decimal `json:"distance_km"`
	DurationMin      int             `json:"duration_min"`
	IsWithinRange    bool            `json:"is_within_range"`
	TierID           string          `json:"tier_id,omitempty"`
	Fee              decimal.Decimal `json:"fee"`
	Unresolved       bool            `json:"unresolved,omitempty"`
}

// SortTiers 按距离从小到大排序，返回新切片
func SortTiers(tiers []DeliveryRateTier) []DeliveryRateTier {
	sorted := append([]DeliveryRateTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DistanceKm.LessThan(sorted[j].DistanceKm)
	})
	return sorted
}

// TruncateKm 把距离截断到 0.01 km，不做四舍五入
func TruncateKm(km float64) decimal.Decimal {
	return decimal.NewFromFloat(km).Truncate(2)
}

// SelectTier 选出 distance_km >= 距离的最小一档。
// 超出最大一档时返回 false，此时没有运费。
func SelectTier(distance decimal.Decimal, tiers []DeliveryRateTier) (DeliveryRateTier, bool) {
	for _, t := range SortTiers(tiers) {
		if t.DistanceKm.GreaterThanOrEqual(distance) {
			return t, true
		}
	}
	return DeliveryRateTier{}, false
}

// FindTier 按 ID 查找手动选择的档位
func FindTier(tiers []DeliveryRateTier, id string) (DeliveryRateTier, bool) {
	for _, t := range tiers {
		if t.ID == id {
			return t, true
		}
	}
	return DeliveryRateTier{}, false
}
