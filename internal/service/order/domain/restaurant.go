package domain

import "time"

// Restaurant 只包含订单创建需要的配送信息
type Restaurant struct {
	ID     string
	Origin *Geocoordinate
	Tiers  []DeliveryRateTier
}

// QuotesByDistance 报告是否需要先用地理编码算出距离才能下配送单
func (r Restaurant) QuotesByDistance() bool {
	return r.Origin != nil && len(r.Tiers) > 0
}

// RestaurantSettings 是推送给收银端的餐厅设置
type RestaurantSettings struct {
	RestaurantID    string    `json:"restaurant_id"`
	PrimaryLanguage string    `json:"primary_language"`
	Theme           string    `json:"theme"`
	TimeZone        string    `json:"time_zone"`
	BusinessDate    string    `json:"business_date,omitempty"` // YYYY-MM-DD，营业日切换时填写
	UpdatedAt       time.Time `json:"updated_at"`
}
