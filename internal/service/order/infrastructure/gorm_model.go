package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OrderModel 对应数据库中的 orders 表。
// 时间戳由领域层给出，关闭 gorm 的自动时间戳。
type OrderModel struct {
	ID                  string          `gorm:"primaryKey;type:varchar(36)"`
	RestaurantID        string          `gorm:"type:varchar(64);index:idx_orders_restaurant_status,priority:1;index:idx_orders_restaurant_created,priority:1"`
	ServiceType         string          `gorm:"type:varchar(16)"`
	TableNo             string          `gorm:"type:varchar(32)"`
	CustomerName        string          `gorm:"type:varchar(128)"`
	CustomerPhone       string          `gorm:"type:varchar(32)"`
	Address             string          `gorm:"type:text"`
	SpecialInstructions string          `gorm:"type:text"`
	Items               datatypes.JSON  `gorm:"type:json"`
	Subtotal            decimal.Decimal `gorm:"type:decimal(12,2)"`
	DeliveryFee         decimal.Decimal `gorm:"type:decimal(12,2)"`
	Tax                 decimal.Decimal `gorm:"type:decimal(12,2)"`
	TotalPrice          decimal.Decimal `gorm:"type:decimal(12,2)"`
	Status              string          `gorm:"type:varchar(16);index:idx_orders_restaurant_status,priority:2"`
	PaymentStatus       string          `gorm:"type:varchar(16);default:unpaid"`
	CreatedAt           time.Time       `gorm:"autoCreateTime:false;precision:6;index:idx_orders_restaurant_created,priority:2"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime:false;precision:6"`
	CompletedAt         *time.Time      `gorm:"precision:6"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// RestaurantModel 对应 restaurants 表
type RestaurantModel struct {
	ID              string   `gorm:"primaryKey;type:varchar(64)"`
	Name            string   `gorm:"type:varchar(128)"`
	Lat             *float64 // 没有坐标时不做距离计算
	Lng             *float64
	PrimaryLanguage string    `gorm:"type:varchar(8);default:th"`
	Theme           string    `gorm:"type:varchar(32)"`
	TimeZone        string    `gorm:"type:varchar(64)"`
	UpdatedAt       time.Time `gorm:"precision:6"`

	Tiers []DeliveryTierModel `gorm:"foreignKey:RestaurantID"`
}

func (RestaurantModel) TableName() string {
	return "restaurants"
}

// DeliveryTierModel 对应 delivery_rate_tiers 表
type DeliveryTierModel struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)"`
	RestaurantID string          `gorm:"type:varchar(64);index"`
	DistanceKm   decimal.Decimal `gorm:"type:decimal(8,2)"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2)"`
}

func (DeliveryTierModel) TableName() string {
	return "delivery_rate_tiers"
}
