// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrStaleStatus 表示比较并交换失败：存储中的状态已经不是调用方看到的状态。
var ErrStaleStatus = errors.New("order status changed concurrently")

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 插入一个新订单
	Create(ctx context.Context, order *Order) error

	// FindByID 查找订单，终态订单同样可以查到
	FindByID(ctx context.Context, id string) (*Order, error)

	// ListActive 返回餐厅所有非终态订单，按创建时间排序
	ListActive(ctx context.Context, restaurantID string) ([]*Order, error)

	// UpdateStatus 只在存储中的状态仍为 expected 时写入新状态和时间戳，
	// 否则返回 ErrStaleStatus。金额字段永远不会被更新。
	UpdateStatus(ctx context.Context, order *Order, expected Status) error

	// ListCreatedSince 返回某时刻之后创建的订单，用于收银报表
	ListCreatedSince(ctx context.Context, restaurantID string, since time.Time) ([]*Order, error)
}

// RestaurantRepository 提供餐厅的配送配置和展示设置
type RestaurantRepository interface {
	FindRestaurant(ctx context.Context, id string) (*Restaurant, error)
	ListSettings(ctx context.Context) ([]RestaurantSettings, error)
}
