package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"tableside/internal/pkg/apperr"
	"tableside/internal/service/order/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// AutoMigrate 创建或更新订单相关的表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &RestaurantModel{}, &DeliveryTierModel{})
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model, err := FromDomainOrder(order)
	if err != nil {
		return err
	}
	return errors.Wrapf(r.db.WithContext(ctx).Create(model).Error, "insert order %s", order.ID)
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
		}
		return nil, err
	}
	return ToDomainOrder(&model)
}

func (r *GormOrderRepository) ListActive(ctx context.Context, restaurantID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ? AND status IN ?", restaurantID, statusStrings(domain.ActiveStatuses())).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainOrders(models)
}

// UpdateStatus 用 WHERE status = expected 做比较并交换，保证同一订单不会被并发推到两个终态
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, order *domain.Order, expected domain.Status) error {
	res := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", order.ID, string(expected)).
		Updates(statusColumns(order))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update status of order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleStatus
	}
	return nil
}

func (r *GormOrderRepository) ListCreatedSince(ctx context.Context, restaurantID string, since time.Time) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ? AND created_at >= ?", restaurantID, since).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainOrders(models)
}

func toDomainOrders(models []OrderModel) ([]*domain.Order, error) {
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		o, err := ToDomainOrder(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// GormRestaurantRepository 是 RestaurantRepository 的 GORM 实现
type GormRestaurantRepository struct {
	db *gorm.DB
}

func NewGormRestaurantRepository(db *gorm.DB) *GormRestaurantRepository {
	return &GormRestaurantRepository{db: db}
}

func (r *GormRestaurantRepository) FindRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	var model RestaurantModel
	err := r.db.WithContext(ctx).Preload("Tiers").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperr.ErrNotFound, "restaurant %s", id)
		}
		return nil, err
	}
	return ToDomainRestaurant(&model), nil
}

func (r *GormRestaurantRepository) ListSettings(ctx context.Context) ([]domain.RestaurantSettings, error) {
	var models []RestaurantModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RestaurantSettings, 0, len(models))
	for i := range models {
		out = append(out, ToDomainSettings(&models[i]))
	}
	return out, nil
}
