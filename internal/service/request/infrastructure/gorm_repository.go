package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"tableside/internal/pkg/apperr"
	"tableside/internal/service/request/domain"
)

// ServiceRequestModel 对应 service_requests 表
type ServiceRequestModel struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)"`
	RestaurantID   string     `gorm:"type:varchar(64);index:idx_requests_restaurant_status,priority:1"`
	TableNo        string     `gorm:"type:varchar(32)"`
	RequestType    string     `gorm:"type:varchar(32)"`
	Message        string     `gorm:"type:text"`
	Status         string     `gorm:"type:varchar(16);index:idx_requests_restaurant_status,priority:2"`
	AcknowledgedBy string     `gorm:"type:varchar(64)"`
	AcknowledgedAt *time.Time `gorm:"precision:6"`
	CompletedBy    string     `gorm:"type:varchar(64)"`
	CompletedAt    *time.Time `gorm:"precision:6"`
	CreatedAt      time.Time  `gorm:"autoCreateTime:false;precision:6"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime:false;precision:6"`
}

func (ServiceRequestModel) TableName() string {
	return "service_requests"
}

func fromDomain(r *domain.ServiceRequest) *ServiceRequestModel {
	return &ServiceRequestModel{
		ID:             r.ID,
		RestaurantID:   r.RestaurantID,
		TableNo:        r.TableNo,
		RequestType:    string(r.RequestType),
		Message:        r.Message,
		Status:         string(r.Status),
		AcknowledgedBy: r.AcknowledgedBy,
		AcknowledgedAt: r.AcknowledgedAt,
		CompletedBy:    r.CompletedBy,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toDomain(m *ServiceRequestModel) *domain.ServiceRequest {
	return &domain.ServiceRequest{
		ID:             m.ID,
		RestaurantID:   m.RestaurantID,
		TableNo:        m.TableNo,
		RequestType:    domain.RequestType(m.RequestType),
		Message:        m.Message,
		Status:         domain.Status(m.Status),
		AcknowledgedBy: m.AcknowledgedBy,
		AcknowledgedAt: utcPtr(m.AcknowledgedAt),
		CompletedBy:    m.CompletedBy,
		CompletedAt:    utcPtr(m.CompletedAt),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

// transitionColumns 是状态流转时会更新的列
func transitionColumns(r *domain.ServiceRequest) map[string]interface{} {
	return map[string]interface{}{
		"status":          string(r.Status),
		"acknowledged_by": r.AcknowledgedBy,
		"acknowledged_at": r.AcknowledgedAt,
		"completed_by":    r.CompletedBy,
		"completed_at":    r.CompletedAt,
		"updated_at":      r.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// GormRequestRepository 是 domain.Repository 的 GORM 实现
type GormRequestRepository struct {
	db *gorm.DB
}

func NewGormRequestRepository(db *gorm.DB) *GormRequestRepository {
	return &GormRequestRepository{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ServiceRequestModel{})
}

func (r *GormRequestRepository) Create(ctx context.Context, req *domain.ServiceRequest) error {
	return errors.Wrapf(r.db.WithContext(ctx).Create(fromDomain(req)).Error, "insert service request %s", req.ID)
}

func (r *GormRequestRepository) FindByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	var model ServiceRequestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(apperr.ErrNotFound, "service request %s", id)
		}
		return nil, err
	}
	return toDomain(&model), nil
}

func (r *GormRequestRepository) ListActive(ctx context.Context, restaurantID string) ([]*domain.ServiceRequest, error) {
	var models []ServiceRequestModel
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ? AND status <> ?", restaurantID, string(domain.StatusCompleted)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ServiceRequest, 0, len(models))
	for i := range models {
		out = append(out, toDomain(&models[i]))
	}
	return out, nil
}

// UpdateStatus 用 WHERE status = expected 做比较并交换
func (r *GormRequestRepository) UpdateStatus(ctx context.Context, req *domain.ServiceRequest, expected domain.Status) error {
	res := r.db.WithContext(ctx).
		Model(&ServiceRequestModel{}).
		Where("id = ? AND status = ?", req.ID, string(expected)).
		Updates(transitionColumns(req))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update status of service request %s", req.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleStatus
	}
	return nil
}
