package infrastructure

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"

	"tableside/internal/service/order/domain"
)

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) (*OrderModel, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}
	return &OrderModel{
		ID:                  o.ID,
		RestaurantID:        o.RestaurantID,
		ServiceType:         string(o.ServiceType),
		TableNo:             o.TableNo,
		CustomerName:        o.CustomerName,
		CustomerPhone:       o.CustomerPhone,
		Address:             o.Address,
		SpecialInstructions: o.SpecialInstructions,
		Items:               datatypes.JSON(items),
		Subtotal:            o.Subtotal,
		DeliveryFee:         o.DeliveryFee,
		Tax:                 o.Tax,
		TotalPrice:          o.TotalPrice,
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		CompletedAt:         o.CompletedAt,
	}, nil
}

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(m *OrderModel) (*domain.Order, error) {
	if m == nil {
		return nil, nil
	}
	var items []domain.OrderItem
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &items); err != nil {
			return nil, errors.Wrapf(err, "unmarshal items of order %s", m.ID)
		}
	}
	return &domain.Order{
		ID:                  m.ID,
		RestaurantID:        m.RestaurantID,
		ServiceType:         domain.ServiceType(m.ServiceType),
		TableNo:             m.TableNo,
		CustomerName:        m.CustomerName,
		CustomerPhone:       m.CustomerPhone,
		Address:             m.Address,
		SpecialInstructions: m.SpecialInstructions,
		Items:               items,
		Subtotal:            m.Subtotal,
		DeliveryFee:         m.DeliveryFee,
		Tax:                 m.Tax,
		TotalPrice:          m.TotalPrice,
		Status:              domain.Status(m.Status),
		PaymentStatus:       domain.PaymentStatus(m.PaymentStatus),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
		CompletedAt:         utcPtr(m.CompletedAt),
	}, nil
}

// statusColumns 是状态流转时唯一会被更新的列，金额字段不在其中
func statusColumns(o *domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"status":       string(o.Status),
		"updated_at":   o.UpdatedAt,
		"completed_at": o.CompletedAt,
	}
}

// ToDomainRestaurant 将餐厅及其运费档位转换为领域模型
func ToDomainRestaurant(m *RestaurantModel) *domain.Restaurant {
	r := &domain.Restaurant{ID: m.ID}
	if m.Lat != nil && m.Lng != nil {
		r.Origin = &domain.Geocoordinate{Lat: *m.Lat, Lng: *m.Lng}
	}
	for _, t := range m.Tiers {
		r.Tiers = append(r.Tiers, domain.DeliveryRateTier{ID: t.ID, DistanceKm: t.DistanceKm, Price: t.Price})
	}
	r.Tiers = domain.SortTiers(r.Tiers)
	return r
}

func ToDomainSettings(m *RestaurantModel) domain.RestaurantSettings {
	return domain.RestaurantSettings{
		RestaurantID:    m.ID,
		PrimaryLanguage: m.PrimaryLanguage,
		Theme:           m.Theme,
		TimeZone:        m.TimeZone,
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
