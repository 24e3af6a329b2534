// internal/service/order/application/dto.go
package application

import (
	"github.com/shopspring/decimal"

	"tableside/internal/service/order/domain"
)

// CreateOrderItem 是下单请求中的一行菜品
type CreateOrderItem struct {
	MenuID          string          `json:"menu_id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	SelectedVariant string          `json:"selected_variant,omitempty"`
	SelectedAddons  []string        `json:"selected_addons,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	RestaurantID        string             `json:"restaurant_id"`
	ServiceType         domain.ServiceType `json:"service_type"`
	TableNo             string             `json:"table_no,omitempty"`
	CustomerName        string             `json:"customer_name,omitempty"`
	CustomerPhone       string             `json:"customer_phone,omitempty"`
	Address             string             `json:"address,omitempty"`
	SpecialInstructions string             `json:"special_instructions,omitempty"`
	Items               []CreateOrderItem  `json:"items"`
	Tax                 decimal.Decimal    `json:"tax"`
	ManualTierID        string             `json:"manual_tier_id,omitempty"`
	// QuoteSession 是下单会话 ID，为空时使用调用方的会话
	QuoteSession string `json:"quote_session,omitempty"`
}

// ToSpec 转换为领域层的输入
func (r *CreateOrderRequest) ToSpec() domain.OrderSpec {
	items := make([]domain.OrderItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = domain.OrderItem{
			MenuID:          it.MenuID,
			Name:            it.Name,
			UnitPrice:       it.UnitPrice,
			Quantity:        it.Quantity,
			SelectedVariant: it.SelectedVariant,
			SelectedAddons:  it.SelectedAddons,
			Notes:           it.Notes,
		}
	}
	return domain.OrderSpec{
		RestaurantID:        r.RestaurantID,
		ServiceType:         r.ServiceType,
		TableNo:             r.TableNo,
		CustomerName:        r.CustomerName,
		CustomerPhone:       r.CustomerPhone,
		Address:             r.Address,
		SpecialInstructions: r.SpecialInstructions,
		Items:               items,
		Tax:                 r.Tax,
		ManualTierID:        r.ManualTierID,
	}
}

// QuoteRequest 是运费报价的输入
type QuoteRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Address      string `json:"address"`
	QuoteSession string `json:"quote_session,omitempty"`
}

// Actor 是执行状态流转的会话主体
type Actor struct {
	StaffID      string
	Role         domain.Role
	RestaurantID string
}
