// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"tableside/internal/pkg/apperr"

	"github.com/shopspring/decimal"
)

// ServiceType 决定订单的必填字段和计价方式，创建后不可变
type ServiceType string

const (
	ServiceDineIn   ServiceType = "dine_in"
	ServicePickup   ServiceType = "pickup"
	ServiceDelivery ServiceType = "delivery"
)

func (t ServiceType) Valid() bool {
	return t == ServiceDineIn || t == ServicePickup || t == ServiceDelivery
}

// PaymentStatus 由支付方维护，本服务只读
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// OrderItem 是订单中的一行。UnitPrice 已包含规格和加料的加价。
type OrderItem struct {
	MenuID          string          `json:"menu_id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	SelectedVariant string          `json:"selected_variant,omitempty"`
	SelectedAddons  []string        `json:"selected_addons"`
	Notes           string          `json:"notes,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order 是订单聚合的根实体
type Order struct {
	ID                  string          `json:"id"`
	RestaurantID        string          `json:"restaurant_id"`
	ServiceType         ServiceType     `json:"service_type"`
	TableNo             string          `json:"table_no,omitempty"`
	CustomerName        string          `json:"customer_name,omitempty"`
	CustomerPhone       string          `json:"customer_phone,omitempty"`
	Address             string          `json:"address,omitempty"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	Items               []OrderItem     `json:"items"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	Tax                 decimal.Decimal `json:"tax"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	Status              Status          `json:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// OrderSpec 是创建订单的输入
type OrderSpec struct {
	RestaurantID        string
	ServiceType         ServiceType
	TableNo             string
	CustomerName        string
	CustomerPhone       string
	Address             string
	SpecialInstructions string
	Items               []OrderItem
	Tax                 decimal.Decimal
	// ManualTierID 是地理编码不可用时顾客手动选择的运费档位
	ManualTierID string
}

// NewOrder 校验输入并算出金额。任何校验失败都不会产生订单。
// quote 只对配送单有意义，其它类型忽略。
func NewOrder(id string, spec OrderSpec, restaurant Restaurant, quote *DeliveryQuote, now time.Time) (*Order, error) {
	if id == "" {
		return nil, apperr.NewValidation("id", "required")
	}
	if spec.RestaurantID == "" {
		return nil, apperr.NewValidation("restaurant_id", "required")
	}
	if !spec.ServiceType.Valid() {
		return nil, apperr.NewValidation("service_type", fmt.Sprintf("unknown service type %q", spec.ServiceType))
	}
	if err := validateServiceFields(spec); err != nil {
		return nil, err
	}

	subtotal, err := subtotalOf(spec.Items)
	if err != nil {
		return nil, err
	}
	if spec.Tax.IsNegative() {
		return nil, apperr.NewValidation("tax", "must not be negative")
	}

	fee := decimal.Zero
	if spec.ServiceType == ServiceDelivery {
		if fee, err = deliveryFee(spec, restaurant, quote); err != nil {
			return nil, err
		}
	}

	items := make([]OrderItem, len(spec.Items))
	copy(items, spec.Items)
	for i := range items {
		if items[i].SelectedAddons == nil {
			items[i].SelectedAddons = []string{}
		}
	}

	return &Order{
		ID:                  id,
		RestaurantID:        spec.RestaurantID,
		ServiceType:         spec.ServiceType,
		TableNo:             strings.TrimSpace(spec.TableNo),
		CustomerName:        strings.TrimSpace(spec.CustomerName),
		CustomerPhone:       strings.TrimSpace(spec.CustomerPhone),
		Address:             strings.TrimSpace(spec.Address),
		SpecialInstructions: strings.TrimSpace(spec.SpecialInstructions),
		Items:               items,
		Subtotal:            subtotal,
		DeliveryFee:         fee,
		Tax:                 spec.Tax,
		TotalPrice:          subtotal.Add(fee).Add(spec.Tax),
		Status:              StatusPending,
		PaymentStatus:       PaymentUnpaid,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func validateServiceFields(spec OrderSpec) error {
	required := map[ServiceType][]struct{ field, value string }{
		ServiceDineIn: {
			{"table_no", spec.TableNo},
		},
		ServicePickup: {
			{"customer_name", spec.CustomerName},
			{"customer_phone", spec.CustomerPhone},
		},
		ServiceDelivery: {
			{"customer_name", spec.CustomerName},
			{"customer_phone", spec.CustomerPhone},
			{"address", spec.Address},
		},
	}
	for _, f := range required[spec.ServiceType] {
		if strings.TrimSpace(f.value) == "" {
			return apperr.NewValidation(f.field, fmt.Sprintf("required for %s orders", spec.ServiceType))
		}
	}
	return nil
}

func subtotalOf(items []OrderItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, apperr.NewValidation("items", "at least one item is required")
	}
	subtotal := decimal.Zero
	for i, item := range items {
		switch {
		case strings.TrimSpace(item.MenuID) == "":
			return decimal.Zero, apperr.NewValidation(fmt.Sprintf("items[%d].menu_id", i), "required")
		case item.Quantity < 1:
			return decimal.Zero, apperr.NewValidation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		case item.UnitPrice.IsNegative():
			return decimal.Zero, apperr.NewValidation(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
		subtotal = subtotal.Add(item.LineTotal())
	}
	return subtotal, nil
}

// deliveryFee 按餐厅的配送配置决定运费：
// 有坐标和档位时必须有与地址一致的报价，解析成功就按报价且必须在范围内，
// 只有解析失败时才接受手动档位；只有档位时必须手动选择；没有档位时不收运费。
func deliveryFee(spec OrderSpec, restaurant Restaurant, quote *DeliveryQuote) (decimal.Decimal, error) {
	if len(restaurant.Tiers) == 0 {
		return decimal.Zero, nil
	}

	if restaurant.QuotesByDistance() {
		if quote == nil {
			return decimal.Zero, apperr.NewValidation("address", "delivery fee has not been resolved for this address")
		}
		if strings.TrimSpace(quote.Address) != strings.TrimSpace(spec.Address) {
			return decimal.Zero, apperr.NewValidation("address", "delivery quote was computed for a different address")
		}
		if !quote.Unresolved {
			if !quote.IsWithinRange {
				return decimal.Zero, apperr.NewValidation("address", "address is out of delivery range")
			}
			return quote.Fee, nil
		}
	}

	if spec.ManualTierID == "" {
		return decimal.Zero, apperr.NewValidation("manual_tier_id", "a delivery tier must be selected")
	}
	tier, ok := FindTier(restaurant.Tiers, spec.ManualTierID)
	if !ok {
		return decimal.Zero, apperr.NewValidation("manual_tier_id", "unknown delivery tier "+spec.ManualTierID)
	}
	return tier.Price, nil
}
