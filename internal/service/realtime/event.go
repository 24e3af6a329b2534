// internal/service/realtime/event.go
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

// Now 返回截断到微秒的 UTC 时间，与存储列精度一致，
// 事件里的 updated_at 和快照读回的值才能相等。
func Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

type EntityType string

const (
	EntityOrder              EntityType = "order"
	EntityServiceRequest     EntityType = "service_request"
	EntityRestaurantSettings EntityType = "restaurant_settings"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent 是一次写入之后发出的变更通知。
// 载荷由 EntityType 决定，只有对应的一个字段非空。
type ChangeEvent struct {
	EntityType   EntityType `json:"entity_type"`
	Operation    Operation  `json:"operation"`
	EntityID     string     `json:"entity_id"`
	RestaurantID string     `json:"restaurant_id"`
	// UpdatedAt 是存储端给出的时间戳，也是合并时唯一的比较依据
	UpdatedAt time.Time `json:"updated_at"`
	EmittedAt time.Time `json:"emitted_at"`

	Order    *orderdomain.Order              `json:"order,omitempty"`
	Request  *requestdomain.ServiceRequest   `json:"request,omitempty"`
	Settings *orderdomain.RestaurantSettings `json:"settings,omitempty"`
}

// Publisher 把变更事件发送到传输层
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// ErrInvalidEvent 表示事件在入口校验中被拒绝
var ErrInvalidEvent = errors.New("invalid change event")

func NewOrderEvent(op Operation, o orderdomain.Order, now time.Time) ChangeEvent {
	return ChangeEvent{
		EntityType:   EntityOrder,
		Operation:    op,
		EntityID:     o.ID,
		RestaurantID: o.RestaurantID,
		UpdatedAt:    o.UpdatedAt,
		EmittedAt:    now,
		Order:        &o,
	}
}

func NewRequestEvent(op Operation, r requestdomain.ServiceRequest, now time.Time) ChangeEvent {
	return ChangeEvent{
		EntityType:   EntityServiceRequest,
		Operation:    op,
		EntityID:     r.ID,
		RestaurantID: r.RestaurantID,
		UpdatedAt:    r.UpdatedAt,
		EmittedAt:    now,
		Request:      &r,
	}
}

func NewSettingsEvent(s orderdomain.RestaurantSettings, now time.Time) ChangeEvent {
	return ChangeEvent{
		EntityType:   EntityRestaurantSettings,
		Operation:    OpUpdate,
		EntityID:     s.RestaurantID,
		RestaurantID: s.RestaurantID,
		UpdatedAt:    s.UpdatedAt,
		EmittedAt:    now,
		Settings:     &s,
	}
}

// Encode 序列化事件
func Encode(ev ChangeEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// Decode 反序列化并校验事件。任何不合法的事件都不会进入视图。
func Decode(raw []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ChangeEvent{}, errors.Wrapf(ErrInvalidEvent, "malformed json: %v", err)
	}
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

// Validate 检查事件的判别字段和载荷是否一致
func (ev ChangeEvent) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return errors.Wrap(ErrInvalidEvent, fmt.Sprintf(format, args...))
	}

	switch ev.Operation {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fail("unknown operation %q", ev.Operation)
	}
	if ev.EntityID == "" {
		return fail("missing entity_id")
	}
	if ev.RestaurantID == "" {
		return fail("missing restaurant_id")
	}
	if ev.UpdatedAt.IsZero() {
		return fail("missing updated_at")
	}

	// delete 事件可以不带载荷
	needPayload := ev.Operation != OpDelete
	switch ev.EntityType {
	case EntityOrder:
		if ev.Request != nil || ev.Settings != nil {
			return fail("order event carries a foreign payload")
		}
		if ev.Order == nil {
			if needPayload {
				return fail("order event without order payload")
			}
			return nil
		}
		if ev.Order.ID != ev.EntityID || ev.Order.RestaurantID != ev.RestaurantID {
			return fail("order payload does not match event keys")
		}
		if !ev.Order.Status.Valid() {
			return fail("unknown order status %q", ev.Order.Status)
		}
		if !ev.Order.UpdatedAt.Equal(ev.UpdatedAt) {
			return fail("order payload updated_at differs from event")
		}
	case EntityServiceRequest:
		if ev.Order != nil || ev.Settings != nil {
			return fail("service request event carries a foreign payload")
		}
		if ev.Request == nil {
			if needPayload {
				return fail("service request event without request payload")
			}
			return nil
		}
		if ev.Request.ID != ev.EntityID || ev.Request.RestaurantID != ev.RestaurantID {
			return fail("request payload does not match event keys")
		}
		if !ev.Request.Status.Valid() {
			return fail("unknown request status %q", ev.Request.Status)
		}
		if !ev.Request.UpdatedAt.Equal(ev.UpdatedAt) {
			return fail("request payload updated_at differs from event")
		}
	case EntityRestaurantSettings:
		if ev.Order != nil || ev.Request != nil {
			return fail("settings event carries a foreign payload")
		}
		if ev.Settings == nil && needPayload {
			return fail("settings event without settings payload")
		}
	default:
		return fail("unknown entity_type %q", ev.EntityType)
	}
	return nil
}

// Key 是按实体合并时使用的键
func (ev ChangeEvent) Key() EntityKey {
	return EntityKey{Type: ev.EntityType, ID: ev.EntityID}
}

// IsTerminal 报告事件是否把实体带入终态
func (ev ChangeEvent) IsTerminal() bool {
	switch {
	case ev.Order != nil:
		return ev.Order.Status.IsTerminal()
	case ev.Request != nil:
		return ev.Request.Status.IsTerminal()
	}
	return false
}

// EntityKey 唯一标识一个实体
type EntityKey struct {
	Type EntityType
	ID   string
}
