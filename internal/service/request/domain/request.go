// internal/service/request/domain/request.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tableside/internal/pkg/apperr"
)

// RequestType 是顾客在桌边发起的服务请求类型
type RequestType string

const (
	TypeCallWaiter   RequestType = "call_waiter"
	TypeRequestSauce RequestType = "request_sauce"
	TypeRequestWater RequestType = "request_water"
	TypeRequestBill  RequestType = "request_bill"
	TypeOther        RequestType = "other"
)

func (t RequestType) Valid() bool {
	switch t {
	case TypeCallWaiter, TypeRequestSauce, TypeRequestWater, TypeRequestBill, TypeOther:
		return true
	}
	return false
}

// Status 没有取消状态，未处理的请求一直保持 pending
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusCompleted    Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAcknowledged || s == StatusCompleted
}

func (s Status) IsTerminal() bool { return s == StatusCompleted }

// 允许跳过 acknowledged 直接完成
var legal = map[Status][]Status{
	StatusPending:      {StatusAcknowledged, StatusCompleted},
	StatusAcknowledged: {StatusCompleted},
}

// ServiceRequest 与订单无关，同一桌可以同时有多个
type ServiceRequest struct {
	ID             string      `json:"id"`
	RestaurantID   string      `json:"restaurant_id"`
	TableNo        string      `json:"table_no"`
	RequestType    RequestType `json:"request_type"`
	Message        string      `json:"message,omitempty"`
	Status         Status      `json:"status"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	CompletedBy    string      `json:"completed_by,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// NewServiceRequest 校验并创建一个 pending 状态的请求
func NewServiceRequest(id, restaurantID, tableNo string, typ RequestType, message string, now time.Time) (*ServiceRequest, error) {
	if restaurantID == "" {
		return nil, apperr.NewValidation("restaurant_id", "required")
	}
	if strings.TrimSpace(tableNo) == "" {
		return nil, apperr.NewValidation("table_no", "required")
	}
	if !typ.Valid() {
		return nil, apperr.NewValidation("request_type", fmt.Sprintf("unknown request type %q", typ))
	}
	return &ServiceRequest{
		ID:           id,
		RestaurantID: restaurantID,
		TableNo:      strings.TrimSpace(tableNo),
		RequestType:  typ,
		Message:      strings.TrimSpace(message),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Transition 返回流转后的副本，并记录操作人和时间
func (r ServiceRequest) Transition(target Status, actorID string, now time.Time) (ServiceRequest, error) {
	if !r.canMoveTo(target) {
		return r, &apperr.InvalidTransition{From: string(r.Status), To: string(target), Reason: "not a legal edge"}
	}
	if !now.After(r.UpdatedAt) {
		now = r.UpdatedAt.Add(time.Microsecond)
	}

	at := now
	next := r
	next.Status = target
	next.UpdatedAt = now
	switch target {
	case StatusAcknowledged:
		next.AcknowledgedBy = actorID
		next.AcknowledgedAt = &at
	case StatusCompleted:
		next.CompletedBy = actorID
		next.CompletedAt = &at
	}
	return next, nil
}

func (r ServiceRequest) canMoveTo(target Status) bool {
	for _, s := range legal[r.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// Repository 定义服务请求的持久化接口
type Repository interface {
	Create(ctx context.Context, req *ServiceRequest) error
	FindByID(ctx context.Context, id string) (*ServiceRequest, error)
	// ListActive 返回未完成的请求，按创建时间排序
	ListActive(ctx context.Context, restaurantID string) ([]*ServiceRequest, error)
	// UpdateStatus 在存储中的状态仍为 expected 时写入，否则返回 ErrStaleStatus
	UpdateStatus(ctx context.Context, req *ServiceRequest, expected Status) error
}

var ErrStaleStatus = errors.New("service request status changed concurrently")
