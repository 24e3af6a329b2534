// internal/service/order/domain/state.go
package domain

import (
	"time"

	"tableside/internal/pkg/apperr"
)

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed" // 终态
	StatusCancelled Status = "cancelled" // 终态
)

// forward 是唯一允许的前进边，每次只能前进一步
var forward = map[Status]Status{
	StatusPending:   StatusConfirmed,
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusCompleted,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive 报告订单是否应出现在厨房/前厅的活动列表里
func (s Status) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

// Next 返回前进一步的目标状态
func (s Status) Next() (Status, bool) {
	next, ok := forward[s]
	return next, ok
}

// ActiveStatuses 返回所有非终态，按生命周期顺序
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady}
}

// EdgeKind 区分前进和取消两类边，权限规则按边的类别配置
type EdgeKind string

const (
	EdgeForward EdgeKind = "forward"
	EdgeCancel  EdgeKind = "cancel"
)

// ClassifyEdge 返回 from -> to 所属的边类别；不在状态图里的边返回 false。
// 回退、跳步、自环以及离开终态都不在图里。
func ClassifyEdge(from, to Status) (EdgeKind, bool) {
	if from.IsTerminal() || !from.Valid() {
		return "", false
	}
	if to == StatusCancelled {
		return EdgeCancel, true
	}
	if next, ok := forward[from]; ok && next == to {
		return EdgeForward, true
	}
	return "", false
}

// Policy 决定某个角色能否走某条边
type Policy interface {
	Allowed(from, to Status, role Role) (bool, error)
}

// PolicyFunc 让普通函数满足 Policy
type PolicyFunc func(from, to Status, role Role) (bool, error)

func (f PolicyFunc) Allowed(from, to Status, role Role) (bool, error) { return f(from, to, role) }

// Transition 校验并执行一次状态流转，返回更新后的副本，原订单不变。
func Transition(o Order, target Status, role Role, policy Policy, now time.Time) (Order, error) {
	invalid := &apperr.InvalidTransition{From: string(o.Status), To: string(target), Role: string(role)}

	if !role.Valid() {
		invalid.Reason = "unknown role"
		return o, invalid
	}
	if !target.Valid() {
		invalid.Reason = "unknown status"
		return o, invalid
	}
	if _, ok := ClassifyEdge(o.Status, target); !ok {
		invalid.Reason = "not a legal edge"
		return o, invalid
	}

	allowed, err := policy.Allowed(o.Status, target, role)
	if err != nil {
		return o, err
	}
	if !allowed {
		invalid.Reason = "role not permitted"
		return o, invalid
	}

	// updated_at 必须严格递增，否则订阅端会把这次更新当作重复事件
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Microsecond)
	}

	next := o
	next.Items = append([]OrderItem(nil), o.Items...)
	next.Status = target
	next.UpdatedAt = now
	if target == StatusCompleted {
		completedAt := now
		next.CompletedAt = &completedAt
	}
	return next, nil
}
