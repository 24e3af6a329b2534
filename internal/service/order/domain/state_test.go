package domain

import (
	"testing"
	"time"

	"tableside/internal/pkg/apperr"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allowAll 只测试状态图本身
var allowAll = PolicyFunc(func(Status, Status, Role) (bool, error) { return true, nil })

// defaultRules 与默认配置的权限表达式一致
var defaultRules = PolicyFunc(func(from, to Status, role Role) (bool, error) {
	kind, _ := ClassifyEdge(from, to)
	switch kind {
	case EdgeForward:
		switch role {
		case RoleKitchen, RoleStaff, RoleManager, RoleOwner:
			return true, nil
		case RoleCashier:
			return from == StatusReady && to == StatusCompleted, nil
		}
	case EdgeCancel:
		return role == RoleManager || role == RoleOwner || (role == RoleStaff && from == StatusPending), nil
	}
	return false, nil
})

func orderIn(status Status) Order {
	return Order{ID: "o1", Status: status, CreatedAt: t0, UpdatedAt: t0, Items: twoItems()}
}

func requireInvalid(t *testing.T, err error) *apperr.InvalidTransition {
	t.Helper()
	var it *apperr.InvalidTransition
	require.True(t, errors.As(err, &it), "expected InvalidTransition, got %v", err)
	return it
}

func TestTransitionGraph(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled}
	legal := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusConfirmed, StatusPreparing}: true,
		{StatusPreparing, StatusReady}:     true,
		{StatusReady, StatusCompleted}:     true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusCancelled}: true,
		{StatusPreparing, StatusCancelled}: true,
		{StatusReady, StatusCancelled}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			_, err := Transition(orderIn(from), to, RoleOwner, allowAll, t0.Add(time.Minute))
			if legal[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				requireInvalid(t, err)
			}
		}
	}
}

func TestTransitionPendingToReadyFails(t *testing.T) {
	_, err := Transition(orderIn(StatusPending), StatusReady, RoleOwner, allowAll, t0)
	it := requireInvalid(t, err)
	assert.Equal(t, "pending", it.From)
	assert.Equal(t, "ready", it.To)
}

func TestKitchenCannotSkipConfirmed(t *testing.T) {
	_, err := Transition(orderIn(StatusPending), StatusPreparing, RoleKitchen, defaultRules, t0)
	requireInvalid(t, err)
}

func TestTransitionStampsTimes(t *testing.T) {
	now := t0.Add(5 * time.Minute)
	next, err := Transition(orderIn(StatusReady), StatusCompleted, RoleCashier, defaultRules, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, next.Status)
	assert.Equal(t, now, next.UpdatedAt)
	require.NotNil(t, next.CompletedAt)
	assert.Equal(t, now, *next.CompletedAt)

	confirmed, err := Transition(orderIn(StatusPending), StatusConfirmed, RoleKitchen, defaultRules, now)
	require.NoError(t, err)
	assert.Nil(t, confirmed.CompletedAt)
}

func TestTransitionReturnsCopy(t *testing.T) {
	o := orderIn(StatusPending)
	next, err := Transition(o, StatusConfirmed, RoleStaff, defaultRules, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, StatusConfirmed, next.Status)
	assert.True(t, o.TotalPrice.Equal(next.TotalPrice))
}

func TestTransitionUpdatedAtStrictlyIncreases(t *testing.T) {
	o := orderIn(StatusPending)
	next, err := Transition(o, StatusConfirmed, RoleStaff, defaultRules, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, next.UpdatedAt.After(o.UpdatedAt))
}

func TestTransitionRolePermissions(t *testing.T) {
	cases := []struct {
		from, to Status
		role     Role
		ok       bool
	}{
		{StatusPending, StatusConfirmed, RoleKitchen, true},
		{StatusPending, StatusConfirmed, RoleCashier, false},
		{StatusReady, StatusCompleted, RoleCashier, true},
		{StatusPending, StatusCancelled, RoleStaff, true},
		{StatusPreparing, StatusCancelled, RoleStaff, false},
		{StatusPreparing, StatusCancelled, RoleKitchen, false},
		{StatusReady, StatusCancelled, RoleManager, true},
		{StatusPreparing, StatusCancelled, RoleOwner, true},
	}
	for _, tc := range cases {
		_, err := Transition(orderIn(tc.from), tc.to, tc.role, defaultRules, t0.Add(time.Second))
		if tc.ok {
			assert.NoError(t, err, "%s %s->%s", tc.role, tc.from, tc.to)
			continue
		}
		it := requireInvalid(t, err)
		assert.Equal(t, "role not permitted", it.Reason)
	}
}

func TestTransitionRejectsUnknownRole(t *testing.T) {
	_, err := Transition(orderIn(StatusPending), StatusConfirmed, Role("guest"), allowAll, t0)
	requireInvalid(t, err)
}

func TestNoBackwardTransitions(t *testing.T) {
	_, err := Transition(orderIn(StatusReady), StatusPreparing, RoleOwner, allowAll, t0)
	requireInvalid(t, err)
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.True(t, s.IsActive())
		assert.False(t, s.IsTerminal())
	}
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, Status("bogus").IsActive())
}
