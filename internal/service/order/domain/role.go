package domain

import "tableside/internal/pkg/apperr"

// Role 是客户端会话的角色
type Role string

const (
	RoleKitchen Role = "kitchen"
	RoleStaff   Role = "staff"
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleKitchen, RoleStaff, RoleCashier, RoleManager, RoleOwner:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", apperr.NewValidation("role", "unknown role "+s)
	}
	return r, nil
}
