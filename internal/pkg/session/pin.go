package session

import (
	"regexp"

	"tableside/internal/pkg/apperr"

	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

// StaffCredential 是一个可以用 PIN 登录的员工
type StaffCredential struct {
	ID           string
	Name         string
	Role         string
	RestaurantID string
	PinHash      string
}

// PinDirectory 按餐厅校验员工的 6 位 PIN
type PinDirectory struct {
	staff []StaffCredential
}

func NewPinDirectory(staff []StaffCredential) *PinDirectory {
	return &PinDirectory{staff: staff}
}

// Authenticate 返回 PIN 匹配的员工。PIN 格式错误返回 ValidationError，
// 没有匹配返回 ErrUnauthorized。
func (d *PinDirectory) Authenticate(restaurantID, pin string) (StaffCredential, error) {
	if restaurantID == "" {
		return StaffCredential{}, apperr.NewValidation("restaurant_id", "required")
	}
	if !pinPattern.MatchString(pin) {
		return StaffCredential{}, apperr.NewValidation("pin", "must be 6 digits")
	}
	for _, s := range d.staff {
		if s.RestaurantID != restaurantID {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(s.PinHash), []byte(pin)) == nil {
			return s, nil
		}
	}
	return StaffCredential{}, apperr.ErrUnauthorized
}

// HashPin 生成 PIN 的 bcrypt 哈希，用于写入配置
func HashPin(pin string) (string, error) {
	if !pinPattern.MatchString(pin) {
		return "", apperr.NewValidation("pin", "must be 6 digits")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	return string(h), err
}
