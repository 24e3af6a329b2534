// Package apperr 定义各服务共享的错误分类，以及它们在 HTTP 边界上的映射。
package apperr

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("session missing or expired")
	ErrForbidden      = errors.New("session not permitted for this restaurant")
	ErrOutcomeUnknown = errors.New("request timed out, outcome unknown")
)

// ValidationError 表示创建时缺失或非法的字段，永远不会被持久化。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransition 表示非法的状态边，或者角色无权执行该边。
type InvalidTransition struct {
	From   string
	To     string
	Role   string
	Reason string
}

func (e *InvalidTransition) Error() string {
	msg := fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	if e.Role != "" {
		msg += " for role " + e.Role
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ResolutionError 表示地址解析或距离查询失败，调用方可以重试。
type ResolutionError struct {
	Address string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve address %q: %v", e.Address, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// HTTPStatus 把错误映射成 HTTP 状态码。
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		it *InvalidTransition
		re *ResolutionError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &it):
		return http.StatusConflict
	case errors.As(err, &re):
		return http.StatusBadGateway
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrOutcomeUnknown):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Body 是错误响应的 JSON 结构。
type Body struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// WriteError 以统一的 JSON 格式写出错误。
func WriteError(w http.ResponseWriter, err error) {
	body := Body{Error: err.Error()}
	var ve *ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(body)
}
