package session

import (
	"context"
	"net/http"
	"strings"

	"tableside/internal/pkg/apperr"
)

type ctxKey struct{}

// Verifier 校验 bearer token
type Verifier interface {
	Verify(ctx context.Context, token string) (Session, error)
}

// WithSession 把会话放进 context
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext 取出 RequireSession 放入的会话
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(ctxKey{}).(Session)
	return sess, ok
}

// BearerToken 从 Authorization 头中取出 token
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireSession 拒绝没有有效会话的请求
func RequireSession(v Verifier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}
		sess, err := v.Verify(r.Context(), token)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		next(w, r.WithContext(WithSession(r.Context(), sess)))
	}
}
