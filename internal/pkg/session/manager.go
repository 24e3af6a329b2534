// internal/pkg/session/manager.go
package session

import (
	"context"
	"fmt"
	"time"

	"tableside/internal/pkg/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	gatewayKeyPrefix = "session_gateway:"
)

// Session 是一个角色 + 餐厅范围内的登录凭证，带有明确的过期时间。
// 它被显式传给每个需要它的组件，而不是放在全局状态里。
type Session struct {
	ID           string    `json:"sid"`
	StaffID      string    `json:"staff_id"`
	Role         string    `json:"role"`
	RestaurantID string    `json:"restaurant_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	Token        string    `json:"-"`
}

// Expired 报告 now 时刻会话是否已经失效。
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type claims struct {
	SessionID    string `json:"sid"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id"`
	jwt.RegisteredClaims
}

// Manager 负责签发和校验会话。
// JWT 携带角色和餐厅信息，Redis 记录会话是否仍然有效，以便主动吊销。
type Manager struct {
	rdb    goredis.UniversalClient
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(rdb goredis.UniversalClient, secret string, ttl time.Duration) *Manager {
	return &Manager{rdb: rdb, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为员工签发一个新会话。
func (m *Manager) Issue(ctx context.Context, staffID, role, restaurantID string) (Session, error) {
	now := m.now()
	sess := Session{
		ID:           uuid.NewString(),
		StaffID:      staffID,
		Role:         role,
		RestaurantID: restaurantID,
		ExpiresAt:    now.Add(m.ttl).Truncate(time.Second),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID:    sess.ID,
		Role:         role,
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return Session{}, errors.Wrap(err, "sign session token")
	}
	sess.Token = signed

	key := sessionKeyPrefix + sess.ID
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"staff_id":      staffID,
		"role":          role,
		"restaurant_id": restaurantID,
	})
	pipe.ExpireAt(ctx, key, sess.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return Session{}, errors.Wrap(err, "store session")
	}
	return sess, nil
}

// Verify 校验 token 的签名、过期时间，并确认会话没有被吊销。
func (m *Manager) Verify(ctx context.Context, token string) (Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Session{}, errors.Wrap(apperr.ErrUnauthorized, err.Error())
	}

	n, err := m.rdb.Exists(ctx, sessionKeyPrefix+c.SessionID).Result()
	if err != nil {
		return Session{}, errors.Wrap(err, "lookup session")
	}
	if n == 0 {
		return Session{}, errors.Wrap(apperr.ErrUnauthorized, "session revoked")
	}
	return fromClaims(c, token), nil
}

// Revoke 立即吊销会话
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	return m.rdb.Del(ctx, sessionKeyPrefix+sessionID, gatewayKeyPrefix+sessionID).Err()
}

// SetClientGateway 记录会话当前连接在哪个推送网关节点上
func (m *Manager) SetClientGateway(ctx context.Context, sess Session, nodeID string) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return apperr.ErrUnauthorized
	}
	return m.rdb.Set(ctx, gatewayKeyPrefix+sess.ID, nodeID, ttl).Err()
}

// GetClientGateway 查询会话连接的网关节点，没有连接时返回空字符串
func (m *Manager) GetClientGateway(ctx context.Context, sessionID string) (string, error) {
	node, err := m.rdb.Get(ctx, gatewayKeyPrefix+sessionID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return node, err
}

// ClearClientGateway 在连接断开时清理网关记录
func (m *Manager) ClearClientGateway(ctx context.Context, sessionID string) error {
	return m.rdb.Del(ctx, gatewayKeyPrefix+sessionID).Err()
}

// ParseUnverified 只解析 token 中的声明，不校验签名。
// 客户端用它读取自己的角色、餐厅和过期时间。
func ParseUnverified(token string) (Session, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Session{}, fmt.Errorf("parse session token: %w", err)
	}
	if c.SessionID == "" || c.Role == "" || c.RestaurantID == "" {
		return Session{}, errors.New("session token is missing role or restaurant")
	}
	return fromClaims(c, token), nil
}

func fromClaims(c claims, token string) Session {
	sess := Session{
		ID:           c.SessionID,
		StaffID:      c.Subject,
		Role:         c.Role,
		RestaurantID: c.RestaurantID,
		Token:        token,
	}
	if c.ExpiresAt != nil {
		sess.ExpiresAt = c.ExpiresAt.Time
	}
	return sess
}
