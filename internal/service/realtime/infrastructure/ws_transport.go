package infrastructure

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"tableside/internal/pkg/logger"
	"tableside/internal/service/realtime"
)

const (
	// CloseSessionExpired 是推送网关在会话过期时使用的关闭码
	CloseSessionExpired = 4001
	// CloseUnauthorized 表示连接时的 token 无效
	CloseUnauthorized = 4003

	pongWait = 60 * time.Second
)

// WSTransport 连接推送网关，网关已经按会话过滤好了事件
type WSTransport struct {
	gatewayURL string
	token      string
	dialer     *websocket.Dialer
}

func NewWSTransport(gatewayURL, token string) *WSTransport {
	return &WSTransport{gatewayURL: gatewayURL, token: token, dialer: websocket.DefaultDialer}
}

func (t *WSTransport) Subscribe(ctx context.Context, _ realtime.Filter, deliver func(raw []byte)) error {
	u, err := url.Parse(t.gatewayURL)
	if err != nil {
		return errors.Wrapf(err, "parse gateway url %s", t.gatewayURL)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return realtime.ErrSessionExpired
		}
		return errors.Wrap(err, "dial push gateway")
	}
	defer conn.Close()
	logger.Ctx(ctx).Info().Str("gateway", u.Host).Msg("✅ connected to push gateway")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, CloseSessionExpired, CloseUnauthorized) {
				return realtime.ErrSessionExpired
			}
			return errors.Wrap(err, "read from push gateway")
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		deliver(raw)
	}
}
