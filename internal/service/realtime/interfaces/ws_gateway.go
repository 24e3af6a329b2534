// internal/service/realtime/interfaces/ws_gateway.go
package interfaces

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tableside/internal/pkg/logger"
	"tableside/internal/pkg/metrics"
	"tableside/internal/pkg/session"
	orderdomain "tableside/internal/service/order/domain"
	"tableside/internal/service/realtime"
	"tableside/internal/service/realtime/infrastructure"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Presence 记录会话连接在哪个网关节点上，session.Manager 实现了它
type Presence interface {
	SetClientGateway(ctx context.Context, sess session.Session, nodeID string) error
	ClearClientGateway(ctx context.Context, sessionID string) error
}

// Hub 维护本节点所有活跃的连接，并把变更事件按会话过滤后推送出去
type Hub struct {
	nodeID     string
	clients    map[string]*Client // 使用会话 ID 作为 Key
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
	presence   Presence
	done       chan struct{}
}

func NewHub(nodeID string, presence Presence) *Hub {
	return &Hub{
		nodeID:     nodeID,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   presence,
		done:       make(chan struct{}),
	}
}

// Run 处理连接的注册和注销，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			h.lock.Unlock()
			return
		case client := <-h.register:
			h.lock.Lock()
			if old, ok := h.clients[client.sess.ID]; ok {
				close(old.send)
				metrics.GatewayConnections.Dec()
			}
			h.clients[client.sess.ID] = client
			h.lock.Unlock()
			metrics.GatewayConnections.Inc()
			if err := h.presence.SetClientGateway(ctx, client.sess, h.nodeID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("session_id", client.sess.ID).Msg("⚠️ failed to record client gateway")
			}
			logger.Ctx(ctx).Info().Str("session_id", client.sess.ID).Str("role", client.sess.Role).
				Str("node", h.nodeID).Msg("Client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if cur, ok := h.clients[client.sess.ID]; ok && cur == client {
				delete(h.clients, client.sess.ID)
				close(client.send)
				metrics.GatewayConnections.Dec()
				if err := h.presence.ClearClientGateway(ctx, client.sess.ID); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Str("session_id", client.sess.ID).Msg("⚠️ failed to clear client gateway")
				}
			}
			h.lock.Unlock()
			logger.Ctx(ctx).Info().Str("session_id", client.sess.ID).Msg("Client unregistered")
		}
	}
}

// Broadcast 校验一次事件，然后推送给所有过滤器接受它的连接。
// 发送缓冲已满的连接会被断开，客户端重连后会重新全量同步。
func (h *Hub) Broadcast(ctx context.Context, raw []byte) {
	ev, err := realtime.Decode(raw)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("⚠️ gateway dropping invalid change event")
		return
	}

	var slow []*Client
	h.lock.RLock()
	for _, c := range h.clients {
		if !c.filter.Allows(ev) {
			continue
		}
		select {
		case c.send <- raw:
		default:
			slow = append(slow, c)
		}
	}
	h.lock.RUnlock()

	for _, c := range slow {
		logger.Ctx(ctx).Warn().Str("session_id", c.sess.ID).Msg("⚠️ client send buffer full, disconnecting")
		go h.leave(c)
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count 返回本节点当前的连接数
func (h *Hub) Count() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Consume 把事件源接到 Hub 上，断线后按退避重连
func (h *Hub) Consume(ctx context.Context, source realtime.Transport, minBackoff, maxBackoff time.Duration) {
	backoff := minBackoff
	for {
		err := source.Subscribe(ctx, realtime.Filter{}, func(raw []byte) { h.Broadcast(ctx, raw) })
		if ctx.Err() != nil {
			return
		}
		logger.Ctx(ctx).Error().Err(err).Dur("backoff", backoff).Msg("⚠️ change source failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Client 是一个 WebSocket 连接的代表
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	sess   session.Session
	filter realtime.Filter
}

// writePump 把 send channel 中的消息写入 websocket，并定期发送心跳。
// 会话到期时以 CloseSessionExpired 关闭连接。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	expiry := time.NewTimer(time.Until(c.sess.ExpiresAt))
	defer func() {
		ticker.Stop()
		expiry.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-expiry.C:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(infrastructure.CloseSessionExpired, "session expired"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump 只负责读取心跳和关闭帧，客户端不通过 websocket 写入业务数据
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Gateway 是 /ws 的 HTTP 入口
type Gateway struct {
	hub      *Hub
	verifier session.Verifier
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, verifier session.Verifier) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { // 角色终端运行在店内网络，允许所有来源
				return true
			},
		},
	}
}

func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.serveWs)
}

func (g *Gateway) serveWs(w http.ResponseWriter, r *http.Request) {
	// 1. 校验会话，token 可以放在 Authorization 头或 token 参数中
	token := session.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "session token is required", http.StatusUnauthorized)
		return
	}
	sess, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// 2. HTTP 升级为 WebSocket
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	// 3. 创建客户端实例并注册到 Hub
	client := &Client{
		hub:    g.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		sess:   sess,
		filter: realtime.FilterFor(orderdomain.Role(sess.Role), sess.RestaurantID),
	}
	select {
	case g.hub.register <- client:
	case <-g.hub.done:
		conn.Close()
		return
	}

	// 4. 启动读写 goroutine
	go client.writePump()
	go client.readPump()
}
