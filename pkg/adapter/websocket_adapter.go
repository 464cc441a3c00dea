package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/logger"
)

// Grounded on pkg/api/handlers/websocket.go's ConnectionManager/wsClient
// read-pump/write-pump shape, adapted from a broadcast-to-subscribers
// fan-out to a one-conversation-per-connection duplex transport exercising
// domain.OutboundResponse's StreamStart/StreamChunk/StreamEnd frames.
const (
	wsDefaultPingInterval = 30 * time.Second
	wsDefaultPongTimeout   = 10 * time.Second
	wsDefaultWriteTimeout  = 10 * time.Second
	wsDefaultSendBuffer    = 32
)

type wsEnvelope struct {
	Type string `json:"type"` // message | text
	Text string `json:"text"`
}

type wsConn struct {
	conversationID string
	senderID       string
	conn           *websocket.Conn
	send           chan []byte
	closeOnce      sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// WebSocketAdapter is a duplex messaging adapter: each upgraded connection
// is one conversation, keyed by a generated conversation_id in the
// "websocket:<connection-id>" family spec.md §6 documents adapters choosing
// their own format within.
type WebSocketAdapter struct {
	log            logger.Logger
	upgrader       websocket.Upgrader
	writeTimeout   time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration

	mu    sync.RWMutex
	conns map[string]*wsConn // conversation_id -> conn

	inbound chan domain.InboundMessage
}

type WebSocketAdapterConfig struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	Logger         logger.Logger
}

func NewWebSocketAdapter(cfg WebSocketAdapterConfig) *WebSocketAdapter {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = wsDefaultPingInterval
	}
	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = wsDefaultPongTimeout
	}
	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketAdapter{
		log:          log,
		writeTimeout: wsDefaultWriteTimeout,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		conns:        make(map[string]*wsConn),
		inbound:      make(chan domain.InboundMessage, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return isOriginAllowed(r, origins) },
		},
	}
}

func (a *WebSocketAdapter) Name() string { return "websocket" }

// Start returns the inbound channel; the transport itself is driven by
// ServeHTTP as connections arrive, so Start here just exposes the channel
// and closes it when ctx is cancelled.
func (a *WebSocketAdapter) Start(ctx context.Context) (<-chan domain.InboundMessage, error) {
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		for id, c := range a.conns {
			c.close()
			delete(a.conns, id)
		}
		a.mu.Unlock()
	}()
	return a.inbound, nil
}

// ServeHTTP upgrades one connection into a new conversation.
func (a *WebSocketAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	conversationID := fmt.Sprintf("websocket:%s", uuid.New().String())
	senderID := r.URL.Query().Get("sender_id")
	if senderID == "" {
		senderID = conversationID
	}
	c := &wsConn{conversationID: conversationID, senderID: senderID, conn: conn, send: make(chan []byte, wsDefaultSendBuffer)}

	a.mu.Lock()
	a.conns[conversationID] = c
	a.mu.Unlock()

	go a.writePump(c)
	a.readPump(c)
}

func (a *WebSocketAdapter) readPump(c *wsConn) {
	defer func() {
		a.mu.Lock()
		delete(a.conns, c.conversationID)
		a.mu.Unlock()
		c.close()
	}()

	deadline := a.pingInterval + a.pongTimeout
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.log.Warn("websocket read error", "conversation_id", c.conversationID, "error", err)
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		a.inbound <- domain.InboundMessage{
			ID:             uuid.New().String(),
			Source:         a.Name(),
			ConversationID: c.conversationID,
			SenderID:       c.senderID,
			Content:        domain.MessageContent{Kind: domain.ContentText, Text: env.Text},
			Timestamp:      time.Now(),
		}
	}
}

func (a *WebSocketAdapter) writePump(c *wsConn) {
	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(a.writeTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(a.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (a *WebSocketAdapter) lookup(conversationID string) (*wsConn, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.conns[conversationID]
	return c, ok
}

// Respond writes one OutboundResponse frame to original's connection.
// StreamStart/StreamChunk/StreamEnd are sent as separate frames since this
// transport supports real streaming (spec.md §9's "adapters lacking
// streaming buffer chunks" does not apply here).
func (a *WebSocketAdapter) Respond(ctx context.Context, original domain.InboundMessage, resp domain.OutboundResponse) error {
	c, ok := a.lookup(original.ConversationID)
	if !ok {
		return &domain.MessagingError{Adapter: a.Name(), Cause: fmt.Errorf("no open connection for conversation %q", original.ConversationID)}
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return &domain.MessagingError{Adapter: a.Name(), Cause: err}
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return &domain.MessagingError{Adapter: a.Name(), Cause: fmt.Errorf("send buffer full for conversation %q", original.ConversationID)}
	}
}

// SendStatus relays a StatusUpdate the same way Respond relays a response;
// unlike most adapters (which default this to a no-op per spec.md §6) a
// websocket connection can render "thinking…" live.
func (a *WebSocketAdapter) SendStatus(ctx context.Context, original domain.InboundMessage, update domain.StatusUpdate) error {
	c, ok := a.lookup(original.ConversationID)
	if !ok {
		return nil // connection already closed; status updates are best-effort
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return &domain.MessagingError{Adapter: a.Name(), Cause: err}
	}
	select {
	case c.send <- payload:
	default:
	}
	return nil
}

func (a *WebSocketAdapter) Broadcast(ctx context.Context, target string, resp domain.OutboundResponse) error {
	if target == "" {
		a.mu.RLock()
		defer a.mu.RUnlock()
		payload, err := json.Marshal(resp)
		if err != nil {
			return &domain.MessagingError{Adapter: a.Name(), Cause: err}
		}
		for _, c := range a.conns {
			select {
			case c.send <- payload:
			default:
			}
		}
		return nil
	}
	return a.Respond(ctx, domain.InboundMessage{ConversationID: target}, resp)
}

func (a *WebSocketAdapter) HealthCheck(ctx context.Context) error { return nil }

func (a *WebSocketAdapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.conns {
		c.close()
		delete(a.conns, id)
	}
	return nil
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}
	return false
}

var _ Adapter = (*WebSocketAdapter)(nil)
