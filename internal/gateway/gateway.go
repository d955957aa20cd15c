// Package gateway terminates operator WebSocket sessions. Connections arrive
// unauthenticated, walk the one-time-code login flow, and then exchange
// engine envelopes until they drop.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iamllama/aussiebot/internal/auth"
	"github.com/iamllama/aussiebot/internal/msg"
)

// Heartbeat tokens. They bypass auth and routing entirely.
const (
	heartbeatPing = "\U0001F493" // 💓
	heartbeatPong = "\U0001F440" // 👀
)

// Config configures the gateway.
type Config struct {
	// AllowedOrigins lists acceptable Origin headers. Empty allows any.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Gateway owns the session table and fans outbound payloads to it.
type Gateway struct {
	// ctx outlives individual requests; sessions are bound to it, not to
	// the upgrade request's context, which net/http cancels once ServeHTTP
	// returns.
	ctx      context.Context
	auth     *auth.Authenticator
	inbound  chan<- msg.Frame
	logger   *slog.Logger
	origins  map[string]struct{}
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[msg.ClientAddr]*client
}

// New builds a gateway that authenticates with authenticator and forwards
// post-auth frames to inbound. Sessions run until they drop or ctx ends.
func New(ctx context.Context, authenticator *auth.Authenticator, inbound chan<- msg.Frame, cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins[trimmed] = struct{}{}
		}
	}
	g := &Gateway{
		ctx:      ctx,
		auth:     authenticator,
		inbound:  inbound,
		logger:   logger,
		origins:  origins,
		sessions: make(map[msg.ClientAddr]*client),
	}
	g.upgrader = websocket.Upgrader{CheckOrigin: g.checkOrigin}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.origins) == 0 {
		return true
	}
	_, ok := g.origins[r.Header.Get("Origin")]
	return ok
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	peer := realIP(r)
	c := &client{
		gateway: g,
		conn:    conn,
		peer:    peer,
		send:    make(chan []byte, 16),
	}
	g.logger.Info("session opened", "peer", peer)
	go c.writeLoop()
	go c.readLoop(g.ctx)
}

// realIP prefers the forwarding headers a fronting proxy sets.
func realIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[c.addr()] = c
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions[c.addr()] == c {
		delete(g.sessions, c.addr())
	}
}

// Deliver routes one serialized payload to the sessions loc selects. Slow
// sessions drop the payload rather than stall the fan-out.
func (g *Gateway) Deliver(loc msg.Location, raw []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch loc.Kind {
	case msg.LocClient:
		if c, ok := g.sessions[loc.Client]; ok {
			c.trySend(raw)
		}
	case msg.LocClients:
		if loc.List == nil {
			for _, c := range g.sessions {
				c.trySend(raw)
			}
			return
		}
		for _, addr := range loc.List {
			if c, ok := g.sessions[addr]; ok {
				c.trySend(raw)
			}
		}
	case msg.LocBroadcast:
		for _, c := range g.sessions {
			c.trySend(raw)
		}
	}
}

type client struct {
	gateway *Gateway
	conn    *websocket.Conn
	peer    string
	name    string
	authed  bool
	send    chan []byte
	closed  sync.Once
}

func (c *client) addr() msg.ClientAddr {
	return msg.ClientAddr{Name: c.name, Addr: c.peer}
}

func (c *client) trySend(raw []byte) {
	select {
	case c.send <- raw:
	default:
	}
}

func (c *client) writeLoop() {
	defer c.close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer c.close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if string(payload) == heartbeatPing {
			c.trySend([]byte(heartbeatPong))
			continue
		}
		if !c.authed {
			c.handleAuth(ctx, payload)
			continue
		}
		frame := msg.Frame{Origin: msg.Client(c.name, c.peer), Data: payload}
		select {
		case c.gateway.inbound <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) handleAuth(ctx context.Context, payload []byte) {
	var req auth.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		c.gateway.logger.Debug("unparseable auth frame", "peer", c.peer, "error", err)
		return
	}
	reply, err := c.gateway.auth.Handle(ctx, c.peer, req)
	if err != nil {
		c.gateway.logger.Error("auth handling failed", "peer", c.peer, "error", err)
		reply = auth.Reply{Kind: auth.ReplyServerError}
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	c.trySend(data)
	if reply.Kind == auth.ReplyAuthSuccess {
		c.name = reply.User
		c.authed = true
		c.gateway.register(c)
		c.gateway.logger.Info("session authenticated", "peer", c.peer, "user", c.name)
	}
}

func (c *client) close() {
	c.closed.Do(func() {
		if c.authed {
			c.gateway.unregister(c)
		}
		close(c.send)
		_ = c.conn.Close()
		c.gateway.logger.Info("session closed", "peer", c.peer, "user", c.name)
	})
}
