package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// WSHub pushes escrow events to the websocket connections of both parties.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[models.Identity][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[models.Identity][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamEscrow, h.dispatch)
}

func (h *WSHub) dispatch(event events.Event) {
	for _, id := range Recipients(event) {
		h.SendTo(id, event)
	}
}

// Recipients returns the distinct parties named in an escrow event payload.
func Recipients(event events.Event) []models.Identity {
	var out []models.Identity
	for _, key := range []string{"client", "freelancer"} {
		s, _ := event.Payload[key].(string)
		if s == "" {
			continue
		}
		id := models.Identity(s)
		if len(out) == 1 && out[0] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (h *WSHub) SendTo(id models.Identity, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[id] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.String("identity", id.String()), zap.Error(err))
		}
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	id := claims.Identity

	h.mu.Lock()
	h.connections[id] = append(h.connections[id], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[id]
		for i, c := range conns {
			if c == conn {
				h.connections[id] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[id]) == 0 {
			delete(h.connections, id)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
