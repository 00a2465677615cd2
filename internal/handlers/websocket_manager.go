package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/entities"
)

var _ ports.EventPublisher = (*Manager)(nil)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 64
)

type subscriber struct {
	merchantID string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Manager keeps the connected facilitators and pushes lifecycle events to them.
// Group events go only to the group's target facilitator; order events go to everyone.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

func NewWebSocketManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are left to the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

// Serve registers conn for merchantID and blocks until the peer goes away.
func (m *Manager) Serve(conn *websocket.Conn, merchantID string) {
	sub := &subscriber{
		merchantID: merchantID,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	go m.writeLoop(sub)
	m.readLoop(sub)

	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
	_ = conn.Close()
}

// Subscribers returns the number of live connections.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

func (m *Manager) Publish(_ context.Context, events ...entities.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Type, err)
		}

		m.mu.RLock()
		for sub := range m.subscribers {
			if e.TargetMerchantID != "" && e.TargetMerchantID != sub.merchantID {
				continue
			}
			select {
			case sub.send <- payload:
			default:
				m.logger.Warn("Dropping slow websocket subscriber", "merchant_id", sub.merchantID)
				sub.close()
			}
		}
		m.mu.RUnlock()
	}
	return nil
}

// readLoop only consumes control frames; facilitators never send commands over the socket.
func (m *Manager) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("WebSocket connection closed", "merchant_id", sub.merchantID, "error", err)
			}
			return
		}
	}
}

func (m *Manager) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case payload := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.logger.Debug("WebSocket write failed", "merchant_id", sub.merchantID, "error", err)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
