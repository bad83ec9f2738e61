package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemetryhub/pkg/models"
)

const writeTimeout = 10 * time.Second

// WSSubscriber adapts a websocket connection to the hub. Sends are
// serialized with a mutex because the connection allows one writer at a
// time.
type WSSubscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSubscriber wraps an upgraded websocket connection.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{conn: conn}
}

// Send writes msg as JSON with a bounded deadline.
func (s *WSSubscriber) Send(msg models.HubMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// Close closes the underlying connection.
func (s *WSSubscriber) Close() error {
	return s.conn.Close()
}
