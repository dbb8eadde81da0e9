package api

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const wsBuffer = 32

// handleWebSocket streams archive events to the client until it
// disconnects. Incoming messages are ignored.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()
	if s.events == nil {
		return
	}

	s.metrics.IncrementActiveConnections()
	defer s.metrics.DecrementActiveConnections()

	sub, unsubscribe := s.events.Subscribe(wsBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := c.WriteJSON(e); err != nil {
				s.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}
