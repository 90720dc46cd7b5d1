package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// wsUpgradeGuard rejects plain HTTP on the websocket route, mirroring the
// teacher's app.Use("/ws", ...) gate.
func wsUpgradeGuard(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// streamReadings bridges the Broadcaster to one websocket client: every
// reading published to the Hub is forwarded as a JSON-encoded ReadingDTO
// until the connection drops or the subscription is evicted for being too
// slow a consumer.
func (s *Service) streamReadings(c *websocket.Conn) {
	ch, unsubscribe := s.Hub.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(toReadingDTO(r)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
