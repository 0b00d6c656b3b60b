package stream

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ConnectFunc is invoked when an identified connection registers. The
// presence layer uses it to arm the disconnect hook for the connection.
type ConnectFunc func(sessionID, userID string)

// DisconnectFunc is invoked when a connection drops without a graceful bye
// frame. The presence layer uses it to fire the armed disconnect hook.
type DisconnectFunc func(sessionID, userID string)

func RegisterRoutes(r fiber.Router, hub *Hub, connected ConnectFunc, disconnected DisconnectFunc) {
	r.Get("/ws/:sessionID", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		userID := c.Query("user_id")

		client := hub.Register(sessionID)
		defer hub.Unregister(client)

		if userID != "" && connected != nil {
			connected(sessionID, userID)
		}

		done := make(chan struct{})
		go func() {
			for evt := range client.Send {
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					break
				}
			}
			close(done)
		}()

		graceful := false
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			if string(msg) == "bye" {
				graceful = true
				break
			}
		}

		if !graceful && userID != "" && disconnected != nil {
			disconnected(sessionID, userID)
		}

		hub.Unregister(client)
		<-done
	}))
}
