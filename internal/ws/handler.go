package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/bunnychess/backend/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// Handle upgrades an authenticated client to a WebSocket and registers it with
// the hub. Browsers cannot set headers on WebSocket upgrades, so the session
// token travels in the `token` query parameter.
func Handle(hub *Hub, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		accountID, err := middleware.ParseAccountID(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] upgrade failed for account %s: %v", accountID, err)
			return
		}

		client := &Client{
			conn:      conn,
			accountID: accountID,
			send:      make(chan []byte, 64),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump(hub)
	}
}
