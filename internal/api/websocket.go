package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"backtest-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams bus traffic to a UI client. Delivery into the socket is
// buffered so a slow client never stalls the engine's synchronous bus.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream := make(chan events.Message, 256)
	var unsubs []func()
	for _, topic := range []events.Topic{
		events.TopicBarReceived,
		events.TopicOrderFilled,
		events.TopicSignalGenerated,
		events.TopicPositionOpened,
		events.TopicPositionClosed,
	} {
		unsubs = append(unsubs, s.Bus.Subscribe(topic, func(m events.Message) {
			select {
			case stream <- m:
			default:
				// drop for this client; the engine must not block
			}
		}))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	// reader goroutine only watches for the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-stream:
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
