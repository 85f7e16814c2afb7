package httpapi

import (
	"net/http"

	"wimira/queue-service/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// RealtimeHandler serves the sockjs endpoint customers and display boards
// subscribe through. Clients send subscribe/unsubscribe messages; pushed
// frames are the relay's event envelopes.
func RealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			if !isValidUUID(parsed.QueueID) {
				_ = session.Close(4001, "invalid queue id")
				return
			}
			h.UpdateSubscription(client, hub.Subscription{
				QueueID:     parsed.QueueID,
				TokenNumber: parsed.TokenNumber,
			})
		}
	})
}
