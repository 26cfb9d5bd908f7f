package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deckvoice/deckvoice/internal/realtime"
	realtimeTypes "github.com/deckvoice/deckvoice/pkg/realtime"
)

var realtimeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := realtime.NewClient(uuid.NewString(), conn)
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID())

	go client.WriteLoop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg realtimeTypes.ClientEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendRealtimeError(client, "invalid message")
			continue
		}

		switch msg.Type {
		case realtimeTypes.ClientMessageTypeSubscribe:
			h.handleRealtimeSubscribe(client, msg.Topics)
		case realtimeTypes.ClientMessageTypeUnsubscribe:
			h.handleRealtimeUnsubscribe(client, msg.Topics)
		case realtimeTypes.ClientMessageTypePing:
			if !client.Queue(realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong}) {
				return
			}
		default:
			h.sendRealtimeError(client, "unsupported message type")
		}
	}
}

func (h *Handler) handleRealtimeSubscribe(client *realtime.Client, topics []string) {
	valid := make([]string, 0, len(topics))
	for _, topic := range topics {
		if !realtimeTypes.IsSupportedTopic(topic) {
			h.sendRealtimeError(client, "unsupported topic: "+topic)
			continue
		}
		valid = append(valid, topic)
	}
	if len(valid) == 0 {
		return
	}

	h.hub.Subscribe(client.ID(), valid)

	// A position subscriber starts from the current snapshot instead of
	// waiting for the next change.
	for _, topic := range valid {
		if topic != realtimeTypes.TopicPosition {
			continue
		}
		snap := h.engine.Snapshot()
		if !client.Queue(realtimeTypes.ServerEnvelope{
			Type:  realtimeTypes.ServerMessageTypeSnapshot,
			Topic: topic,
			Payload: realtimeTypes.PositionEvent{
				DocumentID:   snap.DocumentID,
				SlideIndex:   snap.SlideIndex,
				CommentCount: snap.CommentCount,
				HasNotes:     snap.HasNotes,
				Seq:          snap.Seq,
			},
		}) {
			h.hub.Unregister(client.ID())
			return
		}
	}
}

func (h *Handler) handleRealtimeUnsubscribe(client *realtime.Client, topics []string) {
	valid := make([]string, 0, len(topics))
	for _, topic := range topics {
		if realtimeTypes.IsSupportedTopic(topic) {
			valid = append(valid, topic)
		}
	}
	if len(valid) == 0 {
		return
	}
	h.hub.Unsubscribe(client.ID(), valid)
}

func (h *Handler) sendRealtimeError(client *realtime.Client, message string) {
	if !client.Queue(realtimeTypes.ServerEnvelope{
		Type:    realtimeTypes.ServerMessageTypeError,
		Message: message,
	}) {
		h.hub.Unregister(client.ID())
	}
}
