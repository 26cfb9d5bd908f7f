// Package realtime defines the wire envelopes of the observer websocket. A
// remote observer (for example a speech client on another machine) subscribes
// to topics and receives announcements and position updates as they happen.
package realtime

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypePing        ClientMessageType = "ping"
)

type ServerMessageType string

const (
	ServerMessageTypeSnapshot ServerMessageType = "snapshot"
	ServerMessageTypeEvent    ServerMessageType = "event"
	ServerMessageTypeError    ServerMessageType = "error"
	ServerMessageTypePong     ServerMessageType = "pong"
)

const (
	// TopicAnnouncements streams every announcement as it is spoken.
	TopicAnnouncements = "announcements"

	// TopicPosition streams position snapshots; subscribing immediately
	// yields the current snapshot.
	TopicPosition = "position"
)

type ClientEnvelope struct {
	Type   ClientMessageType `json:"type"`
	Topics []string          `json:"topics,omitempty"`
}

type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Topic   string            `json:"topic,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Message string            `json:"message,omitempty"`
}

// AnnouncementEvent is the payload on TopicAnnouncements.
type AnnouncementEvent struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
	Seq      uint64 `json:"seq"`
}

// PositionEvent is the payload on TopicPosition.
type PositionEvent struct {
	DocumentID   string `json:"document_id"`
	SlideIndex   int    `json:"slide_index"`
	CommentCount int    `json:"comment_count"`
	HasNotes     bool   `json:"has_notes"`
	Seq          uint64 `json:"seq"`
}

func IsSupportedTopic(topic string) bool {
	switch topic {
	case TopicAnnouncements, TopicPosition:
		return true
	}
	return false
}
