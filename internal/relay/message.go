package relay

import (
	"encoding/json"
	"time"
)

// Kind tags the payload of a relayed frame.
type Kind string

// Frame kinds pushed to live peers.
const (
	KindChat         Kind = "chat"
	KindTyping       Kind = "typing"
	KindStopTyping   Kind = "stop_typing"
	KindNotification Kind = "notification"
	KindSignaling    Kind = "signaling"
)

// Message is the tagged payload delivered to an online peer. It is
// transient: the dispatcher never stores it, and durability is the
// persistence gateway's responsibility, handled by the channel handler
// before (or independent of) relay.
type Message struct {
	Kind      Kind            `json:"kind"`
	From      string          `json:"from,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(kind Kind, from string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Kind:      kind,
		From:      from,
		Body:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Encode serializes the message into its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
