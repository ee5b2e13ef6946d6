package ws

import "encoding/json"

// ErrorFrame builds the frame sent back to a connection that caused a
// protocol error. Protocol errors never close the connection, except for a
// missing-identity first frame.
func ErrorFrame(message string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"kind":    "error",
		"message": message,
	})
	return payload
}

// PongFrame answers a client heartbeat.
func PongFrame() []byte {
	payload, _ := json.Marshal(map[string]any{"kind": "pong"})
	return payload
}
