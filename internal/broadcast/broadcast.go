// Package broadcast delivers named events to rooms of subscribers.
package broadcast

import "encoding/json"

// Event names emitted by the pipeline.
const (
	EventTradeBatch = "trade:batch"
	EventPoolNew    = "pool:new"
)

// GlobalRoom receives events not tied to a pool.
const GlobalRoom = "room:global"

const roomPrefix = "room:"

// Broadcaster emits events to rooms. Emission never blocks on slow consumers.
type Broadcaster interface {
	EmitToRoom(room, event string, payload any)
	EmitGlobal(event string, payload any)
}

// RoomFor returns the room name of a pool.
func RoomFor(pool string) string {
	return roomPrefix + pool
}

// Frame is the wire envelope of every emitted event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Multi fans every emission out to several broadcasters in order.
type Multi []Broadcaster

var _ Broadcaster = Multi(nil)

// EmitToRoom implements Broadcaster.
func (m Multi) EmitToRoom(room, event string, payload any) {
	for _, b := range m {
		b.EmitToRoom(room, event, payload)
	}
}

// EmitGlobal implements Broadcaster.
func (m Multi) EmitGlobal(event string, payload any) {
	for _, b := range m {
		b.EmitGlobal(event, payload)
	}
}
