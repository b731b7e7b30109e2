package amqp

import (
	"encoding/json"
	"time"

	"counters/internal/store"
)

// ChangeMessage announces a committed write to the categories table. It
// carries no row data; consumers re-read the table.
type ChangeMessage struct {
	Kind      store.ChangeKind `json:"kind"`
	ID        string           `json:"id,omitempty"`
	Origin    string           `json:"origin,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewChangeMessage builds the message for change.
func NewChangeMessage(change store.Change) *ChangeMessage {
	ts := change.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ChangeMessage{Kind: change.Kind, ID: change.ID, Origin: change.Origin, Timestamp: ts}
}

// Change converts the message back to a store.Change.
func (m *ChangeMessage) Change() store.Change {
	return store.Change{Kind: m.Kind, ID: m.ID, At: m.Timestamp, Origin: m.Origin}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
