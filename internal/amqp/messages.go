package amqp

import (
	"encoding/json"
	"time"

	"fintrack/internal/store"
)

// ChangeMessage is the body published to the change exchange. It carries
// the written rows so consumers can match them against subscription
// filters without a round trip to the database.
type ChangeMessage struct {
	Change    store.Change `json:"change"`
	Origin    string       `json:"origin"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewChangeMessage(c store.Change, origin string) *ChangeMessage {
	return &ChangeMessage{
		Change:    c,
		Origin:    origin,
		Timestamp: time.Now(),
	}
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
