// ABOUTME: Outbound chat message and its wire record
// ABOUTME: Optional fields are omitted from the JSON body when empty

package outbound

import (
	"encoding/json"
	"fmt"
)

// Message is one chat message to forward to the remote endpoint.
type Message struct {
	SenderID   string // optional opaque identity
	SenderName string
	Body       string
	Prefix     string // optional
}

// Record is the JSON body posted to the remote endpoint.
//
// player_id and prefix are omitted when empty rather than sent as null, so
// receivers written for the id-less variant keep working.
type Record struct {
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
	Prefix     string `json:"prefix,omitempty"`
}

// Record converts m to its wire shape.
func (m Message) Record() Record {
	return Record{
		PlayerID:   m.SenderID,
		PlayerName: m.SenderName,
		Message:    m.Body,
		Prefix:     m.Prefix,
	}
}

// Encode serializes m as a wire record.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m.Record())
	if err != nil {
		return nil, fmt.Errorf("encoding outbound message: %w", err)
	}
	return data, nil
}
