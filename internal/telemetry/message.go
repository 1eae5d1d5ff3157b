package telemetry

import (
	"encoding/json"
	"time"
)

// MessageType identifies an outbound telemetry message.
type MessageType string

const (
	TypeStatus MessageType = "STATUS"
	TypeResult MessageType = "RESULT"
	TypeInfo   MessageType = "INFO"
)

// Message is the outbound wire envelope: one JSON object per line.
type Message struct {
	Timestamp float64     `json:"timestamp"` // seconds since epoch
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
}

// NewMessage wraps a payload with the current timestamp.
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Type:      msgType,
		Data:      data,
	}
}

// Encode serializes the message followed by the line delimiter.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// inboundCommand is the JSON form of an incoming command line.
type inboundCommand struct {
	Command string            `json:"command"`
	Params  map[string]string `json:"params"`
}
