package connection

import (
	"encoding/json"
)

// Push protocol message types.
const (
	MessageSubscribe             = "subscribe"
	MessagePing                  = "ping"
	MessageJobUpdate             = "job_update"
	MessageSubscriptionConfirmed = "subscription_confirmed"
	MessagePong                  = "pong"
	MessageError                 = "error"
)

// ClientDisconnectReason marks a close the client asked for.
const ClientDisconnectReason = "client disconnect"

// Message is the envelope of every push frame in either direction.
type Message struct {
	Type    string          `json:"type"`
	JobID   string          `json:"job_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
}

func subscribeMessage(jobID string) []byte {
	data, _ := json.Marshal(Message{Type: MessageSubscribe, JobID: jobID})
	return data
}

func pingMessage() []byte {
	data, _ := json.Marshal(Message{Type: MessagePing})
	return data
}
