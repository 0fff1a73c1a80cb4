package queue

import "encoding/json"

// Message kinds understood by queue consumers.
const (
	// KindOptimizationRequest asks the worker to run a full optimization
	// for a stored document.
	KindOptimizationRequest = "optimization.request"
	// KindOptimizationCompleted announces a finished session to downstream
	// consumers (application submission, notifications).
	KindOptimizationCompleted = "optimization.completed"
)

// Message is the payload exchanged with queue consumers.
type Message struct {
	Kind       string `json:"kind"`
	SessionID  string `json:"sessionId,omitempty"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	TargetRole string `json:"targetRole,omitempty"`
	Location   string `json:"location,omitempty"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
