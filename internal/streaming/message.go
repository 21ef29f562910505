package streaming

import (
	"encoding/json"
	"errors"

	"chainlens/internal/domain"
)

type MessageType string

const (
	MessageTypeTransaction MessageType = "transaction"
)

// Message is the wire envelope published for every stored transaction.
type Message struct {
	Type        MessageType         `json:"type"`
	TraceID     string              `json:"trace_id,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.Type == MessageTypeTransaction {
		if msg.Transaction == nil {
			return nil, errors.New("transaction payload is required")
		}
		if msg.Transaction.Hash == "" {
			return nil, errors.New("transaction hash is required")
		}
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.Type == MessageTypeTransaction && msg.Transaction == nil {
		return Message{}, errors.New("transaction payload is missing")
	}
	return msg, nil
}
