package broadcaster

import (
	"encoding/json"
	"fmt"
)

// MessageType is the type of a websocket message
type MessageType string

const (
	TypeProgress MessageType = "progress"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
	TypeStatus   MessageType = "status"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

// Message is the envelope of every message sent to a subscriber.
// Timestamp is in unix milliseconds.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ProgressData is the payload of a progress message
type ProgressData struct {
	WalletID          string  `json:"walletId"`
	JobID             string  `json:"jobId"`
	Chain             string  `json:"chain"`
	CurrentBlock      uint64  `json:"currentBlock"`
	StartBlock        uint64  `json:"startBlock"`
	TotalBlocks       uint64  `json:"totalBlocks"`
	TransactionsFound uint64  `json:"transactionsFound"`
	EventsFound       uint64  `json:"eventsFound"`
	BlocksPerSecond   float64 `json:"blocksPerSecond"`
	Percentage        float64 `json:"percentage"`
}

// CompleteData is the payload of a complete message
type CompleteData struct {
	WalletID          string `json:"walletId"`
	JobID             string `json:"jobId"`
	Chain             string `json:"chain"`
	LastBlock         uint64 `json:"lastBlock"`
	TransactionsFound uint64 `json:"transactionsFound"`
	EventsFound       uint64 `json:"eventsFound"`
}

// ErrorData is the payload of an error message
type ErrorData struct {
	WalletID  string `json:"walletId"`
	JobID     string `json:"jobId"`
	Chain     string `json:"chain"`
	Error     string `json:"error"`
	LastBlock uint64 `json:"lastBlock"`
}

// StatusData is the payload of a status message
type StatusData struct {
	WalletID     string `json:"walletId"`
	JobID        string `json:"jobId"`
	Chain        string `json:"chain"`
	Status       string `json:"status"`
	StartBlock   uint64 `json:"startBlock"`
	EndBlock     uint64 `json:"endBlock"`
	CurrentBlock uint64 `json:"currentBlock"`
}

func encodeMessage(typ MessageType, data any, timestamp int64) ([]byte, error) {
	msg := Message{Type: typ, Timestamp: timestamp}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
