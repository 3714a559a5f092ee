package chain

import (
	"context"
	"fmt"
	"strings"
)

// Type is the RPC dialect and address format of a chain
type Type string

const (
	TypeEVM      Type = "evm"
	TypeStarknet Type = "starknet"
)

// ParseType parses a chain type name case-insensitively
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeEVM:
		return TypeEVM, nil
	case TypeStarknet:
		return TypeStarknet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChainType, s)
	}
}

// RawLog is an event emitted by a transaction as returned by the node
type RawLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	// Data is the hex encoded log data (EVM)
	Data string `json:"data,omitempty"`
	// Felts is the event data of a Starknet event
	Felts []string `json:"felts,omitempty"`
	Index uint64   `json:"logIndex"`
}

// RawTransaction is a wallet transaction as returned by the node, before decoding
type RawTransaction struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"blockNumber"`
	From        string `json:"from"`
	To          string `json:"to"`
	// Input is the hex call data of an EVM transaction
	Input string `json:"input,omitempty"`
	// Calldata is the felt call data of a Starknet invoke transaction
	Calldata []string `json:"calldata,omitempty"`
	Value    string   `json:"value,omitempty"`
	// Status is 1 for success and 0 for a reverted transaction
	Status uint64   `json:"status"`
	Logs   []RawLog `json:"logs,omitempty"`
}

// Client reads wallet activity from one node endpoint
type Client interface {
	// LatestBlock returns the current head block number
	LatestBlock(ctx context.Context) (uint64, error)

	// WalletActivity returns transactions in [from, to] sent by or to the
	// wallet, ordered by block number
	WalletActivity(ctx context.Context, address string, from, to uint64) ([]RawTransaction, error)

	// Close releases the underlying connection
	Close()
}
