package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChainType is returned for a chain type other than evm or starknet
	ErrUnknownChainType = errors.New("unknown chain type")

	// ErrInvalidResponse is returned when a node answers with a malformed JSON-RPC envelope
	ErrInvalidResponse = errors.New("invalid JSON-RPC response")

	// ErrInvalidBlockID is returned for a block id that cannot be rendered
	ErrInvalidBlockID = errors.New("invalid block id")

	// ErrInvalidAddress is returned for an address not valid on the chain type
	ErrInvalidAddress = errors.New("invalid address")

	// ErrBlockNotFound is returned when the node has no block at a height
	ErrBlockNotFound = errors.New("block not found")
)

// RPCError is a JSON-RPC error object returned by a node
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the JSON-RPC error code
func (e *RPCError) ErrorCode() int {
	return e.Code
}
