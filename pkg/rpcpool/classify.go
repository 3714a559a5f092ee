package rpcpool

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// Class tells whether a failed call may succeed on another endpoint
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the outcome of Classify
type Decision struct {
	Class  Class
	Reason string
}

// IsTransient reports whether the call should be retried elsewhere
func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks err as retryable on another endpoint
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient}
}

// Terminal marks err as a failure no endpoint can fix
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal}
}

// codedError matches JSON-RPC errors (go-ethereum rpc.Error and chain.RPCError)
type codedError interface {
	error
	ErrorCode() int
}

// Classify decides whether err is worth retrying on another endpoint.
// Errors nothing recognises are treated as transient: a misbehaving node is
// more common than a request every node rejects.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: "explicit_" + string(marked.class)}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTPStatus(httpErr.StatusCode)
	}

	var coded codedError
	if errors.As(err, &coded) {
		return classifyJSONRPCCode(coded.ErrorCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Decision{Class: ClassTransient, Reason: "net_error"}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Decision{Class: ClassTransient, Reason: "connection"}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Decision{Class: ClassTransient, Reason: "eof"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	return Decision{Class: ClassTransient, Reason: "default_transient"}
}

func classifyHTTPStatus(code int) Decision {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return Decision{Class: ClassTransient, Reason: "http_status_transient"}
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		// endpoint-specific misconfiguration, another endpoint may work
		return Decision{Class: ClassTransient, Reason: "http_status_endpoint"}
	default:
		return Decision{Class: ClassTerminal, Reason: "http_status_terminal"}
	}
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == -32602, code == -32600, code == -32700:
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_invalid_request"}
	case code == 3:
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_execution_reverted"}
	default:
		// server range, method not found and internal errors depend on the node
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var terminalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"execution reverted",
	"invalid address",
	"invalid block range",
}
