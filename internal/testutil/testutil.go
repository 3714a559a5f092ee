package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// ---- Mock JSON-RPC Server ----

// RPCRequest is a JSON-RPC 2.0 request as received by the mock server
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response written by the mock server
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MethodHandler answers one JSON-RPC method
type MethodHandler func(params json.RawMessage) (json.RawMessage, *RPCError)

// RPCServer is an httptest server dispatching JSON-RPC calls (single and
// batch) to method handlers and counting calls per method.
type RPCServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]MethodHandler
	calls    map[string]int
}

// NewRPCServer starts a mock JSON-RPC server closed on test cleanup
func NewRPCServer(t *testing.T, handlers map[string]MethodHandler) *RPCServer {
	t.Helper()

	s := &RPCServer{
		handlers: handlers,
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *RPCServer) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var reqs []RPCRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, "invalid batch", http.StatusBadRequest)
			return
		}
		responses := make([]RPCResponse, 0, len(reqs))
		for _, req := range reqs {
			responses = append(responses, s.dispatch(req))
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(s.dispatch(req))
}

func (s *RPCServer) dispatch(req RPCRequest) RPCResponse {
	s.mu.Lock()
	s.calls[req.Method]++
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()

	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

// Calls returns how many times method was called
func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// SetHandler replaces the handler of a method
func (s *RPCServer) SetHandler(method string, h MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Result returns a handler answering with a fixed JSON value
func Result(raw string) MethodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *RPCError) {
		return json.RawMessage(raw), nil
	}
}

// Fail returns a handler answering with a JSON-RPC error
func Fail(code int, msg string) MethodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *RPCError) {
		return nil, &RPCError{Code: code, Message: msg}
	}
}

// HexUint renders n as a JSON quantity string
func HexUint(n uint64) string {
	return fmt.Sprintf(`"0x%x"`, n)
}

// ---- Waiting ----

// Eventually polls cond every 5ms until it holds or timeout passes
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(msgAndArgs) > 0 {
		t.Fatalf("condition not met within %v: %v", timeout, fmt.Sprint(msgAndArgs...))
	}
	t.Fatalf("condition not met within %v", timeout)
}
