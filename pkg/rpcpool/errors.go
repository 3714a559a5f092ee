package rpcpool

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownChain is returned for chains that were never registered
	ErrUnknownChain = errors.New("unknown chain")

	// ErrNoEndpoints is returned when registering a chain without endpoints
	ErrNoEndpoints = errors.New("no endpoints configured")

	// ErrAllEndpointsInBackoff is returned when every endpoint of a chain is in backoff
	ErrAllEndpointsInBackoff = errors.New("all endpoints in backoff")

	// ErrAttemptsExhausted is returned by Do after MaxAttempts transient failures
	ErrAttemptsExhausted = errors.New("rpc attempts exhausted")

	// ErrUnknownEndpoint is returned for URLs not registered on the chain
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// EndpointError is a failed call against one endpoint
type EndpointError struct {
	Chain    string
	URL      string
	Terminal bool
	Err      error
}

func (e *EndpointError) Error() string {
	kind := "transient"
	if e.Terminal {
		kind = "terminal"
	}
	return fmt.Sprintf("%s endpoint %s (%s): %v", e.Chain, e.URL, kind, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
