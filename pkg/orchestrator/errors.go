package orchestrator

import "errors"

var (
	// ErrJobNotFound is returned when no job matches the id or wallet
	ErrJobNotFound = errors.New("job not found")

	// ErrJobInProgress is returned when the wallet already has a queued or running job
	ErrJobInProgress = errors.New("indexing job already in progress for wallet")

	// ErrInvalidTransition is returned when the job status does not allow the operation
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidAddress is returned when the wallet address is not valid for the chain type
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrInvalidBlockRange is returned when the start block is after the end block
	ErrInvalidBlockRange = errors.New("invalid block range")

	// ErrInvalidRequest is returned for a request missing required fields
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrNothingToIndex is returned by a refresh when the wallet is already at the requested block
	ErrNothingToIndex = errors.New("wallet already indexed up to the requested block")

	// ErrQueueFull is returned when the job queue reached its capacity
	ErrQueueFull = errors.New("job queue is full")

	// ErrClosed is returned after the orchestrator has been closed
	ErrClosed = errors.New("orchestrator is closed")
)
