package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrMutationInFlight rejects a write while a speculative mutation is
	// still outstanding for the same entity.
	ErrMutationInFlight = errors.New("feed: mutation already outstanding for entity")
	// ErrSessionCleared rejects results from work started before ClearAll.
	ErrSessionCleared = errors.New("feed: session cleared")

	errMissingCache   = errors.New("entity cache is required")
	errMissingLedger  = errors.New("mutation ledger is required")
	errMissingChannel = errors.New("event channel is required")
	errMissingFetcher = errors.New("entity fetcher is required")
)

// EngineError carries an operation.reason code alongside the underlying cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier for the failure.
func (e *EngineError) Code() string {
	return e.code
}

const (
	opSynchronizerNew = "feed.synchronizer.new"
	opEnsure          = "feed.ensure"
	opMutate          = "feed.mutate"
	opSweep           = "feed.sweep"
)

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
