package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownCategory indicates the classifier emitted a label that the
	// category registry cannot route. It is a configuration defect and is
	// never retried within the turn.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownAgent indicates a state snapshot references an agent that is
	// not registered with the manager.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrNoResult indicates a child agent completed without a terminal result.
	ErrNoResult = errors.New("agent produced no result")

	// ErrTurnInProgress indicates feedback arrived for a thread whose turn has
	// not reached END yet.
	ErrTurnInProgress = errors.New("turn in progress")

	// ErrEmptyCompletion indicates a model call succeeded but returned no
	// text.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
