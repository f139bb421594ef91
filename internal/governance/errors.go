package governance

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a veto names an entry that does not exist.
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidVoter rejects a veto without a voter id.
	ErrInvalidVoter = errors.New("voter id is required")
	// ErrNotBootstrapped means no document has been published yet.
	ErrNotBootstrapped = errors.New("document has not been bootstrapped")
)

// PersistenceError wraps a storage or commit-lock failure. It is never
// retried by the engine.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
