// Package moderation decides whether a proposed revision of the document is
// coherent and on-topic, using an external chat-completion classifier.
package moderation

import (
	"context"
	"fmt"
)

// Verdict is the gate's decision and its human-readable reason.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Reviewer reviews a proposed revision against the current content.
// Implementations return *ServiceError when no verdict could be obtained;
// that is never a rejection.
type Reviewer interface {
	Review(ctx context.Context, current, proposed, description string) (Verdict, error)
}

// ServiceError reports a classifier that was unreachable or answered in an
// unexpected shape.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("moderation %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func serviceError(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Err: err}
}
