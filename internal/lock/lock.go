// Package lock serializes governance mutations. Local covers a single API
// process; Redis extends the same guarantee across replicas that share one
// database.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned when a lease expired before it was released.
var ErrNotHeld = errors.New("lock: lease no longer held")

// Locker hands out an exclusive section. The returned release func is safe to
// call more than once.
type Locker interface {
	Lock(ctx context.Context) (release func(), err error)
}

// Local is an in-process mutex that honours context cancellation while
// waiting.
type Local struct {
	ch chan struct{}
}

func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

func (l *Local) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-l.ch })
	}, nil
}
