package governance

import (
	"context"

	"ethos/api/internal/store"
)

type EventKind string

const (
	EventCommitted EventKind = "committed"
	EventVetoed    EventKind = "vetoed"
	EventReversed  EventKind = "reversed"
)

// Event describes a ledger change that has already been committed. Entry is
// the entry as it stands after the change; Restored is set when a reversal
// republished a predecessor.
type Event struct {
	Kind     EventKind
	Entry    store.LedgerEntry
	Restored *store.LedgerEntry
}

// Observer receives events after the owning transaction commits. Observers
// must not block for long; slow work belongs on their own goroutines.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}
