// Package governance implements the edit-acceptance protocol and the veto
// coordinator on top of the ledger store.
package governance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ethos/api/internal/lock"
	"ethos/api/internal/moderation"
	"ethos/api/internal/store"
)

const (
	// Quorum is the number of distinct voters that reverses an entry.
	Quorum = 2
	// SeedDescription labels the ledger entry created at bootstrap.
	SeedDescription = "Initial Version"
)

// Repository is the persistence surface the engine needs.
type Repository interface {
	Document(ctx context.Context) (store.Document, error)
	GetEntry(ctx context.Context, id int64) (store.LedgerEntry, error)
	ListEntries(ctx context.Context) ([]store.LedgerEntry, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
}

type EditResult struct {
	Accepted bool
	Reason   string
	EntryID  int64
}

// VetoResult reports what a veto did. Applied is false for a repeat veto by
// the same voter. RestoredEntryID is zero when no predecessor was published.
type VetoResult struct {
	Applied         bool
	Reversed        bool
	RestoredEntryID int64
	Vetoes          int
}

type Engine struct {
	repo   Repository
	gate   moderation.Reviewer
	locker lock.Locker
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

func New(repo Repository, gate moderation.Reviewer, locker lock.Locker, logger *slog.Logger) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		gate:   gate,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers an observer for committed ledger changes.
func (e *Engine) Subscribe(observer Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, observer)
}

func (e *Engine) publish(ctx context.Context, event Event) {
	e.mu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.RUnlock()
	for _, observer := range observers {
		observer.Observe(ctx, event)
	}
}

// Bootstrap publishes the seed entry and the document if nothing has been
// published yet. It reports whether it created them.
func (e *Engine) Bootstrap(ctx context.Context, seedContent string) (bool, error) {
	release, err := e.locker.Lock(ctx)
	if err != nil {
		return false, persistenceError("acquire lock", err)
	}
	defer release()

	var seed store.LedgerEntry
	err = e.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockDocument(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		now := e.now()
		seed, err = tx.AppendEntry(ctx, store.NewEntry{Content: seedContent, ChangeDescription: SeedDescription, CreatedAt: now})
		if err != nil {
			return err
		}
		return tx.PutDocument(ctx, store.Document{Content: seedContent, EntryID: seed.ID, UpdatedAt: now})
	})
	if err != nil {
		return false, persistenceError("bootstrap", err)
	}
	if seed.ID == 0 {
		return false, nil
	}
	e.logger.InfoContext(ctx, "document bootstrapped", "entry_id", seed.ID)
	e.publish(ctx, Event{Kind: EventCommitted, Entry: seed})
	return true, nil
}

// ProposeEdit asks the gate about proposed against the current document and
// commits it on acceptance. The gate runs without the commit lock, so a
// concurrent proposal may commit in between; the later commit wins.
func (e *Engine) ProposeEdit(ctx context.Context, proposed, description string) (EditResult, error) {
	current, err := e.Article(ctx)
	if err != nil {
		return EditResult{}, err
	}

	verdict, err := e.gate.Review(ctx, current.Content, proposed, description)
	if err != nil {
		var svcErr *moderation.ServiceError
		if !errors.As(err, &svcErr) {
			err = &moderation.ServiceError{Op: "review", Err: err}
		}
		e.logger.WarnContext(ctx, "moderation unavailable", "error", err)
		return EditResult{}, err
	}
	if !verdict.Accepted {
		e.logger.InfoContext(ctx, "edit rejected", "reason", verdict.Reason)
		return EditResult{Accepted: false, Reason: verdict.Reason}, nil
	}

	release, err := e.locker.Lock(ctx)
	if err != nil {
		return EditResult{}, persistenceError("acquire lock", err)
	}
	defer release()

	var entry store.LedgerEntry
	err = e.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		now := e.now()
		var err error
		entry, err = tx.AppendEntry(ctx, store.NewEntry{Content: proposed, ChangeDescription: description, CreatedAt: now})
		if err != nil {
			return err
		}
		return tx.PutDocument(ctx, store.Document{Content: proposed, EntryID: entry.ID, UpdatedAt: now})
	})
	if err != nil {
		return EditResult{}, persistenceError("commit edit", err)
	}

	e.logger.InfoContext(ctx, "edit committed", "entry_id", entry.ID)
	e.publish(ctx, Event{Kind: EventCommitted, Entry: entry})
	return EditResult{Accepted: true, Reason: verdict.Reason, EntryID: entry.ID}, nil
}

// CastVeto records voterID against entryID. The vote that brings the set to
// Quorum reverses the entry and republishes the highest-id unreversed entry
// below it, whether or not the vetoed entry is the one currently published.
// Voter ids are opaque: a blank id is rejected, any other is stored as given.
func (e *Engine) CastVeto(ctx context.Context, entryID int64, voterID string) (VetoResult, error) {
	if strings.TrimSpace(voterID) == "" {
		return VetoResult{}, ErrInvalidVoter
	}

	release, err := e.locker.Lock(ctx)
	if err != nil {
		return VetoResult{}, persistenceError("acquire lock", err)
	}
	defer release()

	var (
		result   VetoResult
		entry    store.LedgerEntry
		restored *store.LedgerEntry
	)
	err = e.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, err = tx.LockEntry(ctx, entryID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		result = VetoResult{Vetoes: len(entry.Vetoes)}

		now := e.now()
		added, err := tx.AddVeto(ctx, entryID, voterID, now)
		if err != nil {
			return err
		}
		if !added {
			return nil
		}
		entry.Vetoes = append(entry.Vetoes, voterID)
		result.Applied = true
		result.Vetoes = len(entry.Vetoes)

		if len(entry.Vetoes) < Quorum || entry.Reversed {
			return nil
		}
		flipped, err := tx.MarkReversed(ctx, entryID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}
		entry.Reversed = true
		entry.ReversedAt = &now
		result.Reversed = true

		predecessor, err := tx.NearestActiveBefore(ctx, entryID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.PutDocument(ctx, store.Document{Content: predecessor.Content, EntryID: predecessor.ID, UpdatedAt: now}); err != nil {
			return err
		}
		restored = &predecessor
		result.RestoredEntryID = predecessor.ID
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return VetoResult{}, ErrNotFound
	}
	if err != nil {
		return VetoResult{}, persistenceError("cast veto", err)
	}

	switch {
	case result.Reversed:
		e.logger.InfoContext(ctx, "entry reversed", "entry_id", entryID, "restored_entry_id", result.RestoredEntryID)
		e.publish(ctx, Event{Kind: EventReversed, Entry: entry, Restored: restored})
	case result.Applied:
		e.logger.InfoContext(ctx, "veto recorded", "entry_id", entryID, "vetoes", result.Vetoes)
		e.publish(ctx, Event{Kind: EventVetoed, Entry: entry})
	}
	return result, nil
}

// Article returns the currently published document.
func (e *Engine) Article(ctx context.Context) (store.Document, error) {
	doc, err := e.repo.Document(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, persistenceError("read document", ErrNotBootstrapped)
	}
	if err != nil {
		return store.Document{}, persistenceError("read document", err)
	}
	return doc, nil
}

// Entry returns a single ledger entry with its veto set.
func (e *Engine) Entry(ctx context.Context, id int64) (store.LedgerEntry, error) {
	entry, err := e.repo.GetEntry(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return store.LedgerEntry{}, persistenceError("read entry", err)
	}
	return entry, nil
}

// History returns every ledger entry in ascending id order.
func (e *Engine) History(ctx context.Context) ([]store.LedgerEntry, error) {
	entries, err := e.repo.ListEntries(ctx)
	if err != nil {
		return nil, persistenceError("list entries", err)
	}
	return entries, nil
}
