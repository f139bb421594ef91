package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendEntry(t *testing.T, s *Store, content, description string) LedgerEntry {
	t.Helper()
	var entry LedgerEntry
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		entry, err = tx.AppendEntry(ctx, NewEntry{Content: content, ChangeDescription: description, CreatedAt: time.Now()})
		if err != nil {
			return err
		}
		return tx.PutDocument(ctx, Document{Content: content, EntryID: entry.ID, UpdatedAt: entry.CreatedAt})
	})
	require.NoError(t, err)
	return entry
}

func TestDocumentMissingBeforeFirstPublish(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Document(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendEntryAssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)

	first := appendEntry(t, s, "one", "seed")
	second := appendEntry(t, s, "two", "tweak")
	require.Greater(t, second.ID, first.ID)
	require.Equal(t, Digest("two"), second.ContentDigest)

	doc, err := s.Document(context.Background())
	require.NoError(t, err)
	require.Equal(t, "two", doc.Content)
	require.Equal(t, second.ID, doc.EntryID)

	entries, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "one", entries[0].Content)
	require.Equal(t, "tweak", entries[1].ChangeDescription)
	require.NotNil(t, entries[0].Vetoes)
	require.False(t, entries[1].Reversed)
}

func TestAddVetoHasSetSemantics(t *testing.T) {
	s := openTestStore(t)
	entry := appendEntry(t, s, "one", "seed")
	ctx := context.Background()

	var added []bool
	for _, voter := range []string{"alice", "alice", "bob"} {
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			ok, err := tx.AddVeto(ctx, entry.ID, voter, time.Now())
			added = append(added, ok)
			return err
		}))
	}
	require.Equal(t, []bool{true, false, true}, added)

	got, err := s.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, got.Vetoes)
}

func TestMarkReversedIsTerminal(t *testing.T) {
	s := openTestStore(t)
	entry := appendEntry(t, s, "one", "seed")
	ctx := context.Background()

	var flips []bool
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			ok, err := tx.MarkReversed(ctx, entry.ID, time.Now())
			flips = append(flips, ok)
			return err
		}))
	}
	require.Equal(t, []bool{true, false}, flips)

	got, err := s.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, got.Reversed)
	require.NotNil(t, got.ReversedAt)

	_, err = s.DB().ExecContext(ctx, `UPDATE ledger_entries SET reversed=FALSE WHERE id=?`, entry.ID)
	require.Error(t, err, "reversal must be terminal")
}

func TestNearestActiveBeforeSkipsReversed(t *testing.T) {
	s := openTestStore(t)
	e1 := appendEntry(t, s, "one", "seed")
	e2 := appendEntry(t, s, "two", "a")
	e3 := appendEntry(t, s, "three", "b")
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.MarkReversed(ctx, e2.ID, time.Now())
		return err
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.NearestActiveBefore(ctx, e3.ID)
		require.NoError(t, err)
		require.Equal(t, e1.ID, got.ID)

		_, err = tx.NearestActiveBefore(ctx, e1.ID)
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.AppendEntry(ctx, NewEntry{Content: "lost", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.AppendEntry(ctx, NewEntry{Content: "lost", CreatedAt: time.Now()}); err != nil {
				return err
			}
			panic("boom")
		})
	})

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLedgerRejectsDelete(t *testing.T) {
	s := openTestStore(t)
	entry := appendEntry(t, s, "one", "seed")

	_, err := s.DB().ExecContext(context.Background(), `DELETE FROM ledger_entries WHERE id=?`, entry.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "append-only")
}

func TestGetEntryUnknownID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetEntry(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchEntriesSQLite(t *testing.T) {
	s := openTestStore(t)
	appendEntry(t, s, "1. Do no harm.\n2. Foster knowledge.", "seed")
	appendEntry(t, s, "1. Do no harm.\n2. Foster curiosity and knowledge.", "Add curiosity")
	ctx := context.Background()

	hits, total, err := s.SearchEntries(ctx, "CURIOSITY", 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, hits, 1)
	require.Equal(t, "Add curiosity", hits[0].ChangeDescription)
	require.Contains(t, hits[0].Snippet, "curiosity")

	hits, total, err = s.SearchEntries(ctx, "100%", 10)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, hits)

	hits, _, err = s.SearchEntries(ctx, "   ", 10)
	require.NoError(t, err)
	require.Nil(t, hits)
}

func TestParseDialect(t *testing.T) {
	for input, want := range map[string]Dialect{
		"":         DialectSQLite,
		"sqlite":   DialectSQLite,
		"Postgres": DialectPostgres,
		"pgx":      DialectPostgres,
	} {
		got, err := ParseDialect(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
	_, err := ParseDialect("mysql")
	require.Error(t, err)
}

func TestSnippetAround(t *testing.T) {
	content := "Humanity's Code of Ethics: respect the autonomy and dignity of all sentient beings."
	require.Equal(t, "…autonomy…", snippetAround(content, "autonomy", 0))
	require.Equal(t, content, snippetAround(content, "nothing-here", 500))
}

// exerciseOverlappingVetoes starts a second veto transaction while the first
// still holds the entry and checks that the second sees the first's voter.
func exerciseOverlappingVetoes(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	var entry LedgerEntry
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		entry, err = tx.AppendEntry(ctx, NewEntry{Content: "one", ChangeDescription: "seed", CreatedAt: time.Now()})
		return err
	}))

	locked := make(chan struct{})
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockEntry(ctx, entry.ID); err != nil {
				return err
			}
			close(locked)
			time.Sleep(100 * time.Millisecond)
			_, err := tx.AddVeto(ctx, entry.ID, "alice", time.Now())
			return err
		})
	}()

	<-locked
	var seen []string
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.LockEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		seen = got.Vetoes
		_, err = tx.AddVeto(ctx, entry.ID, "bob", time.Now())
		return err
	}))
	require.NoError(t, <-firstErr)
	require.Equal(t, []string{"alice"}, seen)
}

func TestLockEntrySerializesVetoes(t *testing.T) {
	exerciseOverlappingVetoes(t, openTestStore(t))
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "ethos.db")

	s, err := Open(context.Background(), DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	appendEntry(t, s, "one", "seed")
	_, err = os.Stat(path)
	require.NoError(t, err)
}
