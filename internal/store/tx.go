package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tx is the read-modify-write surface available inside Store.InTx. Every
// mutation of the document or the ledger goes through it.
type Tx interface {
	// LockDocument reads the singleton, taking a row lock where the dialect
	// supports one. Returns ErrNotFound before the first publish.
	LockDocument(ctx context.Context) (Document, error)
	// PutDocument publishes content, creating the singleton on first use.
	PutDocument(ctx context.Context, doc Document) error
	AppendEntry(ctx context.Context, entry NewEntry) (LedgerEntry, error)
	// LockEntry reads an entry and its veto set, taking a row lock on the
	// entry where the dialect supports one so concurrent vetoes serialize.
	LockEntry(ctx context.Context, id int64) (LedgerEntry, error)
	// AddVeto reports whether voterID was newly added to the entry's set.
	AddVeto(ctx context.Context, entryID int64, voterID string, at time.Time) (bool, error)
	// MarkReversed reports whether this call flipped the flag.
	MarkReversed(ctx context.Context, entryID int64, at time.Time) (bool, error)
	// NearestActiveBefore returns the highest-id unreversed entry below id,
	// or ErrNotFound.
	NearestActiveBefore(ctx context.Context, id int64) (LedgerEntry, error)
}

type txn struct {
	q       DBTX
	dialect Dialect
}

func (t *txn) LockDocument(ctx context.Context) (Document, error) {
	return getDocument(ctx, t.q, t.dialect, true)
}

func (t *txn) PutDocument(ctx context.Context, doc Document) error {
	_, err := t.q.ExecContext(ctx, rebind(t.dialect, `
		INSERT INTO document (id, content, entry_id, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, entry_id=EXCLUDED.entry_id, updated_at=EXCLUDED.updated_at
	`), doc.Content, doc.EntryID, timeArg(t.dialect, doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func (t *txn) AppendEntry(ctx context.Context, entry NewEntry) (LedgerEntry, error) {
	created := LedgerEntry{
		Content:           entry.Content,
		ContentDigest:     Digest(entry.Content),
		ChangeDescription: entry.ChangeDescription,
		CreatedAt:         entry.CreatedAt.UTC(),
		Vetoes:            []string{},
	}
	err := t.q.QueryRowContext(ctx, rebind(t.dialect, `
		INSERT INTO ledger_entries (content, content_digest, change_description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`), created.Content, created.ContentDigest, created.ChangeDescription, timeArg(t.dialect, created.CreatedAt)).Scan(&created.ID)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("append entry: %w", err)
	}
	return created, nil
}

func (t *txn) LockEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	return getEntry(ctx, t.q, t.dialect, id, true)
}

func (t *txn) AddVeto(ctx context.Context, entryID int64, voterID string, at time.Time) (bool, error) {
	result, err := t.q.ExecContext(ctx, rebind(t.dialect, `
		INSERT INTO ledger_vetoes (entry_id, voter_id, cast_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (entry_id, voter_id) DO NOTHING
	`), entryID, voterID, timeArg(t.dialect, at))
	if err != nil {
		return false, fmt.Errorf("add veto: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add veto rows: %w", err)
	}
	return affected > 0, nil
}

func (t *txn) MarkReversed(ctx context.Context, entryID int64, at time.Time) (bool, error) {
	result, err := t.q.ExecContext(ctx, rebind(t.dialect, `
		UPDATE ledger_entries SET reversed=TRUE, reversed_at=$2
		WHERE id=$1 AND reversed=FALSE
	`), entryID, timeArg(t.dialect, at))
	if err != nil {
		return false, fmt.Errorf("mark reversed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reversed rows: %w", err)
	}
	return affected > 0, nil
}

func (t *txn) NearestActiveBefore(ctx context.Context, id int64) (LedgerEntry, error) {
	row := t.q.QueryRowContext(ctx, rebind(t.dialect, `
		SELECT id, content, content_digest, change_description, created_at, reversed, reversed_at
		FROM ledger_entries
		WHERE id < $1 AND reversed=FALSE
		ORDER BY id DESC
		LIMIT 1
	`), id)
	entry, err := scanEntry(row)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.Vetoes, err = loadVetoes(ctx, t.q, t.dialect, entry.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

func getDocument(ctx context.Context, q DBTX, dialect Dialect, forUpdate bool) (Document, error) {
	query := `SELECT content, entry_id, updated_at FROM document WHERE id=1`
	if forUpdate && dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var (
		doc       Document
		updatedAt timestamp
	)
	err := q.QueryRowContext(ctx, query).Scan(&doc.Content, &doc.EntryID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	doc.UpdatedAt = updatedAt.Time
	return doc, nil
}

func getEntry(ctx context.Context, q DBTX, dialect Dialect, id int64, forUpdate bool) (LedgerEntry, error) {
	query := `
		SELECT id, content, content_digest, change_description, created_at, reversed, reversed_at
		FROM ledger_entries
		WHERE id=$1`
	if forUpdate && dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	row := q.QueryRowContext(ctx, rebind(dialect, query), id)
	entry, err := scanEntry(row)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.Vetoes, err = loadVetoes(ctx, q, dialect, id)
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (LedgerEntry, error) {
	var (
		entry      LedgerEntry
		createdAt  timestamp
		reversedAt timestamp
	)
	err := row.Scan(&entry.ID, &entry.Content, &entry.ContentDigest, &entry.ChangeDescription, &createdAt, &entry.Reversed, &reversedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, ErrNotFound
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("scan entry: %w", err)
	}
	entry.CreatedAt = createdAt.Time
	entry.ReversedAt = reversedAt.ptr()
	return entry, nil
}

func loadVetoes(ctx context.Context, q DBTX, dialect Dialect, entryID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, rebind(dialect, `
		SELECT voter_id FROM ledger_vetoes WHERE entry_id=$1 ORDER BY cast_at ASC, voter_id ASC
	`), entryID)
	if err != nil {
		return nil, fmt.Errorf("list vetoes: %w", err)
	}
	defer rows.Close()

	vetoes := make([]string, 0)
	for rows.Next() {
		var voterID string
		if err := rows.Scan(&voterID); err != nil {
			return nil, fmt.Errorf("scan veto: %w", err)
		}
		vetoes = append(vetoes, voterID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vetoes: %w", err)
	}
	return vetoes, nil
}

func listEntries(ctx context.Context, q DBTX) ([]LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, content, content_digest, change_description, created_at, reversed, reversed_at
		FROM ledger_entries
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]LedgerEntry, 0)
	index := make(map[int64]int)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entry.Vetoes = []string{}
		index[entry.ID] = len(items)
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	vetoRows, err := q.QueryContext(ctx, `
		SELECT entry_id, voter_id FROM ledger_vetoes ORDER BY cast_at ASC, voter_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list vetoes: %w", err)
	}
	defer vetoRows.Close()

	for vetoRows.Next() {
		var (
			entryID int64
			voterID string
		)
		if err := vetoRows.Scan(&entryID, &voterID); err != nil {
			return nil, fmt.Errorf("scan veto: %w", err)
		}
		if i, ok := index[entryID]; ok {
			items[i].Vetoes = append(items[i].Vetoes, voterID)
		}
	}
	if err := vetoRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vetoes: %w", err)
	}
	return items, nil
}
