package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrNotFound = errors.New("store: not found")

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists the document singleton and the append-only ledger.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects, migrates and returns a ready Store. Callers own Close.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := OpenDB(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return New(db, dialect), nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a write transaction, committing on success and rolling
// back on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		if commitErr := sqlTx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit tx: %w", commitErr)
		}
	}()

	err = fn(ctx, &txn{q: sqlTx, dialect: s.dialect})
	return err
}

// readTx gives fn a consistent snapshot. SQLite already serializes through
// its single connection, so it reads straight from the pool.
func (s *Store) readTx(ctx context.Context, fn func(q DBTX) error) error {
	if s.dialect == DialectSQLite {
		return fn(s.db)
	}
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) Document(ctx context.Context) (Document, error) {
	return getDocument(ctx, s.db, s.dialect, false)
}

func (s *Store) GetEntry(ctx context.Context, id int64) (LedgerEntry, error) {
	var entry LedgerEntry
	err := s.readTx(ctx, func(q DBTX) error {
		var err error
		entry, err = getEntry(ctx, q, s.dialect, id, false)
		return err
	})
	return entry, err
}

// ListEntries returns the whole ledger in ascending id order with veto sets
// read from the same snapshot.
func (s *Store) ListEntries(ctx context.Context) ([]LedgerEntry, error) {
	var items []LedgerEntry
	err := s.readTx(ctx, func(q DBTX) error {
		var err error
		items, err = listEntries(ctx, q)
		return err
	})
	return items, err
}

// SearchEntries matches ledger entries by content or description. Postgres
// uses full-text search; SQLite falls back to a case-insensitive LIKE.
func (s *Store) SearchEntries(ctx context.Context, text string, limit int) ([]SearchHit, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if s.dialect == DialectPostgres {
		return s.searchPostgres(ctx, text, limit)
	}
	return s.searchSQLite(ctx, text, limit)
}

func (s *Store) searchPostgres(ctx context.Context, text string, limit int) ([]SearchHit, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, change_description,
			ts_headline('english', content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			reversed,
			COUNT(*) OVER () AS total
		FROM ledger_entries
		WHERE to_tsvector('english', change_description || ' ' || content) @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', change_description || ' ' || content), plainto_tsquery('english', $1)) DESC, id DESC
		LIMIT $2
	`, text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	total := 0
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.EntryID, &hit.ChangeDescription, &hit.Snippet, &hit.Reversed, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, total, nil
}

func (s *Store) searchSQLite(ctx context.Context, text string, limit int) ([]SearchHit, int, error) {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT id, change_description, content, reversed, COUNT(*) OVER () AS total
		FROM ledger_entries
		WHERE LOWER(content) LIKE $1 ESCAPE '\' OR LOWER(change_description) LIKE $1 ESCAPE '\'
		ORDER BY id DESC
		LIMIT $2
	`), pattern, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0)
	total := 0
	for rows.Next() {
		var (
			hit     SearchHit
			content string
		)
		if err := rows.Scan(&hit.EntryID, &hit.ChangeDescription, &content, &hit.Reversed, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Snippet = snippetAround(content, text, 60)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, total, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// snippetAround returns up to radius runes either side of the first
// case-insensitive match, or the head of content when the match is only in
// the description.
func snippetAround(content, text string, radius int) string {
	runes := []rune(content)
	lower := strings.ToLower(content)
	idx := strings.Index(lower, strings.ToLower(text))
	start := 0
	if idx >= 0 {
		start = utf8.RuneCountInString(lower[:idx]) - radius
	}
	if start < 0 {
		start = 0
	}
	end := start + 2*radius + utf8.RuneCountInString(text)
	if end > len(runes) {
		end = len(runes)
	}
	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(runes) {
		snippet += "…"
	}
	return snippet
}
