package store

import "time"

// Document is the singleton published text. EntryID names the ledger entry
// whose content it currently carries.
type Document struct {
	Content   string
	EntryID   int64
	UpdatedAt time.Time
}

// LedgerEntry is one accepted change. Content, ChangeDescription, CreatedAt
// and ID never change after insert; Vetoes only grow and Reversed only goes
// from false to true.
type LedgerEntry struct {
	ID                int64
	Content           string
	ContentDigest     string
	ChangeDescription string
	CreatedAt         time.Time
	Vetoes            []string
	Reversed          bool
	ReversedAt        *time.Time
}

// NewEntry is the input for appending to the ledger.
type NewEntry struct {
	Content           string
	ChangeDescription string
	CreatedAt         time.Time
}

type SearchHit struct {
	EntryID           int64
	ChangeDescription string
	Snippet           string
	Reversed          bool
}
