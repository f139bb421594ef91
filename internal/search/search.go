// Package search finds ledger entries by their content or change
// description. Meilisearch serves queries while it is healthy; the database
// answers otherwise.
package search

import (
	"time"

	"ethos/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID                int64  `json:"id"`
	ChangeDescription string `json:"changeDescription"`
	Snippet           string `json:"snippet"`
	Reversed          bool   `json:"reversed"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// EntryRecord is the data we index for a ledger entry.
type EntryRecord struct {
	ID                int64  `json:"id"`
	Content           string `json:"content"`
	ChangeDescription string `json:"changeDescription"`
	Reversed          bool   `json:"reversed"`
	Vetoes            int    `json:"vetoes"`
	CreatedAt         string `json:"createdAt"`
}

func RecordFromEntry(entry store.LedgerEntry) EntryRecord {
	return EntryRecord{
		ID:                entry.ID,
		Content:           entry.Content,
		ChangeDescription: entry.ChangeDescription,
		Reversed:          entry.Reversed,
		Vetoes:            len(entry.Vetoes),
		CreatedAt:         entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

const defaultLimit = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > 100 {
		return 100
	}
	return limit
}
