// Package archive uploads point-in-time snapshots of the ledger and the
// rendered document to object storage.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ethos/api/internal/store"
)

// ErrNotConfigured is returned when no object store was configured.
var ErrNotConfigured = errors.New("archive storage is not configured")

type Object struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

// ObjectStore is the subset of an S3 client the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (Object, error)
}

// Source supplies the state to archive.
type Source interface {
	Article(ctx context.Context) (store.Document, error)
	History(ctx context.Context) ([]store.LedgerEntry, error)
}

// Renderer produces the HTML page stored next to the ledger snapshot.
type Renderer interface {
	RenderHTML(ctx context.Context) (page string, title string, err error)
}

type Receipt struct {
	Prefix    string    `json:"prefix"`
	Objects   []Object  `json:"objects"`
	CreatedAt time.Time `json:"createdAt"`
}

type Snapshot struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Document    SnapshotDoc     `json:"document"`
	Entries     []SnapshotEntry `json:"entries"`
}

type SnapshotDoc struct {
	Content   string    `json:"content"`
	EntryID   int64     `json:"entryId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SnapshotEntry struct {
	ID                int64      `json:"id"`
	Content           string     `json:"content"`
	ContentDigest     string     `json:"contentDigest"`
	ChangeDescription string     `json:"changeDescription"`
	Timestamp         time.Time  `json:"timestamp"`
	Vetoes            []string   `json:"vetoes"`
	Reversed          bool       `json:"reversed"`
	ReversedAt        *time.Time `json:"reversedAt,omitempty"`
}

type Service struct {
	objects  ObjectStore
	source   Source
	renderer Renderer
	prefix   string
	now      func() time.Time
}

// NewService returns an archive service. objects may be nil, in which case
// every snapshot fails with ErrNotConfigured.
func NewService(objects ObjectStore, source Source, renderer Renderer, prefix string) *Service {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &Service{
		objects:  objects,
		source:   source,
		renderer: renderer,
		prefix:   prefix,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Enabled() bool {
	return s.objects != nil
}

// Snapshot uploads ledger.json and, when a renderer is set, document.html
// under a timestamped prefix.
func (s *Service) Snapshot(ctx context.Context) (Receipt, error) {
	if s.objects == nil {
		return Receipt{}, ErrNotConfigured
	}

	snapshot, err := s.build(ctx)
	if err != nil {
		return Receipt{}, err
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	receipt := Receipt{
		Prefix:    fmt.Sprintf("%s/%s-entry-%d", s.prefix, snapshot.GeneratedAt.Format("20060102T150405Z"), snapshot.Document.EntryID),
		Objects:   make([]Object, 0, 2),
		CreatedAt: snapshot.GeneratedAt,
	}

	object, err := s.objects.Put(ctx, receipt.Prefix+"/ledger.json", "application/json", payload)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Objects = append(receipt.Objects, object)

	if s.renderer != nil {
		page, _, err := s.renderer.RenderHTML(ctx)
		if err != nil {
			return Receipt{}, fmt.Errorf("render document: %w", err)
		}
		object, err := s.objects.Put(ctx, receipt.Prefix+"/document.html", "text/html; charset=utf-8", []byte(page))
		if err != nil {
			return Receipt{}, err
		}
		receipt.Objects = append(receipt.Objects, object)
	}
	return receipt, nil
}

func (s *Service) build(ctx context.Context) (Snapshot, error) {
	doc, err := s.source.Article(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get document: %w", err)
	}
	entries, err := s.source.History(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list ledger: %w", err)
	}

	snapshot := Snapshot{
		GeneratedAt: s.now(),
		Document:    SnapshotDoc{Content: doc.Content, EntryID: doc.EntryID, UpdatedAt: doc.UpdatedAt},
		Entries:     make([]SnapshotEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		vetoes := entry.Vetoes
		if vetoes == nil {
			vetoes = []string{}
		}
		snapshot.Entries = append(snapshot.Entries, SnapshotEntry{
			ID:                entry.ID,
			Content:           entry.Content,
			ContentDigest:     entry.ContentDigest,
			ChangeDescription: entry.ChangeDescription,
			Timestamp:         entry.CreatedAt,
			Vetoes:            vetoes,
			Reversed:          entry.Reversed,
			ReversedAt:        entry.ReversedAt,
		})
	}
	return snapshot, nil
}
