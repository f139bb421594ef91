package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"ethos/api/internal/store"
)

// Source supplies the published document and its ledger.
type Source interface {
	Article(ctx context.Context) (store.Document, error)
	History(ctx context.Context) ([]store.LedgerEntry, error)
}

type Service struct {
	source     Source
	chromePath string
	now        func() time.Time
}

// NewService creates an export service. chromePath may be empty to search
// the PATH for a Chrome or Chromium binary.
func NewService(source Source, chromePath string) *Service {
	return &Service{source: source, chromePath: chromePath, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, format Format) (*Result, error) {
	page, title, err := s.RenderHTML(ctx)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, page, title, s.chromePath)
	case FormatDOCX:
		return exportDOCX(ctx, page, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// RenderHTML renders the document and ledger page and returns it with the
// document title.
func (s *Service) RenderHTML(ctx context.Context) (string, string, error) {
	doc, err := s.source.Article(ctx)
	if err != nil {
		return "", "", fmt.Errorf("get document: %w", err)
	}
	entries, err := s.source.History(ctx)
	if err != nil {
		return "", "", fmt.Errorf("list ledger: %w", err)
	}

	title := documentTitle(doc.Content)
	data := TemplateData{
		Title:       title,
		ContentHTML: template.HTML(TextToHTML(doc.Content)),
		UpdatedAt:   doc.UpdatedAt,
		EntryID:     doc.EntryID,
		Entries:     make([]TemplateEntry, 0, len(entries)),
		GeneratedAt: s.now(),
	}
	for _, entry := range entries {
		digest := entry.ContentDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		data.Entries = append(data.Entries, TemplateEntry{
			ID:                entry.ID,
			ChangeDescription: entry.ChangeDescription,
			CreatedAt:         entry.CreatedAt,
			Vetoes:            entry.Vetoes,
			Reversed:          entry.Reversed,
			Live:              entry.ID == doc.EntryID,
			Digest:            digest,
		})
	}

	page, err := RenderHTML(data)
	if err != nil {
		return "", "", fmt.Errorf("render template: %w", err)
	}
	return page, title, nil
}
