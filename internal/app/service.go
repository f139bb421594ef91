package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ethos/api/internal/archive"
	"ethos/api/internal/export"
	"ethos/api/internal/gitrepo"
	"ethos/api/internal/governance"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

type Engine interface {
	Article(ctx context.Context) (store.Document, error)
	History(ctx context.Context) ([]store.LedgerEntry, error)
	Entry(ctx context.Context, id int64) (store.LedgerEntry, error)
	ProposeEdit(ctx context.Context, proposed, description string) (governance.EditResult, error)
	CastVeto(ctx context.Context, entryID int64, voterID string) (governance.VetoResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Mirror interface {
	Log(limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(hash string) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, format export.Format) (*export.Result, error)
}

type Archiver interface {
	Enabled() bool
	Snapshot(ctx context.Context) (archive.Receipt, error)
}

// Deps wires the service. Searcher, Mirror, Exporter and Archiver are
// optional; their routes report the feature as unavailable when nil.
type Deps struct {
	Engine   Engine
	DB       Pinger
	Searcher Searcher
	Mirror   Mirror
	Exporter Exporter
	Archiver Archiver
	Logger   *slog.Logger
}

type EditInput struct {
	NewContent        string `json:"newContent"`
	ChangeDescription string `json:"changeDescription"`
}

type VetoInput struct {
	EntryID int64  `json:"entryId"`
	UserID  string `json:"userId"`
}

type Service struct {
	engine   Engine
	db       Pinger
	searcher Searcher
	mirror   Mirror
	exporter Exporter
	archiver Archiver
	logger   *slog.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   deps.Engine,
		db:       deps.DB,
		searcher: deps.Searcher,
		mirror:   deps.Mirror,
		exporter: deps.Exporter,
		archiver: deps.Archiver,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

func (s *Service) Article(ctx context.Context) (map[string]any, error) {
	doc, err := s.engine.Article(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":    doc.Content,
		"entryId":    doc.EntryID,
		"lastUpdate": doc.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Service) History(ctx context.Context) ([]map[string]any, error) {
	entries, err := s.engine.History(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, historyItem(entry))
	}
	return items, nil
}

func (s *Service) Entry(ctx context.Context, id int64) (map[string]any, error) {
	entry, err := s.engine.Entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return historyItem(entry), nil
}

func historyItem(entry store.LedgerEntry) map[string]any {
	vetoes := entry.Vetoes
	if vetoes == nil {
		vetoes = []string{}
	}
	item := map[string]any{
		"id":                entry.ID,
		"content":           entry.Content,
		"timestamp":         entry.CreatedAt.UTC().Format(time.RFC3339),
		"changeDescription": entry.ChangeDescription,
		"vetoes":            vetoes,
		"reversed":          entry.Reversed,
	}
	if entry.ReversedAt != nil {
		item["reversedAt"] = entry.ReversedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// ProposeEdit returns 200 for both outcomes of the gate. Only an unreachable
// gate or a storage failure is an error.
func (s *Service) ProposeEdit(ctx context.Context, input EditInput) (map[string]any, error) {
	result, err := s.engine.ProposeEdit(ctx, input.NewContent, input.ChangeDescription)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		return map[string]any{"success": false, "message": result.Reason}, nil
	}
	return map[string]any{"success": true, "entryId": result.EntryID}, nil
}

func (s *Service) CastVeto(ctx context.Context, input VetoInput) (map[string]any, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, governance.ErrInvalidVoter
	}
	result, err := s.engine.CastVeto(ctx, input.EntryID, input.UserID)
	if err != nil {
		return nil, err
	}
	response := map[string]any{
		"success":  true,
		"applied":  result.Applied,
		"reversed": result.Reversed,
		"vetoes":   result.Vetoes,
	}
	if result.RestoredEntryID != 0 {
		response["restoredEntryId"] = result.RestoredEntryID
	}
	return response, nil
}

func (s *Service) Search(ctx context.Context, text string, limit int) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.searcher.Search(ctx, search.Query{Text: text, Limit: limit})
}

func (s *Service) MirrorLog(limit int) ([]gitrepo.CommitInfo, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "Git mirror is not configured", nil)
	}
	return s.mirror.Log(limit)
}

// MirrorContent returns the document as recorded by a mirror commit. The
// hash may be abbreviated.
func (s *Service) MirrorContent(hash string) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_DISABLED", "Git mirror is not configured", nil)
	}
	content, err := s.mirror.ContentAt(hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hash": hash, "content": content}, nil
}

func (s *Service) Export(ctx context.Context, rawFormat string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_DISABLED", "Export is not configured", nil)
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, format)
}

func (s *Service) Archive(ctx context.Context) (archive.Receipt, error) {
	if s.archiver == nil || !s.archiver.Enabled() {
		return archive.Receipt{}, archive.ErrNotConfigured
	}
	receipt, err := s.archiver.Snapshot(ctx)
	if err != nil {
		return archive.Receipt{}, err
	}
	s.logger.InfoContext(ctx, "snapshot archived", "prefix", receipt.Prefix, "objects", len(receipt.Objects))
	return receipt, nil
}
