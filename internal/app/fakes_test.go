package app

import (
	"context"

	"ethos/api/internal/archive"
	"ethos/api/internal/export"
	"ethos/api/internal/gitrepo"
	"ethos/api/internal/governance"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

type fakeEngine struct {
	articleFn func(context.Context) (store.Document, error)
	historyFn func(context.Context) ([]store.LedgerEntry, error)
	entryFn   func(ctx context.Context, id int64) (store.LedgerEntry, error)
	proposeFn func(ctx context.Context, proposed, description string) (governance.EditResult, error)
	vetoFn    func(ctx context.Context, entryID int64, voterID string) (governance.VetoResult, error)
}

func (f *fakeEngine) Article(ctx context.Context) (store.Document, error) {
	if f.articleFn != nil {
		return f.articleFn(ctx)
	}
	return store.Document{}, nil
}

func (f *fakeEngine) History(ctx context.Context) ([]store.LedgerEntry, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) Entry(ctx context.Context, id int64) (store.LedgerEntry, error) {
	if f.entryFn != nil {
		return f.entryFn(ctx, id)
	}
	return store.LedgerEntry{}, governance.ErrNotFound
}

func (f *fakeEngine) ProposeEdit(ctx context.Context, proposed, description string) (governance.EditResult, error) {
	if f.proposeFn != nil {
		return f.proposeFn(ctx, proposed, description)
	}
	return governance.EditResult{}, nil
}

func (f *fakeEngine) CastVeto(ctx context.Context, entryID int64, voterID string) (governance.VetoResult, error) {
	if f.vetoFn != nil {
		return f.vetoFn(ctx, entryID, voterID)
	}
	return governance.VetoResult{}, nil
}

type fakePinger struct {
	pingFn func(context.Context) error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSearcher struct {
	searchFn func(context.Context, search.Query) search.Response
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(ctx, q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

type fakeMirror struct {
	logFn     func(limit int) ([]gitrepo.CommitInfo, error)
	contentFn func(hash string) (string, error)
}

func (f *fakeMirror) Log(limit int) ([]gitrepo.CommitInfo, error) {
	if f.logFn != nil {
		return f.logFn(limit)
	}
	return []gitrepo.CommitInfo{}, nil
}

func (f *fakeMirror) ContentAt(hash string) (string, error) {
	if f.contentFn != nil {
		return f.contentFn(hash)
	}
	return "", gitrepo.ErrCommitNotFound
}

type fakeExporter struct {
	exportFn func(context.Context, export.Format) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, format export.Format) (*export.Result, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, format)
	}
	return &export.Result{}, nil
}

type fakeArchiver struct {
	enabled    bool
	snapshotFn func(context.Context) (archive.Receipt, error)
}

func (f *fakeArchiver) Enabled() bool { return f.enabled }

func (f *fakeArchiver) Snapshot(ctx context.Context) (archive.Receipt, error) {
	if f.snapshotFn != nil {
		return f.snapshotFn(ctx)
	}
	return archive.Receipt{}, nil
}
