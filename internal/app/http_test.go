package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ethos/api/internal/archive"
	"ethos/api/internal/export"
	"ethos/api/internal/gitrepo"
	"ethos/api/internal/governance"
	"ethos/api/internal/moderation"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

func serve(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func newServer(deps Deps) http.Handler {
	if deps.Engine == nil {
		deps.Engine = &fakeEngine{}
	}
	return NewHTTPServer(NewService(deps), "*").Handler()
}

func TestArticleEndpoint(t *testing.T) {
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := newServer(Deps{Engine: &fakeEngine{
		articleFn: func(context.Context) (store.Document, error) {
			return store.Document{Content: "1. Do no harm.", EntryID: 3, UpdatedAt: updated}, nil
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/article", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeJSON[map[string]any](t, rr)
	if body["content"] != "1. Do no harm." {
		t.Fatalf("unexpected content %v", body["content"])
	}
	if body["lastUpdate"] != "2025-03-01T12:00:00Z" {
		t.Fatalf("unexpected lastUpdate %v", body["lastUpdate"])
	}
}

func TestArticleEndpointStorageFailure(t *testing.T) {
	handler := newServer(Deps{Engine: &fakeEngine{
		articleFn: func(context.Context) (store.Document, error) {
			return store.Document{}, &governance.PersistenceError{Op: "read document", Err: errors.New("disk I/O error")}
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/article", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	body := decodeJSON[map[string]any](t, rr)
	if body["error"] == nil || body["error"] == "" {
		t.Fatalf("expected an error message, got %v", body)
	}
}

func TestHistoryEndpointNeverReturnsNullVetoes(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := newServer(Deps{Engine: &fakeEngine{
		historyFn: func(context.Context) ([]store.LedgerEntry, error) {
			return []store.LedgerEntry{
				{ID: 1, Content: "seed", ChangeDescription: "Initial Version", CreatedAt: created},
				{ID: 2, Content: "next", ChangeDescription: "tweak", CreatedAt: created, Vetoes: []string{"a", "b"}, Reversed: true, ReversedAt: &created},
			}, nil
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	items := decodeJSON[[]map[string]any](t, rr)
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	vetoes, ok := items[0]["vetoes"].([]any)
	if !ok || len(vetoes) != 0 {
		t.Fatalf("expected empty vetoes array, got %#v", items[0]["vetoes"])
	}
	if items[1]["reversed"] != true || items[1]["timestamp"] != "2025-03-01T12:00:00Z" {
		t.Fatalf("unexpected second entry %v", items[1])
	}
}

func TestHistoryEndpointEmptyLedger(t *testing.T) {
	handler := newServer(Deps{})

	rr := serve(t, handler, http.MethodGet, "/api/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := bytes.TrimSpace(rr.Body.Bytes()); string(got) != "[]" {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestEditEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		result     governance.EditResult
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "accepted",
			result:     governance.EditResult{Accepted: true, EntryID: 4},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"success": true, "entryId": float64(4)},
		},
		{
			name:       "rejected",
			result:     governance.EditResult{Reason: "off-topic"},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"success": false, "message": "off-topic"},
		},
		{
			name:       "gate unavailable",
			err:        &moderation.ServiceError{Op: "request", Err: errors.New("timeout")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"code": "MODERATION_UNAVAILABLE", "error": "Moderation service unavailable"},
		},
		{
			name:       "storage failure",
			err:        &governance.PersistenceError{Op: "commit edit", Err: errors.New("locked")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"code": "PERSISTENCE_ERROR", "error": "Storage unavailable"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotProposed, gotDescription string
			handler := newServer(Deps{Engine: &fakeEngine{
				proposeFn: func(_ context.Context, proposed, description string) (governance.EditResult, error) {
					gotProposed, gotDescription = proposed, description
					return tc.result, tc.err
				},
			}})

			rr := serve(t, handler, http.MethodPost, "/api/edit", map[string]string{
				"newContent":        "2. Be kind.",
				"changeDescription": "tweak",
			})
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if gotProposed != "2. Be kind." || gotDescription != "tweak" {
				t.Fatalf("engine got %q / %q", gotProposed, gotDescription)
			}
			body := decodeJSON[map[string]any](t, rr)
			for key, want := range tc.wantBody {
				if body[key] != want {
					t.Fatalf("%s = %v, want %v (body %v)", key, body[key], want, body)
				}
			}
		})
	}
}

func TestEditEndpointRejectsMalformedBody(t *testing.T) {
	called := false
	handler := newServer(Deps{Engine: &fakeEngine{
		proposeFn: func(context.Context, string, string) (governance.EditResult, error) {
			called = true
			return governance.EditResult{}, nil
		},
	}})

	rr := serve(t, handler, http.MethodPost, "/api/edit", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatal("engine should not be called for a malformed body")
	}
}

func TestVetoEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		result     governance.VetoResult
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "recorded",
			body:       map[string]any{"entryId": 2, "userId": "alice"},
			result:     governance.VetoResult{Applied: true, Vetoes: 1},
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown entry",
			body:       map[string]any{"entryId": 99, "userId": "alice"},
			err:        governance.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "Entry not found",
		},
		{
			name:       "missing voter",
			body:       map[string]any{"entryId": 2},
			wantStatus: http.StatusBadRequest,
			wantError:  "userId is required",
		},
		{
			name:       "malformed",
			body:       `{"entryId":"two"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "storage failure",
			body:       map[string]any{"entryId": 2, "userId": "alice"},
			err:        &governance.PersistenceError{Op: "cast veto", Err: errors.New("closed")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Storage unavailable",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newServer(Deps{Engine: &fakeEngine{
				vetoFn: func(_ context.Context, entryID int64, voterID string) (governance.VetoResult, error) {
					return tc.result, tc.err
				},
			}})

			rr := serve(t, handler, http.MethodPost, "/api/veto", tc.body)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tc.wantStatus, rr.Code, rr.Body.String())
			}
			body := decodeJSON[map[string]any](t, rr)
			if tc.wantError == "" {
				if body["success"] != true {
					t.Fatalf("expected success, got %v", body)
				}
				return
			}
			if body["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", body["error"], tc.wantError)
			}
		})
	}
}

func TestSearchEndpointPassesQuery(t *testing.T) {
	var got search.Query
	handler := newServer(Deps{Searcher: &fakeSearcher{
		searchFn: func(_ context.Context, q search.Query) search.Response {
			got = q
			return search.Response{
				Results: []search.Result{{ID: 2, ChangeDescription: "Add curiosity", Snippet: "…curiosity…"}},
				Total:   1,
				Query:   q.Text,
			}
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/history/search?q=curiosity&limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Text != "curiosity" || got.Limit != 5 {
		t.Fatalf("unexpected query %+v", got)
	}
	resp := decodeJSON[search.Response](t, rr)
	if resp.Total != 1 || resp.Results[0].ID != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rr = serve(t, handler, http.MethodGet, "/api/history/search?q=x&limit=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestMirrorLogEndpoint(t *testing.T) {
	disabled := newServer(Deps{})
	if rr := serve(t, disabled, http.MethodGet, "/api/mirror/log", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a mirror, got %d", rr.Code)
	}

	var gotLimit int
	handler := newServer(Deps{Mirror: &fakeMirror{
		logFn: func(limit int) ([]gitrepo.CommitInfo, error) {
			gotLimit = limit
			return []gitrepo.CommitInfo{{Hash: "abc123", Message: "Ledger entry 1", EntryID: 1}}, nil
		},
	}})
	rr := serve(t, handler, http.MethodGet, "/api/mirror/log", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != defaultMirrorLogLimit {
		t.Fatalf("expected default limit, got %d", gotLimit)
	}
	body := decodeJSON[map[string][]gitrepo.CommitInfo](t, rr)
	if len(body["commits"]) != 1 || body["commits"][0].Hash != "abc123" {
		t.Fatalf("unexpected commits %+v", body)
	}
}

func TestExportEndpoint(t *testing.T) {
	var gotFormat export.Format
	handler := newServer(Deps{Exporter: &fakeExporter{
		exportFn: func(_ context.Context, format export.Format) (*export.Result, error) {
			gotFormat = format
			switch format {
			case export.FormatPDF:
				return nil, export.ErrPDFDependencyMissing
			default:
				return &export.Result{Data: []byte("<html></html>"), Filename: "ethics.html", MimeType: "text/html; charset=utf-8"}, nil
			}
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/article/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotFormat != export.FormatHTML {
		t.Fatalf("expected html by default, got %q", gotFormat)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="ethics.html"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rr.Body.String() != "<html></html>" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}

	if rr := serve(t, handler, http.MethodGet, "/api/article/export?format=pdf", nil); rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without chrome, got %d", rr.Code)
	}
	if rr := serve(t, handler, http.MethodGet, "/api/article/export?format=odt", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported format, got %d", rr.Code)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	if rr := serve(t, newServer(Deps{}), http.MethodPost, "/api/archive", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without object storage, got %d", rr.Code)
	}

	handler := newServer(Deps{Archiver: &fakeArchiver{
		enabled: true,
		snapshotFn: func(context.Context) (archive.Receipt, error) {
			return archive.Receipt{
				Prefix:  "snapshots/20250301T120000Z-entry-3",
				Objects: []archive.Object{{Bucket: "ethos", Key: "snapshots/20250301T120000Z-entry-3/ledger.json"}},
			}, nil
		},
	}})
	rr := serve(t, handler, http.MethodPost, "/api/archive", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	receipt := decodeJSON[archive.Receipt](t, rr)
	if receipt.Prefix != "snapshots/20250301T120000Z-entry-3" || len(receipt.Objects) != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	rr := serve(t, newServer(Deps{}), http.MethodGet, "/api/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	rr = serve(t, newServer(Deps{}), http.MethodDelete, "/api/article", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported method, got %d", rr.Code)
	}
}

func TestHistoryEntryEndpoint(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := newServer(Deps{Engine: &fakeEngine{
		entryFn: func(_ context.Context, id int64) (store.LedgerEntry, error) {
			if id != 2 {
				return store.LedgerEntry{}, governance.ErrNotFound
			}
			return store.LedgerEntry{ID: 2, Content: "next", ChangeDescription: "tweak", CreatedAt: created, Vetoes: []string{"alice"}}, nil
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/history/2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	item := decodeJSON[map[string]any](t, rr)
	if item["content"] != "next" || item["id"] != float64(2) {
		t.Fatalf("unexpected entry %v", item)
	}

	if rr := serve(t, handler, http.MethodGet, "/api/history/7", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing entry, got %d", rr.Code)
	}
	for _, path := range []string{"/api/history/abc", "/api/history/0", "/api/history/"} {
		if rr := serve(t, handler, http.MethodGet, path, nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, rr.Code)
		}
	}
}

func TestMirrorContentEndpoint(t *testing.T) {
	disabled := newServer(Deps{})
	if rr := serve(t, disabled, http.MethodGet, "/api/mirror/content?hash=abc123", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a mirror, got %d", rr.Code)
	}

	handler := newServer(Deps{Mirror: &fakeMirror{
		contentFn: func(hash string) (string, error) {
			if hash != "abc123" {
				return "", gitrepo.ErrCommitNotFound
			}
			return "E1", nil
		},
	}})

	rr := serve(t, handler, http.MethodGet, "/api/mirror/content?hash=abc123", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeJSON[map[string]string](t, rr)
	if body["content"] != "E1" || body["hash"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = serve(t, handler, http.MethodGet, "/api/mirror/content?hash=ffff", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown commit, got %d", rr.Code)
	}
	if body := decodeJSON[map[string]any](t, rr); body["code"] != "COMMIT_NOT_FOUND" {
		t.Fatalf("unexpected error body %v", body)
	}

	if rr := serve(t, handler, http.MethodGet, "/api/mirror/content", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a hash, got %d", rr.Code)
	}
}
