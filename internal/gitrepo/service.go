// Package gitrepo mirrors the ledger into a git repository: one commit per
// published entry and one per reversal, so the document's history can be
// inspected with ordinary git tooling.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ethos/api/internal/governance"
	"ethos/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "document.md"
	branchName  = "main"

	trailerEntry    = "Ledger-Entry"
	trailerReverted = "Ledger-Reverted"
	trailerRestored = "Ledger-Restored"
	trailerDigest   = "Content-Digest"
)

// ErrCommitNotFound is returned when a hash names no commit in the mirror.
var ErrCommitNotFound = errors.New("mirror commit not found")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	EntryID   int64     `json:"entryId,omitempty"`
}

type Service struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func New(path string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{path: path, logger: logger}
}

// Ensure creates the mirror repository if it does not exist yet.
func (s *Service) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open()
	return err
}

func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branchName, err)
	}
	return repo, nil
}

// RecordEntry commits the entry's content as the new document.
func (s *Service) RecordEntry(entry store.LedgerEntry) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}
	return s.commit(repo, &entry.Content, entryMessage(entry), entry.CreatedAt)
}

// RecordReversal commits a reversal. When restored is nil the document did
// not change and the commit is empty.
func (s *Service) RecordReversal(reversed store.LedgerEntry, restored *store.LedgerEntry) (CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return CommitInfo{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reverse ledger entry %d\n\n", reversed.ID)
	fmt.Fprintf(&b, "Vetoed by: %s\n", quoteVoters(reversed.Vetoes))
	fmt.Fprintf(&b, "%s: %d\n", trailerReverted, reversed.ID)

	var content *string
	if restored != nil {
		fmt.Fprintf(&b, "%s: %d\n", trailerRestored, restored.ID)
		content = &restored.Content
	}
	when := time.Now()
	if reversed.ReversedAt != nil {
		when = *reversed.ReversedAt
	}
	return s.commit(repo, content, b.String(), when)
}

func (s *Service) commit(repo *git.Repository, content *string, message string, when time.Time) (CommitInfo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	if content != nil {
		path := filepath.Join(worktree.Filesystem.Root(), contentFile)
		if err := os.WriteFile(path, []byte(*content), 0o644); err != nil {
			return CommitInfo{}, fmt.Errorf("write %s: %w", contentFile, err)
		}
		if _, err := worktree.Add(contentFile); err != nil {
			return CommitInfo{}, fmt.Errorf("git add content: %w", err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "Ethos Ledger",
			Email: "ledger@ethos.local",
			When:  when,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit content: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Log lists mirror commits newest first. An empty mirror has no commits.
func (s *Service) Log(limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	return readLog(repo, limit)
}

func readLog(repo *git.Repository, limit int) ([]CommitInfo, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns document.md as of the given commit.
func (s *Service) ContentAt(hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return "", err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", fmt.Errorf("%w: %s", ErrCommitNotFound, hash)
	}
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(contentFile)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

// Backfill commits ledger entries that are not in the mirror yet, in id
// order. It returns how many entries it added.
func (s *Service) Backfill(entries []store.LedgerEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return 0, err
	}
	existing, err := readLog(repo, 0)
	if err != nil {
		return 0, err
	}
	mirrored := make(map[int64]struct{}, len(existing))
	for _, info := range existing {
		if info.EntryID > 0 {
			mirrored[info.EntryID] = struct{}{}
		}
	}

	pending := make([]store.LedgerEntry, 0)
	for _, entry := range entries {
		if _, ok := mirrored[entry.ID]; !ok {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	for i, entry := range pending {
		if _, err := s.commit(repo, &entry.Content, entryMessage(entry), entry.CreatedAt); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Observe mirrors governance events. Mirror failures are logged; the ledger
// in the database stays authoritative.
func (s *Service) Observe(ctx context.Context, event governance.Event) {
	var err error
	switch event.Kind {
	case governance.EventCommitted:
		_, err = s.RecordEntry(event.Entry)
	case governance.EventReversed:
		_, err = s.RecordReversal(event.Entry, event.Restored)
	default:
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "mirror ledger event", "kind", event.Kind, "entry_id", event.Entry.ID, "error", err)
	}
}

// quoteVoters renders voter ids as Go string literals so an id cannot break
// the message into extra trailer lines.
func quoteVoters(voters []string) string {
	quoted := make([]string, 0, len(voters))
	for _, voter := range voters {
		quoted = append(quoted, strconv.Quote(voter))
	}
	return strings.Join(quoted, ", ")
}

func entryMessage(entry store.LedgerEntry) string {
	return fmt.Sprintf("%s\n\n%s: %d\n%s: %s\n",
		commitSubject(entry), trailerEntry, entry.ID, trailerDigest, entry.ContentDigest)
}

func commitSubject(entry store.LedgerEntry) string {
	description := strings.TrimSpace(strings.SplitN(entry.ChangeDescription, "\n", 2)[0])
	if description == "" {
		description = "(no description)"
	}
	return fmt.Sprintf("Ledger entry %d: %s", entry.ID, description)
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		EntryID:   trailerValue(commitObj.Message, trailerEntry),
	}
}

func trailerValue(message, key string) int64 {
	prefix := key + ": "
	for _, line := range strings.Split(message, "\n") {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, prefix)), 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}

// resolveHash accepts full or abbreviated (at least 4 hex digits) hashes.
func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !isHexPrefix(hash) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrCommitNotFound, hash)
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrCommitNotFound, hash)
	}
	return *resolved, nil
}

func isHexPrefix(value string) bool {
	if len(value) < 4 || len(value) > 40 {
		return false
	}
	for _, r := range value {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
