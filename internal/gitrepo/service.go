// Package gitrepo keeps one git repository per quote. Every saved revision of
// the quote is a commit of quote.json on main.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

const (
	snapshotFile = "quote.json"
	mainBranch   = "main"
)

// ErrNoHistory is returned for quotes that were never committed.
var ErrNoHistory = errors.New("quote has no revision history")

// Snapshot is the versioned part of a quote.
type Snapshot struct {
	QuoteNumber string             `json:"quoteNumber"`
	Title       string             `json:"title"`
	CompanyName string             `json:"companyName"`
	ContactName string             `json:"contactName"`
	Status      domain.QuoteStatus `json:"status"`
	LineItems   []store.LineItem   `json:"lineItems"`
	TaxRate     float64            `json:"taxRate"`
	Currency    string             `json:"currency"`
	ValidUntil  domain.Time        `json:"validUntil"`
	Notes       string             `json:"notes"`
}

func SnapshotFrom(q store.Quote) Snapshot {
	items := q.LineItems
	if items == nil {
		items = []store.LineItem{}
	}
	return Snapshot{
		QuoteNumber: q.QuoteNumber,
		Title:       q.Title,
		CompanyName: q.CompanyName,
		ContactName: q.ContactName,
		Status:      q.Status,
		LineItems:   items,
		TaxRate:     q.TaxRate,
		Currency:    q.Currency,
		ValidUntil:  q.ValidUntil,
		Notes:       q.Notes,
	}
}

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// EnsureQuoteRepo creates the repository with a baseline commit unless it
// already exists.
func (s *Service) EnsureQuoteRepo(quoteID string, initial Snapshot, author string) error {
	lock := s.quoteLock(quoteID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(quoteID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := writeSnapshot(path, initial); err != nil {
		return err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return fmt.Errorf("git add baseline: %w", err)
	}
	hash, err := worktree.Commit("Create quote "+initial.QuoteNumber, &git.CommitOptions{
		Author: s.signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitQuote records snap as a new revision. When nothing changed since the
// head revision it returns the head and changed=false.
func (s *Service) CommitQuote(quoteID string, snap Snapshot, author, message string) (Revision, bool, error) {
	lock := s.quoteLock(quoteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(quoteID)
	if err != nil {
		return Revision{}, false, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Revision{}, false, err
	}
	current, err := readSnapshot(head)
	if err != nil {
		return Revision{}, false, err
	}
	if !HasChanges(current, snap) {
		return toRevision(head), false, nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
		return Revision{}, false, fmt.Errorf("checkout main: %w", err)
	}
	if err := writeSnapshot(worktree.Filesystem.Root(), snap); err != nil {
		return Revision{}, false, err
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Revision{}, false, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: s.signature(author)})
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first. limit <= 0 means all.
func (s *Service) History(quoteID string, limit int) ([]Revision, error) {
	lock := s.quoteLock(quoteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(quoteID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
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

// GetSnapshotByHash accepts a full or abbreviated commit hash.
func (s *Service) GetSnapshotByHash(quoteID, hash string) (Snapshot, Revision, error) {
	lock := s.quoteLock(quoteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(quoteID)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	return snap, toRevision(commitObj), nil
}

// ParentSnapshot returns the snapshot of the commit before hash, or ok=false
// for the baseline.
func (s *Service) ParentSnapshot(quoteID, hash string) (Snapshot, bool, error) {
	lock := s.quoteLock(quoteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(quoteID)
	if err != nil {
		return Snapshot{}, false, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, false, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read commit %s: %w", hash, err)
	}
	if commitObj.NumParents() == 0 {
		return Snapshot{}, false, nil
	}
	parent, err := commitObj.Parent(0)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read parent of %s: %w", hash, err)
	}
	snap, err := readSnapshot(parent)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Service) open(quoteID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(quoteID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(quoteID string) string {
	return filepath.Join(s.baseDir, filepath.Base(quoteID))
}

func (s *Service) quoteLock(quoteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[quoteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[quoteID] = lock
	return lock
}

func (s *Service) signature(author string) *object.Signature {
	if author == "" {
		author = "Sales CRM"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@crm.local", sanitizeEmail(author)),
		When:  s.now(),
	}
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func writeSnapshot(root string, snap Snapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	return nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// DiffFields lists the fields that differ between two snapshots, sorted by
// field name. Line items are summarized rather than diffed item by item.
func DiffFields(from, to Snapshot) []FieldChange {
	pairs := []FieldChange{
		{Field: "quoteNumber", Before: from.QuoteNumber, After: to.QuoteNumber},
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "companyName", Before: from.CompanyName, After: to.CompanyName},
		{Field: "contactName", Before: from.ContactName, After: to.ContactName},
		{Field: "status", Before: string(from.Status), After: string(to.Status)},
		{Field: "taxRate", Before: formatFloat(from.TaxRate), After: formatFloat(to.TaxRate)},
		{Field: "currency", Before: from.Currency, After: to.Currency},
		{Field: "validUntil", Before: formatDate(from.ValidUntil), After: formatDate(to.ValidUntil)},
		{Field: "notes", Before: from.Notes, After: to.Notes},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	if !bytes.Equal(encodeItems(from.LineItems), encodeItems(to.LineItems)) {
		result = append(result, FieldChange{
			Field:  "lineItems",
			Before: summarizeItems(from.LineItems),
			After:  summarizeItems(to.LineItems),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Field < result[j].Field
	})
	return result
}

func HasChanges(from, to Snapshot) bool {
	return len(DiffFields(from, to)) > 0
}

func summarizeItems(items []store.LineItem) string {
	q := store.Quote{LineItems: items}
	q.ComputeTotals()
	return fmt.Sprintf("%d items, subtotal %s", len(items), formatFloat(q.Subtotal.Float()))
}

func encodeItems(items []store.LineItem) []byte {
	if len(items) == 0 {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return raw
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t domain.Time) string {
	if p := t.Ptr(); p != nil {
		return p.UTC().Format("2006-01-02")
	}
	return ""
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
