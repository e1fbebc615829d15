package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

func baseline() Snapshot {
	return Snapshot{
		QuoteNumber: "Q-2026-0001",
		Title:       "Starter bundle",
		CompanyName: "Acme Corp",
		Status:      domain.QuoteDraft,
		Currency:    "USD",
		TaxRate:     8,
		LineItems: []store.LineItem{
			{Description: "Seats", Quantity: 5, UnitPrice: 40},
		},
	}
}

func TestQuoteRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureQuoteRepo("quo_1", baseline(), "Avery Sales"); err != nil {
		t.Fatalf("EnsureQuoteRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "quo_1", snapshotFile)); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	// Second call is a no-op.
	if err := svc.EnsureQuoteRepo("quo_1", Snapshot{Title: "ignored"}, "Avery Sales"); err != nil {
		t.Fatalf("EnsureQuoteRepo() second call error = %v", err)
	}

	updated := baseline()
	updated.Status = domain.QuoteSent
	updated.LineItems = append(updated.LineItems, store.LineItem{Description: "Onboarding", Quantity: 1, UnitPrice: 300})

	rev, changed, err := svc.CommitQuote("quo_1", updated, "Avery Sales", "Send to customer")
	if err != nil {
		t.Fatalf("CommitQuote() error = %v", err)
	}
	if !changed || len(rev.Hash) != 7 {
		t.Fatalf("unexpected revision %+v changed=%v", rev, changed)
	}

	again, changed, err := svc.CommitQuote("quo_1", updated, "Avery Sales", "No-op")
	if err != nil {
		t.Fatalf("CommitQuote() no-op error = %v", err)
	}
	if changed || again.Hash != rev.Hash {
		t.Fatalf("expected unchanged head %s, got %+v changed=%v", rev.Hash, again, changed)
	}

	history, err := svc.History("quo_1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Hash != rev.Hash || !strings.HasPrefix(history[1].Message, "Create quote Q-2026-0001") {
		t.Fatalf("unexpected history order: %+v", history)
	}
	if history[0].Author != "Avery Sales" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}

	snap, got, err := svc.GetSnapshotByHash("quo_1", rev.Hash)
	if err != nil {
		t.Fatalf("GetSnapshotByHash() error = %v", err)
	}
	if got.Hash != rev.Hash {
		t.Fatalf("revision mismatch %s != %s", got.Hash, rev.Hash)
	}
	if diff := cmp.Diff(updated, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	parent, ok, err := svc.ParentSnapshot("quo_1", rev.Hash)
	if err != nil || !ok {
		t.Fatalf("ParentSnapshot() = ok %v, err %v", ok, err)
	}
	if parent.Status != domain.QuoteDraft {
		t.Fatalf("unexpected parent status %q", parent.Status)
	}

	if _, ok, err := svc.ParentSnapshot("quo_1", history[1].Hash); err != nil || ok {
		t.Fatalf("baseline should have no parent, ok=%v err=%v", ok, err)
	}
}

func TestHistoryWithoutRepo(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("quo_missing", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() error = %v, want ErrNoHistory", err)
	}
	if _, _, err := svc.CommitQuote("quo_missing", baseline(), "x", "y"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("CommitQuote() error = %v, want ErrNoHistory", err)
	}
}

func TestDiffFields(t *testing.T) {
	from := baseline()
	to := baseline()
	to.Title = "Growth bundle"
	to.TaxRate = 8.5
	to.LineItems = []store.LineItem{{Description: "Seats", Quantity: 10, UnitPrice: 40}}

	want := []FieldChange{
		{Field: "lineItems", Before: "1 items, subtotal 200", After: "1 items, subtotal 400"},
		{Field: "taxRate", Before: "8", After: "8.5"},
		{Field: "title", Before: "Starter bundle", After: "Growth bundle"},
	}
	if diff := cmp.Diff(want, DiffFields(from, to)); diff != "" {
		t.Fatalf("DiffFields mismatch (-want +got):\n%s", diff)
	}
	if HasChanges(from, baseline()) {
		t.Fatal("identical snapshots reported as changed")
	}
}

func TestConcurrentCommitQuote(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureQuoteRepo("quo_1", baseline(), "Avery"); err != nil {
		t.Fatalf("EnsureQuoteRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := baseline()
			next.Notes = fmt.Sprintf("revision-%02d", idx)
			if _, _, err := svc.CommitQuote("quo_1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("CommitQuote() concurrent error = %v", err)
	}

	history, err := svc.History("quo_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d revisions, got %d", writers+1, len(history))
	}
}
