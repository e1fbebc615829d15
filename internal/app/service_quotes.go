package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"salescrm/api/internal/blob"
	"salescrm/api/internal/domain"
	"salescrm/api/internal/export"
	"salescrm/api/internal/gitrepo"
	"salescrm/api/internal/store"
	"salescrm/api/internal/util"
)

const downloadTTL = 15 * time.Minute

func (s *Service) ListQuotes(ctx context.Context) ([]store.Quote, error) {
	return s.store.ListQuotes(ctx)
}

func (s *Service) GetQuote(ctx context.Context, quoteID string) (store.Quote, error) {
	item, err := s.store.GetQuote(ctx, quoteID)
	return lookup("quote", item, err)
}

func validateQuote(quote *store.Quote) error {
	quote.Title = strings.TrimSpace(quote.Title)
	quote.Currency = strings.ToUpper(strings.TrimSpace(quote.Currency))
	problems := fieldErrors{}
	problems.require("title", quote.Title)
	if len(quote.LineItems) == 0 {
		problems["lineItems"] = "at least one line item is required"
	}
	for _, item := range quote.LineItems {
		if item.Quantity < 0 || item.UnitPrice < 0 {
			problems["lineItems"] = "quantity and unit price must not be negative"
			break
		}
	}
	if quote.TaxRate < 0 || quote.TaxRate > 100 {
		problems["taxRate"] = "must be between 0 and 100"
	}
	if quote.Currency == "" {
		quote.Currency = "USD"
	}
	if strings.TrimSpace(string(quote.Status)) == "" {
		quote.Status = domain.QuoteDraft
	}
	quote.ComputeTotals()
	return problems.err("quote")
}

func (s *Service) CreateQuote(ctx context.Context, actor Session, input store.Quote) (store.Quote, error) {
	quote := input
	quote.CreatedByID = actor.UserID
	if err := validateQuote(&quote); err != nil {
		return store.Quote{}, err
	}
	now := s.stamp()
	number, err := s.store.NextQuoteNumber(ctx, now.Year())
	if err != nil {
		return store.Quote{}, err
	}
	quote.ID = util.NewID("quote")
	quote.QuoteNumber = number
	quote.CreatedDate, quote.UpdatedDate = now, now
	if err := s.store.InsertQuote(ctx, quote); err != nil {
		return store.Quote{}, err
	}
	if s.history != nil {
		if err := s.history.EnsureQuoteRepo(quote.ID, gitrepo.SnapshotFrom(quote), actor.UserName); err != nil {
			s.logger.Warn("quote history init failed", zap.String("quote_id", quote.ID), zap.Error(err))
		}
	}
	s.lifecycle(ctx, actor, domain.EntityQuote, "created", quote.ID, "Created quote "+quote.QuoteNumber)
	return s.GetQuote(ctx, quote.ID)
}

func (s *Service) UpdateQuote(ctx context.Context, actor Session, quoteID string, patch json.RawMessage) (store.Quote, error) {
	current, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return store.Quote{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Quote{}, err
	}
	next.ID, next.CreatedDate, next.CreatedByID = current.ID, current.CreatedDate, current.CreatedByID
	next.QuoteNumber = current.QuoteNumber
	if err := validateQuote(&next); err != nil {
		return store.Quote{}, err
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateQuote(ctx, next); err != nil {
		return store.Quote{}, err
	}

	activity := store.Activity{
		Type:        domain.ActivityQuoteUpdated,
		EntityType:  domain.EntityQuote,
		EntityID:    next.ID,
		UserID:      actor.UserID,
		Description: "Updated quote " + next.QuoteNumber,
	}
	if current.Status != next.Status {
		activity.PreviousValue, activity.NewValue = string(current.Status), string(next.Status)
	}
	s.recordActivity(ctx, activity)
	s.commitRevision(current, next, actor)
	return s.GetQuote(ctx, next.ID)
}

// commitRevision appends a history revision. Quotes created before history
// was enabled get their baseline from the previous state first.
func (s *Service) commitRevision(previous, next store.Quote, actor Session) {
	if s.history == nil {
		return
	}
	if err := s.history.EnsureQuoteRepo(next.ID, gitrepo.SnapshotFrom(previous), actor.UserName); err != nil {
		s.logger.Warn("quote history init failed", zap.String("quote_id", next.ID), zap.Error(err))
		return
	}
	message := "Update quote " + next.QuoteNumber
	if changes := gitrepo.DiffFields(gitrepo.SnapshotFrom(previous), gitrepo.SnapshotFrom(next)); len(changes) > 0 {
		fields := make([]string, 0, len(changes))
		for _, change := range changes {
			fields = append(fields, change.Field)
		}
		message += ": " + strings.Join(fields, ", ")
	}
	if _, _, err := s.history.CommitQuote(next.ID, gitrepo.SnapshotFrom(next), actor.UserName, message); err != nil {
		s.logger.Warn("quote history commit failed", zap.String("quote_id", next.ID), zap.Error(err))
	}
}

func (s *Service) DeleteQuote(ctx context.Context, actor Session, quoteID string) error {
	current, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteQuote(ctx, quoteID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityQuote, "deleted", quoteID, "Deleted quote "+current.QuoteNumber)
	return nil
}

// QuoteDocument is a rendered quote. DownloadURL is set when the document
// was archived to object storage.
type QuoteDocument struct {
	*export.Result
	DownloadURL string
}

func (s *Service) ExportQuote(ctx context.Context, quoteID, rawFormat string) (QuoteDocument, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return QuoteDocument{}, domainError(http.StatusBadRequest, "INVALID_FORMAT", "format must be pdf or docx", nil)
	}
	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return QuoteDocument{}, err
	}
	if s.exporter == nil {
		return QuoteDocument{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Quote export is not configured", nil)
	}
	result, err := s.exporter.Quote(ctx, quote, format)
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return QuoteDocument{}, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	case err != nil:
		return QuoteDocument{}, err
	}

	doc := QuoteDocument{Result: result}
	doc.DownloadURL = s.archiveDocument(ctx, blob.QuoteKey(quote.ID, result.Filename, s.now()), result)
	return doc, nil
}

// archiveDocument stores a generated file and returns a presigned link.
// Archive failures are logged; the caller still gets the bytes.
func (s *Service) archiveDocument(ctx context.Context, key string, result *export.Result) string {
	if s.archive == nil || !s.archive.Enabled() {
		return ""
	}
	if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
		s.logger.Warn("archive upload failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	link, err := s.archive.PresignedURL(ctx, key, downloadTTL)
	if err != nil {
		s.logger.Warn("archive presign failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return link
}

func (s *Service) QuoteHistory(ctx context.Context, quoteID string, limit int) ([]gitrepo.Revision, error) {
	if _, err := s.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []gitrepo.Revision{}, nil
	}
	revisions, err := s.history.History(quoteID, limit)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return []gitrepo.Revision{}, nil
	}
	return revisions, err
}

// QuoteRevision is one historical state of a quote with the fields that
// changed relative to its parent revision.
type QuoteRevision struct {
	Revision gitrepo.Revision      `json:"revision"`
	Snapshot gitrepo.Snapshot      `json:"snapshot"`
	Changes  []gitrepo.FieldChange `json:"changes"`
}

func (s *Service) QuoteRevisionByHash(ctx context.Context, quoteID, hash string) (QuoteRevision, error) {
	if _, err := s.GetQuote(ctx, quoteID); err != nil {
		return QuoteRevision{}, err
	}
	if s.history == nil {
		return QuoteRevision{}, notFound("revision")
	}
	snap, rev, err := s.history.GetSnapshotByHash(quoteID, hash)
	if err != nil {
		return QuoteRevision{}, notFound("revision")
	}
	parent, ok, err := s.history.ParentSnapshot(quoteID, rev.Hash)
	if err != nil {
		return QuoteRevision{}, err
	}
	changes := []gitrepo.FieldChange{}
	if ok {
		changes = gitrepo.DiffFields(parent, snap)
	}
	return QuoteRevision{Revision: rev, Snapshot: snap, Changes: changes}, nil
}
