package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Service tries Meilisearch first and falls back to PostgreSQL full-text
// search. Either backend may be nil.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger.Named("search")}
}

func (s *Service) meiliReady() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// Search never fails; backend errors degrade to an empty result set.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: visibleTo(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s == nil || s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Warn("pgfts error", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: visibleTo(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
}

// async runs an index write in the background; failures are logged only.
func (s *Service) async(op string, rtyp ResultType, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Warn(op+" failed", zap.String("type", string(rtyp)), zap.String("id", id), zap.Error(err))
		}
	}()
}

func (s *Service) IndexContact(r ContactRecord) {
	s.async("index", ResultContact, r.ID, func() error { return s.meili.Upsert(ResultContact, []ContactRecord{r}) })
}

func (s *Service) IndexCompany(r CompanyRecord) {
	s.async("index", ResultCompany, r.ID, func() error { return s.meili.Upsert(ResultCompany, []CompanyRecord{r}) })
}

func (s *Service) IndexDeal(r DealRecord) {
	s.async("index", ResultDeal, r.ID, func() error { return s.meili.Upsert(ResultDeal, []DealRecord{r}) })
}

func (s *Service) IndexNote(r NoteRecord) {
	s.async("index", ResultNote, r.ID, func() error { return s.meili.Upsert(ResultNote, []NoteRecord{r}) })
}

// Remove drops a record from the index (fire-and-forget).
func (s *Service) Remove(rtyp ResultType, id string) {
	s.async("delete", rtyp, id, func() error { return s.meili.Delete(rtyp, id) })
}

// Wait blocks until in-flight index writes finish. Used on shutdown.
func (s *Service) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// Reindex pushes a full snapshot into Meilisearch.
func (s *Service) Reindex(records Records) {
	if !s.meiliReady() {
		return
	}
	batches := []struct {
		rtyp ResultType
		docs any
		n    int
	}{
		{ResultContact, records.Contacts, len(records.Contacts)},
		{ResultCompany, records.Companies, len(records.Companies)},
		{ResultDeal, records.Deals, len(records.Deals)},
		{ResultNote, records.Notes, len(records.Notes)},
	}
	for _, b := range batches {
		if b.n == 0 {
			continue
		}
		if err := s.meili.Upsert(b.rtyp, b.docs); err != nil {
			s.logger.Warn("reindex failed", zap.String("type", string(b.rtyp)), zap.Error(err))
			continue
		}
		s.logger.Info("reindexed", zap.String("type", string(b.rtyp)), zap.Int("count", b.n))
	}
}

// ReindexAllFromPG reloads every searchable entity from PostgreSQL and
// pushes it into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	s.Reindex(records)
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.wg.Wait()
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// visibleTo drops private notes owned by someone other than viewerID.
func visibleTo(results []Result, viewerID string) []Result {
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultNote && result.IsPrivate && result.CreatedByID != viewerID {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
