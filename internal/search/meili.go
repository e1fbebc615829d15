package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxContacts  = "crm_contacts"
	idxCompanies = "crm_companies"
	idxDeals     = "crm_deals"
	idxNotes     = "crm_notes"
)

var indexTypes = []struct {
	uid  string
	rtyp ResultType
}{
	{idxContacts, ResultContact},
	{idxCompanies, ResultCompany},
	{idxDeals, ResultDeal},
	{idxNotes, ResultNote},
}

// Meili indexes CRM entities in Meilisearch.
type Meili struct {
	client   meili.ServiceManager
	logger   *zap.Logger
	interval time.Duration
	healthy  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	return newMeili(url, apiKey, logger, 10*time.Second)
}

func newMeili(url, apiKey string, logger *zap.Logger, interval time.Duration) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		logger:   logger.Named("meili"),
		interval: interval,
		done:     make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	m.wg.Add(1)
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{uid: idxContacts, filterable: []string{"status", "tags"}, searchable: []string{"name", "email", "companyName", "title"}},
		{uid: idxCompanies, filterable: []string{"status", "industry"}, searchable: []string{"name", "domain", "industry", "description"}},
		{uid: idxDeals, filterable: []string{"stage"}, searchable: []string{"title", "description"}},
		{uid: idxNotes, filterable: []string{"isPrivate", "createdById"}, searchable: []string{"content"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index (may already exist)", zap.String("index", idx.uid), zap.Error(err))
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", idx.uid), zap.Error(err))
		}
	}
}

func (m *Meili) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor and waits for it to exit.
func (m *Meili) Close() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries every index (or the filtered one) in a single multi-search
// request and concatenates the hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, ti := range indexTypes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if ti.rtyp == ResultNote {
			sr.Filter = noteVisibilityFilter(q.ViewerID)
		}
		queries = append(queries, sr)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func noteVisibilityFilter(viewerID string) string {
	if viewerID == "" {
		return "isPrivate = false"
	}
	return fmt.Sprintf("isPrivate = false OR createdById = %q", viewerID)
}

func indexToResultType(uid string) ResultType {
	for _, ti := range indexTypes {
		if ti.uid == uid {
			return ti.rtyp
		}
	}
	return ""
}

func indexFor(rtyp ResultType) string {
	for _, ti := range indexTypes {
		if ti.rtyp == rtyp {
			return ti.uid
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeString(hit, "id")}

	switch rtyp {
	case ResultContact:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "companyName"), decodeString(hit, "email"))
		r.Status = decodeString(hit, "status")
	case ResultCompany:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "industry"))
		r.Status = decodeString(hit, "status")
	case ResultDeal:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.Status = decodeString(hit, "stage")
	case ResultNote:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
		r.Title = truncate(decodeString(hit, "content"), 60)
		r.CreatedByID = decodeString(hit, "createdById")
		r.IsPrivate = decodeBool(hit, "isPrivate")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}

// Upsert adds or replaces records in the index for rtyp. records must be a
// slice of the matching record type.
func (m *Meili) Upsert(rtyp ResultType, records any) error {
	uid := indexFor(rtyp)
	if uid == "" {
		return fmt.Errorf("unknown search type %q", rtyp)
	}
	_, err := m.client.Index(uid).AddDocuments(records, nil)
	return err
}

// Delete removes one record from the index for rtyp.
func (m *Meili) Delete(rtyp ResultType, id string) error {
	uid := indexFor(rtyp)
	if uid == "" {
		return fmt.Errorf("unknown search type %q", rtyp)
	}
	_, err := m.client.Index(uid).DeleteDocument(id, nil)
	return err
}
