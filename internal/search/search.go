package search

import (
	"strings"

	"salescrm/api/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultContact ResultType = "contact"
	ResultCompany ResultType = "company"
	ResultDeal    ResultType = "deal"
	ResultNote    ResultType = "note"
)

// ParseResultType accepts singular or plural collection names.
func ParseResultType(raw string) (ResultType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", true
	case "contact", "contacts":
		return ResultContact, true
	case "company", "companies":
		return ResultCompany, true
	case "deal", "deals":
		return ResultDeal, true
	case "note", "notes":
		return ResultNote, true
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status,omitempty"`

	// Only set for notes; used to hide other users' private notes.
	CreatedByID string `json:"-"`
	IsPrivate   bool   `json:"-"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	ViewerID   string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ContactRecord is the data we index for a contact.
type ContactRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Title       string   `json:"title"`
	CompanyName string   `json:"companyName"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
}

// CompanyRecord is the data we index for a company.
type CompanyRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// DealRecord is the data we index for a deal.
type DealRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	CreatedByID string `json:"createdById"`
	IsPrivate   bool   `json:"isPrivate"`
}

func ContactRecordFrom(c store.Contact) ContactRecord {
	return ContactRecord{
		ID:          c.ID,
		Name:        c.FullName(),
		Email:       c.Email,
		Title:       c.Title,
		CompanyName: c.CompanyName,
		Status:      string(c.Status),
		Tags:        c.Tags,
	}
}

func CompanyRecordFrom(c store.Company) CompanyRecord {
	return CompanyRecord{
		ID:          c.ID,
		Name:        c.Name,
		Domain:      c.Domain,
		Industry:    c.Industry,
		Description: c.Description,
		Status:      string(c.Status),
	}
}

func DealRecordFrom(d store.Deal) DealRecord {
	return DealRecord{ID: d.ID, Title: d.Title, Description: d.Description, Stage: string(d.Stage)}
}

func NoteRecordFrom(n store.Note) NoteRecord {
	return NoteRecord{ID: n.ID, Content: n.Content, CreatedByID: n.CreatedByID, IsPrivate: n.IsPrivate}
}

// Records is a full snapshot of searchable entities, used for reindexing.
type Records struct {
	Contacts  []ContactRecord
	Companies []CompanyRecord
	Deals     []DealRecord
	Notes     []NoteRecord
}
