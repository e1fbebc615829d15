package store

import (
	"math"

	"salescrm/api/internal/domain"
)

// Fallback labels rendered for references whose target no longer exists.
const (
	LabelDeletedCompany = "Deleted company"
	LabelDeletedContact = "Deleted contact"
	LabelDeletedDeal    = "Deleted deal"
	LabelUnassigned     = "Unassigned"
	LabelUnknownUser    = "Unknown user"
)

type Targets struct {
	MonthlyRevenue   domain.Amount `json:"monthlyRevenue"`
	QuarterlyRevenue domain.Amount `json:"quarterlyRevenue"`
	MonthlyDeals     int           `json:"monthlyDeals"`
}

type User struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Role         domain.UserRole   `json:"role"`
	Department   string            `json:"department"`
	Status       domain.UserStatus `json:"status"`
	Phone        string            `json:"phone"`
	Targets      Targets           `json:"targets"`
	PasswordHash string            `json:"-"`
	LastLogin    domain.Time       `json:"lastLogin"`
	CreatedDate  domain.Time       `json:"createdDate"`
	UpdatedDate  domain.Time       `json:"updatedDate"`
}

type Company struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Domain          string               `json:"domain"`
	Industry        string               `json:"industry"`
	ARREstimate     domain.Amount        `json:"arrEstimate"`
	EmployeeCount   int                  `json:"employeeCount"`
	Status          domain.CompanyStatus `json:"status"`
	Website         string               `json:"website"`
	Phone           string               `json:"phone"`
	Address         string               `json:"address"`
	Description     string               `json:"description"`
	ParentCompanyID string               `json:"parentCompanyId"`
	CreatedDate     domain.Time          `json:"createdDate"`
	UpdatedDate     domain.Time          `json:"updatedDate"`

	// Computed on read.
	ParentCompanyName string   `json:"parentCompanyName,omitempty"`
	ContactIDs        []string `json:"contactIds"`
	DealIDs           []string `json:"dealIds"`
	SubCompanyIDs     []string `json:"subCompanyIds"`
}

type Contact struct {
	ID           string               `json:"id"`
	FirstName    string               `json:"firstName"`
	LastName     string               `json:"lastName"`
	Email        string               `json:"email"`
	Phone        string               `json:"phone"`
	Title        string               `json:"title"`
	CompanyName  string               `json:"companyName"`
	CompanyID    string               `json:"companyId"`
	Status       domain.ContactStatus `json:"status"`
	Tags         []string             `json:"tags"`
	AssignedToID string               `json:"assignedToId"`
	Source       string               `json:"source"`
	CreatedDate  domain.Time          `json:"createdDate"`
	UpdatedDate  domain.Time          `json:"updatedDate"`

	// Computed on read. CompanyLabel is the linked company's name, else the
	// free-text CompanyName, else a fallback when the link dangles. It is never
	// written back.
	CompanyLabel   string   `json:"companyLabel,omitempty"`
	AssignedToName string   `json:"assignedToName,omitempty"`
	DealIDs        []string `json:"dealIds"`
	TaskIDs        []string `json:"taskIds"`
}

// FullName joins first and last name.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type Deal struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Value       domain.Amount `json:"value"`
	Currency    string        `json:"currency"`
	Stage       domain.Stage  `json:"stage"`
	Probability int           `json:"probability"`
	CloseDate   domain.Time   `json:"closeDate"`
	ContactID   string        `json:"contactId"`
	CompanyID   string        `json:"companyId"`
	AssigneeID  string        `json:"assigneeId"`
	Description string        `json:"description"`
	CreatedDate domain.Time   `json:"createdDate"`
	UpdatedDate domain.Time   `json:"updatedDate"`

	// Computed on read. AssigneeName is also the display name used to match
	// records that arrive without an assignee id.
	ContactName  string   `json:"contactName,omitempty"`
	CompanyName  string   `json:"companyName,omitempty"`
	AssigneeName string   `json:"assigneeName,omitempty"`
	TaskIDs      []string `json:"taskIds"`
}

type Task struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Type          domain.TaskType     `json:"type"`
	Priority      domain.TaskPriority `json:"priority"`
	Status        domain.TaskStatus   `json:"status"`
	DueDate       domain.Time         `json:"dueDate"`
	DueTime       string              `json:"dueTime"`
	ContactID     string              `json:"contactId"`
	DealID        string              `json:"dealId"`
	CompanyID     string              `json:"companyId"`
	AssigneeID    string              `json:"assigneeId"`
	CreatedByID   string              `json:"createdById"`
	CompletedDate domain.Time         `json:"completedDate"`
	CreatedDate   domain.Time         `json:"createdDate"`
	UpdatedDate   domain.Time         `json:"updatedDate"`

	// Computed on read.
	ContactName  string `json:"contactName,omitempty"`
	DealTitle    string `json:"dealTitle,omitempty"`
	CompanyName  string `json:"companyName,omitempty"`
	AssigneeName string `json:"assigneeName,omitempty"`
}

type Note struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	ContactID    string      `json:"contactId"`
	DealID       string      `json:"dealId"`
	CompanyID    string      `json:"companyId"`
	TaskID       string      `json:"taskId"`
	CreatedByID  string      `json:"createdById"`
	AssignedToID string      `json:"assignedToId"`
	IsPinned     bool        `json:"isPinned"`
	IsPrivate    bool        `json:"isPrivate"`
	Tags         []string    `json:"tags"`
	DueDate      domain.Time `json:"dueDate"`
	CreatedDate  domain.Time `json:"createdDate"`
	UpdatedDate  domain.Time `json:"updatedDate"`

	// Computed on read.
	CreatedByName string `json:"createdByName,omitempty"`
}

// Parent returns the entity the note is attached to and the number of parent
// references that are set.
func (n Note) Parent() (domain.EntityType, string, int) {
	var (
		kind  domain.EntityType
		id    string
		count int
	)
	for _, ref := range []struct {
		kind domain.EntityType
		id   string
	}{
		{domain.EntityContact, n.ContactID},
		{domain.EntityDeal, n.DealID},
		{domain.EntityCompany, n.CompanyID},
		{domain.EntityTask, n.TaskID},
	} {
		if ref.id == "" {
			continue
		}
		if count == 0 {
			kind, id = ref.kind, ref.id
		}
		count++
	}
	return kind, id, count
}

// Activity is an append-only audit event.
type Activity struct {
	ID            string              `json:"id"`
	Type          domain.ActivityType `json:"type"`
	EntityType    domain.EntityType   `json:"entityType"`
	EntityID      string              `json:"entityId"`
	UserID        string              `json:"userId"`
	Description   string              `json:"description"`
	PreviousValue string              `json:"previousValue,omitempty"`
	NewValue      string              `json:"newValue,omitempty"`
	CreatedDate   domain.Time         `json:"createdDate"`

	// Computed on read.
	UserName string `json:"userName,omitempty"`
}

type LineItem struct {
	Description     string        `json:"description"`
	Quantity        float64       `json:"quantity"`
	UnitPrice       domain.Amount `json:"unitPrice"`
	DiscountPercent float64       `json:"discountPercent"`
}

// Total is quantity times unit price less the discount, never negative.
func (li LineItem) Total() float64 {
	if li.Quantity <= 0 {
		return 0
	}
	discount := math.Min(math.Max(li.DiscountPercent, 0), 100)
	return li.Quantity * li.UnitPrice.Float() * (1 - discount/100)
}

type Quote struct {
	ID          string             `json:"id"`
	QuoteNumber string             `json:"quoteNumber"`
	Title       string             `json:"title"`
	CompanyName string             `json:"companyName"`
	ContactName string             `json:"contactName"`
	Status      domain.QuoteStatus `json:"status"`
	LineItems   []LineItem         `json:"lineItems"`
	TaxRate     float64            `json:"taxRate"`
	Currency    string             `json:"currency"`
	ValidUntil  domain.Time        `json:"validUntil"`
	Notes       string             `json:"notes"`
	CreatedByID string             `json:"createdById"`
	CreatedDate domain.Time        `json:"createdDate"`
	UpdatedDate domain.Time        `json:"updatedDate"`

	// Computed from the line items.
	Subtotal  domain.Amount `json:"subtotal"`
	TaxAmount domain.Amount `json:"taxAmount"`
	Total     domain.Amount `json:"total"`
}

// ComputeTotals fills Subtotal, TaxAmount and Total from the line items,
// rounded to cents.
func (q *Quote) ComputeTotals() {
	var subtotal float64
	for _, item := range q.LineItems {
		subtotal += item.Total()
	}
	tax := subtotal * math.Max(q.TaxRate, 0) / 100
	q.Subtotal = domain.Amount(roundCents(subtotal))
	q.TaxAmount = domain.Amount(roundCents(tax))
	q.Total = domain.Amount(roundCents(subtotal + tax))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

type ContactFilter struct {
	Status       string
	CompanyID    string
	AssignedToID string
}

type CompanyFilter struct {
	Status          string
	ParentCompanyID string
}

type DealFilter struct {
	Stage      string
	ContactID  string
	CompanyID  string
	AssigneeID string
}

type TaskFilter struct {
	Status     string
	AssigneeID string
	ContactID  string
	DealID     string
	CompanyID  string
}

// NoteFilter selects notes by parent. Private notes are only returned when
// ViewerID is their creator.
type NoteFilter struct {
	ContactID string
	DealID    string
	CompanyID string
	TaskID    string
	ViewerID  string
}

type ActivityFilter struct {
	EntityType string
	EntityID   string
	UserID     string
	Limit      int
}
