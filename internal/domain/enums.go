package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Stage is the pipeline phase of a deal.
type Stage string

const (
	StageLead        Stage = "Lead"
	StageQualified   Stage = "Qualified"
	StageProposal    Stage = "Proposal"
	StageNegotiation Stage = "Negotiation"
	StageClosedWon   Stage = "Closed Won"
	StageClosedLost  Stage = "Closed Lost"

	// StageOther is the display bucket for stage values outside the vocabulary.
	StageOther Stage = "Other"
)

// ContactStatus is the qualification state of a contact.
type ContactStatus string

const (
	ContactHotLead   ContactStatus = "Hot Lead"
	ContactQualified ContactStatus = "Qualified"
	ContactColdLead  ContactStatus = "Cold Lead"
	ContactNurturing ContactStatus = "Nurturing"
	ContactCustomer  ContactStatus = "Customer"
	ContactLost      ContactStatus = "Lost"
)

// CompanyStatus is the relationship a company has with the organization.
type CompanyStatus string

const (
	CompanyProspect       CompanyStatus = "Prospect"
	CompanyActiveCustomer CompanyStatus = "Active Customer"
	CompanyFormerCustomer CompanyStatus = "Former Customer"
	CompanyPartner        CompanyStatus = "Partner"
	CompanyCompetitor     CompanyStatus = "Competitor"
)

type TaskType string

const (
	TaskCall     TaskType = "call"
	TaskEmail    TaskType = "email"
	TaskMeeting  TaskType = "meeting"
	TaskGeneric  TaskType = "task"
	TaskFollowUp TaskType = "follow_up"
	TaskDemo     TaskType = "demo"
	TaskProposal TaskType = "proposal"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleManager   UserRole = "manager"
	RoleSalesRep  UserRole = "sales_rep"
	RoleMarketing UserRole = "marketing"
	RoleSupport   UserRole = "support"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "Draft"
	QuoteSent      QuoteStatus = "Sent"
	QuoteAccepted  QuoteStatus = "Accepted"
	QuoteDeclined  QuoteStatus = "Declined"
	QuoteWithdrawn QuoteStatus = "Withdrawn"
)

var (
	stages          = newVocabulary(StageLead, StageQualified, StageProposal, StageNegotiation, StageClosedWon, StageClosedLost)
	contactStatuses = newVocabulary(ContactHotLead, ContactQualified, ContactColdLead, ContactNurturing, ContactCustomer, ContactLost)
	companyStatuses = newVocabulary(CompanyProspect, CompanyActiveCustomer, CompanyFormerCustomer, CompanyPartner, CompanyCompetitor)
	taskTypes       = newVocabulary(TaskCall, TaskEmail, TaskMeeting, TaskGeneric, TaskFollowUp, TaskDemo, TaskProposal)
	taskPriorities  = newVocabulary(PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent)
	taskStatuses    = newVocabulary(TaskPending, TaskInProgress, TaskCompleted, TaskCancelled)
	userRoles       = newVocabulary(RoleAdmin, RoleManager, RoleSalesRep, RoleMarketing, RoleSupport)
	userStatuses    = newVocabulary(UserActive, UserInactive)
	quoteStatuses   = newVocabulary(QuoteDraft, QuoteSent, QuoteAccepted, QuoteDeclined, QuoteWithdrawn)
)

// closedWonToken is the normalized form of every spelling of "Closed Won".
var closedWonToken = Normalize(string(StageClosedWon))

// IsClosedWon reports whether a raw stage value names the closed-won stage.
func IsClosedWon(raw string) bool {
	return Normalize(raw) == closedWonToken
}

// IsClosedLost reports whether a raw stage value names the closed-lost stage.
func IsClosedLost(raw string) bool {
	return Normalize(raw) == Normalize(string(StageClosedLost))
}

// ParseStage maps a raw stage onto its canonical label. Unknown input is
// returned trimmed with ok=false.
func ParseStage(raw string) (Stage, bool) { return stages.parse(raw) }

// Stages lists the canonical stages in pipeline order.
func Stages() []Stage { return stages.values() }

// OpenStages lists the stages a deal moves through before it is closed.
func OpenStages() []Stage {
	return []Stage{StageLead, StageQualified, StageProposal, StageNegotiation}
}

func (s Stage) Known() bool { return stages.known(s) }

// Closed reports whether the stage is either closed-won or closed-lost.
func (s Stage) Closed() bool {
	return IsClosedWon(string(s)) || IsClosedLost(string(s))
}

// Bucket returns the canonical label, or StageOther for unrecognized values.
func (s Stage) Bucket() Stage {
	if canonical, ok := stages.parse(string(s)); ok {
		return canonical
	}
	return StageOther
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	*s, _ = stages.parse(decodeEnum(data))
	return nil
}

func ParseContactStatus(raw string) (ContactStatus, bool) { return contactStatuses.parse(raw) }
func ContactStatuses() []ContactStatus                    { return contactStatuses.values() }
func (s ContactStatus) Known() bool                       { return contactStatuses.known(s) }

func (s *ContactStatus) UnmarshalJSON(data []byte) error {
	*s, _ = contactStatuses.parse(decodeEnum(data))
	return nil
}

func ParseCompanyStatus(raw string) (CompanyStatus, bool) { return companyStatuses.parse(raw) }
func CompanyStatuses() []CompanyStatus                    { return companyStatuses.values() }
func (s CompanyStatus) Known() bool                       { return companyStatuses.known(s) }

func (s *CompanyStatus) UnmarshalJSON(data []byte) error {
	*s, _ = companyStatuses.parse(decodeEnum(data))
	return nil
}

func ParseTaskType(raw string) (TaskType, bool) { return taskTypes.parse(raw) }
func (t TaskType) Known() bool                  { return taskTypes.known(t) }

func (t *TaskType) UnmarshalJSON(data []byte) error {
	*t, _ = taskTypes.parse(decodeEnum(data))
	return nil
}

func ParseTaskPriority(raw string) (TaskPriority, bool) { return taskPriorities.parse(raw) }
func (p TaskPriority) Known() bool                      { return taskPriorities.known(p) }

func (p *TaskPriority) UnmarshalJSON(data []byte) error {
	*p, _ = taskPriorities.parse(decodeEnum(data))
	return nil
}

func ParseTaskStatus(raw string) (TaskStatus, bool) { return taskStatuses.parse(raw) }
func (s TaskStatus) Known() bool                    { return taskStatuses.known(s) }

// Done reports whether the task no longer needs work.
func (s TaskStatus) Done() bool {
	n := Normalize(string(s))
	return n == Normalize(string(TaskCompleted)) || n == Normalize(string(TaskCancelled))
}

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	*s, _ = taskStatuses.parse(decodeEnum(data))
	return nil
}

func ParseUserRole(raw string) (UserRole, bool) { return userRoles.parse(raw) }
func UserRoles() []UserRole                     { return userRoles.values() }
func (r UserRole) Known() bool                  { return userRoles.known(r) }

func (r *UserRole) UnmarshalJSON(data []byte) error {
	*r, _ = userRoles.parse(decodeEnum(data))
	return nil
}

func ParseUserStatus(raw string) (UserStatus, bool) { return userStatuses.parse(raw) }
func (s UserStatus) Known() bool                    { return userStatuses.known(s) }

func (s *UserStatus) UnmarshalJSON(data []byte) error {
	*s, _ = userStatuses.parse(decodeEnum(data))
	return nil
}

func ParseQuoteStatus(raw string) (QuoteStatus, bool) { return quoteStatuses.parse(raw) }
func (s QuoteStatus) Known() bool                     { return quoteStatuses.known(s) }

func (s *QuoteStatus) UnmarshalJSON(data []byte) error {
	*s, _ = quoteStatuses.parse(decodeEnum(data))
	return nil
}

// decodeEnum extracts the text of a JSON enum value. Null yields "", and a
// non-string literal is kept as its raw text so it lands in the unknown bucket.
func decodeEnum(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	return strings.Trim(string(trimmed), `"`)
}
