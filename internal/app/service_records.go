package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/email"
	"salescrm/api/internal/search"
	"salescrm/api/internal/store"
	"salescrm/api/internal/util"
)

// applyPatch overlays a JSON object on a copy of current. Fields missing from
// the patch keep their stored values; PATCH and PUT share this path.
func applyPatch[T any](current T, patch json.RawMessage) (T, error) {
	var next T
	base, err := json.Marshal(current)
	if err != nil {
		return next, err
	}
	if err := json.Unmarshal(base, &next); err != nil {
		return next, err
	}
	trimmed := bytes.TrimSpace(patch)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return next, nil
	}
	if trimmed[0] != '{' {
		return next, domainError(http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object", nil)
	}
	if err := json.Unmarshal(trimmed, &next); err != nil {
		return next, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return next, nil
}

// lookup wraps a Get so a missing row becomes a 404 naming the entity.
func lookup[T any](entity string, item T, err error) (T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return item, notFound(entity)
	}
	return item, err
}

// exists reports whether a referenced row is present. Only sql.ErrNoRows
// counts as absent.
func exists[T any](_ T, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

// canonicalFilter maps a query value onto the stored spelling. Values outside
// the vocabulary are stored trimmed, so they are matched trimmed.
func canonicalFilter[T ~string](raw string, parse func(string) (T, bool)) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if value, ok := parse(raw); ok {
		return string(value)
	}
	return raw
}

type reference struct {
	field string
	id    string
	check func(context.Context, string) (bool, error)
}

// checkReferences verifies that newly set foreign keys point at existing
// rows. References that were already stored are not re-checked, so records
// left dangling by a delete stay editable.
func (s *Service) checkReferences(ctx context.Context, entity string, previous map[string]string, refs ...reference) error {
	problems := fieldErrors{}
	for _, ref := range refs {
		if ref.id == "" || previous[ref.field] == ref.id {
			continue
		}
		ok, err := ref.check(ctx, ref.id)
		if err != nil {
			return err
		}
		if !ok {
			problems[ref.field] = "does not reference an existing record"
		}
	}
	return problems.err(entity)
}

func (s *Service) contactRef(field, id string) reference {
	return reference{field: field, id: id, check: func(ctx context.Context, id string) (bool, error) {
		return exists(s.store.GetContact(ctx, id))
	}}
}

func (s *Service) companyRef(field, id string) reference {
	return reference{field: field, id: id, check: func(ctx context.Context, id string) (bool, error) {
		return exists(s.store.GetCompany(ctx, id))
	}}
}

func (s *Service) dealRef(field, id string) reference {
	return reference{field: field, id: id, check: func(ctx context.Context, id string) (bool, error) {
		return exists(s.store.GetDeal(ctx, id))
	}}
}

func (s *Service) taskRef(field, id string) reference {
	return reference{field: field, id: id, check: func(ctx context.Context, id string) (bool, error) {
		return exists(s.store.GetTask(ctx, id))
	}}
}

func (s *Service) userRef(field, id string) reference {
	return reference{field: field, id: id, check: func(ctx context.Context, id string) (bool, error) {
		return exists(s.store.GetUserByID(ctx, id))
	}}
}

// Users

// UserInput is a user body; Password is optional on update.
type UserInput struct {
	store.User
	Password string `json:"password"`
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, userID string) (store.User, error) {
	item, err := s.store.GetUserByID(ctx, userID)
	return lookup("user", item, err)
}

func validateUser(user *store.User) error {
	user.Name = strings.TrimSpace(user.Name)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	problems := fieldErrors{}
	problems.require("name", user.Name)
	problems.require("email", user.Email)
	if user.Email != "" && !strings.Contains(user.Email, "@") {
		problems["email"] = "must be an email address"
	}
	if !user.Role.Known() {
		problems["role"] = "must be one of admin, manager, sales_rep, marketing, support"
	}
	if user.Status == "" {
		user.Status = domain.UserActive
	} else if !user.Status.Known() {
		problems["status"] = "must be active or inactive"
	}
	return problems.err("user")
}

func (s *Service) CreateUser(ctx context.Context, actor Session, input UserInput) (store.User, error) {
	user := input.User
	if err := validateUser(&user); err != nil {
		return store.User{}, err
	}
	user.PasswordHash = ""
	if input.Password != "" {
		hash, err := s.passwords.HashPassword(input.Password)
		if err != nil {
			return store.User{}, validationError(err.Error(), map[string]string{"password": err.Error()})
		}
		user.PasswordHash = hash
	}
	now := s.stamp()
	user.ID = util.NewID("usr")
	user.CreatedDate, user.UpdatedDate = now, now
	user.LastLogin = domain.Time{}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return store.User{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityUser, "created", user.ID, "Created user "+user.Name)
	return s.GetUser(ctx, user.ID)
}

func (s *Service) UpdateUser(ctx context.Context, actor Session, userID string, patch json.RawMessage) (store.User, error) {
	current, err := s.GetUser(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	input, err := applyPatch(UserInput{User: current}, patch)
	if err != nil {
		return store.User{}, err
	}
	next := input.User
	next.ID, next.CreatedDate, next.LastLogin = current.ID, current.CreatedDate, current.LastLogin
	if err := validateUser(&next); err != nil {
		return store.User{}, err
	}
	if actor.UserID == current.ID && next.Status != current.Status && next.Status == domain.UserInactive {
		return store.User{}, validationError("you cannot deactivate your own account", nil)
	}
	var hash string
	if input.Password != "" {
		hash, err = s.passwords.HashPassword(input.Password)
		if err != nil {
			return store.User{}, validationError(err.Error(), map[string]string{"password": err.Error()})
		}
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateUser(ctx, next); err != nil {
		return store.User{}, err
	}
	if hash != "" {
		if err := s.store.UpdateUserPassword(ctx, current.ID, hash); err != nil {
			return store.User{}, err
		}
	}
	s.lifecycle(ctx, actor, domain.EntityUser, "updated", current.ID, "Updated user "+next.Name)
	return s.GetUser(ctx, current.ID)
}

// DeactivateUser is the delete path for users. Users are referenced by
// assignments and the activity stream, so the row stays.
func (s *Service) DeactivateUser(ctx context.Context, actor Session, userID string) error {
	if actor.UserID == userID {
		return validationError("you cannot deactivate your own account", nil)
	}
	current, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if current.Status == domain.UserInactive {
		return nil
	}
	current.Status = domain.UserInactive
	current.UpdatedDate = s.stamp()
	if err := s.store.UpdateUser(ctx, current); err != nil {
		return err
	}
	s.recordActivity(ctx, store.Activity{
		Type:          domain.ActivityUserUpdated,
		EntityType:    domain.EntityUser,
		EntityID:      current.ID,
		UserID:        actor.UserID,
		Description:   "Deactivated user " + current.Name,
		PreviousValue: string(domain.UserActive),
		NewValue:      string(domain.UserInactive),
	})
	return nil
}

// Companies

func (s *Service) ListCompanies(ctx context.Context, filter store.CompanyFilter) ([]store.Company, error) {
	filter.Status = canonicalFilter(filter.Status, domain.ParseCompanyStatus)
	return s.store.ListCompanies(ctx, filter)
}

func (s *Service) GetCompany(ctx context.Context, companyID string) (store.Company, error) {
	item, err := s.store.GetCompany(ctx, companyID)
	return lookup("company", item, err)
}

func validateCompany(company *store.Company) error {
	company.Name = strings.TrimSpace(company.Name)
	company.Domain = strings.ToLower(strings.TrimSpace(company.Domain))
	problems := fieldErrors{}
	problems.require("name", company.Name)
	if company.EmployeeCount < 0 {
		problems["employeeCount"] = "must not be negative"
	}
	if company.ParentCompanyID != "" && company.ParentCompanyID == company.ID {
		problems["parentCompanyId"] = "a company cannot be its own parent"
	}
	if company.Status == "" {
		company.Status = domain.CompanyProspect
	}
	return problems.err("company")
}

func (s *Service) CreateCompany(ctx context.Context, actor Session, input store.Company) (store.Company, error) {
	company := input
	company.ID = util.NewID("cmp")
	if err := validateCompany(&company); err != nil {
		return store.Company{}, err
	}
	if err := s.checkReferences(ctx, "company", nil, s.companyRef("parentCompanyId", company.ParentCompanyID)); err != nil {
		return store.Company{}, err
	}
	now := s.stamp()
	company.CreatedDate, company.UpdatedDate = now, now
	if err := s.store.InsertCompany(ctx, company); err != nil {
		return store.Company{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityCompany, "created", company.ID, "Created company "+company.Name)
	s.search.IndexCompany(search.CompanyRecordFrom(company))
	return s.GetCompany(ctx, company.ID)
}

func (s *Service) UpdateCompany(ctx context.Context, actor Session, companyID string, patch json.RawMessage) (store.Company, error) {
	current, err := s.GetCompany(ctx, companyID)
	if err != nil {
		return store.Company{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Company{}, err
	}
	next.ID, next.CreatedDate = current.ID, current.CreatedDate
	if err := validateCompany(&next); err != nil {
		return store.Company{}, err
	}
	previous := map[string]string{"parentCompanyId": current.ParentCompanyID}
	if err := s.checkReferences(ctx, "company", previous, s.companyRef("parentCompanyId", next.ParentCompanyID)); err != nil {
		return store.Company{}, err
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateCompany(ctx, next); err != nil {
		return store.Company{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityCompany, "updated", next.ID, "Updated company "+next.Name)
	s.search.IndexCompany(search.CompanyRecordFrom(next))
	return s.GetCompany(ctx, next.ID)
}

// DeleteCompany removes the company row only. Contacts, deals and
// subsidiaries keep their company id and read it back as a fallback label.
func (s *Service) DeleteCompany(ctx context.Context, actor Session, companyID string) error {
	current, err := s.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCompany(ctx, companyID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityCompany, "deleted", companyID, "Deleted company "+current.Name)
	s.search.Remove(search.ResultCompany, companyID)
	return nil
}

// Contacts

func (s *Service) ListContacts(ctx context.Context, filter store.ContactFilter) ([]store.Contact, error) {
	filter.Status = canonicalFilter(filter.Status, domain.ParseContactStatus)
	return s.store.ListContacts(ctx, filter)
}

func (s *Service) GetContact(ctx context.Context, contactID string) (store.Contact, error) {
	item, err := s.store.GetContact(ctx, contactID)
	return lookup("contact", item, err)
}

func validateContact(contact *store.Contact) error {
	contact.FirstName = strings.TrimSpace(contact.FirstName)
	contact.LastName = strings.TrimSpace(contact.LastName)
	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))
	contact.CompanyName = strings.TrimSpace(contact.CompanyName)
	problems := fieldErrors{}
	problems.require("firstName", contact.FirstName)
	problems.require("lastName", contact.LastName)
	if contact.Email != "" && !strings.Contains(contact.Email, "@") {
		problems["email"] = "must be an email address"
	}
	if contact.Tags == nil {
		contact.Tags = []string{}
	}
	return problems.err("contact")
}

func (s *Service) CreateContact(ctx context.Context, actor Session, input store.Contact) (store.Contact, error) {
	contact := input
	if err := validateContact(&contact); err != nil {
		return store.Contact{}, err
	}
	if err := s.checkReferences(ctx, "contact", nil,
		s.companyRef("companyId", contact.CompanyID),
		s.userRef("assignedToId", contact.AssignedToID),
	); err != nil {
		return store.Contact{}, err
	}
	now := s.stamp()
	contact.ID = util.NewID("con")
	contact.CreatedDate, contact.UpdatedDate = now, now
	if err := s.store.InsertContact(ctx, contact); err != nil {
		return store.Contact{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityContact, "created", contact.ID, "Created contact "+contact.FullName())
	s.search.IndexContact(search.ContactRecordFrom(contact))
	return s.GetContact(ctx, contact.ID)
}

func (s *Service) UpdateContact(ctx context.Context, actor Session, contactID string, patch json.RawMessage) (store.Contact, error) {
	current, err := s.GetContact(ctx, contactID)
	if err != nil {
		return store.Contact{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Contact{}, err
	}
	next.ID, next.CreatedDate = current.ID, current.CreatedDate
	if err := validateContact(&next); err != nil {
		return store.Contact{}, err
	}
	previous := map[string]string{"companyId": current.CompanyID, "assignedToId": current.AssignedToID}
	if err := s.checkReferences(ctx, "contact", previous,
		s.companyRef("companyId", next.CompanyID),
		s.userRef("assignedToId", next.AssignedToID),
	); err != nil {
		return store.Contact{}, err
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateContact(ctx, next); err != nil {
		return store.Contact{}, err
	}
	activity := store.Activity{
		Type:        domain.ActivityContactUpdated,
		EntityType:  domain.EntityContact,
		EntityID:    next.ID,
		UserID:      actor.UserID,
		Description: "Updated contact " + next.FullName(),
	}
	if current.Status != next.Status {
		activity.PreviousValue, activity.NewValue = string(current.Status), string(next.Status)
	}
	s.recordActivity(ctx, activity)
	s.search.IndexContact(search.ContactRecordFrom(next))
	return s.GetContact(ctx, next.ID)
}

func (s *Service) DeleteContact(ctx context.Context, actor Session, contactID string) error {
	current, err := s.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContact(ctx, contactID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityContact, "deleted", contactID, "Deleted contact "+current.FullName())
	s.search.Remove(search.ResultContact, contactID)
	return nil
}

// Deals

func (s *Service) ListDeals(ctx context.Context, filter store.DealFilter) ([]store.Deal, error) {
	filter.Stage = canonicalFilter(filter.Stage, domain.ParseStage)
	return s.store.ListDeals(ctx, filter)
}

func (s *Service) GetDeal(ctx context.Context, dealID string) (store.Deal, error) {
	item, err := s.store.GetDeal(ctx, dealID)
	return lookup("deal", item, err)
}

func validateDeal(deal *store.Deal) error {
	deal.Title = strings.TrimSpace(deal.Title)
	deal.Currency = strings.ToUpper(strings.TrimSpace(deal.Currency))
	problems := fieldErrors{}
	problems.require("title", deal.Title)
	problems.require("contactId", deal.ContactID)
	problems.require("assigneeId", deal.AssigneeID)
	if deal.Probability < 0 || deal.Probability > 100 {
		problems["probability"] = "must be between 0 and 100"
	}
	if deal.Currency == "" {
		deal.Currency = "USD"
	}
	if strings.TrimSpace(string(deal.Stage)) == "" {
		deal.Stage = domain.StageLead
	}
	return problems.err("deal")
}

func (s *Service) CreateDeal(ctx context.Context, actor Session, input store.Deal) (store.Deal, error) {
	deal := input
	if err := validateDeal(&deal); err != nil {
		return store.Deal{}, err
	}
	if err := s.checkReferences(ctx, "deal", nil,
		s.contactRef("contactId", deal.ContactID),
		s.companyRef("companyId", deal.CompanyID),
		s.userRef("assigneeId", deal.AssigneeID),
	); err != nil {
		return store.Deal{}, err
	}
	now := s.stamp()
	deal.ID = util.NewID("deal")
	deal.CreatedDate, deal.UpdatedDate = now, now
	if err := s.store.InsertDeal(ctx, deal); err != nil {
		return store.Deal{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityDeal, "created", deal.ID, "Created deal "+deal.Title)
	s.search.IndexDeal(search.DealRecordFrom(deal))
	return s.GetDeal(ctx, deal.ID)
}

func (s *Service) UpdateDeal(ctx context.Context, actor Session, dealID string, patch json.RawMessage) (store.Deal, error) {
	current, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return store.Deal{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Deal{}, err
	}
	next.ID, next.CreatedDate = current.ID, current.CreatedDate
	if err := validateDeal(&next); err != nil {
		return store.Deal{}, err
	}
	previous := map[string]string{
		"contactId":  current.ContactID,
		"companyId":  current.CompanyID,
		"assigneeId": current.AssigneeID,
	}
	if err := s.checkReferences(ctx, "deal", previous,
		s.contactRef("contactId", next.ContactID),
		s.companyRef("companyId", next.CompanyID),
		s.userRef("assigneeId", next.AssigneeID),
	); err != nil {
		return store.Deal{}, err
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateDeal(ctx, next); err != nil {
		return store.Deal{}, err
	}

	if domain.Normalize(string(current.Stage)) != domain.Normalize(string(next.Stage)) {
		s.recordActivity(ctx, store.Activity{
			Type:          domain.ActivityDealStageChanged,
			EntityType:    domain.EntityDeal,
			EntityID:      next.ID,
			UserID:        actor.UserID,
			Description:   fmt.Sprintf("Moved %s from %s to %s", next.Title, current.Stage, next.Stage),
			PreviousValue: string(current.Stage),
			NewValue:      string(next.Stage),
		})
	} else {
		s.lifecycle(ctx, actor, domain.EntityDeal, "updated", next.ID, "Updated deal "+next.Title)
	}
	s.search.IndexDeal(search.DealRecordFrom(next))
	return s.GetDeal(ctx, next.ID)
}

func (s *Service) DeleteDeal(ctx context.Context, actor Session, dealID string) error {
	current, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDeal(ctx, dealID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityDeal, "deleted", dealID, "Deleted deal "+current.Title)
	s.search.Remove(search.ResultDeal, dealID)
	return nil
}

// Tasks

func (s *Service) ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error) {
	filter.Status = canonicalFilter(filter.Status, domain.ParseTaskStatus)
	return s.store.ListTasks(ctx, filter)
}

func (s *Service) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	item, err := s.store.GetTask(ctx, taskID)
	return lookup("task", item, err)
}

func validateTask(task *store.Task) error {
	task.Title = strings.TrimSpace(task.Title)
	problems := fieldErrors{}
	problems.require("title", task.Title)
	problems.require("assigneeId", task.AssigneeID)
	problems.require("createdById", task.CreatedByID)
	if task.Status == "" {
		task.Status = domain.TaskPending
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	if task.Type == "" {
		task.Type = domain.TaskGeneric
	}
	return problems.err("task")
}

func (s *Service) taskReferences(task store.Task) []reference {
	return []reference{
		s.contactRef("contactId", task.ContactID),
		s.dealRef("dealId", task.DealID),
		s.companyRef("companyId", task.CompanyID),
		s.userRef("assigneeId", task.AssigneeID),
	}
}

func (s *Service) CreateTask(ctx context.Context, actor Session, input store.Task) (store.Task, error) {
	task := input
	task.CreatedByID = actor.UserID
	if err := validateTask(&task); err != nil {
		return store.Task{}, err
	}
	if err := s.checkReferences(ctx, "task", nil, s.taskReferences(task)...); err != nil {
		return store.Task{}, err
	}
	now := s.stamp()
	task.ID = util.NewID("task")
	task.CreatedDate, task.UpdatedDate = now, now
	task.CompletedDate = domain.Time{}
	if isCompleted(task.Status) {
		task.CompletedDate = now
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityTask, "created", task.ID, "Created task "+task.Title)
	s.notifyAssignee(ctx, actor, task)
	return s.GetTask(ctx, task.ID)
}

func (s *Service) UpdateTask(ctx context.Context, actor Session, taskID string, patch json.RawMessage) (store.Task, error) {
	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Task{}, err
	}
	next.ID, next.CreatedDate, next.CreatedByID = current.ID, current.CreatedDate, current.CreatedByID
	if err := validateTask(&next); err != nil {
		return store.Task{}, err
	}
	previous := map[string]string{
		"contactId":  current.ContactID,
		"dealId":     current.DealID,
		"companyId":  current.CompanyID,
		"assigneeId": current.AssigneeID,
	}
	if err := s.checkReferences(ctx, "task", previous, s.taskReferences(next)...); err != nil {
		return store.Task{}, err
	}

	now := s.stamp()
	completed := !isCompleted(current.Status) && isCompleted(next.Status)
	switch {
	case completed:
		next.CompletedDate = now
	case !isCompleted(next.Status):
		next.CompletedDate = domain.Time{}
	default:
		next.CompletedDate = current.CompletedDate
	}
	next.UpdatedDate = now
	if err := s.store.UpdateTask(ctx, next); err != nil {
		return store.Task{}, err
	}

	if completed {
		s.recordActivity(ctx, store.Activity{
			Type:          domain.ActivityTaskCompleted,
			EntityType:    domain.EntityTask,
			EntityID:      next.ID,
			UserID:        actor.UserID,
			Description:   "Completed task " + next.Title,
			PreviousValue: string(current.Status),
			NewValue:      string(next.Status),
		})
	} else {
		s.lifecycle(ctx, actor, domain.EntityTask, "updated", next.ID, "Updated task "+next.Title)
	}
	if next.AssigneeID != current.AssigneeID {
		s.notifyAssignee(ctx, actor, next)
	}
	return s.GetTask(ctx, next.ID)
}

func (s *Service) DeleteTask(ctx context.Context, actor Session, taskID string) error {
	current, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityTask, "deleted", taskID, "Deleted task "+current.Title)
	return nil
}

func isCompleted(status domain.TaskStatus) bool {
	return domain.Normalize(string(status)) == domain.Normalize(string(domain.TaskCompleted))
}

// notifyAssignee mails the assignee when someone else gave them the task.
// Delivery problems are logged; the task write has already succeeded.
func (s *Service) notifyAssignee(ctx context.Context, actor Session, task store.Task) {
	if task.AssigneeID == "" || task.AssigneeID == actor.UserID || !s.SMTPConfigured() {
		return
	}
	assignee, err := s.store.GetUserByID(ctx, task.AssigneeID)
	if err != nil || assignee.Email == "" {
		return
	}
	data := email.TaskAssignedData{
		AssigneeName: assignee.Name,
		AssignerName: actor.UserName,
		TaskTitle:    task.Title,
		Priority:     string(task.Priority),
		TaskURL:      strings.TrimRight(s.cfg.AppURL, "/") + "/tasks/" + task.ID,
	}
	if !task.DueDate.IsZero() {
		data.DueDate = task.DueDate.Format("Jan 2, 2006")
		if task.DueTime != "" {
			data.DueDate += " " + task.DueTime
		}
	}
	if err := s.mailer.SendTaskAssignedEmail(assignee.Email, data); err != nil {
		s.logger.Warn("task assignment email failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}

// Notes

// ListNotes returns the notes visible to the viewer.
func (s *Service) ListNotes(ctx context.Context, viewer Session, filter store.NoteFilter) ([]store.Note, error) {
	filter.ViewerID = viewer.UserID
	return s.store.ListNotes(ctx, filter)
}

// GetNote hides other users' private notes behind a 404.
func (s *Service) GetNote(ctx context.Context, viewer Session, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	note, err = lookup("note", note, err)
	if err != nil {
		return store.Note{}, err
	}
	if note.IsPrivate && note.CreatedByID != viewer.UserID {
		return store.Note{}, notFound("note")
	}
	return note, nil
}

func validateNote(note *store.Note) error {
	note.Content = strings.TrimSpace(note.Content)
	problems := fieldErrors{}
	problems.require("content", note.Content)
	if _, _, count := note.Parent(); count != 1 {
		problems["parent"] = "exactly one of contactId, dealId, companyId or taskId must be set"
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	return problems.err("note")
}

func (s *Service) noteReferences(note store.Note) []reference {
	return []reference{
		s.contactRef("contactId", note.ContactID),
		s.dealRef("dealId", note.DealID),
		s.companyRef("companyId", note.CompanyID),
		s.taskRef("taskId", note.TaskID),
		s.userRef("assignedToId", note.AssignedToID),
	}
}

func (s *Service) CreateNote(ctx context.Context, actor Session, input store.Note) (store.Note, error) {
	note := input
	note.CreatedByID = actor.UserID
	if err := validateNote(&note); err != nil {
		return store.Note{}, err
	}
	if err := s.checkReferences(ctx, "note", nil, s.noteReferences(note)...); err != nil {
		return store.Note{}, err
	}
	now := s.stamp()
	note.ID = util.NewID("note")
	note.CreatedDate, note.UpdatedDate = now, now
	if err := s.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, err
	}
	parent, parentID, _ := note.Parent()
	s.lifecycle(ctx, actor, domain.EntityNote, "created", note.ID, fmt.Sprintf("Added a note to %s %s", parent, parentID))
	s.search.IndexNote(search.NoteRecordFrom(note))
	return s.GetNote(ctx, actor, note.ID)
}

func (s *Service) UpdateNote(ctx context.Context, actor Session, noteID string, patch json.RawMessage) (store.Note, error) {
	current, err := s.GetNote(ctx, actor, noteID)
	if err != nil {
		return store.Note{}, err
	}
	next, err := applyPatch(current, patch)
	if err != nil {
		return store.Note{}, err
	}
	next.ID, next.CreatedDate, next.CreatedByID = current.ID, current.CreatedDate, current.CreatedByID
	if next.IsPrivate && !current.IsPrivate && current.CreatedByID != actor.UserID {
		return store.Note{}, forbidden("only the author can make a note private")
	}
	if err := validateNote(&next); err != nil {
		return store.Note{}, err
	}
	previous := map[string]string{
		"contactId":    current.ContactID,
		"dealId":       current.DealID,
		"companyId":    current.CompanyID,
		"taskId":       current.TaskID,
		"assignedToId": current.AssignedToID,
	}
	if err := s.checkReferences(ctx, "note", previous, s.noteReferences(next)...); err != nil {
		return store.Note{}, err
	}
	next.UpdatedDate = s.stamp()
	if err := s.store.UpdateNote(ctx, next); err != nil {
		return store.Note{}, err
	}
	s.lifecycle(ctx, actor, domain.EntityNote, "updated", next.ID, "Updated a note")
	s.search.IndexNote(search.NoteRecordFrom(next))
	return s.GetNote(ctx, actor, next.ID)
}

func (s *Service) DeleteNote(ctx context.Context, actor Session, noteID string) error {
	if _, err := s.GetNote(ctx, actor, noteID); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	s.lifecycle(ctx, actor, domain.EntityNote, "deleted", noteID, "Deleted a note")
	s.search.Remove(search.ResultNote, noteID)
	return nil
}

// Activities

func (s *Service) ListActivities(ctx context.Context, filter store.ActivityFilter) ([]store.Activity, error) {
	if filter.EntityType != "" {
		entity, ok := domain.ParseEntityType(filter.EntityType)
		if !ok {
			return nil, validationError("unknown entityType", map[string]string{"entityType": filter.EntityType})
		}
		filter.EntityType = string(entity)
	}
	return s.store.ListActivities(ctx, filter)
}
