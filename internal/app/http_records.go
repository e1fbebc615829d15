package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/rbac"
	"salescrm/api/internal/store"
)

// collection binds one REST collection to its service calls.
type collection struct {
	entity domain.EntityType
	// writeAction guards create, update and delete. Users need admin.
	writeAction  rbac.Action
	deleteAction rbac.Action

	list   func(ctx context.Context, sess Session, q url.Values) (any, error)
	create func(r *http.Request, sess Session) (any, error)
	get    func(ctx context.Context, sess Session, id string) (any, error)
	update func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error)
	remove func(ctx context.Context, sess Session, id string) error

	// children are GET sub-resources keyed by path segment.
	children map[string]func(ctx context.Context, sess Session, id string) (any, error)
}

func invalidBody(err error) error {
	return domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func decodeInto[T any](r *http.Request) (T, error) {
	var body T
	if err := decodeBody(r, &body); err != nil {
		return body, invalidBody(err)
	}
	return body, nil
}

func param(q url.Values, key string) string {
	return strings.TrimSpace(q.Get(key))
}

func (s *HTTPServer) collection(name string) (collection, bool) {
	svc := s.service
	notes := func(filter func(id string) store.NoteFilter) func(context.Context, Session, string) (any, error) {
		return func(ctx context.Context, sess Session, id string) (any, error) {
			return svc.ListNotes(ctx, sess, filter(id))
		}
	}

	switch name {
	case "users":
		return collection{
			entity:       domain.EntityUser,
			writeAction:  rbac.ActionAdmin,
			deleteAction: rbac.ActionAdmin,
			list: func(ctx context.Context, _ Session, _ url.Values) (any, error) {
				return svc.ListUsers(ctx)
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[UserInput](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateUser(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetUser(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateUser(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeactivateUser(ctx, sess, id)
			},
		}, true

	case "companies":
		return collection{
			entity:       domain.EntityCompany,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, _ Session, q url.Values) (any, error) {
				return svc.ListCompanies(ctx, store.CompanyFilter{
					Status:          param(q, "status"),
					ParentCompanyID: param(q, "parentCompanyId"),
				})
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Company](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateCompany(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetCompany(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateCompany(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteCompany(ctx, sess, id)
			},
			children: map[string]func(context.Context, Session, string) (any, error){
				"contacts": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListContacts(ctx, store.ContactFilter{CompanyID: id})
				},
				"deals": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListDeals(ctx, store.DealFilter{CompanyID: id})
				},
				"subsidiaries": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListCompanies(ctx, store.CompanyFilter{ParentCompanyID: id})
				},
				"notes": notes(func(id string) store.NoteFilter { return store.NoteFilter{CompanyID: id} }),
			},
		}, true

	case "contacts":
		return collection{
			entity:       domain.EntityContact,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, _ Session, q url.Values) (any, error) {
				return svc.ListContacts(ctx, store.ContactFilter{
					Status:       param(q, "status"),
					CompanyID:    param(q, "companyId"),
					AssignedToID: param(q, "assignedToId"),
				})
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Contact](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateContact(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetContact(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateContact(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteContact(ctx, sess, id)
			},
			children: map[string]func(context.Context, Session, string) (any, error){
				"deals": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListDeals(ctx, store.DealFilter{ContactID: id})
				},
				"tasks": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListTasks(ctx, store.TaskFilter{ContactID: id})
				},
				"notes": notes(func(id string) store.NoteFilter { return store.NoteFilter{ContactID: id} }),
			},
		}, true

	case "deals":
		return collection{
			entity:       domain.EntityDeal,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, _ Session, q url.Values) (any, error) {
				return svc.ListDeals(ctx, store.DealFilter{
					Stage:      param(q, "stage"),
					ContactID:  param(q, "contactId"),
					CompanyID:  param(q, "companyId"),
					AssigneeID: param(q, "assigneeId"),
				})
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Deal](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateDeal(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetDeal(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateDeal(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteDeal(ctx, sess, id)
			},
			children: map[string]func(context.Context, Session, string) (any, error){
				"tasks": func(ctx context.Context, _ Session, id string) (any, error) {
					return svc.ListTasks(ctx, store.TaskFilter{DealID: id})
				},
				"notes": notes(func(id string) store.NoteFilter { return store.NoteFilter{DealID: id} }),
			},
		}, true

	case "tasks":
		return collection{
			entity:       domain.EntityTask,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, _ Session, q url.Values) (any, error) {
				return svc.ListTasks(ctx, store.TaskFilter{
					Status:     param(q, "status"),
					AssigneeID: param(q, "assigneeId"),
					ContactID:  param(q, "contactId"),
					DealID:     param(q, "dealId"),
					CompanyID:  param(q, "companyId"),
				})
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Task](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateTask(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetTask(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateTask(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteTask(ctx, sess, id)
			},
			children: map[string]func(context.Context, Session, string) (any, error){
				"notes": notes(func(id string) store.NoteFilter { return store.NoteFilter{TaskID: id} }),
			},
		}, true

	case "notes":
		return collection{
			entity:       domain.EntityNote,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, sess Session, q url.Values) (any, error) {
				return svc.ListNotes(ctx, sess, store.NoteFilter{
					ContactID: param(q, "contactId"),
					DealID:    param(q, "dealId"),
					CompanyID: param(q, "companyId"),
					TaskID:    param(q, "taskId"),
				})
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Note](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateNote(r.Context(), sess, body)
			},
			get: func(ctx context.Context, sess Session, id string) (any, error) {
				return svc.GetNote(ctx, sess, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateNote(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteNote(ctx, sess, id)
			},
		}, true

	case "quotes":
		return collection{
			entity:       domain.EntityQuote,
			writeAction:  rbac.ActionWrite,
			deleteAction: rbac.ActionDelete,
			list: func(ctx context.Context, _ Session, _ url.Values) (any, error) {
				return svc.ListQuotes(ctx)
			},
			create: func(r *http.Request, sess Session) (any, error) {
				body, err := decodeInto[store.Quote](r)
				if err != nil {
					return nil, err
				}
				return svc.CreateQuote(r.Context(), sess, body)
			},
			get: func(ctx context.Context, _ Session, id string) (any, error) {
				return svc.GetQuote(ctx, id)
			},
			update: func(ctx context.Context, sess Session, id string, patch json.RawMessage) (any, error) {
				return svc.UpdateQuote(ctx, sess, id, patch)
			},
			remove: func(ctx context.Context, sess Session, id string) error {
				return svc.DeleteQuote(ctx, sess, id)
			},
		}, true
	}
	return collection{}, false
}

// routeCollection serves /api/{collection}[/{id}[/{child}]]. rest is the
// path after the collection name.
func (s *HTTPServer) routeCollection(w http.ResponseWriter, r *http.Request, session Session, col collection, rest []string) {
	ctx := r.Context()
	fail := func(err error) {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
	}
	allowed := func(action rbac.Action) bool {
		if !s.service.Can(session.Role, action) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return false
		}
		return true
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !allowed(rbac.ActionRead) {
			return
		}
		items, err := col.list(ctx, session, r.URL.Query())
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": items})
		return

	case len(rest) == 0 && r.Method == http.MethodPost:
		if !allowed(col.writeAction) {
			return
		}
		item, err := col.create(r, session)
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return

	case len(rest) == 1:
		id := rest[0]
		switch r.Method {
		case http.MethodGet:
			if !allowed(rbac.ActionRead) {
				return
			}
			item, err := col.get(ctx, session, id)
			if err != nil {
				fail(err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		case http.MethodPatch, http.MethodPut:
			if !allowed(col.writeAction) {
				return
			}
			patch, err := readPatch(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := col.update(ctx, session, id, patch)
			if err != nil {
				fail(err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		case http.MethodDelete:
			if !allowed(col.deleteAction) {
				return
			}
			if err := col.remove(ctx, session, id); err != nil {
				fail(err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

	case len(rest) == 2 && r.Method == http.MethodGet:
		if !allowed(rbac.ActionRead) {
			return
		}
		id, child := rest[0], rest[1]
		var load func(context.Context, Session, string) (any, error)
		if child == "activities" {
			load = func(ctx context.Context, _ Session, id string) (any, error) {
				return s.service.ListActivities(ctx, store.ActivityFilter{EntityType: string(col.entity), EntityID: id})
			}
		} else if fn, ok := col.children[child]; ok {
			load = fn
		}
		if load == nil {
			break
		}
		if _, err := col.get(ctx, session, id); err != nil {
			fail(err)
			return
		}
		items, err := load(ctx, session, id)
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": items})
		return

	case len(rest) == 2 && r.Method == http.MethodPost && rest[1] == "notes" && col.children["notes"] != nil:
		if !allowed(rbac.ActionWrite) {
			return
		}
		if _, err := col.get(ctx, session, rest[0]); err != nil {
			fail(err)
			return
		}
		note, err := decodeInto[store.Note](r)
		if err != nil {
			fail(err)
			return
		}
		note.ContactID, note.DealID, note.CompanyID, note.TaskID = "", "", "", ""
		switch col.entity {
		case domain.EntityContact:
			note.ContactID = rest[0]
		case domain.EntityDeal:
			note.DealID = rest[0]
		case domain.EntityCompany:
			note.CompanyID = rest[0]
		case domain.EntityTask:
			note.TaskID = rest[0]
		}
		created, err := s.service.CreateNote(ctx, session, note)
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
