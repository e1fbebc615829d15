package app

import (
	"net/http"
	"strings"

	"salescrm/api/internal/rbac"
)

const maxUploadBytes = 32 << 20

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	payload, err := s.service.Search(r.Context(), session, q, filterType, limit, offset)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAnalytics(w http.ResponseWriter, r *http.Request, session Session, view string) {
	if !s.service.Can(session.Role, rbac.ActionReport) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	months, err := queryInt(r, "months")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	var payload any
	switch view {
	case "dashboard":
		payload, err = s.service.Dashboard(r.Context(), months)
	case "revenue":
		payload, err = s.service.Revenue(r.Context(), months)
	case "funnel":
		payload, err = s.service.Funnel(r.Context())
	case "stages":
		payload, err = s.service.Stages(r.Context())
	case "assignees":
		payload, err = s.service.Assignees(r.Context())
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if view == "dashboard" {
		writeJSON(w, http.StatusOK, payload)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": payload})
}

func (s *HTTPServer) handleReportExport(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.ActionReport) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	months, err := queryInt(r, "months")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	doc, err := s.service.ExportReport(r.Context(), months)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeFile(w, doc.Data, doc.Filename, doc.MimeType, doc.DownloadURL)
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, session Session, kind string) {
	if kind != "contacts" && kind != "companies" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected a multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()

	var payload any
	if kind == "contacts" {
		payload, err = s.service.ImportContacts(r.Context(), session, file, header.Filename)
	} else {
		payload, err = s.service.ImportCompanies(r.Context(), session, file, header.Filename)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// routeQuoteDocuments serves the quote export and revision history routes.
// It reports false when the path is a plain collection route.
func (s *HTTPServer) routeQuoteDocuments(w http.ResponseWriter, r *http.Request, session Session, rest []string) bool {
	if len(rest) < 2 || r.Method != http.MethodGet {
		return false
	}
	quoteID := rest[0]

	switch {
	case len(rest) == 2 && rest[1] == "export":
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		doc, err := s.service.ExportQuote(r.Context(), quoteID, r.URL.Query().Get("format"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeFile(w, doc.Data, doc.Filename, doc.MimeType, doc.DownloadURL)
		return true

	case len(rest) == 2 && rest[1] == "history":
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return true
		}
		items, err := s.service.QuoteHistory(r.Context(), quoteID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": items})
		return true

	case len(rest) == 3 && rest[1] == "history":
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		payload, err := s.service.QuoteRevisionByHash(r.Context(), quoteID, rest[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}
	return false
}
