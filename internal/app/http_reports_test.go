package app

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/export"
	"salescrm/api/internal/store"
)

func seedDeal(t *testing.T, fs *fakeStore, id string, stage domain.Stage, value float64, updated time.Time) {
	t.Helper()
	deal := store.Deal{
		ID:          id,
		Title:       "Deal " + id,
		Value:       domain.Amount(value),
		Currency:    "USD",
		Stage:       stage,
		ContactID:   "con-1",
		AssigneeID:  "usr-rep",
		CreatedDate: domain.NewTime(updated),
		UpdatedDate: domain.NewTime(updated),
	}
	if err := fs.InsertDeal(context.Background(), deal); err != nil {
		t.Fatalf("insert deal: %v", err)
	}
}

func seedPipeline(t *testing.T, f *crmFixture) {
	t.Helper()
	now := time.Now().UTC()
	seedDeal(t, f.fs, "deal-1", domain.StageClosedWon, 1000, now)
	seedDeal(t, f.fs, "deal-2", "closed-won", 500, now)
	seedDeal(t, f.fs, "deal-3", domain.StageLead, 200, now)
}

func TestRevenueCountsEverySpellingOfClosedWon(t *testing.T) {
	f := newCRMFixture(t)
	seedPipeline(t, f)

	buckets := listData(t, f.as(t, f.manager, http.MethodGet, "/api/analytics/revenue", ""))
	if len(buckets) != 6 {
		t.Fatalf("expected the default six month window, got %d buckets", len(buckets))
	}
	current := buckets[len(buckets)-1]
	if current["count"] != float64(2) || current["totalValue"] != float64(1500) {
		t.Fatalf("expected 2 won deals worth 1500 this month, got %v", current)
	}

	buckets = listData(t, f.as(t, f.manager, http.MethodGet, "/api/analytics/revenue?months=3", ""))
	if len(buckets) != 3 {
		t.Fatalf("expected three buckets, got %d", len(buckets))
	}
}

func TestDashboardSummary(t *testing.T) {
	f := newCRMFixture(t)
	seedPipeline(t, f)

	payload := f.as(t, f.manager, http.MethodGet, "/api/analytics/dashboard", "")
	summary, ok := payload["summary"].(map[string]any)
	if !ok {
		t.Fatalf("expected an unenveloped dashboard with summary, got %v", payload)
	}
	if summary["totalDeals"] != float64(3) || summary["wonDeals"] != float64(2) || summary["wonValue"] != float64(1500) {
		t.Fatalf("unexpected summary: %v", summary)
	}
	for _, key := range []string{"stages", "pipeline", "revenue", "funnel", "assignees", "tasks"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("dashboard is missing %q", key)
		}
	}
}

func TestStageBreakdownGroupsCanonicalStages(t *testing.T) {
	f := newCRMFixture(t)
	seedPipeline(t, f)
	seedDeal(t, f.fs, "deal-4", "Verbal Yes", 50, time.Now().UTC())

	stages := listData(t, f.as(t, f.manager, http.MethodGet, "/api/analytics/stages", ""))
	byStage := map[string]map[string]any{}
	for _, bucket := range stages {
		byStage[bucket["stage"].(string)] = bucket
	}
	if byStage["Closed Won"]["count"] != float64(2) {
		t.Fatalf("expected both closed-won deals in one bucket, got %v", byStage["Closed Won"])
	}
	if byStage["Other"]["count"] != float64(1) {
		t.Fatalf("expected the unknown stage in Other, got %v", byStage["Other"])
	}
}

func TestAnalyticsRequiresReportRole(t *testing.T) {
	f := newCRMFixture(t)
	marketer := seedUser(t, f.svc, f.fs, "usr-mkt", "Mia Marketing", domain.RoleMarketing)
	support := seedUser(t, f.svc, f.fs, "usr-sup", "Sid Support", domain.RoleSupport)

	rr := doRequest(t, f.server, http.MethodGet, "/api/analytics/funnel", tokenFor(t, f.svc, marketer), "")
	expectStatus(t, rr, http.StatusOK)

	for _, user := range []store.User{support, f.rep} {
		rr = doRequest(t, f.server, http.MethodGet, "/api/analytics/dashboard", tokenFor(t, f.svc, user), "")
		expectStatus(t, rr, http.StatusForbidden)
	}

	rr = doRequest(t, f.server, http.MethodGet, "/api/analytics/horoscope", tokenFor(t, f.svc, f.manager), "")
	expectStatus(t, rr, http.StatusNotFound)

	rr = doRequest(t, f.server, http.MethodGet, "/api/analytics/revenue?months=abc", tokenFor(t, f.svc, f.manager), "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestReportExportIsArchived(t *testing.T) {
	f := newCRMFixture(t)
	seedPipeline(t, f)
	archive := &fakeArchive{}
	f.svc.archive = archive

	rr := doRequest(t, f.server, http.MethodGet, "/api/reports/export", tokenFor(t, f.svc, f.manager), "")
	expectStatus(t, rr, http.StatusOK)

	if ct := rr.Header().Get("Content-Type"); ct != export.MimeXLSX {
		t.Fatalf("expected xlsx content type, got %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "PK") {
		t.Fatalf("expected a zip-based workbook body")
	}
	if len(archive.keys) != 1 || !strings.HasPrefix(archive.keys[0], "reports/") {
		t.Fatalf("expected the workbook under reports/, got %v", archive.keys)
	}
	if link := rr.Header().Get("X-Download-URL"); link != "https://objects.test/"+archive.keys[0] {
		t.Fatalf("unexpected download link %q", link)
	}
}

func uploadRequest(t *testing.T, path, token, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestImportContactsFromCSV(t *testing.T) {
	f := newCRMFixture(t)
	csv := "First Name,Last Name,E-mail,Status\n" +
		"Jane,Doe,Jane@Example.com,hot lead\n" +
		",,,\n" +
		"Bob,,bob@example.com,\n" +
		"Ann,Lee,not-an-email,\n"

	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, uploadRequest(t, "/api/import/contacts", tokenFor(t, f.svc, f.rep), "leads.csv", csv))
	expectStatus(t, rr, http.StatusOK)

	result := decodeJSON[map[string]any](t, rr)
	if result["created"] != float64(1) || result["skipped"] != float64(2) {
		t.Fatalf("expected 1 created and 2 skipped, got %v", result)
	}

	contacts, _ := f.fs.ListContacts(context.Background(), store.ContactFilter{})
	if len(contacts) != 1 || contacts[0].Email != "jane@example.com" || contacts[0].Status != domain.ContactHotLead {
		t.Fatalf("unexpected imported contacts: %+v", contacts)
	}
	if contacts[0].Source != "import" {
		t.Fatalf("expected source import, got %q", contacts[0].Source)
	}
	if types := f.fs.activityTypes(contacts[0].ID); len(types) != 1 || types[0] != domain.ActivityContactCreated {
		t.Fatalf("expected imported rows to be logged like API writes, got %v", types)
	}
}

func TestImportRejectsUnsupportedFile(t *testing.T) {
	f := newCRMFixture(t)

	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, uploadRequest(t, "/api/import/companies", tokenFor(t, f.svc, f.rep), "companies.pdf", "%PDF"))
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, uploadRequest(t, "/api/import/widgets", tokenFor(t, f.svc, f.rep), "w.csv", "name\nx\n"))
	expectStatus(t, rr, http.StatusNotFound)
}

func TestImportCompanies(t *testing.T) {
	f := newCRMFixture(t)
	csv := "Company,Industry,Employees\nInitech,Software,120\n,Retail,4\n"

	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, uploadRequest(t, "/api/import/companies", tokenFor(t, f.svc, f.manager), "accounts.csv", csv))
	expectStatus(t, rr, http.StatusOK)

	result := decodeJSON[map[string]any](t, rr)
	if result["created"] != float64(1) || result["skipped"] != float64(1) {
		t.Fatalf("unexpected import result: %v", result)
	}
	companies, _ := f.fs.ListCompanies(context.Background(), store.CompanyFilter{})
	if len(companies) != 1 || companies[0].EmployeeCount != 120 || companies[0].Status != domain.CompanyProspect {
		t.Fatalf("unexpected imported companies: %+v", companies)
	}
}

func TestSearchWithoutBackend(t *testing.T) {
	f := newCRMFixture(t)
	token := tokenFor(t, f.svc, f.rep)

	rr := doRequest(t, f.server, http.MethodGet, "/api/search?q=acme&type=contacts", token, "")
	expectStatus(t, rr, http.StatusOK)
	if total := decodeJSON[map[string]any](t, rr)["total"]; total != float64(0) {
		t.Fatalf("expected no results without a search backend, got %v", total)
	}

	rr = doRequest(t, f.server, http.MethodGet, "/api/search?q=acme&type=spaceships", token, "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = doRequest(t, f.server, http.MethodGet, fmt.Sprintf("/api/search?q=acme&limit=%s", "lots"), token, "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}
