package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"salescrm/api/internal/auth"
	"salescrm/api/internal/authpw"
	"salescrm/api/internal/config"
	"salescrm/api/internal/domain"
	"salescrm/api/internal/email"
	"salescrm/api/internal/export"
	"salescrm/api/internal/store"
)

// table is an insertion-ordered in-memory collection.
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) get(id string) (T, error) {
	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, sql.ErrNoRows
	}
	return row, nil
}

func (t *table[T]) insert(id string, row T) error {
	if _, ok := t.rows[id]; ok {
		return store.ErrDuplicate
	}
	t.rows[id] = row
	t.order = append(t.order, id)
	return nil
}

func (t *table[T]) update(id string, row T) error {
	if _, ok := t.rows[id]; !ok {
		return sql.ErrNoRows
	}
	t.rows[id] = row
	return nil
}

func (t *table[T]) remove(id string) error {
	if _, ok := t.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.rows, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *table[T]) all(keep func(T) bool) []T {
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		if row := t.rows[id]; keep == nil || keep(row) {
			out = append(out, row)
		}
	}
	return out
}

// fakeStore is an in-memory dataStore and SessionStore. Reads resolve
// reference labels the way the SQL views do.
type fakeStore struct {
	mu         sync.Mutex
	users      *table[store.User]
	companies  *table[store.Company]
	contacts   *table[store.Contact]
	deals      *table[store.Deal]
	tasks      *table[store.Task]
	notes      *table[store.Note]
	quotes     *table[store.Quote]
	activities []store.Activity
	resets     map[string]string
	refresh    map[string]string
	revoked    map[string]bool
	quoteSeq   map[int]int
	pingErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     newTable[store.User](),
		companies: newTable[store.Company](),
		contacts:  newTable[store.Contact](),
		deals:     newTable[store.Deal](),
		tasks:     newTable[store.Task](),
		notes:     newTable[store.Note](),
		quotes:    newTable[store.Quote](),
		quoteSeq:  make(map[int]int),
		resets:    make(map[string]string),
		refresh:   make(map[string]string),
		revoked:   make(map[string]bool),
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListUsers(context.Context) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users.all(nil), nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users.get(id)
}

func (f *fakeStore) GetUserByEmail(_ context.Context, emailAddr string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users.all(nil) {
		if strings.EqualFold(user.Email, emailAddr) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) InsertUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users.all(nil) {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	return f.users.insert(user.ID, user)
}

func (f *fakeStore) UpdateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.users.get(user.ID)
	if err != nil {
		return err
	}
	user.PasswordHash = current.PasswordHash
	return f.users.update(user.ID, user)
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, err := f.users.get(userID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return f.users.update(userID, user)
}

func (f *fakeStore) TouchUserLogin(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, err := f.users.get(userID)
	if err != nil {
		return err
	}
	user.LastLogin = domain.NewTime(time.Now().UTC())
	return f.users.update(userID, user)
}

func (f *fakeStore) ListCompanies(_ context.Context, filter store.CompanyFilter) ([]store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies.all(func(c store.Company) bool {
		return (filter.Status == "" || string(c.Status) == filter.Status) &&
			(filter.ParentCompanyID == "" || c.ParentCompanyID == filter.ParentCompanyID)
	}), nil
}

func (f *fakeStore) GetCompany(_ context.Context, id string) (store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies.get(id)
}

func (f *fakeStore) InsertCompany(_ context.Context, c store.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies.insert(c.ID, c)
}

func (f *fakeStore) UpdateCompany(_ context.Context, c store.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies.update(c.ID, c)
}

func (f *fakeStore) DeleteCompany(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companies.remove(id)
}

func (f *fakeStore) contactView(c store.Contact) store.Contact {
	c.CompanyLabel = c.CompanyName
	if c.CompanyID != "" {
		if company, err := f.companies.get(c.CompanyID); err == nil {
			c.CompanyLabel = company.Name
		} else if c.CompanyName == "" {
			c.CompanyLabel = store.LabelDeletedCompany
		}
	}
	if c.AssignedToID != "" {
		if user, err := f.users.get(c.AssignedToID); err == nil {
			c.AssignedToName = user.Name
		}
	}
	return c
}

func (f *fakeStore) ListContacts(_ context.Context, filter store.ContactFilter) ([]store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.contacts.all(func(c store.Contact) bool {
		return (filter.Status == "" || string(c.Status) == filter.Status) &&
			(filter.CompanyID == "" || c.CompanyID == filter.CompanyID) &&
			(filter.AssignedToID == "" || c.AssignedToID == filter.AssignedToID)
	})
	for i := range rows {
		rows[i] = f.contactView(rows[i])
	}
	return rows, nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (store.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.contacts.get(id)
	if err != nil {
		return c, err
	}
	return f.contactView(c), nil
}

func (f *fakeStore) InsertContact(_ context.Context, c store.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts.insert(c.ID, c)
}

func (f *fakeStore) UpdateContact(_ context.Context, c store.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts.update(c.ID, c)
}

func (f *fakeStore) DeleteContact(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts.remove(id)
}

func (f *fakeStore) dealView(d store.Deal) store.Deal {
	d.ContactName, d.CompanyName = "", ""
	if d.ContactID != "" {
		if c, err := f.contacts.get(d.ContactID); err == nil {
			d.ContactName = c.FullName()
		} else {
			d.ContactName = store.LabelDeletedContact
		}
	}
	if d.CompanyID != "" {
		if c, err := f.companies.get(d.CompanyID); err == nil {
			d.CompanyName = c.Name
		} else {
			d.CompanyName = store.LabelDeletedCompany
		}
	}
	d.AssigneeName = store.LabelUnassigned
	if user, err := f.users.get(d.AssigneeID); err == nil {
		d.AssigneeName = user.Name
	}
	return d
}

func (f *fakeStore) ListDeals(_ context.Context, filter store.DealFilter) ([]store.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.deals.all(func(d store.Deal) bool {
		return (filter.Stage == "" || string(d.Stage) == filter.Stage) &&
			(filter.ContactID == "" || d.ContactID == filter.ContactID) &&
			(filter.CompanyID == "" || d.CompanyID == filter.CompanyID) &&
			(filter.AssigneeID == "" || d.AssigneeID == filter.AssigneeID)
	})
	for i := range rows {
		rows[i] = f.dealView(rows[i])
	}
	return rows, nil
}

func (f *fakeStore) GetDeal(_ context.Context, id string) (store.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.deals.get(id)
	if err != nil {
		return d, err
	}
	return f.dealView(d), nil
}

func (f *fakeStore) InsertDeal(_ context.Context, d store.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deals.insert(d.ID, d)
}

func (f *fakeStore) UpdateDeal(_ context.Context, d store.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deals.update(d.ID, d)
}

func (f *fakeStore) DeleteDeal(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deals.remove(id)
}

func (f *fakeStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.all(func(t store.Task) bool {
		return (filter.Status == "" || string(t.Status) == filter.Status) &&
			(filter.AssigneeID == "" || t.AssigneeID == filter.AssigneeID) &&
			(filter.ContactID == "" || t.ContactID == filter.ContactID) &&
			(filter.DealID == "" || t.DealID == filter.DealID) &&
			(filter.CompanyID == "" || t.CompanyID == filter.CompanyID)
	}), nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.get(id)
}

func (f *fakeStore) InsertTask(_ context.Context, t store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.insert(t.ID, t)
}

func (f *fakeStore) UpdateTask(_ context.Context, t store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.update(t.ID, t)
}

func (f *fakeStore) DeleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks.remove(id)
}

func (f *fakeStore) ListNotes(_ context.Context, filter store.NoteFilter) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes.all(func(n store.Note) bool {
		if n.IsPrivate && n.CreatedByID != filter.ViewerID {
			return false
		}
		return (filter.ContactID == "" || n.ContactID == filter.ContactID) &&
			(filter.DealID == "" || n.DealID == filter.DealID) &&
			(filter.CompanyID == "" || n.CompanyID == filter.CompanyID) &&
			(filter.TaskID == "" || n.TaskID == filter.TaskID)
	}), nil
}

func (f *fakeStore) GetNote(_ context.Context, id string) (store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes.get(id)
}

func (f *fakeStore) InsertNote(_ context.Context, n store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes.insert(n.ID, n)
}

func (f *fakeStore) UpdateNote(_ context.Context, n store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes.update(n.ID, n)
}

func (f *fakeStore) DeleteNote(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes.remove(id)
}

func (f *fakeStore) ListQuotes(context.Context) ([]store.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes.all(nil), nil
}

func (f *fakeStore) GetQuote(_ context.Context, id string) (store.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes.get(id)
}

func (f *fakeStore) NextQuoteNumber(_ context.Context, year int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.quoteSeq[year]
	if !ok {
		prefix := fmt.Sprintf("Q-%d-", year)
		for _, q := range f.quotes.rows {
			if n, err := strconv.Atoi(strings.TrimPrefix(q.QuoteNumber, prefix)); err == nil && strings.HasPrefix(q.QuoteNumber, prefix) && n > last {
				last = n
			}
		}
	}
	f.quoteSeq[year] = last + 1
	return store.FormatQuoteNumber(year, last+1), nil
}

func (f *fakeStore) InsertQuote(_ context.Context, q store.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes.insert(q.ID, q)
}

func (f *fakeStore) UpdateQuote(_ context.Context, q store.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes.update(q.ID, q)
}

func (f *fakeStore) DeleteQuote(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes.remove(id)
}

func (f *fakeStore) InsertActivity(_ context.Context, a store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeStore) ListActivities(_ context.Context, filter store.ActivityFilter) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Activity, 0)
	for i := len(f.activities) - 1; i >= 0; i-- {
		a := f.activities[i]
		if filter.EntityType != "" && string(a.EntityType) != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && a.EntityID != filter.EntityID {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// activityTypes lists recorded activity types for one entity, oldest first.
func (f *fakeStore) activityTypes(entityID string) []domain.ActivityType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []domain.ActivityType
	for _, a := range f.activities {
		if a.EntityID == entityID {
			types = append(types, a.Type)
		}
	}
	return types
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type sentTaskEmail struct {
	to   string
	data email.TaskAssignedData
}

type fakeMailer struct {
	mu     sync.Mutex
	resets []string
	tasks  []sentTaskEmail
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendPasswordResetEmail(to, _, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, to+" "+resetURL)
	return nil
}

func (m *fakeMailer) SendTaskAssignedEmail(to string, data email.TaskAssignedData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, sentTaskEmail{to: to, data: data})
	return nil
}

type fakeExporter struct {
	err error
}

func (e *fakeExporter) Quote(_ context.Context, q store.Quote, format export.Format) (*export.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &export.Result{
		Data:     []byte("rendered " + q.QuoteNumber),
		Filename: q.QuoteNumber + "." + string(format),
		MimeType: "application/pdf",
	}, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) Enabled() bool { return true }

func (a *fakeArchive) Put(_ context.Context, key string, _ []byte, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func (a *fakeArchive) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func newTestService(fs *fakeStore) *Service {
	cfg := config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    time.Hour,
		RefreshTTL:   24 * time.Hour,
		AppURL:       "https://crm.test",
		ReportMonths: 6,
	}
	return &Service{
		cfg:       cfg,
		store:     fs,
		sessions:  fs,
		signer:    auth.NewSigner(cfg.JWTSecret),
		passwords: authpw.NewService(fs).WithCost(bcrypt.MinCost),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// seedUser stores an active user with the given role and password
// "password123".
func seedUser(t *testing.T, svc *Service, fs *fakeStore, id, name string, role domain.UserRole) store.User {
	t.Helper()
	hash, err := svc.passwords.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	now := domain.NewTime(time.Now().UTC())
	user := store.User{
		ID:           id,
		Name:         name,
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Role:         role,
		Status:       domain.UserActive,
		PasswordHash: hash,
		CreatedDate:  now,
		UpdatedDate:  now,
	}
	if err := fs.InsertUser(context.Background(), user); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return user
}

func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}
