package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salescrm/api/internal/auth"
	"salescrm/api/internal/domain"
)

func TestSignInReturnsContract(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"  AVERY.REP@example.com ","password":"password123"}`)
	expectStatus(t, rr, http.StatusOK)

	payload := decodeJSON[map[string]any](t, rr)
	token, _ := payload["token"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" {
		t.Fatalf("expected token")
	}
	if payload["accessToken"] != token {
		t.Fatalf("expected accessToken to mirror token")
	}
	if refreshToken == "" {
		t.Fatalf("expected refreshToken")
	}
	if payload["userId"] != user.ID || payload["userName"] != "Avery Rep" || payload["role"] != "sales_rep" {
		t.Fatalf("unexpected identity in payload: %v", payload)
	}

	stored, _ := fs.GetUserByID(context.Background(), user.ID)
	if stored.LastLogin.IsZero() {
		t.Fatalf("expected sign-in to record lastLogin")
	}
}

func TestSignInRejectsBadPassword(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery.rep@example.com","password":"wrong-password"}`)
	expectStatus(t, rr, http.StatusUnauthorized)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected code INVALID_CREDENTIALS, got %v", code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"nobody@example.com","password":"password123"}`)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestSignInRejectsInactiveAccount(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	user.Status = domain.UserInactive
	if err := fs.UpdateUser(context.Background(), user); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"avery.rep@example.com","password":"password123"}`)
	expectStatus(t, rr, http.StatusForbidden)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "ACCOUNT_INACTIVE" {
		t.Fatalf("expected code ACCOUNT_INACTIVE, got %v", code)
	}
}

func TestSignInRejectsInvalidBody(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/signin", "", `{"email":`)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	server := NewHTTPServer(svc, "*")

	body := `{"refreshToken":"` + session.RefreshToken + `"}`
	rr := doRequest(t, server, http.MethodPost, "/api/session/refresh", "", body)
	expectStatus(t, rr, http.StatusOK)
	payload := decodeJSON[map[string]any](t, rr)
	if payload["refreshToken"] == session.RefreshToken || payload["refreshToken"] == "" {
		t.Fatalf("expected a new refresh token, got %v", payload["refreshToken"])
	}

	// The old refresh token is single-use.
	rr = doRequest(t, server, http.MethodPost, "/api/session/refresh", "", body)
	assertUnauthorizedCode(t, rr)
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	user.Status = domain.UserInactive
	_ = fs.UpdateUser(context.Background(), user)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/session/refresh", "", `{"refreshToken":"`+session.RefreshToken+`"}`)
	assertUnauthorizedCode(t, rr)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	token := tokenFor(t, svc, user)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/contacts", token, "")
	expectStatus(t, rr, http.StatusOK)

	rr = doRequest(t, server, http.MethodPost, "/api/session/logout", token, "")
	expectStatus(t, rr, http.StatusOK)

	rr = doRequest(t, server, http.MethodGet, "/api/contacts", token, "")
	assertUnauthorizedCode(t, rr)
}

func TestSessionEndpointReportsIdentity(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleManager)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/session", "", "")
	expectStatus(t, rr, http.StatusOK)
	if payload := decodeJSON[map[string]any](t, rr); payload["authenticated"] != false {
		t.Fatalf("expected unauthenticated session, got %v", payload)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/session", tokenFor(t, svc, user), "")
	payload := decodeJSON[map[string]any](t, rr)
	if payload["authenticated"] != true || payload["userName"] != "Avery Rep" || payload["role"] != "manager" {
		t.Fatalf("unexpected session payload: %v", payload)
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")
	req := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	assertUnauthorizedCode(t, rr)
}

func TestProtectedRouteWithInvalidBearerReturnsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr := doRequest(t, server, http.MethodGet, "/api/deals", "definitely-not-a-token", "")

	assertUnauthorizedCode(t, rr)
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	server := NewHTTPServer(svc, "*")

	token, err := auth.NewSigner("test-secret").Issue(auth.Claims{
		Sub:  "usr-1",
		Name: "Avery Rep",
		Role: "sales_rep",
		JTI:  "jti-expired",
		Exp:  time.Now().Add(-1 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := doRequest(t, server, http.MethodGet, "/api/deals", token, "")

	assertUnauthorizedCode(t, rr)
}

func TestDeactivatedUserTokenStopsWorking(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	user := seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	token := tokenFor(t, svc, user)
	user.Status = domain.UserInactive
	_ = fs.UpdateUser(context.Background(), user)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodGet, "/api/deals", token, "")

	assertUnauthorizedCode(t, rr)
}

func TestPasswordResetFlowWithoutMail(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/reset-password/request", "", `{"email":"avery.rep@example.com"}`)
	expectStatus(t, rr, http.StatusOK)
	resetToken, _ := decodeJSON[map[string]any](t, rr)["devResetToken"].(string)
	if resetToken == "" {
		t.Fatalf("expected devResetToken when mail is not configured")
	}

	rr = doRequest(t, server, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+resetToken+`","newPassword":"short"}`)
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = doRequest(t, server, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+resetToken+`","newPassword":"a-new-password"}`)
	expectStatus(t, rr, http.StatusOK)

	rr = doRequest(t, server, http.MethodPost, "/api/auth/signin", "", `{"email":"avery.rep@example.com","password":"a-new-password"}`)
	expectStatus(t, rr, http.StatusOK)

	// Tokens are single-use.
	rr = doRequest(t, server, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+resetToken+`","newPassword":"another-password"}`)
	expectStatus(t, rr, http.StatusBadRequest)
	if code := decodeJSON[map[string]any](t, rr)["code"]; code != "RESET_FAILED" {
		t.Fatalf("expected code RESET_FAILED, got %v", code)
	}
}

func TestPasswordResetMailsLinkWhenConfigured(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	mail := &fakeMailer{}
	svc.mailer = mail
	seedUser(t, svc, fs, "usr-1", "Avery Rep", domain.RoleSalesRep)
	server := NewHTTPServer(svc, "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/reset-password/request", "", `{"email":"avery.rep@example.com"}`)
	expectStatus(t, rr, http.StatusOK)

	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if _, leaked := payload["devResetToken"]; leaked {
		t.Fatalf("reset token must not be returned when mail is configured")
	}
	if len(mail.resets) != 1 {
		t.Fatalf("expected one reset email, got %d", len(mail.resets))
	}
}

func TestPasswordResetUnknownEmailLooksTheSame(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore()), "*")

	rr := doRequest(t, server, http.MethodPost, "/api/auth/reset-password/request", "", `{"email":"ghost@example.com"}`)
	expectStatus(t, rr, http.StatusOK)
	if _, ok := decodeJSON[map[string]any](t, rr)["devResetToken"]; ok {
		t.Fatalf("unknown emails must not receive a token")
	}
}

func assertUnauthorizedCode(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}
