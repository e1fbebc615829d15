package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"salescrm/api/internal/auth"
	"salescrm/api/internal/authpw"
	"salescrm/api/internal/blob"
	"salescrm/api/internal/config"
	"salescrm/api/internal/domain"
	"salescrm/api/internal/email"
	"salescrm/api/internal/export"
	"salescrm/api/internal/gitrepo"
	"salescrm/api/internal/rbac"
	"salescrm/api/internal/search"
	"salescrm/api/internal/session"
	"salescrm/api/internal/store"
	"salescrm/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         domain.UserRole
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	ListUsers(context.Context) ([]store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	InsertUser(context.Context, store.User) error
	UpdateUser(context.Context, store.User) error
	UpdateUserPassword(context.Context, string, string) error
	TouchUserLogin(context.Context, string) error

	ListCompanies(context.Context, store.CompanyFilter) ([]store.Company, error)
	GetCompany(context.Context, string) (store.Company, error)
	InsertCompany(context.Context, store.Company) error
	UpdateCompany(context.Context, store.Company) error
	DeleteCompany(context.Context, string) error

	ListContacts(context.Context, store.ContactFilter) ([]store.Contact, error)
	GetContact(context.Context, string) (store.Contact, error)
	InsertContact(context.Context, store.Contact) error
	UpdateContact(context.Context, store.Contact) error
	DeleteContact(context.Context, string) error

	ListDeals(context.Context, store.DealFilter) ([]store.Deal, error)
	GetDeal(context.Context, string) (store.Deal, error)
	InsertDeal(context.Context, store.Deal) error
	UpdateDeal(context.Context, store.Deal) error
	DeleteDeal(context.Context, string) error

	ListTasks(context.Context, store.TaskFilter) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	InsertTask(context.Context, store.Task) error
	UpdateTask(context.Context, store.Task) error
	DeleteTask(context.Context, string) error

	ListNotes(context.Context, store.NoteFilter) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	UpdateNote(context.Context, store.Note) error
	DeleteNote(context.Context, string) error

	ListQuotes(context.Context) ([]store.Quote, error)
	GetQuote(context.Context, string) (store.Quote, error)
	NextQuoteNumber(context.Context, int) (string, error)
	InsertQuote(context.Context, store.Quote) error
	UpdateQuote(context.Context, store.Quote) error
	DeleteQuote(context.Context, string) error

	InsertActivity(context.Context, store.Activity) error
	ListActivities(context.Context, store.ActivityFilter) ([]store.Activity, error)

	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error

	Ping(ctx context.Context) error
}

// SessionStore keeps refresh tokens and revoked access tokens. PostgresStore
// and session.RedisStore both satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type quoteHistory interface {
	EnsureQuoteRepo(string, gitrepo.Snapshot, string) error
	CommitQuote(string, gitrepo.Snapshot, string, string) (gitrepo.Revision, bool, error)
	History(string, int) ([]gitrepo.Revision, error)
	GetSnapshotByHash(string, string) (gitrepo.Snapshot, gitrepo.Revision, error)
	ParentSnapshot(string, string) (gitrepo.Snapshot, bool, error)
}

type quoteExporter interface {
	Quote(context.Context, store.Quote, export.Format) (*export.Result, error)
}

type archive interface {
	Enabled() bool
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendTaskAssignedEmail(to string, data email.TaskAssignedData) error
}

// Deps are the collaborators wired in by the command. Only Store is
// required; Sessions defaults to Store.
type Deps struct {
	Store    *store.PostgresStore
	Sessions SessionStore
	History  *gitrepo.Service
	Search   *search.Service
	Mailer   *email.Service
	Exporter *export.Service
	Archive  *blob.Store
	Logger   *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionStore
	signer    *auth.Signer
	passwords *authpw.Service
	history   quoteHistory
	search    *search.Service
	mailer    mailer
	exporter  quoteExporter
	archive   archive
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		signer:    auth.NewSigner(cfg.JWTSecret),
		passwords: authpw.NewService(deps.Store),
		search:    deps.Search,
		mailer:    deps.Mailer,
		archive:   deps.Archive,
		logger:    logger.Named("app"),
		now:       time.Now,
	}
	if svc.sessions == nil {
		svc.sessions = deps.Store
	}
	if deps.History != nil {
		svc.history = deps.History
	}
	if deps.Exporter != nil {
		svc.exporter = deps.Exporter
	}
	return svc
}

// Bootstrap makes sure the configured administrator can sign in and pushes
// the current records into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.ensureAdmin(ctx); err != nil {
		return err
	}
	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) ensureAdmin(ctx context.Context) error {
	adminEmail := strings.ToLower(strings.TrimSpace(s.cfg.AdminEmail))
	if adminEmail == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	_, err := s.store.GetUserByEmail(ctx, adminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := s.passwords.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return err
	}
	now := s.stamp()
	admin := store.User{
		ID:           util.NewID("usr"),
		Name:         firstNonBlank(s.cfg.AdminName, "Administrator"),
		Email:        adminEmail,
		Role:         domain.RoleAdmin,
		Status:       domain.UserActive,
		PasswordHash: hash,
		CreatedDate:  now,
		UpdatedDate:  now,
	}
	if err := s.store.InsertUser(ctx, admin); err != nil {
		return err
	}
	s.logger.Info("created administrator", zap.String("email", adminEmail))
	s.recordActivity(ctx, store.Activity{
		Type:        domain.ActivityUserCreated,
		EntityType:  domain.EntityUser,
		EntityID:    admin.ID,
		Description: "Created administrator " + admin.Name,
	})
	return nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: strings.ToLower(emailAddr), Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so role changes and
// deactivation take effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.activeUser(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := s.signer.Issue(auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  string(user.Role),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.activeUser(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// activeUser loads a session's user. Missing and deactivated accounts both
// invalidate the token.
func (s *Service) activeUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, auth.ErrInvalidToken
		}
		return store.User{}, err
	}
	if domain.Normalize(string(user.Status)) == domain.Normalize(string(domain.UserInactive)) {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role domain.UserRole, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(string(role)), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// RequestPasswordReset creates a reset token and mails the link. The token is
// returned only when mail is not configured, so local setups can still reset.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, strings.ToLower(emailAddr))
	if err != nil || token == "" {
		return "", err
	}
	if !s.SMTPConfigured() {
		return token, nil
	}
	resetURL := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.Name, resetURL); err != nil {
		s.logger.Warn("password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.passwords.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	switch {
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError(err.Error(), map[string]string{"newPassword": err.Error()})
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return domainError(http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
	}
	return err
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) stamp() domain.Time {
	return domain.NewTime(s.now().UTC())
}

// recordActivity appends to the activity stream. A failed append is logged
// and does not fail the write it describes.
func (s *Service) recordActivity(ctx context.Context, activity store.Activity) {
	activity.ID = util.NewID("act")
	activity.CreatedDate = s.stamp()
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		s.logger.Warn("activity append failed",
			zap.String("type", string(activity.Type)),
			zap.String("entity_id", activity.EntityID),
			zap.Error(err))
	}
}

func (s *Service) lifecycle(ctx context.Context, actor Session, entity domain.EntityType, verb, id, description string) {
	activityType, ok := domain.LifecycleActivity(entity, verb)
	if !ok {
		return
	}
	s.recordActivity(ctx, store.Activity{
		Type:        activityType,
		EntityType:  entity,
		EntityID:    id,
		UserID:      actor.UserID,
		Description: description,
	})
}

func isBlank(value string) bool {
	return strings.TrimSpace(value) == ""
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
