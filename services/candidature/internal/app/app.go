package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"gestloc/internal/audit"
	"gestloc/internal/intake"
	"gestloc/pkg/mail"
	"gestloc/pkg/storage"
	"gestloc/pkg/store"
)

// FormTokens binds a form token to each browser session.
type FormTokens interface {
	EnsureToken(ctx context.Context, sessionID string) (string, error)
	Verify(ctx context.Context, sessionID, token string) (bool, error)
}

// FileValidator classifies an upload by content.
type FileValidator interface {
	Validate(r io.Reader, declaredSize int64) (intake.Accepted, error)
}

// DocumentWriter stores accepted uploads and removes them on rollback.
type DocumentWriter interface {
	Save(ctx context.Context, candidatureID int64, seq int, file intake.Accepted) (string, error)
	Remove(ctx context.Context, key string) error
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Validator  FileValidator
	Documents  DocumentWriter
	FormTokens FormTokens
	Audit      *audit.Logger

	Renderer *mail.Renderer
	Mailer   mail.Sender
	// AdminEmail receives new-candidature alerts with decision links. Empty disables them.
	AdminEmail string
	// PublicBaseURL prefixes links placed in emails, e.g. https://agence.example.
	PublicBaseURL string
	LeaseTTL      time.Duration

	Now func() time.Time
}

// App is the candidature service core.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	validator  FileValidator
	documents  DocumentWriter
	formTokens FormTokens
	audit      *audit.Logger
	notifier   *notifier
	leaseTTL   time.Duration
	now        func() time.Time
}

// New validates cfg and builds the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("file validator required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("document writer required")
	}
	if cfg.FormTokens == nil {
		return nil, errors.New("form token store required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("mail renderer required")
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = mail.LogSender{}
	}
	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.NewLogger(cfg.Store)
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 7 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:      cfg.Store,
		objects:    cfg.Objects,
		validator:  cfg.Validator,
		documents:  cfg.Documents,
		formTokens: cfg.FormTokens,
		audit:      auditLog,
		notifier: &notifier{
			renderer:   cfg.Renderer,
			sender:     mailer,
			adminEmail: strings.TrimSpace(cfg.AdminEmail),
			baseURL:    strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		},
		leaseTTL: leaseTTL,
		now:      now,
	}, nil
}

// IssueFormToken returns the form token bound to sessionID.
func (a *App) IssueFormToken(ctx context.Context, sessionID string) (string, error) {
	token, err := a.formTokens.EnsureToken(ctx, sessionID)
	if err != nil {
		return "", persistenceError("issue form token", err)
	}
	return token, nil
}
