// Package store persists logements, candidatures, documents, lease links and
// the audit trail. GormStore is the only runtime backend; MemoryStore is the
// transactional double used by service and handler tests.
package store

import (
	"context"
	"errors"
	"time"

	"gestloc/pkg/domain"
)

var (
	// ErrNotFound is returned when a row addressed by id or token does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a guarded status update finds the row in another state.
	ErrStatusConflict = errors.New("status conflict")
)

// CandidatureFilter narrows admin listings. Zero values mean "any".
type CandidatureFilter struct {
	Status     domain.CandidatureStatus
	LogementID int64
	Limit      int
	Offset     int
}

// StatusChange describes a guarded candidature status update.
type StatusChange struct {
	From        []domain.CandidatureStatus
	To          domain.CandidatureStatus
	RespondedAt *time.Time
	VisitAt     *time.Time
}

// Store defines persistence operations for logements, candidatures, documents,
// lease links and the audit trail.
type Store interface {
	// logements
	CreateLogement(ctx context.Context, l domain.Logement) (domain.Logement, error)
	GetLogement(ctx context.Context, id int64) (domain.Logement, bool, error)
	ListLogements(ctx context.Context, status domain.LogementStatus) ([]domain.Logement, error)
	SetLogementStatus(ctx context.Context, id int64, status domain.LogementStatus) error

	// candidatures
	GetCandidature(ctx context.Context, id int64) (domain.Candidature, bool, error)
	GetCandidatureByToken(ctx context.Context, token string) (domain.Candidature, bool, error)
	ListCandidatures(ctx context.Context, f CandidatureFilter) ([]domain.Candidature, error)
	ListDocuments(ctx context.Context, candidatureID int64) ([]domain.Document, error)
	// UpdateCandidatureStatus applies change only while the row is in one of change.From.
	// It returns the updated row, or ErrStatusConflict with the current row.
	UpdateCandidatureStatus(ctx context.Context, id int64, change StatusChange) (domain.Candidature, error)

	// lease links
	CreateLeaseLink(ctx context.Context, l domain.LeaseLink) (domain.LeaseLink, error)
	GetLeaseLinkByToken(ctx context.Context, token string) (domain.LeaseLink, bool, error)
	ListLeaseLinks(ctx context.Context) ([]domain.LeaseLink, error)
	// SignLeaseLink marks a pending link signed and its logement rented in one transaction.
	SignLeaseLink(ctx context.Context, token, signerIP string, at time.Time) (domain.LeaseLink, error)

	// audit
	AppendAudit(ctx context.Context, e domain.AuditEntry) error

	// InTx runs fn inside a transaction. A non-nil return rolls back everything fn wrote.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the subset of writes the submission pipeline performs atomically.
type Tx interface {
	// LockLogement reads the logement row and holds a row lock until the transaction ends.
	LockLogement(ctx context.Context, id int64) (domain.Logement, bool, error)
	// CreateCandidature inserts c and returns it with its generated id.
	CreateCandidature(ctx context.Context, c domain.Candidature) (domain.Candidature, error)
	CreateDocument(ctx context.Context, d domain.Document) (domain.Document, error)
}
