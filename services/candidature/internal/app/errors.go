package app

import (
	"errors"
	"fmt"
)

// Messages below are shown to applicants as-is.
var (
	ErrInvalidFormToken = errors.New("Jeton de formulaire invalide, veuillez recharger la page.")
	ErrFieldMissing     = errors.New("Champ obligatoire manquant")
	ErrFieldInvalid     = errors.New("Champ invalide")
	ErrInvalidEmail     = errors.New("Adresse email invalide.")
	ErrNoDocuments      = errors.New("Veuillez joindre au moins un document.")
	ErrConsentRequired  = errors.New("Vous devez accepter le traitement de vos données personnelles.")

	// ErrLogementUnavailable is the availability failure.
	ErrLogementUnavailable = errors.New("Ce logement n'est pas disponible.")

	// ErrNoValidDocument aborts a submission whose uploads were all rejected or failed to store.
	ErrNoValidDocument = errors.New("Aucun document valide n'a pu être enregistré. Formats acceptés : PDF, JPEG, PNG (5 Mo maximum).")

	// ErrSubmissionFailed replaces any internal failure in applicant-facing output.
	ErrSubmissionFailed = errors.New("Une erreur est survenue lors de l'enregistrement de votre candidature. Veuillez réessayer.")
)

// Back-office and token flows.
var (
	ErrCandidatureNotFound  = errors.New("candidature not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrLogementNotFound     = errors.New("logement not found")
	ErrLeaseNotFound        = errors.New("lease link not found")
	ErrInvalidResponseToken = errors.New("invalid response token")
	ErrInvalidDecision      = errors.New("invalid decision")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidTransition    = errors.New("status transition not allowed")
	ErrVisitDateRequired    = errors.New("visit date required")
	ErrReferenceRequired    = errors.New("reference required")
	ErrInvalidRent          = errors.New("invalid rent")
	ErrTenantNameRequired   = errors.New("tenant name required")
)

// ValidationError reports a rejected submission input. Field is set for
// per-field failures.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s : %s", e.Err.Error(), e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func fieldError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// PersistenceError wraps a storage failure. Its text is for logs only.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// NotificationError records a failed best-effort email.
type NotificationError struct {
	Template string
	Err      error
}

func (e *NotificationError) Error() string {
	return "notify " + e.Template + ": " + e.Err.Error()
}

func (e *NotificationError) Unwrap() error { return e.Err }

// UserMessage returns the applicant-facing text for err and whether err is a
// caller problem rather than a system failure.
func UserMessage(err error) (string, bool) {
	var verr *ValidationError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &verr):
		return verr.Error(), true
	case errors.Is(err, ErrLogementUnavailable):
		return ErrLogementUnavailable.Error(), true
	case errors.Is(err, ErrNoValidDocument):
		return ErrNoValidDocument.Error(), true
	default:
		return ErrSubmissionFailed.Error(), false
	}
}
