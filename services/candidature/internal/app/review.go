package app

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"gestloc/internal/audit"
	"gestloc/pkg/domain"
	"gestloc/pkg/storage"
	"gestloc/pkg/store"
)

// CandidatureDetail is a candidature with its logement and documents.
type CandidatureDetail struct {
	Candidature domain.Candidature `json:"candidature"`
	Logement    *domain.Logement   `json:"logement,omitempty"`
	Documents   []domain.Document  `json:"documents"`
}

// ParseCandidatureStatus accepts a stored status code.
func ParseCandidatureStatus(raw string) (domain.CandidatureStatus, error) {
	s := domain.CandidatureStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case domain.StatusEnCours, domain.StatusAccepte, domain.StatusRefuse, domain.StatusVisitePlanifiee:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ListCandidatures returns candidatures matching f, newest first.
func (a *App) ListCandidatures(ctx context.Context, f store.CandidatureFilter) ([]domain.Candidature, error) {
	items, err := a.store.ListCandidatures(ctx, f)
	if err != nil {
		return nil, persistenceError("list candidatures", err)
	}
	return items, nil
}

// GetCandidature loads one candidature with its documents.
func (a *App) GetCandidature(ctx context.Context, id int64) (CandidatureDetail, error) {
	cand, found, err := a.store.GetCandidature(ctx, id)
	if err != nil {
		return CandidatureDetail{}, persistenceError("load candidature", err)
	}
	if !found {
		return CandidatureDetail{}, ErrCandidatureNotFound
	}
	docs, err := a.store.ListDocuments(ctx, id)
	if err != nil {
		return CandidatureDetail{}, persistenceError("list documents", err)
	}
	detail := CandidatureDetail{Candidature: cand, Documents: docs}
	if logement, ok, err := a.store.GetLogement(ctx, cand.LogementID); err == nil && ok {
		detail.Logement = &logement
	}
	return detail, nil
}

// OpenDocument streams a stored document. The caller closes the reader.
func (a *App) OpenDocument(ctx context.Context, candidatureID, documentID int64) (domain.Document, io.ReadCloser, error) {
	docs, err := a.store.ListDocuments(ctx, candidatureID)
	if err != nil {
		return domain.Document{}, nil, persistenceError("list documents", err)
	}
	for _, doc := range docs {
		if doc.ID != documentID {
			continue
		}
		rc, err := a.objects.Open(ctx, doc.StoragePath)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.Document{}, nil, ErrDocumentNotFound
		}
		if err != nil {
			return domain.Document{}, nil, persistenceError("open document", err)
		}
		return doc, rc, nil
	}
	return domain.Document{}, nil, ErrDocumentNotFound
}

// StatusUpdate is an admin-initiated status change.
type StatusUpdate struct {
	Status  domain.CandidatureStatus
	VisitAt *time.Time
}

// sourcesFor returns the states from which to may be reached.
func sourcesFor(to domain.CandidatureStatus) []domain.CandidatureStatus {
	var from []domain.CandidatureStatus
	for _, s := range []domain.CandidatureStatus{domain.StatusEnCours, domain.StatusAccepte, domain.StatusRefuse, domain.StatusVisitePlanifiee} {
		if domain.CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// ChangeStatus moves a candidature along the status machine and notifies the applicant.
func (a *App) ChangeStatus(ctx context.Context, actor string, id int64, upd StatusUpdate, sourceIP string) (domain.Candidature, error) {
	from := sourcesFor(upd.Status)
	if len(from) == 0 {
		return domain.Candidature{}, ErrInvalidTransition
	}
	change := store.StatusChange{From: from, To: upd.Status}
	switch upd.Status {
	case domain.StatusVisitePlanifiee:
		if upd.VisitAt == nil || upd.VisitAt.IsZero() {
			return domain.Candidature{}, ErrVisitDateRequired
		}
		visitAt := upd.VisitAt.UTC()
		change.VisitAt = &visitAt
	default:
		respondedAt := a.now()
		change.RespondedAt = &respondedAt
	}

	current, found, err := a.store.GetCandidature(ctx, id)
	if err != nil {
		return domain.Candidature{}, persistenceError("load candidature", err)
	}
	if !found {
		return domain.Candidature{}, ErrCandidatureNotFound
	}
	if !slices.Contains(from, current.Status) {
		return current, ErrInvalidTransition
	}
	// The update applies only if the row still holds the status read above.
	change.From = []domain.CandidatureStatus{current.Status}

	updated, err := a.store.UpdateCandidatureStatus(ctx, id, change)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Candidature{}, ErrCandidatureNotFound
	case errors.Is(err, store.ErrStatusConflict):
		return updated, ErrInvalidTransition
	case err != nil:
		return domain.Candidature{}, persistenceError("update candidature status", err)
	}

	details := map[string]any{
		"from": string(current.Status),
		"to":   string(updated.Status),
	}
	if updated.VisitAt != nil {
		details["visit_at"] = updated.VisitAt.Format(time.RFC3339)
	}
	a.audit.Log(ctx, actor, audit.EntityID(updated.ID), audit.ActionCandidatureStatus, details, sourceIP)
	a.notifyDecision(ctx, updated)
	return updated, nil
}
