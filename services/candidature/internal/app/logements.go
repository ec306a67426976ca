package app

import (
	"context"
	"errors"
	"math"
	"strings"

	"gestloc/internal/audit"
	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

// CreateLogementRequest describes a new housing unit.
type CreateLogementRequest struct {
	Reference string
	Address   string
	Rent      float64
	Status    domain.LogementStatus
}

// ParseLogementStatus accepts a stored logement status code.
func ParseLogementStatus(raw string) (domain.LogementStatus, error) {
	s := domain.LogementStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case domain.LogementDisponible, domain.LogementEnAttente, domain.LogementLoue, domain.LogementIndisponible:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// CreateLogement registers a logement; status defaults to disponible.
func (a *App) CreateLogement(ctx context.Context, actor string, req CreateLogementRequest, sourceIP string) (domain.Logement, error) {
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		return domain.Logement{}, ErrReferenceRequired
	}
	if req.Rent < 0 || math.IsNaN(req.Rent) || math.IsInf(req.Rent, 0) {
		return domain.Logement{}, ErrInvalidRent
	}
	status := req.Status
	if status == "" {
		status = domain.LogementDisponible
	}
	if _, err := ParseLogementStatus(string(status)); err != nil {
		return domain.Logement{}, err
	}
	now := a.now()
	created, err := a.store.CreateLogement(ctx, domain.Logement{
		Reference: ref,
		Address:   strings.TrimSpace(req.Address),
		Rent:      req.Rent,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Logement{}, persistenceError("insert logement", err)
	}
	a.audit.Log(ctx, actor, audit.EntityID(created.ID), audit.ActionLogementCreated, map[string]any{
		"reference": created.Reference,
	}, sourceIP)
	return created, nil
}

// ListLogements returns logements, optionally filtered by status.
func (a *App) ListLogements(ctx context.Context, status domain.LogementStatus) ([]domain.Logement, error) {
	items, err := a.store.ListLogements(ctx, status)
	if err != nil {
		return nil, persistenceError("list logements", err)
	}
	return items, nil
}

// ListAvailableLogements feeds the public application form.
func (a *App) ListAvailableLogements(ctx context.Context) ([]domain.Logement, error) {
	return a.ListLogements(ctx, domain.LogementDisponible)
}

// SetLogementStatus changes a logement's availability.
func (a *App) SetLogementStatus(ctx context.Context, actor string, id int64, status domain.LogementStatus, sourceIP string) error {
	if _, err := ParseLogementStatus(string(status)); err != nil {
		return err
	}
	err := a.store.SetLogementStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return ErrLogementNotFound
	}
	if err != nil {
		return persistenceError("update logement status", err)
	}
	a.audit.Log(ctx, actor, audit.EntityID(id), audit.ActionLogementStatus, map[string]any{
		"to": string(status),
	}, sourceIP)
	return nil
}
