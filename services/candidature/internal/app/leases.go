package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"gestloc/internal/audit"
	"gestloc/internal/util"
	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

// CreateLeaseRequest asks for a signature link for a tenant.
type CreateLeaseRequest struct {
	LogementID  int64
	TenantName  string
	TenantEmail string
}

// LeaseView is what a tenant sees behind their link.
type LeaseView struct {
	Lease    domain.LeaseLink `json:"lease"`
	Logement domain.Logement  `json:"logement"`
}

// CreateLeaseLink stores a new link and emails it to the tenant.
func (a *App) CreateLeaseLink(ctx context.Context, actor string, req CreateLeaseRequest, sourceIP string) (domain.LeaseLink, error) {
	name := strings.TrimSpace(req.TenantName)
	if name == "" {
		return domain.LeaseLink{}, ErrTenantNameRequired
	}
	email, err := normalizeEmail(req.TenantEmail)
	if err != nil {
		return domain.LeaseLink{}, ErrInvalidEmail
	}
	logement, found, err := a.store.GetLogement(ctx, req.LogementID)
	if err != nil {
		return domain.LeaseLink{}, persistenceError("load logement", err)
	}
	if !found {
		return domain.LeaseLink{}, ErrLogementNotFound
	}
	if logement.Status == domain.LogementLoue {
		return domain.LeaseLink{}, ErrLogementUnavailable
	}

	now := a.now()
	link, err := a.store.CreateLeaseLink(ctx, domain.LeaseLink{
		LogementID:  logement.ID,
		TenantName:  name,
		TenantEmail: email,
		Token:       uuid.NewString(),
		Status:      domain.LeasePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.leaseTTL),
	})
	if err != nil {
		return domain.LeaseLink{}, persistenceError("insert lease link", err)
	}
	a.audit.Log(ctx, actor, audit.EntityID(link.ID), audit.ActionLeaseCreated, map[string]any{
		"logement_id":  link.LogementID,
		"tenant_email": link.TenantEmail,
	}, sourceIP)
	warnNotification(ctx, link.ID, a.notifier.lease(ctx, link, logement))
	return link, nil
}

// ListLeaseLinks returns every link with expiry applied to its status.
func (a *App) ListLeaseLinks(ctx context.Context) ([]domain.LeaseLink, error) {
	links, err := a.store.ListLeaseLinks(ctx)
	if err != nil {
		return nil, persistenceError("list lease links", err)
	}
	now := a.now()
	for i := range links {
		links[i].Status = links[i].EffectiveStatus(now)
	}
	return links, nil
}

// GetLeaseLink resolves a tenant link.
func (a *App) GetLeaseLink(ctx context.Context, token string) (LeaseView, error) {
	link, found, err := a.store.GetLeaseLinkByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return LeaseView{}, persistenceError("load lease link", err)
	}
	if !found {
		return LeaseView{}, ErrLeaseNotFound
	}
	link.Status = link.EffectiveStatus(a.now())
	logement, _, err := a.store.GetLogement(ctx, link.LogementID)
	if err != nil {
		return LeaseView{}, persistenceError("load logement", err)
	}
	return LeaseView{Lease: publicLease(link), Logement: logement}, nil
}

// SignLeaseResult reports a signature attempt. Applied is false when the
// link was already signed or had expired.
type SignLeaseResult struct {
	Lease   domain.LeaseLink
	Applied bool
}

// SignLeaseLink records the tenant's signature and marks the logement rented.
func (a *App) SignLeaseLink(ctx context.Context, token, sourceIP string) (SignLeaseResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SignLeaseResult{}, ErrLeaseNotFound
	}
	now := a.now()
	link, err := a.store.SignLeaseLink(ctx, token, sourceIP, now)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return SignLeaseResult{}, ErrLeaseNotFound
	case errors.Is(err, store.ErrStatusConflict):
		link.Status = link.EffectiveStatus(now)
		return SignLeaseResult{Lease: publicLease(link)}, nil
	case err != nil:
		return SignLeaseResult{}, persistenceError("sign lease link", err)
	}
	a.audit.Log(ctx, link.TenantEmail, audit.EntityID(link.ID), audit.ActionLeaseSigned, map[string]any{
		"logement_id": link.LogementID,
	}, sourceIP)
	util.LoggerFromContext(ctx).Info("lease signed", "lease_id", link.ID, "logement_id", link.LogementID)
	return SignLeaseResult{Lease: publicLease(link), Applied: true}, nil
}

// publicLease hides fields the tenant view does not need.
func publicLease(l domain.LeaseLink) domain.LeaseLink {
	l.SignerIP = ""
	return l
}
