package app

import (
	"context"
	"errors"
	"strings"

	"gestloc/internal/audit"
	"gestloc/internal/util"
	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

// RespondResult reports the outcome of a decision link.
type RespondResult struct {
	Candidature domain.Candidature
	// Applied is false when the candidature had already been decided; the
	// current status is reported unchanged.
	Applied bool
}

// ParseDecision accepts the two decisions a response link may carry.
func ParseDecision(raw string) (domain.CandidatureStatus, error) {
	switch domain.CandidatureStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.StatusAccepte:
		return domain.StatusAccepte, nil
	case domain.StatusRefuse:
		return domain.StatusRefuse, nil
	default:
		return "", ErrInvalidDecision
	}
}

// Respond applies an accept/refuse decision addressed by response token.
// Repeated or late calls report the existing status without side effects.
func (a *App) Respond(ctx context.Context, token, decision, sourceIP string) (RespondResult, error) {
	to, err := ParseDecision(decision)
	if err != nil {
		return RespondResult{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return RespondResult{}, ErrInvalidResponseToken
	}
	cand, found, err := a.store.GetCandidatureByToken(ctx, token)
	if err != nil {
		return RespondResult{}, persistenceError("load candidature by token", err)
	}
	if !found {
		return RespondResult{}, ErrInvalidResponseToken
	}
	if cand.Status.Terminal() {
		return RespondResult{Candidature: cand}, nil
	}

	respondedAt := a.now()
	updated, err := a.store.UpdateCandidatureStatus(ctx, cand.ID, store.StatusChange{
		From:        []domain.CandidatureStatus{domain.StatusEnCours},
		To:          to,
		RespondedAt: &respondedAt,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		// A concurrent response won; report what it decided.
		return RespondResult{Candidature: updated}, nil
	}
	if err != nil {
		return RespondResult{}, persistenceError("update candidature status", err)
	}

	a.audit.Log(ctx, audit.ActorSystem, audit.EntityID(updated.ID), audit.ActionCandidatureResponded, map[string]any{
		"from": string(cand.Status),
		"to":   string(updated.Status),
	}, sourceIP)
	a.notifyDecision(ctx, updated)
	util.LoggerFromContext(ctx).Info("candidature decided", "candidature_id", updated.ID, "status", updated.Status)
	return RespondResult{Candidature: updated, Applied: true}, nil
}

func (a *App) notifyDecision(ctx context.Context, c domain.Candidature) {
	logement, _, err := a.store.GetLogement(ctx, c.LogementID)
	if err != nil {
		warnNotification(ctx, c.ID, err)
		return
	}
	var nerr error
	if c.Status == domain.StatusVisitePlanifiee {
		nerr = a.notifier.visit(ctx, c, logement)
	} else {
		nerr = a.notifier.decision(ctx, c, logement)
	}
	warnNotification(ctx, c.ID, nerr)
}
