package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gestloc/internal/audit"
	"gestloc/pkg/domain"
)

func TestRespondAcceptsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cand := f.submitOne(t)

	res, err := f.app.Respond(ctx, cand.ResponseToken, "accepte", "198.51.100.4")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !res.Applied || res.Candidature.Status != domain.StatusAccepte {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Candidature.RespondedAt == nil || !res.Candidature.RespondedAt.Equal(f.now) {
		t.Fatalf("responded_at not set: %+v", res.Candidature.RespondedAt)
	}
	decisions := f.sender.sentTo(cand.Email)
	if len(decisions) != 2 || !strings.Contains(decisions[1].HTML, "APT-12") || !strings.Contains(decisions[1].Subject, "acceptée") {
		t.Fatalf("expected a decision email, got %+v", decisions)
	}

	again, err := f.app.Respond(ctx, cand.ResponseToken, "refuse", "198.51.100.4")
	if err != nil {
		t.Fatalf("second respond: %v", err)
	}
	if again.Applied || again.Candidature.Status != domain.StatusAccepte {
		t.Fatalf("a decided candidature must not change: %+v", again)
	}
	if got := len(f.sender.sentTo(cand.Email)); got != 2 {
		t.Fatalf("repeat response sent %d emails", got-2)
	}

	var responded int
	for _, e := range f.store.AuditEntries() {
		if e.Action == audit.ActionCandidatureResponded {
			responded++
		}
	}
	if responded != 1 {
		t.Fatalf("responded audit entries = %d, want 1", responded)
	}
}

func TestRespondRefuse(t *testing.T) {
	f := newFixture(t)
	cand := f.submitOne(t)
	res, err := f.app.Respond(context.Background(), cand.ResponseToken, " REFUSE ", "")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Candidature.Status != domain.StatusRefuse {
		t.Fatalf("status = %s", res.Candidature.Status)
	}
}

func TestRespondRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cand := f.submitOne(t)

	if _, err := f.app.Respond(ctx, cand.ResponseToken, "visite_planifiee", ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := f.app.Respond(ctx, "not-a-token", "accepte", ""); !errors.Is(err, ErrInvalidResponseToken) {
		t.Fatalf("expected ErrInvalidResponseToken, got %v", err)
	}
	if _, err := f.app.Respond(ctx, "", "accepte", ""); !errors.Is(err, ErrInvalidResponseToken) {
		t.Fatalf("expected ErrInvalidResponseToken for empty token, got %v", err)
	}
	current, _, _ := f.store.GetCandidature(ctx, cand.ID)
	if current.Status != domain.StatusEnCours {
		t.Fatalf("status changed to %s", current.Status)
	}
}
