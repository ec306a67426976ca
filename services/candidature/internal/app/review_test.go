package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

func TestGetCandidatureAndOpenDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cand := f.submitOne(t)

	detail, err := f.app.GetCandidature(ctx, cand.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Logement == nil || detail.Logement.Reference != "APT-12" || len(detail.Documents) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	doc, rc, err := f.app.OpenDocument(ctx, cand.ID, detail.Documents[0].ID)
	if err != nil {
		t.Fatalf("open document: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !bytes.Equal(data, validPDF) || doc.ContentType != "application/pdf" {
		t.Fatalf("unexpected document content")
	}

	if _, _, err := f.app.OpenDocument(ctx, cand.ID+100, detail.Documents[0].ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("document of another candidature must not open, got %v", err)
	}
	if _, err := f.app.GetCandidature(ctx, 9999); !errors.Is(err, ErrCandidatureNotFound) {
		t.Fatalf("expected ErrCandidatureNotFound, got %v", err)
	}
}

func TestListCandidaturesFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submitOne(t)
	f.submitOne(t)
	if _, err := f.app.Respond(ctx, first.ResponseToken, "refuse", ""); err != nil {
		t.Fatalf("respond: %v", err)
	}

	all, err := f.app.ListCandidatures(ctx, store.CandidatureFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %d %v", len(all), err)
	}
	refused, err := f.app.ListCandidatures(ctx, store.CandidatureFilter{Status: domain.StatusRefuse})
	if err != nil || len(refused) != 1 || refused[0].ID != first.ID {
		t.Fatalf("list refused: %+v %v", refused, err)
	}
}

func TestChangeStatusFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cand := f.submitOne(t)

	if _, err := f.app.ChangeStatus(ctx, "admin@example.com", cand.ID, StatusUpdate{Status: domain.StatusVisitePlanifiee, VisitAt: ptrTime(f.now.Add(48 * time.Hour))}, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("en_cours -> visite_planifiee must be refused, got %v", err)
	}

	accepted, err := f.app.ChangeStatus(ctx, "admin@example.com", cand.ID, StatusUpdate{Status: domain.StatusAccepte}, "10.0.0.1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.StatusAccepte || accepted.RespondedAt == nil {
		t.Fatalf("unexpected candidature: %+v", accepted)
	}

	if _, err := f.app.ChangeStatus(ctx, "admin@example.com", cand.ID, StatusUpdate{Status: domain.StatusVisitePlanifiee}, ""); !errors.Is(err, ErrVisitDateRequired) {
		t.Fatalf("expected ErrVisitDateRequired, got %v", err)
	}

	visitAt := time.Date(2026, 5, 7, 14, 30, 0, 0, time.UTC)
	planned, err := f.app.ChangeStatus(ctx, "admin@example.com", cand.ID, StatusUpdate{Status: domain.StatusVisitePlanifiee, VisitAt: &visitAt}, "")
	if err != nil {
		t.Fatalf("plan visit: %v", err)
	}
	if planned.VisitAt == nil || !planned.VisitAt.Equal(visitAt) {
		t.Fatalf("visit date not stored: %+v", planned.VisitAt)
	}
	mails := f.sender.sentTo(cand.Email)
	if len(mails) != 3 {
		t.Fatalf("applicant emails = %d, want 3", len(mails))
	}

	current, err := f.app.ChangeStatus(ctx, "admin@example.com", cand.ID, StatusUpdate{Status: domain.StatusRefuse}, "")
	if !errors.Is(err, ErrInvalidTransition) || current.Status != domain.StatusVisitePlanifiee {
		t.Fatalf("visite_planifiee -> refuse must be refused, got %v (%s)", err, current.Status)
	}

	entries := f.store.AuditEntries()
	last := entries[len(entries)-1]
	if last.Actor != "admin@example.com" || last.Details["visit_at"] != "2026-05-07T14:30:00Z" ||
		last.Details["from"] != "accepte" || last.Details["to"] != "visite_planifiee" {
		t.Fatalf("unexpected audit entry: %+v", last)
	}

	if _, err := f.app.ChangeStatus(ctx, "admin@example.com", 9999, StatusUpdate{Status: domain.StatusAccepte}, ""); !errors.Is(err, ErrCandidatureNotFound) {
		t.Fatalf("expected ErrCandidatureNotFound, got %v", err)
	}
}

func TestParseCandidatureStatus(t *testing.T) {
	if s, err := ParseCandidatureStatus(" Accepte "); err != nil || s != domain.StatusAccepte {
		t.Fatalf("parse accepte: %s %v", s, err)
	}
	if _, err := ParseCandidatureStatus("Accepté"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("labels are not status codes, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
