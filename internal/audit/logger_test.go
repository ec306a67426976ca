package audit

import (
	"context"
	"errors"
	"testing"

	"gestloc/pkg/domain"
	"gestloc/pkg/store"
)

type failingSink struct{ calls int }

func (f *failingSink) AppendAudit(context.Context, domain.AuditEntry) error {
	f.calls++
	return errors.New("db down")
}

func TestLogAppendsEntry(t *testing.T) {
	mem := store.NewMemoryStore()
	l := NewLogger(mem)
	l.Log(context.Background(), "", EntityID(7), ActionCandidatureSubmitted, map[string]any{"documents": 2}, "203.0.113.4")

	entries := mem.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Actor != ActorSystem || e.EntityID != "7" || e.Action != ActionCandidatureSubmitted || e.SourceIP != "203.0.113.4" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Details["documents"] != 2 {
		t.Fatalf("details not kept: %+v", e.Details)
	}
}

func TestLogSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	NewLogger(sink).Log(context.Background(), "admin@example.com", "1", ActionLeaseCreated, nil, "")
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d", sink.calls)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	l.Log(context.Background(), "", "1", ActionLeaseSigned, nil, "")
	NewLogger(nil).Log(context.Background(), "", "1", ActionLeaseSigned, nil, "")
}
