// Package audit records who did what to which entity.
package audit

import (
	"context"
	"strconv"
	"time"

	"gestloc/internal/util"
	"gestloc/pkg/domain"
)

const (
	ActorSystem = "system"

	ActionCandidatureSubmitted = "candidature.submitted"
	ActionCandidatureResponded = "candidature.responded"
	ActionCandidatureStatus    = "candidature.status_changed"
	ActionLogementCreated      = "logement.created"
	ActionLogementStatus       = "logement.status_changed"
	ActionLeaseCreated         = "lease.created"
	ActionLeaseSigned          = "lease.signed"
)

// Appender persists audit entries.
type Appender interface {
	AppendAudit(ctx context.Context, e domain.AuditEntry) error
}

// Logger writes audit entries. Failures are logged and never returned:
// auditing must not undo a committed change.
type Logger struct {
	sink Appender
	now  func() time.Time
}

// NewLogger returns a Logger writing to sink. A nil sink disables auditing.
func NewLogger(sink Appender) *Logger {
	return &Logger{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Log records action on entityID by actor.
func (l *Logger) Log(ctx context.Context, actor, entityID, action string, details map[string]any, sourceIP string) {
	if l == nil || l.sink == nil {
		return
	}
	if actor == "" {
		actor = ActorSystem
	}
	entry := domain.AuditEntry{
		EntityID:  entityID,
		Action:    action,
		Details:   details,
		SourceIP:  sourceIP,
		Actor:     actor,
		CreatedAt: l.now(),
	}
	if err := l.sink.AppendAudit(ctx, entry); err != nil {
		util.LoggerFromContext(ctx).Warn("audit write failed", "action", action, "entity_id", entityID, "err", err)
	}
}

// EntityID formats a numeric identity for the audit trail.
func EntityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

