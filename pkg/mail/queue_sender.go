package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gestloc/pkg/queue"
)

const (
	// JobKind tags email jobs on the shared queue.
	JobKind = "email"
	// DefaultStream is the Redis stream producers and the mailer worker share.
	DefaultStream = "gestloc:mail:jobs"
	// DefaultGroup is the mailer worker's consumer group.
	DefaultGroup = "mailer"
)

// Enqueuer is the producer side of a job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload []byte) (queue.Job, error)
}

// QueueSender hands messages to the mailer worker instead of sending inline.
type QueueSender struct {
	q Enqueuer
}

// NewQueueSender wraps q.
func NewQueueSender(q Enqueuer) (*QueueSender, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	return &QueueSender{q: q}, nil
}

// Send enqueues msg for asynchronous delivery.
func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}
	if _, err := s.q.Enqueue(ctx, JobKind, payload); err != nil {
		return fmt.Errorf("enqueue mail job: %w", err)
	}
	return nil
}

// DecodeJob extracts the message carried by an email job.
func DecodeJob(job queue.Job) (Message, error) {
	if job.Kind != JobKind {
		return Message{}, fmt.Errorf("unexpected job kind %q", job.Kind)
	}
	var msg Message
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode mail job: %w", err)
	}
	if msg.To == "" {
		return Message{}, errors.New("mail job has no recipient")
	}
	return msg, nil
}
