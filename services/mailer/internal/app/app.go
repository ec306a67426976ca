package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gestloc/internal/util"
	"gestloc/pkg/mail"
	"gestloc/pkg/queue"
)

// Consumer is the worker side of the mail queue.
type Consumer interface {
	Run(ctx context.Context, concurrency int, handler queue.Handler) error
}

// Config wires the mailer worker.
type Config struct {
	Queue       Consumer
	Sender      mail.Sender
	Concurrency int
	SendTimeout time.Duration
}

// Stats counts deliveries since start.
type Stats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// App delivers queued email jobs.
type App struct {
	queue       Consumer
	sender      mail.Sender
	concurrency int
	sendTimeout time.Duration
	sent        atomic.Int64
	failed      atomic.Int64
}

// New constructs the mailer worker.
func New(cfg Config) (*App, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &App{
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		concurrency: concurrency,
		sendTimeout: timeout,
	}, nil
}

// Run consumes the queue until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.queue.Run(ctx, a.concurrency, a.deliver)
}

// Stats returns delivery counters.
func (a *App) Stats() Stats {
	return Stats{Sent: a.sent.Load(), Failed: a.failed.Load()}
}

// deliver sends one job. A returned error lets the queue retry it.
func (a *App) deliver(ctx context.Context, job queue.Job) error {
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "attempt", job.Attempts)
	msg, err := mail.DecodeJob(job)
	if err != nil {
		a.failed.Add(1)
		logger.Error("mail job rejected", "err", err)
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	if err := a.sender.Send(sendCtx, msg); err != nil {
		a.failed.Add(1)
		logger.Warn("mail delivery failed", "to", msg.To, "err", err)
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	a.sent.Add(1)
	logger.Info("mail delivered", "to", msg.To, "subject", msg.Subject)
	return nil
}
