package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"gestloc/internal/util"
	"gestloc/pkg/mail"
	"gestloc/pkg/queue"
	"gestloc/services/mailer/internal/app"
	"gestloc/services/mailer/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	stream := cfg.QueueStream
	if stream == "" {
		stream = mail.DefaultStream
	}
	group := cfg.QueueGroup
	if group == "" {
		group = mail.DefaultGroup
	}
	q, err := queue.NewRedisJobQueueWithClient(rdb, queue.RedisQueueConfig{
		Stream:     stream,
		Group:      group,
		Consumer:   util.NewID(),
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		TLS:      cfg.SMTPTLS,
		Timeout:  time.Duration(cfg.SMTPTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init smtp sender: %v", err)
	}
	worker, err := app.New(app.Config{
		Queue:       q,
		Sender:      sender,
		Concurrency: cfg.QueueConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "stats": worker.Stats()}
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "redis unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(util.WithRequestLog("mailer", mux)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("mailer health server listening", "addr", addr, "stream", stream)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("mailer stopped", "err", err)
	}
}
