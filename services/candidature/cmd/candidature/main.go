package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"gestloc/internal/admintoken"
	"gestloc/internal/csrf"
	"gestloc/internal/docstore"
	"gestloc/internal/intake"
	"gestloc/internal/util"
	"gestloc/pkg/mail"
	"gestloc/pkg/queue"
	"gestloc/pkg/storage"
	"gestloc/pkg/store"
	"gestloc/services/candidature/internal/app"
	"gestloc/services/candidature/internal/config"
	"gestloc/services/candidature/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	formTokenTTL, err := config.ParseDuration("formTokenTTL", cfg.FormTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse form token ttl: %v", err)
	}
	leaseTTL, err := config.ParseDuration("leaseTTL", cfg.LeaseTTL)
	if err != nil {
		log.Fatalf("failed to parse lease ttl: %v", err)
	}
	jwtLeeway, err := config.ParseDuration("adminJwtLeeway", cfg.AdminJWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse admin jwt leeway: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	var objects storage.ObjectStore
	switch cfg.StorageBackend {
	case config.StorageMinio:
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		objects, err = storage.NewFileStore(cfg.UploadsRoot)
	}
	if err != nil {
		log.Fatalf("failed to init %s storage: %v", cfg.StorageBackend, err)
	}
	documents, err := docstore.NewPersister(objects)
	if err != nil {
		log.Fatalf("failed to init document persister: %v", err)
	}
	formTokens, err := csrf.NewStore(rdb, "gestloc:candidature:csrf", formTokenTTL)
	if err != nil {
		log.Fatalf("failed to init form token store: %v", err)
	}

	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		loc = time.UTC
	}
	renderer, err := mail.NewRenderer(cfg.AgencyName, loc)
	if err != nil {
		log.Fatalf("failed to init mail renderer: %v", err)
	}
	var mailer mail.Sender = mail.LogSender{Logger: logger}
	switch cfg.MailMode {
	case config.MailModeSMTP:
		mailer, err = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
		})
	case config.MailModeQueue:
		stream := cfg.MailQueue
		if stream == "" {
			stream = mail.DefaultStream
		}
		var q *queue.RedisJobQueue
		q, err = queue.NewRedisJobQueueWithClient(rdb, queue.RedisQueueConfig{Stream: stream, Group: mail.DefaultGroup})
		if err == nil {
			mailer, err = mail.NewQueueSender(q)
		}
	}
	if err != nil {
		log.Fatalf("failed to init %s mailer: %v", cfg.MailMode, err)
	}

	appCore, err := app.New(app.Config{
		Store:         db,
		Objects:       objects,
		Validator:     intake.NewValidator(intake.Options{MaxBytes: cfg.MaxUploadBytes, CheckPDFStructure: cfg.PDFStructureCheck}),
		Documents:     documents,
		FormTokens:    formTokens,
		Renderer:      renderer,
		Mailer:        mailer,
		AdminEmail:    cfg.AdminEmail,
		PublicBaseURL: cfg.PublicBaseURL,
		LeaseTTL:      leaseTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifyKeys, err := admintoken.ParseVerifyPublicKeys(cfg.AdminJWTVerifyPublicKey)
	if err != nil {
		log.Fatalf("failed to parse admin jwt verify public keys: %v", err)
	}
	verifier, err := admintoken.NewVerifier(admintoken.VerifierOptions{
		PublicKeyPath:      cfg.AdminJWTPublicKeyPath,
		VerifyPublicKeyMap: verifyKeys,
		DefaultKeyID:       cfg.AdminJWTKeyID,
		Issuer:             cfg.AdminJWTIssuer,
		Leeway:             jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init admin token verifier: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		AdminVerifier:             verifier,
		Redis:                     rdb,
		SubmitRateLimitPerMinute:  cfg.SubmitRateLimitPerMinute,
		RespondRateLimitPerMinute: cfg.RespondRateLimitPerMinute,
		TrustedProxies:            trusted,
		AllowedOrigins:            cfg.AllowedOrigins,
		SessionCookieName:         cfg.SessionCookieName,
		SessionCookieSecure:       cfg.SessionCookieSecure,
		MaxRequestBytes:           cfg.MaxRequestBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("candidature server listening", "addr", addr, "storage", cfg.StorageBackend, "mail", cfg.MailMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
