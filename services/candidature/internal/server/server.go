package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gestloc/internal/admintoken"
	"gestloc/internal/csrf"
	"gestloc/internal/ratelimit"
	"gestloc/internal/security"
	"gestloc/internal/util"
	"gestloc/services/candidature/internal/app"
)

const (
	defaultSessionCookie   = "gestloc_session"
	defaultMaxRequestBytes = 32 << 20
	multipartMemory        = 8 << 20

	msgSubmitted   = "Votre candidature a bien été enregistrée. Nous reviendrons vers vous rapidement."
	msgRateLimited = "Trop de tentatives, veuillez réessayer dans une minute."
	msgTooLarge    = "Les fichiers envoyés dépassent la taille autorisée."
	msgInvalidForm = "Formulaire invalide."
)

// TokenVerifier validates admin bearer tokens.
type TokenVerifier interface {
	Verify(token string) (admintoken.Claims, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	AdminVerifier             TokenVerifier
	Redis                     redis.UniversalClient
	SubmitRateLimitPerMinute  int
	RespondRateLimitPerMinute int
	TrustedProxies            *util.TrustedProxies
	AllowedOrigins            []string
	SessionCookieName         string
	SessionCookieSecure       bool
	MaxRequestBytes           int64
}

// Server exposes the public application form, the token links and the
// back-office API.
type Server struct {
	app             *app.App
	verifier        TokenVerifier
	mux             *http.ServeMux
	trusted         *util.TrustedProxies
	allowedOrigins  []string
	cookieName      string
	cookieSecure    bool
	maxRequestBytes int64
	submitLimiter   *ratelimit.FixedWindowLimiter
	respondLimiter  *ratelimit.FixedWindowLimiter
	alerter         *security.Alerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.AdminVerifier == nil {
		return nil, errors.New("admin token verifier is required")
	}
	s := &Server{
		app:             cfg.App,
		verifier:        cfg.AdminVerifier,
		mux:             http.NewServeMux(),
		trusted:         cfg.TrustedProxies,
		allowedOrigins:  cfg.AllowedOrigins,
		cookieName:      strings.TrimSpace(cfg.SessionCookieName),
		cookieSecure:    cfg.SessionCookieSecure,
		maxRequestBytes: cfg.MaxRequestBytes,
	}
	if s.cookieName == "" {
		s.cookieName = defaultSessionCookie
	}
	if s.maxRequestBytes <= 0 {
		s.maxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.Redis != nil {
		submitLimit := cfg.SubmitRateLimitPerMinute
		if submitLimit <= 0 {
			submitLimit = 10
		}
		respondLimit := cfg.RespondRateLimitPerMinute
		if respondLimit <= 0 {
			respondLimit = 30
		}
		var err error
		s.submitLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "gestloc:candidature:ratelimit:submit", submitLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init submit limiter: %w", err)
		}
		s.respondLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "gestloc:candidature:ratelimit:respond", respondLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init respond limiter: %w", err)
		}
		s.alerter = security.NewAlerter(cfg.Redis, "gestloc:candidature:alerts")
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("candidature", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// public form
	s.mux.HandleFunc("/api/form-token", s.handleFormToken)
	s.mux.HandleFunc("/api/logements", s.handlePublicLogements)
	s.mux.HandleFunc("/api/candidatures", s.handleSubmit)
	s.mux.HandleFunc("/api/candidatures/respond", s.handleRespond)
	s.mux.HandleFunc("/api/leases/", s.handleLease)

	// admin
	s.mux.Handle("/api/admin/candidatures", s.adminOnly(s.handleAdminCandidatures))
	s.mux.Handle("/api/admin/candidatures/", s.adminOnly(s.handleAdminCandidatureByID))
	s.mux.Handle("/api/admin/logements", s.adminOnly(s.handleAdminLogements))
	s.mux.Handle("/api/admin/logements/", s.adminOnly(s.handleAdminLogementByID))
	s.mux.Handle("/api/admin/leases", s.adminOnly(s.handleAdminLeases))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /api/form-token binds a form token to the caller's session cookie.
func (s *Server) handleFormToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sessionID := s.sessionID(r)
	if sessionID == "" {
		var err error
		sessionID, err = csrf.NewSessionID()
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("session id generation failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	token, err := s.app.IssueFormToken(r.Context(), sessionID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("form token issue failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handlePublicLogements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListAvailableLogements(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type submitResponse struct {
	Success       bool   `json:"success"`
	CandidatureID int64  `json:"candidature_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// /api/candidatures accepts the multipart application form.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ip := s.clientIP(r)
	if !s.allow(r.Context(), s.submitLimiter, "submit|"+ip) {
		s.securityEvent(r, security.EventSubmit, security.OutcomeRateLimited)
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, submitResponse{Error: msgRateLimited})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	// A form posted without multipart encoding carries no files; it still goes
	// through the ordinary checks and fails on the missing documents.
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, submitResponse{Error: msgTooLarge})
			return
		}
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: msgInvalidForm})
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	req := app.SubmitRequest{
		Fields:    make(map[string]string, len(app.RequiredFields)),
		FormToken: r.PostFormValue("csrf_token"),
		SessionID: s.sessionID(r),
		Consent:   r.PostFormValue("consent"),
		Uploads:   collectUploads(r),
		SourceIP:  ip,
	}
	for _, name := range app.RequiredFields {
		req.Fields[name] = r.PostFormValue(name)
	}

	res, err := s.app.Submit(r.Context(), req)
	if err != nil {
		msg, userErr := app.UserMessage(err)
		if userErr {
			s.securityEvent(r, security.EventSubmit, security.OutcomeFail, "reason", err.Error())
			writeJSON(w, http.StatusOK, submitResponse{Error: msg})
			return
		}
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{
		Success:       true,
		CandidatureID: res.CandidatureID,
		Message:       msgSubmitted,
	})
}

// collectUploads reads "documents" and "documents[<category>]" file fields.
// Uncategorised files come first, then categories in name order.
func collectUploads(r *http.Request) []app.Upload {
	if r.MultipartForm == nil {
		return nil
	}
	keys := make([]string, 0, len(r.MultipartForm.File))
	for key := range r.MultipartForm.File {
		if _, ok := uploadCategory(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, _ := uploadCategory(keys[i])
		cj, _ := uploadCategory(keys[j])
		if (ci == "") != (cj == "") {
			return ci == ""
		}
		return keys[i] < keys[j]
	})
	var uploads []app.Upload
	for _, key := range keys {
		category, _ := uploadCategory(key)
		for _, fh := range r.MultipartForm.File[key] {
			uploads = append(uploads, app.Upload{
				Category: category,
				Filename: fh.Filename,
				Size:     fh.Size,
				Open: func() (io.ReadCloser, error) {
					return fh.Open()
				},
			})
		}
	}
	return uploads
}

func uploadCategory(field string) (string, bool) {
	switch {
	case field == "documents", field == "documents[]":
		return "", true
	case strings.HasPrefix(field, "documents[") && strings.HasSuffix(field, "]"):
		return field[len("documents[") : len(field)-1], true
	default:
		return "", false
	}
}

type respondResponse struct {
	CandidatureID int64  `json:"candidatureId"`
	Status        string `json:"status"`
	Label         string `json:"label"`
	Applied       bool   `json:"applied"`
}

// /api/candidatures/respond?token=&decision=
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ip := s.clientIP(r)
	if !s.allow(r.Context(), s.respondLimiter, "respond|"+ip) {
		s.securityEvent(r, security.EventRespond, security.OutcomeRateLimited)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	q := r.URL.Query()
	res, err := s.app.Respond(r.Context(), q.Get("token"), q.Get("decision"), ip)
	if err != nil {
		if errors.Is(err, app.ErrInvalidResponseToken) {
			s.securityEvent(r, security.EventRespond, security.OutcomeFail, "reason", "unknown_token")
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{
		CandidatureID: res.Candidature.ID,
		Status:        string(res.Candidature.Status),
		Label:         res.Candidature.Status.Label(),
		Applied:       res.Applied,
	})
}

// /api/leases/{token} or /api/leases/{token}/sign
func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/leases/")
	parts := strings.Split(path, "/")
	token := parts[0]
	if token == "" || len(parts) > 2 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "sign" {
			notFound(w, "not found")
			return
		}
		s.handleLeaseSign(w, r, token)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.GetLeaseLink(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLeaseSign(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ip := s.clientIP(r)
	if !s.allow(r.Context(), s.respondLimiter, "lease|"+ip) {
		s.securityEvent(r, security.EventLeaseSign, security.OutcomeRateLimited)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	res, err := s.app.SignLeaseLink(r.Context(), token, ip)
	if err != nil {
		if errors.Is(err, app.ErrLeaseNotFound) {
			s.securityEvent(r, security.EventLeaseSign, security.OutcomeFail, "reason", "unknown_token")
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lease":   res.Lease,
		"applied": res.Applied,
	})
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// allow consults limiter; a server built without Redis does not rate limit.
func (s *Server) allow(ctx context.Context, limiter *ratelimit.FixedWindowLimiter, key string) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(ctx, key)
}

func (s *Server) securityEvent(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	res, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps app errors to HTTP answers; internal failures are logged
// and reported generically.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrCandidatureNotFound),
		errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrLogementNotFound),
		errors.Is(err, app.ErrLeaseNotFound),
		errors.Is(err, app.ErrInvalidResponseToken):
		notFound(w, err.Error())
	case errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, app.ErrLogementUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidDecision),
		errors.Is(err, app.ErrInvalidStatus),
		errors.Is(err, app.ErrVisitDateRequired),
		errors.Is(err, app.ErrReferenceRequired),
		errors.Is(err, app.ErrInvalidRent),
		errors.Is(err, app.ErrTenantNameRequired),
		errors.Is(err, app.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == "candidature not found":
		return "CANDIDATURE_NOT_FOUND"
	case message == "document not found":
		return "CANDIDATURE_DOCUMENT_NOT_FOUND"
	case message == "logement not found":
		return "LOGEMENT_NOT_FOUND"
	case message == "lease link not found":
		return "LEASE_NOT_FOUND"
	case message == "invalid response token":
		return "CANDIDATURE_INVALID_RESPONSE_TOKEN"
	case message == "invalid decision":
		return "CANDIDATURE_INVALID_DECISION"
	case message == "invalid status":
		return "REQUEST_INVALID_STATUS"
	case message == "status transition not allowed":
		return "CANDIDATURE_INVALID_TRANSITION"
	case message == "visit date required":
		return "CANDIDATURE_VISIT_DATE_REQUIRED"
	case strings.Contains(message, "pas disponible"):
		return "LOGEMENT_UNAVAILABLE"
	case message == "reference required", message == "invalid rent":
		return "LOGEMENT_INVALID_REQUEST"
	case message == "tenant name required", strings.Contains(message, "email invalide"):
		return "LEASE_INVALID_REQUEST"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "too many requests":
		return "REQUEST_RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusTooManyRequests:
		return "REQUEST_RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
