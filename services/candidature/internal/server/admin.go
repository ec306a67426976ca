package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gestloc/internal/admintoken"
	"gestloc/internal/security"
	"gestloc/pkg/domain"
	"gestloc/pkg/store"
	"gestloc/services/candidature/internal/app"
)

type adminHandler func(http.ResponseWriter, *http.Request, admintoken.Claims)

func (s *Server) adminOnly(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := admintoken.BearerToken(r)
		if !ok {
			s.securityEvent(r, security.EventAdminAuthorize, security.OutcomeFail, "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.verifier.Verify(token)
		if errors.Is(err, admintoken.ErrForbidden) {
			s.securityEvent(r, security.EventAdminAuthorize, security.OutcomeFail, "subject", claims.Subject, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err != nil {
			s.securityEvent(r, security.EventAdminAuthorize, security.OutcomeFail, "reason", "invalid_signature_or_claims")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.securityEvent(r, security.EventAdminAuthorize, "success", "subject", claims.Subject)
		next(w, r, claims)
	})
}

// /api/admin/candidatures
func (s *Server) handleAdminCandidatures(w http.ResponseWriter, r *http.Request, _ admintoken.Claims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filter := store.CandidatureFilter{}
	if raw := q.Get("status"); raw != "" {
		status, err := app.ParseCandidatureStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	if raw := q.Get("logementId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid logementId")
			return
		}
		filter.LogementID = id
	}
	filter.Limit = queryInt(q.Get("limit"), 50)
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	filter.Offset = queryInt(q.Get("offset"), 0)

	items, err := s.app.ListCandidatures(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// /api/admin/candidatures/{id}, /{id}/status, /{id}/documents/{docID}
func (s *Server) handleAdminCandidatureByID(w http.ResponseWriter, r *http.Request, claims admintoken.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/candidatures/")
	parts := strings.Split(path, "/")
	id, ok := parseID(parts[0])
	if !ok {
		notFound(w, "not found")
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		detail, err := s.app.GetCandidature(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case len(parts) == 2 && parts[1] == "status":
		s.handleCandidatureStatus(w, r, claims, id)
	case len(parts) == 3 && parts[1] == "documents":
		docID, ok := parseID(parts[2])
		if !ok {
			notFound(w, "not found")
			return
		}
		s.handleDocumentDownload(w, r, id, docID)
	default:
		notFound(w, "not found")
	}
}

type statusRequest struct {
	Status  string `json:"status"`
	VisitAt string `json:"visitAt"`
}

func (s *Server) handleCandidatureStatus(w http.ResponseWriter, r *http.Request, claims admintoken.Claims, id int64) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := app.ParseCandidatureStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	upd := app.StatusUpdate{Status: status}
	if v := strings.TrimSpace(req.VisitAt); v != "" {
		visitAt, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "visitAt must be RFC3339")
			return
		}
		upd.VisitAt = &visitAt
	}
	updated, err := s.app.ChangeStatus(r.Context(), claims.Subject, id, upd, s.clientIP(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request, candidatureID, documentID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, rc, err := s.app.OpenDocument(r.Context(), candidatureID, documentID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename}))
	w.Header().Set("Cache-Control", "private, no-store")
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

type logementRequest struct {
	Reference string  `json:"reference"`
	Address   string  `json:"address"`
	Rent      float64 `json:"rent"`
	Status    string  `json:"status"`
}

// /api/admin/logements
func (s *Server) handleAdminLogements(w http.ResponseWriter, r *http.Request, claims admintoken.Claims) {
	switch r.Method {
	case http.MethodGet:
		var status domain.LogementStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			parsed, err := app.ParseLogementStatus(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid status")
				return
			}
			status = parsed
		}
		items, err := s.app.ListLogements(r.Context(), status)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var req logementRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := s.app.CreateLogement(r.Context(), claims.Subject, app.CreateLogementRequest{
			Reference: req.Reference,
			Address:   req.Address,
			Rent:      req.Rent,
			Status:    domain.LogementStatus(strings.TrimSpace(req.Status)),
		}, s.clientIP(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

// /api/admin/logements/{id}/status
func (s *Server) handleAdminLogementByID(w http.ResponseWriter, r *http.Request, claims admintoken.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/logements/")
	parts := strings.Split(path, "/")
	id, ok := parseID(parts[0])
	if !ok || len(parts) != 2 || parts[1] != "status" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := app.ParseLogementStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err := s.app.SetLogementStatus(r.Context(), claims.Subject, id, status, s.clientIP(r)); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

type leaseRequest struct {
	LogementID  int64  `json:"logementId"`
	TenantName  string `json:"tenantName"`
	TenantEmail string `json:"tenantEmail"`
}

// /api/admin/leases
func (s *Server) handleAdminLeases(w http.ResponseWriter, r *http.Request, claims admintoken.Claims) {
	switch r.Method {
	case http.MethodGet:
		links, err := s.app.ListLeaseLinks(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, links)
	case http.MethodPost:
		var req leaseRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		link, err := s.app.CreateLeaseLink(r.Context(), claims.Subject, app.CreateLeaseRequest{
			LogementID:  req.LogementID,
			TenantName:  req.TenantName,
			TenantEmail: req.TenantEmail,
		}, s.clientIP(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, link)
	default:
		methodNotAllowed(w)
	}
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
