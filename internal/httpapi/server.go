package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docsync/internal/admintoken"
	"docsync/internal/app"
	"docsync/internal/ratelimit"
	"docsync/internal/util"
	"docsync/pkg/domain"
	"docsync/pkg/metrics"
	"docsync/pkg/scheduler"
)

const serviceName = "docsync"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics

	AdminJWTPublicKeyPath string
	AdminJWTAudience      string

	RedisAddr             string
	RedisPassword         string
	SyncRequestsPerMinute int

	// TrustedProxyCIDRs are CIDR/IP entries whose forwarded headers are
	// believed when resolving the caller IP for audit logs.
	TrustedProxyCIDRs []string
}

// Server exposes the admin HTTP API.
type Server struct {
	app            *app.App
	metrics        *metrics.Metrics
	adminAuth      *admintoken.Verifier
	syncLimiter    *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured. Admin auth and the
// sync rate limit are enabled only when their settings are present.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("httpapi: app is required")
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		metrics:        cfg.Metrics,
		trustedProxies: trustedProxies,
		mux:            http.NewServeMux(),
	}
	if path := strings.TrimSpace(cfg.AdminJWTPublicKeyPath); path != "" {
		verifier, err := admintoken.NewVerifier(admintoken.VerifierOptions{
			PublicKeyPath: path,
			Audience:      cfg.AdminJWTAudience,
		})
		if err != nil {
			return nil, err
		}
		s.adminAuth = verifier
	}
	if cfg.SyncRequestsPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr,
			cfg.RedisPassword,
			"docsync:ratelimit:sync",
			cfg.SyncRequestsPerMinute,
			time.Minute,
		)
		if err != nil {
			return nil, fmt.Errorf("init sync limiter: %w", err)
		}
		s.syncLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var handler http.Handler = s.mux
	if s.metrics != nil {
		handler = s.metrics.Middleware(serviceName, handler)
	}
	return util.WithRequestID(util.WithRequestLog(serviceName, util.WithSecurityHeaders(util.WithCORS(handler))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.mux.Handle("/users/", s.adminOnly(s.handleUserScoped))
	s.mux.Handle("/documents/", s.adminOnly(s.handleDocumentByID))
	s.mux.Handle("/scheduler/", s.adminOnly(s.handleScheduler))
	s.mux.Handle("/staging/", s.adminOnly(s.handleStaging))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminAuth == nil {
			next(w, r)
			return
		}
		token, ok := admintoken.BearerToken(r)
		if !ok {
			s.audit(r, "docsync.admin.authorize", "fail", "reason", "missing_token")
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		claims, err := s.adminAuth.Verify(token)
		if err != nil {
			s.audit(r, "docsync.admin.authorize", "fail", "reason", "invalid_token")
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		s.audit(r, "docsync.admin.authorize", "success", "subject", claims.Subject)
		next(w, r)
	})
}

func (s *Server) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.SplitN(path, "/", 2)
	userID := parts[0]
	if userID == "" || len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	switch parts[1] {
	case "sync":
		s.handleSync(w, r, userID)
	case "documents":
		s.handleListDocuments(w, r, userID)
	case "documents/unprocessed":
		s.handleListUnprocessed(w, r, userID)
	case "stats":
		s.handleUserStats(w, r, userID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !s.allowSync(w, r, userID) {
		return
	}

	var req syncRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
			s.audit(r, "docsync.sync", "fail", "user_id", userID, "reason", "invalid_json")
			writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	}
	accessToken := strings.TrimSpace(req.AccessToken)
	if accessToken == "" && s.adminAuth == nil {
		// Without admin auth the Authorization header is free to carry
		// the remote storage token directly.
		if token, ok := admintoken.BearerToken(r); ok {
			accessToken = token
		}
	}
	if accessToken == "" {
		s.audit(r, "docsync.sync", "fail", "user_id", userID, "reason", "missing_remote_token")
		writeError(w, r, http.StatusBadRequest, "bad_request", "remote access token required")
		return
	}

	report, err := s.app.SyncUser(r.Context(), userID, accessToken)
	if err != nil {
		s.audit(r, "docsync.sync", "fail", "user_id", userID, "reason", err.Error())
		writeSyncError(w, r, err)
		return
	}
	s.audit(r, "docsync.sync", "success", "user_id", userID,
		"discovered", report.Discovered, "downloaded", report.Downloaded)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	docs, err := s.app.ListDocuments(r.Context(), userID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleListUnprocessed(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	docs, err := s.app.ListUnprocessed(r.Context(), userID, limit)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	stats, err := s.app.UserStats(r.Context(), userID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.SplitN(path, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid document id")
		return
	}

	if len(parts) == 2 {
		if parts[1] != "status" {
			http.NotFound(w, r)
			return
		}
		s.handleDocumentStatus(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.GetDocument(r.Context(), id)
		if err != nil {
			writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.DeleteDocument(r.Context(), id); err != nil {
			writeRegistryError(w, r, err)
			return
		}
		s.audit(r, "docsync.document.delete", "success", "document_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	status, ok := domain.ParseStatus(req.Status)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	doc, err := s.app.SetDocumentStatus(r.Context(), id, status, req.Reason)
	if err != nil {
		s.audit(r, "docsync.document.status", "fail", "document_id", id, "reason", err.Error())
		writeRegistryError(w, r, err)
		return
	}
	s.audit(r, "docsync.document.status", "success", "document_id", id, "status", string(status))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/scheduler/")
	switch action {
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		writeJSON(w, http.StatusOK, s.app.SchedulerStatus())
	case "start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		s.app.StartScheduler()
		s.audit(r, "docsync.scheduler.start", "success")
		writeJSON(w, http.StatusOK, s.app.SchedulerStatus())
	case "stop":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		s.app.StopScheduler()
		s.audit(r, "docsync.scheduler.stop", "success")
		writeJSON(w, http.StatusOK, s.app.SchedulerStatus())
	case "run":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		report, err := s.app.TriggerProcessing(r.Context())
		if err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				s.audit(r, "docsync.scheduler.run", "fail", "reason", "run_in_progress")
				writeError(w, r, http.StatusConflict, "run_in_progress", err.Error())
				return
			}
			s.audit(r, "docsync.scheduler.run", "fail", "reason", err.Error())
			writeError(w, r, http.StatusInternalServerError, "internal", "processing run failed")
			return
		}
		s.audit(r, "docsync.scheduler.run", "success", "processed", report.Processed, "failed", report.Failed)
		writeJSON(w, http.StatusOK, report)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStaging(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/staging/")
	switch action {
	case "cleanup":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		var req cleanupRequest
		if r.Body != nil {
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
				writeError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
				return
			}
		}
		report, err := s.app.CleanupStaging(req.MaxAgeDays)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal", "cleanup failed")
			return
		}
		s.audit(r, "docsync.staging.cleanup", "success",
			"removed_files", report.RemovedFiles, "freed_bytes", report.FreedBytes)
		writeJSON(w, http.StatusOK, report)
	case "usage":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		usage, err := s.app.StagingUsage()
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal", "usage scan failed")
			return
		}
		writeJSON(w, http.StatusOK, usage)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) allowSync(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.syncLimiter == nil {
		return true
	}
	if s.syncLimiter.Allow(userID) {
		return true
	}
	s.audit(r, "docsync.sync", "rate_limited", "user_id", userID)
	w.Header().Set("Retry-After", "60")
	writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many sync requests")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

type syncRequest struct {
	AccessToken string `json:"accessToken"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type cleanupRequest struct {
	MaxAgeDays int `json:"maxAgeDays"`
}

type documentsResponse struct {
	Documents []domain.Document `json:"documents"`
	Count     int               `json:"count"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: util.RequestIDFromRequest(r),
	})
}

func writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "document not found")
	case errors.Is(err, domain.ErrFailureReasonRequired):
		writeError(w, r, http.StatusBadRequest, "reason_required", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "registry failure")
	}
}

func writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrRemoteAuth):
		writeError(w, r, http.StatusUnauthorized, "remote_auth", "remote credential rejected")
	case errors.Is(err, domain.ErrRemoteTransient):
		writeError(w, r, http.StatusBadGateway, "remote_unavailable", "remote storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "sync failed")
	}
}
