package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"homefinder/internal/ratelimit"
	"homefinder/internal/usertoken"
	"homefinder/internal/util"
	"homefinder/pkg/domain"
	"homefinder/services/profile/internal/app"
	"homefinder/services/profile/internal/authclient"
)

// ConfirmDeleteHeader must be "true" on DELETE requests; it is the HTTP form
// of the "are you sure?" prompt.
const ConfirmDeleteHeader = "X-Confirm-Delete"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	TokenVerifier             *usertoken.Verifier
	TrustedProxies            *util.TrustedProxies
	RedisAddr                 string
	RedisPassword             string
	ProfileRateLimitPerMinute int
	DeleteRateLimitPerMinute  int
	LogoutRateLimitPerMinute  int
}

// Server exposes the profile page API.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	profileLimiter *ratelimit.FixedWindowLimiter
	deleteLimiter  *ratelimit.FixedWindowLimiter
	logoutLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("redis addr is required for rate limiting")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(client, "homefinder:profile:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	profileLimiter, err := newLimiter("profile", cfg.ProfileRateLimitPerMinute, 20)
	if err != nil {
		return nil, err
	}
	deleteLimiter, err := newLimiter("delete", cfg.DeleteRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	logoutLimiter, err := newLimiter("logout", cfg.LogoutRateLimitPerMinute, 20)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		profileLimiter: profileLimiter,
		deleteLimiter:  deleteLimiter,
		logoutLimiter:  logoutLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("profile", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/profile", s.withSession(s.handleProfile))
	s.mux.Handle("/api/profile/display-name", s.withSession(s.handleDisplayName))
	s.mux.Handle("/api/profile/document", s.withSession(s.handleDocument))
	s.mux.Handle("/api/profile/logout", s.withSession(s.handleLogout))
	s.mux.Handle("/api/profile/listings", s.withSession(s.handleListings))
	s.mux.Handle("/api/profile/listings/", s.withSession(s.handleListingByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionHandler receives the resolved session and the raw bearer token.
type sessionHandler func(http.ResponseWriter, *http.Request, domain.Session, string)

func (s *Server) withSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "profile.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var identity *usertoken.Identity
		if s.tokenVerifier != nil {
			id, err := s.tokenVerifier.Verify(r.Context(), token)
			if err != nil {
				s.audit(r, "profile.authorize", "fail", "reason", "invalid_signature_or_claims")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			identity = &id
		}
		session, err := s.app.Session(r.Context(), token)
		if err != nil {
			s.audit(r, "profile.authorize", "fail", "reason", "auth_me_failed")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if identity != nil && !identity.Owns(session) {
			s.audit(r, "profile.authorize", "fail", "reason", "subject_mismatch", "user_id", session.ID)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", session.ID))
		next(w, r.WithContext(ctx), session, token)
	})
}

// /api/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, session domain.Session, token string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, profileResponse{
			Session: session,
			Form:    domain.ProfileForm{Name: session.DisplayName, Email: session.Email},
		})
	case http.MethodPatch:
		if !s.allowRate(w, r, s.profileLimiter, session, "too many profile updates") {
			s.audit(r, "profile.submit", "rate_limited", "user_id", session.ID)
			return
		}
		var form domain.ProfileForm
		if !decodeJSON(w, r, &form) {
			return
		}
		updated, err := s.app.SubmitProfile(r.Context(), token, session, form)
		if err != nil {
			s.audit(r, "profile.submit", "fail", "user_id", session.ID, "reason", err.Error())
			writeAppError(w, err)
			return
		}
		s.audit(r, "profile.submit", "success", "user_id", session.ID)
		normalized, _ := app.NormalizeForm(form)
		writeJSON(w, http.StatusOK, profileResponse{Session: updated, Form: normalized})
	default:
		methodNotAllowed(w)
	}
}

// /api/profile/display-name: the auth-provider half of a submit.
func (s *Server) handleDisplayName(w http.ResponseWriter, r *http.Request, session domain.Session, token string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.profileLimiter, session, "too many profile updates") {
		return
	}
	var req displayNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.app.UpdateDisplayName(r.Context(), token, session, req.DisplayName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// /api/profile/document: the users/{id} half of a submit.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, session domain.Session, _ string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.profileLimiter, session, "too many profile updates") {
		return
	}
	var form domain.ProfileForm
	if !decodeJSON(w, r, &form) {
		return
	}
	if err := s.app.WriteProfile(r.Context(), session.ID, form); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, session domain.Session, token string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.logoutLimiter, session, "too many logout attempts") {
		s.audit(r, "profile.logout", "rate_limited", "user_id", session.ID)
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "profile.logout", "fail", "user_id", session.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "profile.logout", "success", "user_id", session.ID)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/"})
}

// /api/profile/listings
func (s *Server) handleListings(w http.ResponseWriter, r *http.Request, session domain.Session, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" && owner != session.ID {
		writeAppError(w, app.ErrOwnerMismatch)
		return
	}
	listings, err := s.app.ListListings(r.Context(), session)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": listings,
		"count": len(listings),
	})
}

// /api/profile/listings/{id}
func (s *Server) handleListingByID(w http.ResponseWriter, r *http.Request, session domain.Session, _ string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/profile/listings/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get(ConfirmDeleteHeader)), "true") {
		writeAppError(w, app.ErrConfirmationRequired)
		return
	}
	if !s.allowRate(w, r, s.deleteLimiter, session, "too many delete attempts") {
		s.audit(r, "profile.listing.delete", "rate_limited", "user_id", session.ID)
		return
	}
	if err := s.app.DeleteListing(r.Context(), session, id); err != nil {
		s.audit(r, "profile.listing.delete", "fail", "user_id", session.ID, "listing_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "profile.listing.delete", "success", "user_id", session.ID, "listing_id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
		"notice": "Successfully deleted listing",
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

type profileResponse struct {
	Session domain.Session     `json:"session"`
	Form    domain.ProfileForm `json:"form"`
}

type displayNameRequest struct {
	DisplayName string `json:"displayName"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
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
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, session domain.Session, msg string) bool {
	key := session.ID + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
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
		RequestID: strings.TrimSpace(w.Header().Get(util.RequestIDHeader)),
	})
}

// writeAppError maps app and upstream errors onto HTTP responses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrListingNotFound):
		notFound(w, "listing not found")
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrOwnerMismatch):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrConfirmationRequired):
		writeError(w, http.StatusPreconditionFailed, "delete confirmation required")
	case errors.Is(err, app.ErrNameRequired):
		writeError(w, http.StatusBadRequest, "name is required")
	case errors.Is(err, app.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email")
	case errors.Is(err, app.ErrProfileUpdate):
		slog.Warn("profile update failed", "err", err)
		writeError(w, http.StatusBadGateway, app.ErrProfileUpdate.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	default:
		var apiErr *authclient.APIError
		if errors.As(err, &apiErr) {
			writeError(w, apiErr.Status, apiErr.Message)
			return
		}
		slog.Error("profile request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeFor(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "forbidden":
		return "LISTING_FORBIDDEN"
	case "listing not found":
		return "LISTING_NOT_FOUND"
	case "delete confirmation required":
		return "LISTING_DELETE_UNCONFIRMED"
	case "name is required":
		return "PROFILE_NAME_REQUIRED"
	case "invalid email":
		return "PROFILE_INVALID_EMAIL"
	case "could not update profile details":
		return "PROFILE_UPDATE_FAILED"
	case "invalid json body":
		return "PROFILE_INVALID_REQUEST"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch {
	case status == http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case status == http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case status >= http.StatusInternalServerError:
		return "SYSTEM_INTERNAL_ERROR"
	default:
		return "REQUEST_ERROR"
	}
}
