package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	appctx "github.com/ilaygozlan/crypto-advisor-api/internal/context"
	"github.com/ilaygozlan/crypto-advisor-api/internal/logger"
)

// RefreshCookieName is the cookie carrying the long-lived credential
const RefreshCookieName = "refresh_token"

// refreshCookiePath scopes the cookie to the auth routes so it is never sent
// with ordinary API traffic
const refreshCookiePath = "/api/v1/auth"

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// Handler handles HTTP requests for the authentication endpoints
type Handler struct {
	service *Service
	logger  *slog.Logger
	// secureCookies marks the refresh cookie Secure (production / HTTPS)
	secureCookies bool
}

// NewHandler creates a new auth Handler
func NewHandler(service *Service, log *slog.Logger, secureCookies bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		service:       service,
		logger:        log,
		secureCookies: secureCookies,
	}
}

// Signup handles account creation
// POST /api/v1/auth/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := ValidateRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	result, err := h.service.Signup(r.Context(), req, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			h.writeError(w, http.StatusConflict, CodeEmailExists, "An account with this email already exists", nil)
			return
		}
		h.internalError(w, r, "signup failed", err)
		return
	}

	h.setRefreshCookie(w, result.RefreshSecret, result.RefreshExpiresAt)
	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"accessToken": result.AccessToken,
		"user":        NewUserResponse(result.User),
	})
}

// Login handles user authentication
// POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := ValidateRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	result, err := h.service.Login(r.Context(), req, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
			return
		}
		h.internalError(w, r, "login failed", err)
		return
	}

	h.setRefreshCookie(w, result.RefreshSecret, result.RefreshExpiresAt)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"accessToken": result.AccessToken,
		"user":        NewUserResponse(result.User),
	})
}

// Refresh rotates the refresh credential presented in the cookie
// POST /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := refreshCookieValue(r)
	if secret == "" {
		h.writeError(w, http.StatusUnauthorized, CodeRefreshTokenMissing, "Refresh token missing", nil)
		return
	}

	result, err := h.service.Refresh(r.Context(), secret, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrRefreshExpired):
			h.clearRefreshCookie(w)
			h.writeError(w, http.StatusUnauthorized, CodeInvalidRefreshToken, "Invalid or expired refresh token", nil)
		case errors.Is(err, ErrNoRefreshToken):
			h.writeError(w, http.StatusUnauthorized, CodeRefreshTokenMissing, "Refresh token missing", nil)
		default:
			h.internalError(w, r, "refresh failed", err)
		}
		return
	}

	h.setRefreshCookie(w, result.RefreshSecret, result.RefreshExpiresAt)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"accessToken": result.AccessToken,
	})
}

// Logout revokes the presented refresh credential and clears the cookie.
// Always succeeds; an already-invalid token changes nothing.
// POST /api/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if secret := refreshCookieValue(r); secret != "" {
		if err := h.service.Logout(r.Context(), secret); err != nil {
			// Cookie is cleared regardless; revocation is idempotent and a
			// client retry will finish the job
			log := logger.WithCorrelationID(r.Context(), h.logger)
			log.Error("logout revocation failed", "error", err)
		}
	}

	h.clearRefreshCookie(w)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// LogoutAll revokes every active credential for the authenticated user
// POST /api/v1/auth/logout-all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	user, err := h.service.GetMe(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	if err := h.service.LogoutAll(r.Context(), user.ID); err != nil {
		h.internalError(w, r, "logout-all failed", err)
		return
	}

	h.clearRefreshCookie(w)
	h.writeSuccess(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// GetMe returns the authenticated user's profile
// GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	user, err := h.service.GetMe(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		h.internalError(w, r, "get profile failed", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": NewUserResponse(user),
	})
}

// UpdateMe updates the authenticated user's display names
// PUT /api/v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if details := ValidateRequest(req); details != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
			return
		}
		h.internalError(w, r, "update profile failed", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": NewUserResponse(user),
	})
}

// setRefreshCookie installs the long-lived credential as an HTTP-only cookie
// whose MaxAge matches the credential's remaining lifetime
func (h *Handler) setRefreshCookie(w http.ResponseWriter, secret string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    secret,
		Path:     refreshCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearRefreshCookie expires the refresh cookie immediately
func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func refreshCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	// Full detail stays server-side; the client only sees the taxonomy code
	log := logger.WithCorrelationID(r.Context(), h.logger)
	log.Error(msg, "error", err)
	h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// clientIP extracts the client IP address from the request. RealIP middleware
// normally rewrites RemoteAddr already; the headers are a fallback for tests
// and direct handler use.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
