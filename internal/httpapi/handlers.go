package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MfaCode  string `json:"mfa_code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	RequiresMfa  bool      `json:"requires_mfa,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type createUserRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "govdesk-identity",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.engine.Login(r.Context(), identity.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		MfaCode:   req.MfaCode,
		IPAddress: clientIP(r),
	})
	if err != nil {
		obs.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		if errors.Is(err, identity.ErrAccountLocked) {
			obs.Lockouts.Inc()
		}
		status, msg := authErrorStatus(err)
		writeJSON(w, status, authResponse{RequiresMfa: result.RequiresMfa, Error: msg})
		return
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()
	obs.TokensIssued.WithLabelValues("login").Inc()
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := a.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		status, msg := authErrorStatus(err)
		writeJSON(w, status, authResponse{Error: msg})
		return
	}
	obs.TokensIssued.WithLabelValues("refresh").Inc()
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.engine.Logout(r.Context(), principal.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": a.engine.ValidateToken(token)})
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := a.engine.EffectivePermissions(r.Context(), principal.UserID)
	if err != nil {
		a.log.Error("permission resolution failed", zap.String("user_id", principal.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

const permUserManage = "user.account.manage"

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := a.requirePermission(r, permUserManage); err != nil {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := a.accounts.CreateUser(r.Context(), identity.CreateUserRequest{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		FullName:   req.FullName,
		Department: req.Department,
		Position:   req.Position,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "username or email already in use")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid user data")
		default:
			a.log.Error("user creation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "user creation failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := a.accounts.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "current password is wrong")
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "new password does not meet the policy")
	default:
		a.log.Error("password change failed", zap.String("user_id", principal.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "password change failed")
	}
}

func (a *API) requirePermission(r *http.Request, code string) error {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		return identity.ErrInvalidCredentials
	}
	if !principal.HasPermission(code) {
		return identity.ErrInvalidCredentials
	}
	return nil
}

// authErrorStatus maps engine error kinds to HTTP responses. The body text
// never distinguishes unknown users from wrong passwords.
func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrMfaRequired):
		return http.StatusUnauthorized, "mfa code required"
	case errors.Is(err, identity.ErrInvalidMfaCode):
		return http.StatusUnauthorized, "invalid mfa code"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, identity.ErrAccountDisabled):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, identity.ErrAccountLocked):
		return http.StatusForbidden, "account locked"
	case errors.Is(err, identity.ErrTokenExpired):
		return http.StatusUnauthorized, "invalid or expired token"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, identity.ErrMfaRequired):
		return "mfa_required"
	case errors.Is(err, identity.ErrInvalidMfaCode):
		return "invalid_mfa"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, identity.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, identity.ErrAccountLocked):
		return "locked"
	default:
		return "error"
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
