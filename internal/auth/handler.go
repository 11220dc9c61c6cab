package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// UserFinder is the subset of UserStore the handler needs.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Handler handles authentication HTTP endpoints.
type Handler struct {
	tokenSvc *TokenService
	users    UserFinder
}

func NewHandler(tokenSvc *TokenService, users UserFinder) *Handler {
	return &Handler{tokenSvc: tokenSvc, users: users}
}

// RegisterRoutes registers auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/token/refresh", h.HandleRefresh)
}

// HandleLogin exchanges email and password for an access/refresh pair.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": ErrInvalidLogin.Error()})
			return
		}
		slog.ErrorContext(r.Context(), "login lookup failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "login unavailable"})
		return
	}

	ok, err := CheckPassword(user.PasswordHash, req.Password)
	if err != nil || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": ErrInvalidLogin.Error()})
		return
	}
	if !user.IsActive {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": ErrUserInactive.Error()})
		return
	}

	h.issueTokens(w, &Identity{UserID: user.ID, Role: user.Role})
}

// HandleRefresh exchanges a refresh token for new access + refresh tokens.
// The role is reloaded from the store so a role change takes effect on the
// next refresh.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	claimed, err := h.tokenSvc.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrWrongTokenType) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh token required"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	user, err := h.users.FindByID(r.Context(), claimed.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
			return
		}
		slog.ErrorContext(r.Context(), "refresh lookup failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh unavailable"})
		return
	}
	if !user.IsActive {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": ErrUserInactive.Error()})
		return
	}

	h.issueTokens(w, &Identity{UserID: user.ID, Role: user.Role})
}

func (h *Handler) issueTokens(w http.ResponseWriter, identity *Identity) {
	accessToken, err := h.tokenSvc.CreateAccessToken(identity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	refreshToken, err := h.tokenSvc.CreateRefreshToken(identity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
