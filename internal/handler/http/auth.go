package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/pkg/httputil"
	"github.com/Kellyhimself/POS-sub002/pkg/validator"
)

// Authenticator is the auth manager as seen by the API.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context) error
	Authenticate() (*domain.Session, error)
}

// ModeController exposes the mode manager.
type ModeController interface {
	CurrentMode() domain.Mode
	Preference() domain.Preference
	Connected() bool
	SetPreference(p domain.Preference) error
}

// AuthHandler serves sign-in, sign-out, the current session and the device
// mode.
type AuthHandler struct {
	auth   Authenticator
	mode   ModeController
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth Authenticator, mode ModeController, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, mode: mode, logger: logger}
}

// --- Request DTOs ---

// SignInRequest is the JSON body of a sign-in.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SetModeRequest changes the operator's mode preference.
type SetModeRequest struct {
	Preference string `json:"preference" validate:"required,oneof=auto online offline"`
}

// ModeResponse describes the device mode.
type ModeResponse struct {
	Mode       domain.Mode       `json:"mode"`
	Preference domain.Preference `json:"preference"`
	Connected  bool              `json:"connected"`
}

// --- Handlers ---

// SignIn handles POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	sess, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, sess)
}

// SignOut handles POST /api/v1/auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// Session handles GET /api/v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.Authenticate()
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, sess)
}

// GetMode handles GET /api/v1/mode
func (h *AuthHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.modeResponse())
}

// SetMode handles PUT /api/v1/mode
func (h *AuthHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.mode.SetPreference(domain.Preference(req.Preference)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, h.modeResponse())
}

func (h *AuthHandler) modeResponse() ModeResponse {
	return ModeResponse{
		Mode:       h.mode.CurrentMode(),
		Preference: h.mode.Preference(),
		Connected:  h.mode.Connected(),
	}
}
