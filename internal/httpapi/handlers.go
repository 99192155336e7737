package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/credflow"
	"github.com/MrEthical07/credflow/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type handler struct {
	engine  *credflow.Engine
	logger  *zap.Logger
	cookies cookieConfig
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	OTP        string `json:"otp"`
	ResetToken string `json:"reset_token"`
}

type resetPasswordRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	ResetToken string `json:"reset_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type blacklistRequest struct {
	Emails []string `json:"emails"`
}

type accessResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	TokenType       string    `json:"token_type"`
}

type resetChallengeResponse struct {
	ExpiresAt  time.Time `json:"expires_at"`
	OTP        string    `json:"otp,omitempty"`
	ResetToken string    `json:"reset_token,omitempty"`
	Link       string    `json:"link,omitempty"`
}

type verifiedResetResponse struct {
	Email      string `json:"email"`
	ResetToken string `json:"reset_token"`
}

type meResponse struct {
	UserID        string   `json:"user_id"`
	Email         string   `json:"email"`
	RoleID        string   `json:"role_id,omitempty"`
	PermissionIDs []string `json:"permission_ids,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Health(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "session store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) requestSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := h.engine.RequestSignup(r.Context(), req.Email, req.Password); err != nil {
		h.writeEngineError(w, r, "request_signup", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// verifySignup accepts the token as a query parameter (email link) or in a
// JSON body.
func (h *handler) verifySignup(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" && r.Method == http.MethodPost {
		var req tokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
		token = req.Token
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "token required")
		return
	}

	userID, err := h.engine.VerifySignup(r.Context(), token)
	if err != nil {
		h.writeEngineError(w, r, "verify_signup", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

func (h *handler) signin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	pair, err := h.engine.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeEngineError(w, r, "signin", err)
		return
	}
	h.writePair(w, pair)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	userID, refreshToken := sessionCookies(r)
	pair, err := h.engine.Refresh(r.Context(), userID, refreshToken)
	if err != nil {
		if credflow.KindOf(err) == credflow.KindForbidden {
			h.cookies.clear(w)
		}
		h.writeEngineError(w, r, "refresh", err)
		return
	}
	h.writePair(w, pair)
}

// signout revokes the session named by the uid cookie. Without the cookie
// the engine rejects the call with 400.
func (h *handler) signout(w http.ResponseWriter, r *http.Request) {
	userID, _ := sessionCookies(r)
	if err := h.engine.Signout(r.Context(), userID); err != nil {
		h.writeEngineError(w, r, "signout", err)
		return
	}
	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	challenge, err := h.engine.RequestReset(r.Context(), req.Email)
	if err != nil {
		h.writeEngineError(w, r, "request_reset", err)
		return
	}
	writeJSON(w, http.StatusAccepted, resetChallengeResponse{
		ExpiresAt:  challenge.ExpiresAt,
		OTP:        challenge.OTP,
		ResetToken: challenge.ResetToken,
		Link:       challenge.Link,
	})
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	verified, err := h.engine.VerifyOTP(r.Context(), req.OTP, req.ResetToken)
	if err != nil {
		h.writeEngineError(w, r, "verify_otp", err)
		return
	}
	writeJSON(w, http.StatusOK, verifiedResetResponse{Email: verified.Email, ResetToken: verified.ResetToken})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.Email, req.Password, req.ResetToken); err != nil {
		h.writeEngineError(w, r, "reset_password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		UserID:        claims.UserID,
		Email:         claims.Email,
		RoleID:        claims.RoleID,
		PermissionIDs: claims.PermissionIDs,
	})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.engine.ChangePassword(r.Context(), claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.writeEngineError(w, r, "change_password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) blacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := h.engine.Blacklist(r.Context(), req.Emails); err != nil {
		h.writeEngineError(w, r, "blacklist", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) blacklistAll(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.BlacklistAll(r.Context()); err != nil {
		h.writeEngineError(w, r, "blacklist_all", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writePair(w http.ResponseWriter, pair credflow.TokenPair) {
	h.cookies.set(w, pair.UserID, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, accessResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		TokenType:       "Bearer",
	})
}
