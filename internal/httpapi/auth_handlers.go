package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/authflow"
	"gatehouse.org/internal/password"
	"gatehouse.org/internal/session"
)

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	TOTPCode     string `json:"totp_code,omitempty"`
	RecoveryCode string `json:"recovery_code,omitempty"`
}

type loginResponse struct {
	Account                accountView `json:"account"`
	Token                  string      `json:"token"`
	ExpiresAt              time.Time   `json:"expires_at"`
	RecoveryCodesRemaining *int        `json:"recovery_codes_remaining,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := a.svc.Login(r.Context(), authflow.LoginInput{
		Email:        req.Email,
		Password:     req.Password,
		TOTPCode:     req.TOTPCode,
		RecoveryCode: req.RecoveryCode,
		ClientIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		a.loginError(w, r, err)
		return
	}

	if res.TwoFactorRequired {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":        "two-factor authentication required",
			"requires_2fa": true,
			"account_id":   res.AccountID,
		})
		return
	}

	token, expiresAt, err := a.sessions.Issue(res.Account.ID, res.Account.Role)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	resp := loginResponse{
		Account:   viewOf(res.Account),
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if res.RecoveryCodesRemaining >= 0 {
		remaining := res.RecoveryCodesRemaining
		resp.RecoveryCodesRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, resp)
}

// loginError maps authentication failures. Invalid credentials stay a
// uniform 401 body whether the email was unknown or the password wrong.
func (a *API) loginError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *authflow.LockedError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "account locked",
			"locked_until": locked.Until.Format(time.RFC3339),
			"retry_after":  int(time.Until(locked.Until).Seconds()),
		})
	case errors.Is(err, authflow.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authflow.ErrInvalidTwoFactorCode):
		writeError(w, r, http.StatusUnauthorized, "invalid two-factor code")
	case errors.Is(err, authflow.ErrInvalidRecoveryCode):
		writeError(w, r, http.StatusUnauthorized, "invalid recovery code")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !validEmail(req.Email) {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	res, err := a.svc.Register(r.Context(), authflow.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, account.ErrEmailTaken):
			writeError(w, r, http.StatusConflict, "email already registered")
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	body := map[string]any{"account": viewOf(res.Account)}
	if a.echoTokens {
		body["verification_token"] = res.VerificationToken
	}
	writeJSON(w, http.StatusCreated, body)
}

// handleLogout acknowledges the logout. Session tokens are stateless, so
// there is nothing to revoke server-side; clients discard the token.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

type emailRequest struct {
	Email string `json:"email"`
}

// genericTokenSent is the byte-identical response for known and unknown
// emails on the token-request routes.
const genericTokenSent = "if the account exists, an email has been sent"

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !validEmail(req.Email) {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}

	raw, err := a.svc.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	body := map[string]any{"message": genericTokenSent}
	if a.echoTokens && raw != "" {
		body["reset_token"] = raw
	}
	writeJSON(w, http.StatusOK, body)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "token and new_password are required")
		return
	}

	if err := a.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, authflow.ErrTokenInvalid):
			writeError(w, r, http.StatusBadRequest, "invalid or expired token")
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, authflow.ErrTokenInvalid) {
			writeError(w, r, http.StatusBadRequest, "invalid or expired token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "email verified"})
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !validEmail(req.Email) {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}

	raw, err := a.svc.ResendVerification(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, authflow.ErrAlreadyVerified) {
			writeError(w, r, http.StatusBadRequest, "email already verified")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	body := map[string]any{"message": genericTokenSent}
	if a.echoTokens && raw != "" {
		body["verification_token"] = raw
	}
	writeJSON(w, http.StatusOK, body)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := session.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	if err := a.svc.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, authflow.ErrWrongPassword):
			writeError(w, r, http.StatusBadRequest, "current password is incorrect")
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password changed"})
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
