package httpapi

import (
	"errors"
	"net/http"

	"gatehouse.org/internal/authflow"
	"gatehouse.org/internal/session"
)

type twoFactorSetupRequest struct {
	Password string `json:"password"`
}

func (a *API) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := session.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req twoFactorSetupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	res, err := a.svc.SetupTwoFactor(r.Context(), accountID, req.Password)
	if err != nil {
		a.twoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":      res.Secret,
		"otpauth_url": res.OTPAuthURL,
	})
}

type twoFactorVerifyRequest struct {
	Code string `json:"code"`
}

func (a *API) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := session.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req twoFactorVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	res, err := a.svc.VerifyTwoFactor(r.Context(), accountID, req.Code)
	if err != nil {
		a.twoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recovery_codes": res.RecoveryCodes,
		"warning":        res.Warning,
	})
}

type twoFactorDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (a *API) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := session.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req twoFactorDisableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "password and code are required")
		return
	}

	if err := a.svc.DisableTwoFactor(r.Context(), accountID, req.Password, req.Code); err != nil {
		a.twoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "two-factor disabled"})
}

type recoveryCodesRequest struct {
	Password string `json:"password"`
}

func (a *API) handleRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	accountID, _, ok := session.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req recoveryCodesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	res, err := a.svc.RegenerateRecoveryCodes(r.Context(), accountID, req.Password)
	if err != nil {
		a.twoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recovery_codes": res.RecoveryCodes,
		"warning":        res.Warning,
	})
}

// twoFactorError maps 2FA management failures. On these routes a rejected
// password or code is a 400, not a 401: the caller is already authenticated
// and the status signals a bad request payload, not a missing session.
func (a *API) twoFactorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authflow.ErrWrongPassword):
		writeError(w, r, http.StatusBadRequest, "password is incorrect")
	case errors.Is(err, authflow.ErrInvalidTwoFactorCode):
		writeError(w, r, http.StatusBadRequest, "invalid two-factor code")
	case errors.Is(err, authflow.ErrTwoFactorAlreadyEnabled):
		writeError(w, r, http.StatusBadRequest, "two-factor authentication is already enabled")
	case errors.Is(err, authflow.ErrTwoFactorNotEnabled):
		writeError(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
	case errors.Is(err, authflow.ErrTwoFactorNotPending):
		writeError(w, r, http.StatusBadRequest, "two-factor enrollment has not been started")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
