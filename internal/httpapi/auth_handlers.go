package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type loginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		obs.RecordLogin("invalid")
		a.respondErr(w, r, err)
		return
	}
	res, err := a.svc.Gateway.Login(r.Context(), req.Username, req.Password, req.CaptchaToken)
	if err != nil {
		obs.RecordLogin(loginOutcome(err))
		a.respondErr(w, r, err)
		return
	}
	obs.RecordLogin("success")
	writeResult(w, r, res)
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return "invalid"
	case errors.Is(err, auth.ErrTicketInvalid):
		return "captcha"
	case errors.Is(err, auth.ErrAuthFailed):
		return "rejected"
	default:
		return "error"
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Gateway.Logout(r.Context(), bearerHeader(r)); err != nil {
		// Logout always reports success to the caller.
		a.log.Warn("logout failed", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
	}
	writeResult(w, r, nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Gateway.WhoAmI(r.Context(), bearerHeader(r))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, res)
}
