package httpapi

import (
	"errors"
	"net/http"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type captchaVerifyRequest struct {
	CaptchaID string `json:"captchaId"`
	SliderX   *int   `json:"sliderX"`
}

func (a *API) handleCaptchaGenerate(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Captcha.Generate(r.Context())
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, p)
}

// handleCaptchaVerify answers 400 on a failed attempt, carrying the
// verification body so the widget can show the message.
func (a *API) handleCaptchaVerify(w http.ResponseWriter, r *http.Request) {
	var req captchaVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondErr(w, r, err)
		return
	}
	if req.SliderX == nil {
		writeError(w, r, http.StatusBadRequest, "sliderX is required")
		return
	}
	v, err := a.svc.Captcha.Verify(r.Context(), req.CaptchaID, *req.SliderX)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if !v.Success {
		obs.RecordCaptcha(captchaOutcome(v.Reason))
		writeJSON(w, http.StatusBadRequest, envelope{
			Code:      http.StatusBadRequest,
			Message:   v.Message,
			Data:      v,
			RequestID: RequestIDFromContext(r.Context()),
		})
		return
	}
	obs.RecordCaptcha("success")
	writeResult(w, r, v)
}

func captchaOutcome(reason error) string {
	if errors.Is(reason, auth.ErrCaptchaExpired) {
		return "expired"
	}
	return "mismatch"
}
