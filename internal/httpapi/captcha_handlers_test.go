package httpapi

import (
	"net/http"
	"strings"
	"testing"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/captcha"
)

func (c *apiClient) newPuzzle() captcha.Puzzle {
	c.t.Helper()
	env := decode[captcha.Puzzle](c.t, c.get("/api/v1/captcha/generate", nil, nil))
	if env.Code != http.StatusOK || env.Data.CaptchaID == "" {
		c.t.Fatalf("generate: %d %s", env.Code, env.Message)
	}
	return env.Data
}

func (c *apiClient) verify(id string, x int) envelopeOf[captcha.Verification] {
	c.t.Helper()
	return decode[captcha.Verification](c.t, c.post("/api/v1/captcha/verify", map[string]any{"captchaId": id, "sliderX": x}, nil))
}

func TestCaptchaGenerateAndVerify(t *testing.T) {
	c := newTestAPI(t)
	p := c.newPuzzle()
	if !strings.HasPrefix(p.BackgroundImage, "data:image/png;base64,") || !strings.HasPrefix(p.SliderImage, "data:image/png;base64,") {
		t.Fatalf("expected png data uris")
	}

	// Target is pinned at x=10; 13 is inside the tolerance.
	env := c.verify(p.CaptchaID, 13)
	if env.Code != http.StatusOK || !env.Data.Success || env.Data.Ticket == "" {
		t.Fatalf("expected success, got %d %+v", env.Code, env.Data)
	}
	if env.Data.Message != captcha.MessageVerified {
		t.Fatalf("message = %q", env.Data.Message)
	}

	again := c.verify(p.CaptchaID, 10)
	if again.Code != http.StatusBadRequest || again.Message != captcha.MessageExpired || again.Data.Success {
		t.Fatalf("expected the challenge to be gone, got %d %q", again.Code, again.Message)
	}
}

func TestCaptchaMismatchBurnsChallenge(t *testing.T) {
	c := newTestAPI(t)
	p := c.newPuzzle()

	miss := c.verify(p.CaptchaID, 100)
	if miss.Code != http.StatusBadRequest || miss.Message != captcha.MessageMismatch {
		t.Fatalf("expected mismatch, got %d %q", miss.Code, miss.Message)
	}
	if miss.Data.Ticket != "" {
		t.Fatalf("mismatch must not carry a ticket")
	}
	if retry := c.verify(p.CaptchaID, 10); retry.Message != captcha.MessageExpired {
		t.Fatalf("expected expired after a failed attempt, got %q", retry.Message)
	}
}

func TestCaptchaVerifyRequiresSliderX(t *testing.T) {
	c := newTestAPI(t)
	p := c.newPuzzle()
	env := decode[any](t, c.post("/api/v1/captcha/verify", map[string]any{"captchaId": p.CaptchaID}, nil))
	if env.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", env.Code)
	}
	// The challenge was not consumed by the malformed request.
	if ok := c.verify(p.CaptchaID, 10); !ok.Data.Success {
		t.Fatalf("expected the challenge to survive, got %q", ok.Message)
	}
}

func TestLoginWithRequiredCaptcha(t *testing.T) {
	c := newTestAPIWith(t, testConfig{requireCaptcha: true})

	missing := decode[any](t, c.post("/api/v1/auth/login", map[string]string{"username": "admin", "password": "admin123"}, nil))
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a ticket, got %d", missing.Code)
	}

	p := c.newPuzzle()
	ticket := c.verify(p.CaptchaID, 10).Data.Ticket
	body := map[string]string{"username": "admin", "password": "admin123", "captchaToken": ticket}

	ok := decode[auth.LoginResult](t, c.post("/api/v1/auth/login", body, nil))
	if ok.Code != http.StatusOK || ok.Data.Token == "" {
		t.Fatalf("expected login with ticket, got %d %q", ok.Code, ok.Message)
	}

	replay := decode[any](t, c.post("/api/v1/auth/login", body, nil))
	if replay.Code != http.StatusBadRequest || replay.Message != "captcha ticket invalid" {
		t.Fatalf("expected replayed ticket to fail, got %d %q", replay.Code, replay.Message)
	}
}
