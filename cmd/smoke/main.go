package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/sessionclient"
)

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId"`
}

func main() {
	base := envOr("GATEHOUSE_SMOKE_URL", "http://localhost:8080")
	grpcAddr := envOr("GATEHOUSE_GRPC_ADDR", "localhost:9091")
	user := envOr("GATEHOUSE_SMOKE_USER", "admin")
	pass := envOr("GATEHOUSE_SMOKE_PASSWORD", "admin123")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hc := &http.Client{Timeout: 5 * time.Second}

	if _, err := call(ctx, hc, http.MethodGet, base+"/healthz", "", nil); err != nil {
		log.Fatalf("healthz: %v", err)
	}

	env, err := call(ctx, hc, http.MethodPost, base+"/api/v1/auth/login", "",
		map[string]string{"username": user, "password": pass})
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	var login auth.LoginResult
	if err := json.Unmarshal(env.Data, &login); err != nil {
		log.Fatalf("decode login: %v", err)
	}
	bearer := "Bearer " + login.Token

	env, err = call(ctx, hc, http.MethodGet, base+"/api/v1/auth/me", bearer, nil)
	if err != nil {
		log.Fatalf("me: %v", err)
	}
	var me auth.LoginResult
	if err := json.Unmarshal(env.Data, &me); err != nil {
		log.Fatalf("decode me: %v", err)
	}
	if me.Username != user {
		log.Fatalf("me returned %q, expected %q", me.Username, user)
	}

	client, err := sessionclient.Dial(grpcAddr)
	if err != nil {
		log.Fatalf("dial gatehouse grpc at %s: %v", grpcAddr, err)
	}
	defer client.Close()

	rpcCtx := sessionclient.WithRequestID(ctx, env.RequestID)
	id, err := client.Validate(rpcCtx, login.Token)
	if err != nil {
		log.Fatalf("grpc validate: %v", err)
	}
	if id.UserID != login.UserID {
		log.Fatalf("grpc validate returned user %d, expected %d", id.UserID, login.UserID)
	}

	if _, err := call(ctx, hc, http.MethodPost, base+"/api/v1/auth/logout", bearer, nil); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if _, err := client.Validate(rpcCtx, login.Token); !errors.Is(err, auth.ErrUnauthenticated) {
		log.Fatalf("token still valid after logout: %v", err)
	}

	fmt.Printf("✅ gatehouse smoke test passed: user=%s id=%d\n", me.Username, me.UserID)
}

func call(ctx context.Context, hc *http.Client, method, url, bearer string, body any) (envelope, error) {
	var env envelope
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return env, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return env, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return env, fmt.Errorf("status %d", resp.StatusCode)
	}
	// healthz answers plain JSON; its fields just leave env empty.
	err = json.NewDecoder(resp.Body).Decode(&env)
	return env, err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
