package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/captcha"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/memory"
	"gatehouse.dev/internal/store/pg"
)

// devAdminPassword is installed for the admin user when running without a
// database.
const devAdminPassword = "admin123"

type app struct {
	api      *httpapi.API
	grpc     *httpapi.GRPCServer
	sessions *auth.SessionAuthority
	captcha  *captcha.Service
	closers  []func() error
	log      *zap.Logger
}

// buildApp wires stores and services from cfg.
func buildApp(cfg *config.Config, lg *zap.Logger) (*app, error) {
	a := &app{log: lg}

	var (
		creds auth.CredentialStore
		perms auth.PermissionStore
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		creds, perms, probe = store, store, httpapi.ReadyProbe{DB: store}
	} else {
		store := memory.New()
		scheme := auth.NewPasswordScheme(cfg.PasswordSalt)
		if err := store.AddIdentity(auth.Identity{
			ID:           1,
			Username:     "admin",
			PasswordHash: scheme.LegacyDigest(devAdminPassword),
			RoleCode:     cfg.AdminRole,
		}); err != nil {
			return nil, err
		}
		lg.Warn("no pg_dsn configured; using in-memory stores with a development admin account")
		creds, perms = store, store
	}

	minter, err := tokenMinter(cfg)
	if err != nil {
		return nil, err
	}
	sessionStore := auth.NewMemorySessionStore()
	a.closers = append(a.closers, sessionStore.Close)
	a.sessions, err = auth.NewSessionAuthority(sessionStore,
		auth.WithSessionTTL(cfg.SessionTTL.Std()),
		auth.WithTokenMinter(minter),
		auth.WithSessionLogger(lg.Named("sessions")),
	)
	if err != nil {
		return nil, err
	}

	puzzles := captcha.NewMemoryStore()
	a.captcha, err = captcha.New(puzzles, puzzles,
		captcha.WithChallengeTTL(cfg.Captcha.ChallengeTTL.Std()),
		captcha.WithTicketTTL(cfg.Captcha.TicketTTL.Std()),
		captcha.WithTolerance(cfg.Captcha.Tolerance),
		captcha.WithLogger(lg.Named("captcha")),
	)
	if err != nil {
		return nil, err
	}

	gw, err := auth.NewGateway(creds, a.sessions,
		auth.WithTickets(a.captcha, cfg.RequireCaptcha),
		auth.WithPasswordScheme(auth.NewPasswordScheme(cfg.PasswordSalt)),
		auth.WithGatewayLogger(lg.Named("gateway")),
	)
	if err != nil {
		return nil, err
	}
	graph, err := auth.NewPermissionGraph(perms, lg.Named("permissions"))
	if err != nil {
		return nil, err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a.api, err = httpapi.New(probe, obs.Version, httpapi.Services{
		Gateway:     gw,
		Sessions:    a.sessions,
		Permissions: graph,
		Captcha:     a.captcha,
	},
		httpapi.WithLogger(lg.Named("http")),
		httpapi.WithAdminRole(cfg.AdminRole),
		httpapi.WithRateLimit(cfg.Rate.Burst, cfg.Rate.PerSecond),
		httpapi.WithTrustedProxies(proxies),
	)
	if err != nil {
		return nil, err
	}
	a.grpc = httpapi.NewGRPCServer(probe, a.sessions, lg.Named("grpc"))
	return a, nil
}

func tokenMinter(cfg *config.Config) (auth.TokenMinter, error) {
	switch strings.ToLower(cfg.TokenFormat) {
	case config.TokenJWT:
		return auth.NewSignedTokens(cfg.TokenSecret, "gatehouse")
	case config.TokenOpaque, "":
		return auth.OpaqueTokens{}, nil
	default:
		return nil, fmt.Errorf("unknown token format %q", cfg.TokenFormat)
	}
}

// sweep runs one maintenance pass: expired sessions, captcha state, idle
// rate-limit buckets and the gRPC health status.
func (a *app) sweep(ctx context.Context) {
	if n, err := a.sessions.Sweep(ctx); err != nil {
		a.log.Error("session sweep failed", zap.Error(err))
	} else {
		obs.AddSessionsSwept(n)
		if n > 0 {
			a.log.Debug("swept sessions", zap.Int("count", n))
		}
	}
	if n, err := a.sessions.Active(ctx); err == nil {
		obs.SetActiveSessions(n)
	}
	if _, err := a.captcha.Sweep(ctx); err != nil {
		a.log.Error("captcha sweep failed", zap.Error(err))
	}
	a.api.Limiter().Prune()
	a.grpc.RefreshHealth(ctx)
}

// runSweeper calls sweep every interval until ctx is done.
func (a *app) runSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sweep(ctx)
		}
	}
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
