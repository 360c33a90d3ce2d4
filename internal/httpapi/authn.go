package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
)

const authHeader = "Authorization"

type sessionErrKey struct{}

// withAuth resolves a bearer token, when one is sent, into a principal on
// the request context. It never rejects; routes that need a session are
// wrapped with requireSession. A failed session lookup is logged and left on
// the context for requireSession, so logout still goes through.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := auth.StripBearer(r.Header.Get(authHeader))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		s, ok, err := a.svc.Sessions.Validate(r.Context(), token)
		ctx := auth.ContextWithToken(r.Context(), token)
		if err != nil {
			a.log.Warn("session lookup failed",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Error(err))
			ctx = context.WithValue(ctx, sessionErrKey{}, err)
		} else if ok {
			ctx = auth.ContextWithPrincipal(ctx, auth.PrincipalFromSession(s))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err, ok := r.Context().Value(sessionErrKey{}).(error); ok {
			a.respondErr(w, r, err)
			return
		}
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			msg := "missing bearer token"
			if _, sent := auth.TokenFromContext(r.Context()); sent {
				msg = "session expired or revoked"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequireRole(r.Context(), a.adminRole); err != nil {
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				a.log.Warn("admin route denied",
					zap.String("username", p.Username),
					zap.String("role", p.Role),
					zap.String("path", r.URL.Path))
			}
			a.respondErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerHeader rebuilds the Authorization value the gateway expects.
func bearerHeader(r *http.Request) string {
	if tok, ok := auth.TokenFromContext(r.Context()); ok {
		return auth.TokenTypeBearer + " " + tok
	}
	return strings.TrimSpace(r.Header.Get(authHeader))
}
