// Package middleware adapts the engine to net/http handler chains.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cermont-atg/authcore"
)

// AccessCookieName is the fallback token source when no Authorization
// header is present.
const AccessCookieName = "access_token"

type verifiedContextKey struct{}

// Verifier is the subset of the engine the guard needs.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) (*authcore.VerifiedToken, error)
}

// Guard authenticates requests before passing them on. The access token is
// read from the Authorization Bearer header, falling back to the
// access_token cookie.
type Guard struct {
	verifier Verifier

	// OnError overrides the default 401 response.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// NewGuard wraps a verifier, usually the [authcore.Engine].
func NewGuard(v Verifier) *Guard {
	return &Guard{verifier: v}
}

// Wrap returns a handler that rejects unauthenticated requests and injects
// the verified token into the request context for [FromContext].
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			g.fail(w, r, errors.New("missing access token"))
			return
		}

		ctx := authcore.WithClientIP(r.Context(), remoteIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())

		verified, err := g.verifier.Verify(ctx, raw)
		if err != nil {
			g.fail(w, r, err)
			return
		}

		ctx = context.WithValue(ctx, verifiedContextKey{}, verified)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole layers a role check on top of [Guard.Wrap].
func (g *Guard) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return g.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verified, ok := FromContext(r.Context())
			if !ok {
				g.fail(w, r, errors.New("missing verified token"))
				return
			}
			if _, ok := allowed[verified.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// FromContext returns the verified token injected by [Guard.Wrap].
func FromContext(ctx context.Context) (*authcore.VerifiedToken, bool) {
	verified, ok := ctx.Value(verifiedContextKey{}).(*authcore.VerifiedToken)
	return verified, ok
}

func (g *Guard) fail(w http.ResponseWriter, r *http.Request, err error) {
	if g.OnError != nil {
		g.OnError(w, r, err)
		return
	}

	switch {
	case errors.Is(err, authcore.ErrAccountLocked):
		http.Error(w, "account locked", http.StatusForbidden)
	case errors.Is(err, authcore.ErrAccountInactive):
		http.Error(w, "account inactive", http.StatusForbidden)
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok && after != "" {
		return after
	}

	cookie, err := r.Cookie(AccessCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func remoteIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}
