package api

import (
	"context"
	"net/http"
	"strings"

	"evfleet/internal/auth"
)

type ctxKeyPrincipal struct{}

// getPrincipal resolves the caller from the Authorization header, or the
// access_token query parameter for browser EventSource and WebSocket
// clients that cannot set headers.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	tok := ""
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	if tok == "" {
		return s.Auth.Anonymous()
	}
	return s.Auth.Verify(tok)
}

// require rejects callers below role with 401 or 403.
func (s *Server) require(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.getPrincipal(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="evfleet"`)
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		if !p.Can(role) {
			writeProblem(w, http.StatusForbidden, "Forbidden", role+" role required", r.URL.Path)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	}
}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}
