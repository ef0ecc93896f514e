package oauth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// IdentityFromContext returns the authenticated identity injected by the
// middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// ContextWithIdentity attaches an identity to the context. Exposed for
// tests and in-process callers that bypass HTTP.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// Middleware validates the bearer token and injects the resulting
// identity into the request context. Requests without a valid token get
// 401 with a WWW-Authenticate challenge.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		identity, err := s.Verify(token)
		if err != nil {
			s.logger.Debug("rejecting bearer token", "error", err)
			unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeError(w, http.StatusUnauthorized, "invalid_token", description)
}
