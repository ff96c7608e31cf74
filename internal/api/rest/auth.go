package rest

import (
	"net/http"
	"strings"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/auth"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
)

// authenticate requires a valid bearer token and, when AllowedRoles is set,
// one of those roles. The principal is stored on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sar"`)
			s.writeError(w, r, errors.NewUnauthorizedError("bearer token required"))
			return
		}

		p, err := s.deps.Auth.ValidateToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sar", error="invalid_token"`)
			s.writeError(w, r, err)
			return
		}
		if len(s.cfg.AllowedRoles) > 0 && !p.HasAnyRole(s.cfg.AllowedRoles) {
			s.writeError(w, r, errors.NewForbiddenError("token carries no permitted role"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// actor names who is acting: the token subject, else the actor query
// parameter, else the system user.
func actor(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.Subject
	}
	if a := r.URL.Query().Get("actor"); a != "" {
		return a
	}
	return claimgen.SystemUser
}
