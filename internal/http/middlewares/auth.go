package middlewares

import (
	"net/http"

	httperrors "github.com/dropDatabas3/cfihub/internal/http/errors"
)

// RequireAuth exige un token CFI vigente en la sesión. Un token vencido se
// informa como sesión expirada (401) para que el cliente vuelva a loguearse.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := GetState(r.Context())
			if st == nil {
				httperrors.WriteError(w, httperrors.ErrSessionExpired)
				return
			}
			if _, ok := st.Tokens.Token(); !ok {
				httperrors.WriteError(w, httperrors.ErrSessionExpired)
				return
			}
			if _, ok := st.Identity(); !ok {
				httperrors.WriteError(w, httperrors.ErrSessionExpired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant exige un tenant activo. Va después de RequireAuth.
func RequireTenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := GetState(r.Context())
			if st == nil || !st.Tenant.Has() {
				httperrors.WriteError(w, httperrors.ErrNoTenant)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
