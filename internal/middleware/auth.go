package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wheelhouse/rentpay/internal/auth"
)

// Authenticate returns a middleware that validates the Bearer token and
// stores the caller's organization ID in the request context. Requests
// without a valid access token are rejected before reaching handlers;
// tenant scoping downstream relies on this.
func Authenticate(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeAuthError(w, r, "missing bearer token")
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			if err != nil {
				writeAuthError(w, r, "invalid or expired token")
				return
			}

			ctx := SetOrgID(r.Context(), claims.OrgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	SetErrorCode(r.Context(), "auth_failed")

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": "auth_failed", "message": message},
	})
}
