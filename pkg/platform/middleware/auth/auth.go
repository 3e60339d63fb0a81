// Package auth authenticates callers of the access API.
//
// The service sits behind a trusted gateway that forwards the caller's
// identity in X-Principal. When an API token is configured, the header is only
// honoured together with a matching X-Api-Token.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	id "jitaccess/pkg/domain"
	request "jitaccess/pkg/platform/middleware/request"
	"jitaccess/pkg/requestcontext"
)

const (
	HeaderPrincipal = "X-Principal"
	HeaderAPIToken  = "X-Api-Token"
)

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequirePrincipal rejects calls without a valid principal and stores the
// principal in the request context. An empty apiToken disables the token check.
func RequirePrincipal(apiToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequirePrincipalWith(NewTokenMatcher(apiToken, ""), logger)
}

// RequirePrincipalWith is RequirePrincipal with an explicit token matcher, so
// the shared token can be configured as a bcrypt hash.
func RequirePrincipalWith(tokens *TokenMatcher, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			if tokens.Enabled() && !tokens.Match(r.Header.Get(HeaderAPIToken)) {
				logger.WarnContext(ctx, "unauthorized access - api token mismatch",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "valid api token required")
				return
			}

			principal, err := id.ParsePrincipal(r.Header.Get(HeaderPrincipal))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - missing principal",
					"request_id", requestID,
					"error", err,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "X-Principal header required")
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
