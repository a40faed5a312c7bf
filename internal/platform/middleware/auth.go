package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/httputil"
	"vaultline/pkg/requestcontext"
)

// OperatorValidator validates admin bearer tokens.
type OperatorValidator interface {
	ValidateToken(tokenString string) (*OperatorClaims, error)
}

// OperatorClaims are the claims the admin API relies on.
type OperatorClaims struct {
	Subject string
	Role    string
}

type contextKeyOperator struct{}

// GetOperator retrieves the authenticated operator subject from the context.
func GetOperator(ctx context.Context) string {
	subject, ok := ctx.Value(contextKeyOperator{}).(string)
	if !ok {
		return ""
	}
	return subject
}

// RequireRole rejects requests without a valid bearer token carrying role.
// The operator subject becomes the audit actor for the request.
func RequireRole(validator OperatorValidator, role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			if claims.Role != role {
				logger.WarnContext(ctx, "forbidden - missing role",
					"required_role", role,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}

			ctx = context.WithValue(ctx, contextKeyOperator{}, claims.Subject)
			ctx = requestcontext.WithActor(ctx, "operator:"+claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
