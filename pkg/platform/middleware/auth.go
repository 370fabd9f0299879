package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "phonegate/pkg/domain"
	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/httputil"
	"phonegate/pkg/requestcontext"
)

// principalClaims are the claims issued by the external auth service. The
// core trusts them after signature verification; it performs no further
// authentication.
type principalClaims struct {
	Role     string `json:"role"`
	ParentID string `json:"parent_id,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth verifies the bearer token and injects the authenticated
// principal into the request context.
func RequireAuth(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`))
				return
			}

			principal, err := parsePrincipal(token, signingKey)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, principal)))
		})
	}
}

func parsePrincipal(token string, signingKey []byte) (id.Principal, error) {
	var claims principalClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return signingKey, nil
	})
	if err != nil {
		return id.Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return id.Principal{}, fmt.Errorf("token is not valid")
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return id.Principal{}, fmt.Errorf("parse subject: %w", err)
	}
	role := id.Role(claims.Role)
	if !role.Valid() {
		return id.Principal{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	principal := id.Principal{ID: subject, Role: role}
	if claims.ParentID != "" {
		parent, err := uuid.Parse(claims.ParentID)
		if err != nil {
			return id.Principal{}, fmt.Errorf("parse parent id: %w", err)
		}
		principal.ParentID = parent
	}
	return principal, nil
}

// RequirePrincipal guards routes that must only run with a principal in
// context. It backstops misconfigured route wiring, not authentication.
func RequirePrincipal(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := requestcontext.Principal(ctx); !ok {
				logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
