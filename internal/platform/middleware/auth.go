package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"captrack/pkg/domain"
	dErrors "captrack/pkg/domain-errors"
	"captrack/pkg/platform/httputil"
	"captrack/pkg/requestcontext"
)

// principalClaims is the token shape issued by the identity provider. The
// subject is the user id; role and groups are custom claims.
type principalClaims struct {
	Role   string   `json:"role"`
	Groups []string `json:"groups"`
	jwt.RegisteredClaims
}

// TokenValidator verifies HS256 bearer tokens and reconstructs the principal.
type TokenValidator struct {
	signingKey []byte
}

func NewTokenValidator(signingKey string) *TokenValidator {
	return &TokenValidator{signingKey: []byte(signingKey)}
}

// Validate parses and verifies a token, returning the principal it asserts.
// Role and ids are validated here, at the trust boundary; downstream code
// treats the principal as well-formed.
func (v *TokenValidator) Validate(tokenString string) (domain.Principal, error) {
	var claims principalClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return v.signingKey, nil
	})
	if err != nil || !token.Valid {
		return domain.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	userID, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return domain.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a valid user id")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return domain.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token carries an unknown role")
	}
	groups := make([]domain.GroupID, 0, len(claims.Groups))
	for _, raw := range claims.Groups {
		g, err := domain.ParseGroupID(raw)
		if err != nil {
			return domain.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token carries an invalid group id")
		}
		groups = append(groups, g)
	}

	p, err := domain.NewPrincipal(userID, role, groups)
	if err != nil {
		return domain.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid principal")
	}
	return p, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// principal in the context.
func RequireAuth(validator *TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					slog.String("request_id", requestcontext.RequestID(ctx)))
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			p, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					slog.String("error", err.Error()),
					slog.String("request_id", requestcontext.RequestID(ctx)))
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(ctx, p)))
		})
	}
}
