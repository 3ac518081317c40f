package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/chainsafe/nft-migration-relay/pkg/app/errors"
)

// AdminIssuer is the issuer expected on operator tokens.
const AdminIssuer = "nft-migration-relay"

type contextKey string

const contextKeySubject contextKey = "admin_subject"

// SubjectFromContext returns the subject of the operator token that
// authorized the request.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(contextKeySubject).(string)
	return sub, ok
}

// ValidateAdminToken parses an HS256 bearer token signed with secret.
func ValidateAdminToken(tokenString string, secret []byte) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(AdminIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireAdmin rejects requests without a valid operator bearer token. An
// empty secret disables the protected routes entirely.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				DefaultErrorHandler(w, apperrors.ForbiddenError(nil, "admin endpoints disabled"))
				return
			}
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "bearer token required"))
				return
			}
			claims, err := ValidateAdminToken(tokenString, []byte(secret))
			if err != nil {
				DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid token"))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
