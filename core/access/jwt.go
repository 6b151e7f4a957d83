package access

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/succeedex/modelapi/core/logger"
	"github.com/succeedex/modelapi/core/response"
)

// Resolver turns an authenticated token subject into the caller's
// authorization, typically by looking up the user record. A nil
// authorization with a nil error means the subject no longer exists.
type Resolver func(ctx context.Context, subject string) (*Authorization, error)

// Claims is the token payload. The subject is the user's record
// identifier.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JwtMiddlewareBuilder is a helper builder for the JWT middleware.
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC signing secret shared with token issuance.
	Secret string
	// Issuer is the accepted issuer for the token.
	Issuer string
	// Resolve maps a verified token subject to an authorization. When
	// nil, the authorization is built from the token claims alone.
	Resolve Resolver
}

// NewToken issues a signed bearer token for the given user.
func NewToken(secret, issuer, userID, role string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies a bearer token and returns its claims.
func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, errors.New("invalid token issuer")
	}
	return claims, nil
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// token.
//
// Tokens are accepted as "Authorization: Bearer" header. A request
// without a token passes through unauthenticated; the policy gate in
// the route handlers decides whether that is acceptable. A request
// with an invalid token is rejected right away.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {

	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r) // already authorized
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
				tokenString = bearer[7:]
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			rlog := logger.FromContext(r.Context())

			claims, err := ParseToken(jmb.Secret, jmb.Issuer, tokenString)
			if err != nil {
				response.Unauthenticated(w, r)
				return
			}

			// lookup by token string, not by subject, so a fresh token
			// always enforces a fresh database lookup
			auth := authCache.Read(tokenString)
			if auth == nil {
				if jmb.Resolve != nil {
					auth, err = jmb.Resolve(r.Context(), claims.Subject)
					if err != nil {
						rlog.WithError(err).Errorln("Error 4712: cannot resolve token subject")
						response.Unexpected(w, r, "Error 4712")
						return
					}
					if auth == nil {
						response.Unauthenticated(w, r)
						return
					}
				} else {
					auth = &Authorization{ID: claims.Subject, Role: claims.Role}
				}
				authCache.Write(tokenString, auth)
			}

			ctx := auth.ContextWithAuthorization(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.ID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
