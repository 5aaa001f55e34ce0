package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// IDENTITY RESOLVER - Bearer token to timeoff.Actor
// =============================================================================

// Claims carried by an access token. Subject is the user's uid.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for uid/email valid for ttl.
func SignToken(secret, uid, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies signature and expiry and returns the claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticator resolves the caller of every protected route.
type Authenticator struct {
	Secret        string
	AllowedDomain string
	Directory     timeoff.Directory
}

// Middleware rejects requests without a valid token for a known user of
// the allowed domain, and stores the resolved actor in the context.
//
//	missing_token      401  no "Bearer " authorization header
//	invalid_token      401  bad signature, expired, no email
//	domain_not_allowed 403  email outside AllowedDomain
//	user_not_allowed   403  email not in the directory
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeCode(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := ParseToken(a.Secret, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("auth_error")
			writeCode(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		email := strings.ToLower(strings.TrimSpace(claims.Email))
		if email == "" {
			writeCode(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if a.AllowedDomain != "" && !strings.HasSuffix(email, "@"+strings.ToLower(a.AllowedDomain)) {
			writeCode(w, http.StatusForbidden, "domain_not_allowed")
			return
		}

		person, err := a.Directory.ByEmail(r.Context(), email)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("auth_error")
			writeCode(w, http.StatusInternalServerError, "auth_error")
			return
		}
		if person == nil {
			writeCode(w, http.StatusForbidden, "user_not_allowed")
			return
		}

		uid := claims.Subject
		if uid == "" {
			uid = person.UID
		}
		actor := timeoff.Actor{
			UID:          uid,
			Email:        email,
			Role:         person.Role,
			DepartmentID: person.DepartmentID,
			DisplayName:  person.DisplayName,
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

type actorKey struct{}

func WithActor(ctx context.Context, actor timeoff.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by Authenticator.Middleware.
func ActorFrom(ctx context.Context) (timeoff.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(timeoff.Actor)
	return actor, ok
}
