package frontend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/flowbench-org/flowbench/internal/cmn/apperr"
	"github.com/flowbench-org/flowbench/internal/cmn/config"
)

type userCtxKey struct{}

// Auth verifies bearer tokens and resolves the calling user. Identity
// lives in the token's subject claim; browsers cannot set headers on
// WebSocket upgrades, so those carry the token as a query parameter.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth creates an Auth from config.
func NewAuth(cfg config.Auth) *Auth {
	return &Auth{secret: []byte(cfg.Secret), ttl: cfg.TokenTTL}
}

// Issue mints a signed token for userID.
func (a *Auth) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	})
	return token.SignedString(a.secret)
}

// verify parses the token and returns the user id from its subject.
func (a *Auth) verify(raw string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Newf(apperr.CodeUnauthorized,
				"unexpected signing method %s", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, apperr.Wrap(apperr.CodeUnauthorized, "invalid token", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, apperr.New(apperr.CodeUnauthorized, "token carries no subject")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.Wrap(apperr.CodeUnauthorized, "invalid token subject", err)
	}
	return userID, nil
}

// tokenFromRequest extracts the bearer token from the Authorization
// header, falling back to the token query parameter.
func tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if raw, ok := strings.CutPrefix(header, "Bearer "); ok {
		return raw
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token and stores the
// user id in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}
		userID, err := a.verify(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user of the request.
func userID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userCtxKey{}).(uuid.UUID)
	return id
}
