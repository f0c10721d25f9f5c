package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"greenledger/crypto"
)

type contextKey string

const callerKey contextKey = "gateway.caller"

var errNoCaller = errors.New("gateway: no authenticated caller in context")

// authClaims is the token payload: the subject carries the caller's bech32
// account address.
type authClaims struct {
	jwt.RegisteredClaims
}

// authenticate verifies the bearer token and stashes the caller address in
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		claims := &authClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(30*time.Second))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		caller, err := crypto.DecodeAddress(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "token subject is not a valid address")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates a subtree on role membership of the authenticated caller.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := callerFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ok, err := s.roles.Has(role, caller)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "role lookup failed")
				return
			}
			if !ok {
				writeError(w, http.StatusForbidden, "caller lacks required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerFromContext(ctx context.Context) (crypto.Address, error) {
	caller, ok := ctx.Value(callerKey).(crypto.Address)
	if !ok {
		return crypto.Address{}, errNoCaller
	}
	return caller, nil
}
