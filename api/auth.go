/*
auth.go - Bearer-token authentication middleware

PURPOSE:
  The platform trusts an external identity provider: every request
  carries a signed JWT whose subject is the caller's account id and
  whose "role" claim names the platform role. This file validates the
  token, stashes the identity in the request context, and gates
  staff-only routes.

TOKEN FORMAT:
  HS256, shared-secret. Claims:
    sub:  account id (required)
    role: student | teacher | council | admin | kiosk (required)
    exp:  expiry (enforced by the jwt library)

SEE ALSO:
  - server.go: Middleware ordering
  - handlers.go: identity(r) consumers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lakshop/points-engine/ledger"
)

// Identity is the authenticated caller, extracted from the token.
type Identity struct {
	AccountID ledger.AccountID
	Role      ledger.Role
}

type contextKey string

const identityKey contextKey = "identity"

// identity returns the caller stored by the Authenticator middleware.
func identity(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey).(Identity)
	return id
}

// Authenticator validates the Authorization bearer token and puts the
// caller's Identity on the request context. Requests without a valid
// token get 401.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}

			sub, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			if sub == "" || role == "" {
				writeError(w, http.StatusUnauthorized, "Token missing sub or role claim", nil)
				return
			}

			id := Identity{AccountID: ledger.AccountID(sub), Role: ledger.Role(role)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireStaff rejects callers whose role cannot operate grant or POS
// flows.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identity(r).Role.Staff() {
			writeError(w, http.StatusForbidden, "Staff role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken mints a token for the given identity. Used by the dev
// server and by tests; production tokens come from the identity
// provider.
func IssueToken(secret []byte, accountID ledger.AccountID, role ledger.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  string(accountID),
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
