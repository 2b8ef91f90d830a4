package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/installment-ledger/rbac"
)

type ctxKey int

const rolesKey ctxKey = iota

// Claims is the token payload. Only roles are read; issuing tokens is left
// to the identity provider.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Auth verifies bearer tokens and checks grants. A nil *Auth disables both.
type Auth struct {
	Secret     []byte
	Authorizer rbac.Authorizer
}

func NewAuth(secret string, authz rbac.Authorizer) *Auth {
	if authz == nil {
		authz = rbac.AllowAll
	}
	return &Auth{Secret: []byte(secret), Authorizer: authz}
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// ParseToken validates an HS256 token and returns its claims.
func (a *Auth) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// Authenticate puts the token's roles in the request context. Requests
// without a valid token get 401.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", errMissingToken)
			return
		}
		claims, err := a.ParseToken(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required", err)
			return
		}
		ctx := context.WithValue(r.Context(), rolesKey, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require returns middleware that answers 403 unless the caller's roles
// allow action on resource.
func (a *Auth) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Authorizer.Can(RolesFrom(r.Context()), resource, action) {
				writeError(w, http.StatusForbidden, "Forbidden",
					fmt.Errorf("requires %s:%s", resource, action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RolesFrom returns the roles Authenticate stored in ctx.
func RolesFrom(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}
