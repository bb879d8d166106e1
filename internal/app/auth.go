package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Spok95/ct-filing/internal/ctxutil"
)

// Права на изменяющие операции.
const (
	PermTypesWrite        = "ct.types.write"
	PermPeriodsWrite      = "ct.periods.write"
	PermPeriodsDelete     = "ct.periods.delete"
	PermConversionsWrite  = "ct.conversions.write"
	PermConversionsDelete = "ct.conversions.delete"
	PermStepsWrite        = "ct.steps.write"
	PermExport            = "ct.export"

	RoleAdmin = "admin"
)

type Claims struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func (c *Claims) Has(action string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Roles, RoleAdmin) || slices.Contains(c.Permissions, action)
}

type claimsKey struct{}

func withClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// Authorizer: проверка прав вызывающего.
type Authorizer interface {
	HasPermission(ctx context.Context, action string) bool
}

// ClaimsAuthorizer решает по правам из токена текущего запроса.
type ClaimsAuthorizer struct{}

func (ClaimsAuthorizer) HasPermission(ctx context.Context, action string) bool {
	c, ok := ClaimsFrom(ctx)
	return ok && c.Has(action)
}

// Auth выпускает и проверяет HS256-токены. Skip включает dev-режим без токенов.
type Auth struct {
	secret []byte
	skip   bool
	ttl    time.Duration
}

func NewAuth(secret string, skip bool) *Auth {
	return &Auth{secret: []byte(secret), skip: skip, ttl: 72 * time.Hour}
}

var errBadToken = errors.New("invalid token")

func (a *Auth) Issue(userID string, roles, permissions []string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errBadToken
	}
	return claims, nil
}

// Middleware кладёт claims и user_id в контекст запроса.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var claims *Claims
		if a.skip {
			claims = &Claims{UserID: "dev-admin", Roles: []string{RoleAdmin}}
		} else {
			h := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(h, "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authorization header required"})
				return
			}
			c, err := a.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
				return
			}
			claims = c
		}
		ctx := ctxutil.WithUserID(withClaims(r.Context(), claims), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requirePermission(az Authorizer, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !az.HasPermission(r.Context(), action) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "permission denied: " + action})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
