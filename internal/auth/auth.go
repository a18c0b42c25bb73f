package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type ctxKey struct{}

// Identity is the authenticated caller. Role comes from the user store, not the token.
type Identity struct {
	UserID string
	Role   domain.Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == domain.RoleAdmin
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Claims issued by the external identity provider
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type userEnsurer interface {
	EnsureUser(ctx context.Context, id string, role domain.Role) (domain.User, error)
}

type Authenticator struct {
	secret []byte
	users  userEnsurer
}

func NewAuthenticator(secret string, users userEnsurer) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

func (a *Authenticator) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("sub claim missing")
	}
	return claims, nil
}

// Middleware validates the bearer token and resolves the caller, creating the user record
// on first sight.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		if raw == "" {
			unauthorized(w, "missing token")
			return
		}
		parts := strings.Split(raw, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(w, "invalid token")
			return
		}

		claims, err := a.Parse(parts[1])
		if err != nil {
			logger.FromContext(ctx).WithError(err).Info("token validation failed")
			unauthorized(w, "unauthorized")
			return
		}

		role := domain.RoleUser
		if parsed, err := domain.ParseRole(claims.Role); err == nil {
			role = parsed
		}
		user, err := a.users.EnsureUser(ctx, claims.Subject, role)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Error("failed to resolve user")
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		ctx = WithIdentity(ctx, Identity{UserID: user.ID, Role: user.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w, "unauthorized")
			return
		}
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs a token the way the identity provider does; used for local runs and tests
func IssueToken(secret, subject string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
