package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/apierror"
)

const bearerPrefix = "Bearer "

// Auth resolves the owner of a request from an HS256 bearer token. The
// owner is the token subject.
type Auth struct {
	secret []byte
	log    *slog.Logger
}

func New(secret string, log *slog.Logger) *Auth {
	return &Auth{
		secret: []byte(secret),
		log:    log.With("component", "auth_middleware"),
	}
}

type contextKey string

const OwnerIDKey contextKey = "ownerID"

func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		header := ctx.Header("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			a.log.Debug("missing bearer token", "path", ctx.URL().Path)
			apierror.WriteHuma(ctx, apierror.Unauthorized())
			return
		}

		owner, err := a.Verify(strings.TrimSpace(header[len(bearerPrefix):]))
		if err != nil {
			a.log.Debug("rejected bearer token", "error", err)
			apierror.WriteHuma(ctx, apierror.Unauthorized())
			return
		}

		next(huma.WithContext(ctx, WithOwnerID(ctx.Context(), owner)))
	}
}

// Verify checks signature and expiry and returns the subject.
func (a *Auth) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	owner := strings.TrimSpace(claims.Subject)
	if owner == "" {
		return "", errors.New("token has no subject")
	}
	return owner, nil
}

// IssueToken signs a token for owner. A zero ttl issues a token that
// never expires.
func IssueToken(secret, owner string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", errors.New("owner is required")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  owner,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func WithOwnerID(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, owner)
}

func GetOwnerID(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(OwnerIDKey).(string)
	return owner, ok && owner != ""
}
