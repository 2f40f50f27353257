package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/cache"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

// renewBefore is how long before expiry a cached token is replaced.
const renewBefore = 30 * time.Second

// JWTIssuer mints the per-user tokens sent to the DAV server in the
// ESNToken header.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	tokens *cache.Cache[string, string]
}

func NewJWTIssuer(cfg config.AuthConfig, logger zerolog.Logger) (*JWTIssuer, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("token secret is empty")
	}
	if cfg.TokenTTL <= renewBefore {
		return nil, fmt.Errorf("token TTL %s is too short", cfg.TokenTTL)
	}
	return &JWTIssuer{
		secret: []byte(cfg.TokenSecret),
		issuer: cfg.TokenIssuer,
		ttl:    cfg.TokenTTL,
		logger: logger,
		now:    time.Now,
		tokens: cache.New[string, string](cfg.TokenTTL),
	}, nil
}

// Token returns a signed token for userID, reusing a cached one while it is
// still comfortably valid.
func (j *JWTIssuer) Token(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tok, ok := j.tokens.Get(userID); ok {
		return tok, nil
	}

	now := j.now()
	exp := now.Add(j.ttl)
	tok, err := jwt.NewBuilder().
		Issuer(j.issuer).
		Subject(userID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(exp).
		JwtID(uuid.NewString()).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		j.logger.Error().Err(err).Str("user", userID).Msg("failed to sign ESN token")
		return "", fmt.Errorf("sign token: %w", err)
	}

	j.tokens.Set(userID, string(signed), exp.Add(-renewBefore))
	j.logger.Debug().Str("user", userID).Time("expires", exp).Msg("issued ESN token")
	return string(signed), nil
}

// Invalidate forgets the cached token of userID.
func (j *JWTIssuer) Invalidate(userID string) {
	j.tokens.Delete(userID)
}

// Purge drops expired tokens from the cache.
func (j *JWTIssuer) Purge() {
	j.tokens.Purge()
}
