// Package auth resolves a bearer token to a types.AuthContext:
// cache -> DB (key hash) -> short-lived session JWT, in that order. The
// mechanics of issuing tokens (login/SSO, key provisioning) belong to the
// control plane and are out of scope here; this package only
// implements the read side the gateway endpoint needs on every request.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gatewayllm/gatewayllm/internal/controlplane"
	"github.com/gatewayllm/gatewayllm/types"
)

// ErrInvalidToken is returned when none of the three resolution strategies
// can produce an AuthContext.
var ErrInvalidToken = errors.New("auth: invalid or unrecognized token")

// Cache is the short-TTL lookaside the resolver consults before the
// control-plane DB. *internal/cache.Manager satisfies this with GetJSON/
// SetJSON; an in-memory stub is enough for tests.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Resolver implements three-tier bearer-token resolution: cache, then
// DB key-hash lookup, then JWT validation.
type Resolver struct {
	db         *gorm.DB
	cache      Cache
	cacheTTL   time.Duration
	masterKey  string
	jwtSecret  []byte
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache attaches a lookaside cache (e.g. a Redis-backed
// *internal/cache.Manager) in front of the DB key lookup.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) { r.cache = c; r.cacheTTL = ttl }
}

// NewResolver builds a Resolver. masterKey, when non-empty, is an
// always-admitted operator credential that bypasses DB/JWT lookup
// entirely. jwtSecret validates session JWTs (HMAC).
func NewResolver(db *gorm.DB, masterKey string, jwtSecret []byte, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{db: db, masterKey: masterKey, jwtSecret: jwtSecret, logger: logger, cacheTTL: 60 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps a bearer token to an AuthContext: cache -> DB (key hash) ->
// JWT validation.
func (r *Resolver) Resolve(ctx context.Context, token string) (*types.AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if r.masterKey != "" && token == r.masterKey {
		return &types.AuthContext{IsMasterKey: true}, nil
	}

	hash := hashKey(token)

	if r.cache != nil {
		var cached types.AuthContext
		if err := r.cache.GetJSON(ctx, cacheKey(hash), &cached); err == nil {
			return &cached, nil
		}
	}

	if ac, err := r.resolveFromDB(ctx, hash); err == nil {
		r.storeInCache(ctx, hash, ac)
		return ac, nil
	}

	if ac, err := r.resolveFromJWT(token); err == nil {
		return ac, nil
	}

	return nil, ErrInvalidToken
}

func (r *Resolver) resolveFromDB(ctx context.Context, hash string) (*types.AuthContext, error) {
	var key controlplane.APIKey
	if err := r.db.WithContext(ctx).Where("key_hash = ? AND is_active = ?", hash, true).First(&key).Error; err != nil {
		return nil, err
	}
	return &types.AuthContext{
		KeyID:         key.ID,
		UserID:        key.UserID,
		TeamID:        key.TeamID,
		OrgID:         key.OrgID,
		AllowedModels: []string(key.AllowedModels),
		BlockedModels: []string(key.BlockedModels),
		MaxBudget:     key.MaxBudget,
		CurrentSpend:  key.Spend,
	}, nil
}

// sessionClaims is the minimal shape of a short-lived SSO session JWT.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`
	OrgID  string `json:"org_id"`
}

func (r *Resolver) resolveFromJWT(token string) (*types.AuthContext, error) {
	if len(r.jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return r.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return &types.AuthContext{UserID: claims.UserID, TeamID: claims.TeamID, OrgID: claims.OrgID}, nil
}

func (r *Resolver) storeInCache(ctx context.Context, hash string, ac *types.AuthContext) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJSON(ctx, cacheKey(hash), ac, r.cacheTTL); err != nil {
		r.logger.Warn("auth cache write failed", zap.Error(err))
	}
}

func cacheKey(hash string) string { return "authctx:" + hash }

func hashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
