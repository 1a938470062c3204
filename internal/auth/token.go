package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
)

const (
	blockedTokenKeyPrefix      = "blocked_token:"
	refreshTokenKeyPrefix      = "refresh_token:"
	userRefreshTokensKeyPrefix = "user_refresh_tokens:"

	blockedSentinel = "1"
)

// BlockedTokenKey is the revocation record key of a jti.
func BlockedTokenKey(jti string) string { return blockedTokenKeyPrefix + jti }

// RefreshTokenKey is the registry entry key of a refresh jti.
func RefreshTokenKey(jti string) string { return refreshTokenKeyPrefix + jti }

// UserRefreshTokensKey is the set of live refresh jtis of a user.
func UserRefreshTokensKey(userID int64) string {
	return userRefreshTokensKeyPrefix + strconv.FormatInt(userID, 10)
}

// Claims describes the JWT payload. Email, Role and IsVerified are only set on
// access tokens.
type Claims struct {
	Type       domain.TokenKind `json:"type"`
	Email      string           `json:"email,omitempty"`
	Role       domain.Role      `json:"role,omitempty"`
	IsVerified bool             `json:"is_verified,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q", domain.ErrMalformedToken, c.Subject)
	}
	return id, nil
}

// TokenConfig holds the immutable parameters of a TokenAuthority.
type TokenConfig struct {
	Keys       *SigningKeys
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenAuthority issues, verifies and revokes bearer tokens. Revocation state
// (block-list and refresh registry) lives in a KeyValueStore and expires with
// the tokens it describes.
type TokenAuthority struct {
	cfg     TokenConfig
	users   repository.UserRepository
	store   persistence.KeyValueStore
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewTokenAuthority builds an authority. users must be the uncached directory
// so issued claims never come from a stale snapshot.
func NewTokenAuthority(cfg TokenConfig, users repository.UserRepository, store persistence.KeyValueStore, logger *zap.Logger, metrics *observability.Metrics) (*TokenAuthority, error) {
	if cfg.Keys == nil || cfg.Keys.Method == nil || cfg.Keys.Private == nil || cfg.Keys.Public == nil {
		return nil, errors.New("token authority requires a signing key pair")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenAuthority{
		cfg:     cfg,
		users:   users,
		store:   store,
		logger:  logger.Named("token_authority"),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// AccessTTL is the configured access-token lifetime.
func (a *TokenAuthority) AccessTTL() time.Duration { return a.cfg.AccessTTL }

// RefreshTTL is the configured refresh-token lifetime.
func (a *TokenAuthority) RefreshTTL() time.Duration { return a.cfg.RefreshTTL }

// IssueAccessToken signs a stateless access token carrying the user's current
// role and verification state.
func (a *TokenAuthority) IssueAccessToken(ctx context.Context, userID int64, email string) (string, error) {
	user, err := a.lookupSubject(ctx, userID)
	if err != nil {
		return "", err
	}

	claims := a.newClaims(userID, domain.TokenKindAccess, a.cfg.AccessTTL)
	claims.Email = email
	claims.Role = user.Role
	claims.IsVerified = user.IsVerified

	return a.sign(claims)
}

// IssueRefreshToken signs a refresh token and records its jti in the registry
// and in the user's jti set.
func (a *TokenAuthority) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	if _, err := a.lookupSubject(ctx, userID); err != nil {
		return "", err
	}

	claims := a.newClaims(userID, domain.TokenKindRefresh, a.cfg.RefreshTTL)
	token, err := a.sign(claims)
	if err != nil {
		return "", err
	}

	// Registry entry first: if the set write is lost the entry still expires.
	subject := []byte(strconv.FormatInt(userID, 10))
	if err := a.store.Set(ctx, RefreshTokenKey(claims.ID), subject, a.cfg.RefreshTTL); err != nil {
		return "", fmt.Errorf("register refresh token: %w", err)
	}
	if err := a.store.SetAdd(ctx, UserRefreshTokensKey(userID), claims.ID); err != nil {
		return "", fmt.Errorf("index refresh token: %w", err)
	}
	return token, nil
}

// Verify checks signature, structure and expiry locally, then consults the
// block-list. Callers must still check Claims.Type for their use case. A
// block-list that cannot be read fails the verification.
func (a *TokenAuthority) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		a.metrics.RecordTokenVerification(verificationResult(err))
		return nil, err
	}

	blocked, err := a.IsBlocked(ctx, claims.ID)
	if err != nil {
		a.metrics.RecordTokenVerification("error")
		return nil, fmt.Errorf("check block-list: %w", err)
	}
	if blocked {
		a.metrics.RecordTokenVerification("revoked")
		return nil, domain.ErrTokenRevoked
	}

	a.metrics.RecordTokenVerification("ok")
	return claims, nil
}

// Block revokes jti until expiresAt (unix seconds). Already expired tokens
// are ignored.
func (a *TokenAuthority) Block(ctx context.Context, jti string, expiresAt int64) error {
	ttl := time.Unix(expiresAt, 0).Sub(a.now())
	if ttl <= 0 {
		return nil
	}
	if err := a.store.Set(ctx, BlockedTokenKey(jti), []byte(blockedSentinel), ttl); err != nil {
		return fmt.Errorf("block token: %w", err)
	}
	a.logger.Debug("token blocked", zap.String("jti", jti), zap.Duration("ttl", ttl))
	return nil
}

// IsBlocked reports whether a revocation record exists for jti.
func (a *TokenAuthority) IsBlocked(ctx context.Context, jti string) (bool, error) {
	return a.store.Exists(ctx, BlockedTokenKey(jti))
}

// RevokeRefreshToken removes jti from the registry and from its owner's set.
// It reports whether this call removed the entry: the registry key is taken
// with a single GETDEL, so among concurrent revocations of one jti exactly one
// sees true. Unknown or already revoked jtis return false.
func (a *TokenAuthority) RevokeRefreshToken(ctx context.Context, jti string) (bool, error) {
	owner, err := a.store.Take(ctx, RefreshTokenKey(jti))
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	userID, err := strconv.ParseInt(string(owner), 10, 64)
	if err != nil {
		a.logger.Warn("refresh registry entry has invalid owner", zap.String("jti", jti), zap.ByteString("owner", owner))
		return true, nil
	}
	if err := a.store.SetRemove(ctx, UserRefreshTokensKey(userID), jti); err != nil {
		// The registry entry is gone, which is what validity depends on.
		a.logger.Warn("unindex refresh token", zap.String("jti", jti), zap.Error(err))
	}
	return true, nil
}

// RevokeAllRefreshTokens deletes every registry entry the user's set points
// at, then the set. An interruption leaves at worst orphaned entries that
// expire on their own.
func (a *TokenAuthority) RevokeAllRefreshTokens(ctx context.Context, userID int64) error {
	setKey := UserRefreshTokensKey(userID)

	jtis, err := a.store.SetMembers(ctx, setKey)
	if err != nil {
		return fmt.Errorf("list refresh tokens: %w", err)
	}

	keys := make([]string, 0, len(jtis))
	for _, jti := range jtis {
		keys = append(keys, RefreshTokenKey(jti))
	}
	if err := a.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := a.store.Delete(ctx, setKey); err != nil {
		return fmt.Errorf("drop refresh token set: %w", err)
	}

	a.logger.Info("revoked all refresh tokens", zap.Int64("user_id", userID), zap.Int("count", len(jtis)))
	return nil
}

// IsRefreshTokenValid reports whether jti is still registered.
func (a *TokenAuthority) IsRefreshTokenValid(ctx context.Context, jti string) (bool, error) {
	return a.store.Exists(ctx, RefreshTokenKey(jti))
}

func (a *TokenAuthority) lookupSubject(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := a.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: user %d", domain.ErrPrincipalNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup subject: %w", err)
	}
	return user, nil
}

func (a *TokenAuthority) newClaims(userID int64, kind domain.TokenKind, ttl time.Duration) *Claims {
	now := a.now()
	return &Claims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    a.cfg.Issuer,
			Audience:  jwt.ClaimStrings{a.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (a *TokenAuthority) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(a.cfg.Keys.Method, claims)
	signed, err := token.SignedString(a.cfg.Keys.Private)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// parse performs every check that needs no network call.
func (a *TokenAuthority) parse(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{a.cfg.Keys.Method.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithAudience(a.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(a.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.cfg.Keys.Public, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedToken, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", domain.ErrMalformedToken)
	}
	if claims.Type != domain.TokenKindAccess && claims.Type != domain.TokenKindRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", domain.ErrMalformedToken, claims.Type)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func verificationResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
