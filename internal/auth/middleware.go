package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

var errMissingBearer = errors.New("missing or malformed bearer token")

// Principal represents the authenticated caller of a request.
type Principal struct {
	UserID     int64
	Email      string
	Role       domain.Role
	IsVerified bool
	TokenID    string
	ExpiresAt  time.Time
	// User is the snapshot loaded while authenticating.
	User *domain.User
}

// AuthMiddleware validates bearer access tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenAuthority
	users  repository.UserRepository
	logger *zap.Logger
}

// NewAuthMiddleware constructs middleware. users is expected to be the cached
// directory.
func NewAuthMiddleware(tokens *TokenAuthority, users repository.UserRepository, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, logger: logger.Named("auth_middleware")}
}

// Handle enforces authentication for protected routes. Every rejection yields
// the same 401 body whatever the reason.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	ctx := c.UserContext()

	token, err := bearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return m.reject(c, err)
	}

	claims, err := m.tokens.Verify(ctx, token)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		m.logger.Warn("block-list unavailable", zap.Error(err))
		return apperrors.MapError(err)
	}
	if err != nil {
		return m.reject(c, err)
	}
	if claims.Type != domain.TokenKindAccess {
		return m.reject(c, domain.ErrWrongTokenType)
	}

	userID, err := claims.UserID()
	if err != nil {
		return m.reject(c, err)
	}

	user, err := m.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return m.reject(c, domain.ErrPrincipalGone)
	}
	if err != nil {
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, &Principal{
		UserID:     userID,
		Email:      claims.Email,
		Role:       claims.Role,
		IsVerified: claims.IsVerified,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
		User:       user,
	})
	return c.Next()
}

func (m *AuthMiddleware) reject(c *fiber.Ctx, reason error) error {
	m.logger.Debug("request rejected", zap.String("path", c.Path()), zap.Error(reason))
	return apperrors.NewUnauthorized("unauthorized")
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingBearer
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMissingBearer
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
