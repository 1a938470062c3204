package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
)

const emailVerificationKeyPrefix = "email_verification:"

// EmailVerificationKey maps a verification token to the user it confirms.
func EmailVerificationKey(token string) string { return emailVerificationKeyPrefix + token }

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	FirstName  string
	LastName   string
	Email      string
	NationalID string
	Password   string
}

// AuthService coordinates registration, login and session flows.
type AuthService struct {
	users     repository.UserRepository
	resets    repository.PasswordResetRepository
	tokens    *auth.TokenAuthority
	hasher    *auth.PasswordHasher
	store     persistence.KeyValueStore
	events    events.Dispatcher
	logger    *zap.Logger
	resetTTL  time.Duration
	verifyTTL time.Duration
	now       func() time.Time
}

// AuthDependencies encapsulates collaborators of the auth service. Users is
// expected to be the cached directory.
type AuthDependencies struct {
	Users             repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Tokens            *auth.TokenAuthority
	Hasher            *auth.PasswordHasher
	Store             persistence.KeyValueStore
	Events            events.Dispatcher
	Logger            *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:     deps.Users,
		resets:    deps.PasswordResetRepo,
		tokens:    deps.Tokens,
		hasher:    deps.Hasher,
		store:     deps.Store,
		events:    deps.Events,
		logger:    logger.Named("auth_service"),
		resetTTL:  cfg.PasswordResetTTL,
		verifyTTL: cfg.EmailVerificationTTL,
		now:       time.Now,
	}
}

// Register creates an unverified account and sends it a verification token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := NormalizeEmail(in.Email)

	if err := s.ensureAvailable(ctx, email, in.NationalID); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, &domain.User{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		NationalID:   strings.TrimSpace(in.NationalID),
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	s.sendVerification(ctx, user, events.EventUserRegistered)
	return user, nil
}

// Login checks credentials and opens a new session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, domain.ErrAccountDisabled
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token: the presented jti is revoked and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != domain.TokenKindRefresh {
		return nil, domain.ErrWrongTokenType
	}

	valid, err := s.tokens.IsRefreshTokenValid(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, domain.ErrTokenRevoked
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrPrincipalGone
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrAccountDisabled
	}

	// Only the caller that removes the registry entry may rotate; concurrent
	// replays of the same token lose here.
	revoked, err := s.tokens.RevokeRefreshToken(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !revoked {
		return nil, domain.ErrTokenRevoked
	}
	return s.issuePair(ctx, user)
}

// Logout revokes the caller's access token and, when given one belonging to
// the caller, a refresh token.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal, refreshToken string) error {
	if err := s.tokens.Block(ctx, principal.TokenID, principal.ExpiresAt.Unix()); err != nil {
		return err
	}
	if refreshToken == "" {
		return nil
	}

	claims, err := s.tokens.Verify(ctx, refreshToken)
	if err != nil {
		s.logger.Debug("ignoring unusable refresh token on logout", zap.Error(err))
		return nil
	}
	owner, err := claims.UserID()
	if err != nil || owner != principal.UserID || claims.Type != domain.TokenKindRefresh {
		s.logger.Warn("refresh token on logout does not belong to caller", zap.Int64("user_id", principal.UserID))
		return nil
	}

	if _, err := s.tokens.RevokeRefreshToken(ctx, claims.ID); err != nil {
		return err
	}
	return s.tokens.Block(ctx, claims.ID, claims.ExpiresAt.Unix())
}

// LogoutAll ends every session of the caller.
func (s *AuthService) LogoutAll(ctx context.Context, principal *auth.Principal) error {
	if err := s.tokens.Block(ctx, principal.TokenID, principal.ExpiresAt.Unix()); err != nil {
		return err
	}
	return s.tokens.RevokeAllRefreshTokens(ctx, principal.UserID)
}

// ChangePassword verifies the current password, stores the new one and signs
// out every other session.
func (s *AuthService) ChangePassword(ctx context.Context, principal *auth.Principal, currentPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return err
	}

	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	s.publish(ctx, events.New(events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Email: user.Email, Via: "change"}))
	return nil
}

// RequestPasswordReset stores a reset token for email. Unknown addresses
// succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := &repository.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.publish(ctx, events.New(events.EventPasswordResetRequested, user.ID, events.PasswordResetRequestedPayload{
		Email:     user.Email,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	}))
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets a new password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenStr, newPassword string) error {
	token, err := s.resets.GetByToken(ctx, tokenStr)
	if errors.Is(err, repository.ErrResetTokenNotFound) {
		return domain.ErrInvalidResetToken
	}
	if err != nil {
		return err
	}
	if !token.Usable(s.now()) {
		return domain.ErrInvalidResetToken
	}

	user, err := s.users.FindByID(ctx, token.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	if err := s.resets.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return domain.ErrInvalidResetToken
		}
		return err
	}
	if err := s.setPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}

	s.publish(ctx, events.New(events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Email: user.Email, Via: "reset"}))
	return nil
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	key := EmailVerificationKey(token)

	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return domain.ErrInvalidVerificationToken
	}
	if err != nil {
		return err
	}
	userID, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return domain.ErrInvalidVerificationToken
	}

	if err := s.users.MarkVerified(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrInvalidVerificationToken
		}
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to drop verification token", zap.Int64("user_id", userID), zap.Error(err))
	}
	return nil
}

// ResendVerification issues a fresh verification token to the caller.
func (s *AuthService) ResendVerification(ctx context.Context, principal *auth.Principal) error {
	user, err := s.users.FindByID(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return domain.ErrAlreadyVerified
	}
	s.sendVerification(ctx, user, events.EventVerificationRequested)
	return nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, email, nationalID string) error {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return fmt.Errorf("%w: email", domain.ErrDuplicateUser)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if _, err := s.users.FindByNationalID(ctx, strings.TrimSpace(nationalID)); err == nil {
		return fmt.Errorf("%w: national id", domain.ErrDuplicateUser)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, user *domain.User) (*TokenPair, error) {
	now := s.now()
	access, err := s.tokens.IssueAccessToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.tokens.AccessTTL()),
		RefreshExpiresAt: now.Add(s.tokens.RefreshTTL()),
	}, nil
}

func (s *AuthService) setPassword(ctx context.Context, userID int64, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAllRefreshTokens(ctx, userID)
}

// sendVerification failures are logged only; the account exists either way
// and the caller can ask for another token.
func (s *AuthService) sendVerification(ctx context.Context, user *domain.User, eventType events.EventType) {
	token := uuid.NewString()
	value := []byte(strconv.FormatInt(user.ID, 10))
	if err := s.store.Set(ctx, EmailVerificationKey(token), value, s.verifyTTL); err != nil {
		s.logger.Warn("failed to store verification token", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	s.publish(ctx, events.New(eventType, user.ID, events.UserRegisteredPayload{
		Email:             user.Email,
		FirstName:         user.FirstName,
		VerificationToken: token,
	}))
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.events, s.logger, event)
}

// publishEvent delivers event on a best-effort basis: the state change that
// produced it has already committed, so failures are logged, not returned.
func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("publish event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("user_id", event.UserID),
			zap.Error(err),
		)
	}
}

// NormalizeEmail lowercases and trims an address so both cache keys and
// database lookups agree on one spelling.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
