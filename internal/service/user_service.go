package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/repository"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// UpdateProfileInput lists editable profile fields. Nil means unchanged.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// UserService serves account self-service and the admin directory.
type UserService struct {
	users      repository.UserRepository
	tokens     *auth.TokenAuthority
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewUserService builds the service. users is expected to be the cached
// directory.
func NewUserService(users repository.UserRepository, tokens *auth.TokenAuthority, dispatcher events.Dispatcher, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, tokens: tokens, dispatcher: dispatcher, logger: logger.Named("user_service")}
}

func (s *UserService) Profile(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// UpdateProfile applies in to the account. An email change resets the
// verification flag.
func (s *UserService) UpdateProfile(ctx context.Context, id int64, in UpdateProfileInput) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *user
	if in.FirstName != nil {
		next.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		next.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if email != user.Email {
			if _, err := s.users.FindByEmail(ctx, email); err == nil {
				return nil, fmt.Errorf("%w: email", domain.ErrDuplicateUser)
			} else if !errors.Is(err, domain.ErrUserNotFound) {
				return nil, err
			}
			next.Email = email
			next.IsVerified = false
		}
	}

	return s.users.Update(ctx, &next)
}

// DeleteAccount removes the caller's account and ends all of its sessions.
func (s *UserService) DeleteAccount(ctx context.Context, principal *auth.Principal) error {
	deleted, err := s.users.Delete(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrUserNotFound
	}

	if err := s.tokens.RevokeAllRefreshTokens(ctx, principal.UserID); err != nil {
		return err
	}
	if err := s.tokens.Block(ctx, principal.TokenID, principal.ExpiresAt.Unix()); err != nil {
		return err
	}

	s.logger.Info("account deleted", zap.Int64("user_id", principal.UserID))
	publishEvent(ctx, s.dispatcher, s.logger,
		events.New(events.EventUserDeleted, principal.UserID, events.UserDeletedPayload{Email: principal.Email}))
	return nil
}

// List returns one page of users plus the total count.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*domain.User, int64, error) {
	limit, offset = ClampPage(limit, offset)

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *UserService) FindByNationalID(ctx context.Context, nationalID string) (*domain.User, error) {
	return s.users.FindByNationalID(ctx, strings.TrimSpace(nationalID))
}

// ClampPage applies the default and maximum page size.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
