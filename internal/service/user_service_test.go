package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/testutil"
)

func strPtr(s string) *string { return &s }

func TestUserService_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newServiceTest(t, testutil.User(1, "a@x.com"), testutil.User(2, "b@x.com"))

	_, err := f.users.Profile(ctx, 1)
	require.NoError(t, err)

	updated, err := f.users.UpdateProfile(ctx, 1, UpdateProfileInput{FirstName: strPtr(" Ada "), Email: strPtr("C@x.com")})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "Bar", updated.LastName)
	assert.Equal(t, "c@x.com", updated.Email)
	assert.False(t, updated.IsVerified, "a new address needs confirming")

	assert.False(t, f.mr.Exists(repository.UserEmailKey("a@x.com")))
	assert.True(t, f.mr.Exists(repository.UserEmailKey("c@x.com")))

	_, err = f.users.UpdateProfile(ctx, 1, UpdateProfileInput{Email: strPtr("b@x.com")})
	require.ErrorIs(t, err, domain.ErrDuplicateUser)

	_, err = f.users.UpdateProfile(ctx, 99, UpdateProfileInput{FirstName: strPtr("x")})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserService_UpdateProfile_SameEmailKeepsVerification(t *testing.T) {
	f := newServiceTest(t, testutil.User(1, "a@x.com"))

	updated, err := f.users.UpdateProfile(context.Background(), 1, UpdateProfileInput{Email: strPtr("A@x.com")})
	require.NoError(t, err)
	assert.True(t, updated.IsVerified)
}

func TestUserService_DeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newServiceTest(t)
	user := f.register(t, "a@x.com", "pw-123456")

	_, pair, err := f.auth.Login(ctx, "a@x.com", "pw-123456")
	require.NoError(t, err)
	principal := f.principal(t, pair.AccessToken)
	refreshJTI := f.jti(t, pair.RefreshToken)

	require.NoError(t, f.users.DeleteAccount(ctx, principal))

	_, ok := f.durable.Get(user.ID)
	assert.False(t, ok)
	assert.False(t, f.mr.Exists(repository.UserIDKey(user.ID)))
	assert.False(t, f.mr.Exists(repository.UserEmailKey("a@x.com")))

	valid, err := f.tokens.IsRefreshTokenValid(ctx, refreshJTI)
	require.NoError(t, err)
	assert.False(t, valid)
	_, err = f.tokens.Verify(ctx, pair.AccessToken)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)

	deleted := f.events.ofType(events.EventUserDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, user.ID, deleted[0].UserID)

	require.ErrorIs(t, f.users.DeleteAccount(ctx, principal), domain.ErrUserNotFound)
}

type failingDispatcher struct{}

func (failingDispatcher) Publish(context.Context, events.Event) error {
	return errors.New("subscriber exploded")
}

func (failingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func TestUserService_DeleteAccount_LogsPublishFailure(t *testing.T) {
	ctx := context.Background()
	f := newServiceTest(t)
	f.register(t, "a@x.com", "pw-123456")
	_, pair, err := f.auth.Login(ctx, "a@x.com", "pw-123456")
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	users := NewUserService(f.cached, f.tokens, failingDispatcher{}, zap.New(core))

	require.NoError(t, users.DeleteAccount(ctx, f.principal(t, pair.AccessToken)), "delivery failures do not undo the deletion")

	warned := logs.FilterMessage("publish event").All()
	require.Len(t, warned, 1)
	assert.Equal(t, string(events.EventUserDeleted), warned[0].ContextMap()["event_type"])
}

func TestUserService_List(t *testing.T) {
	ctx := context.Background()
	f := newServiceTest(t, testutil.User(1, "a@x.com"), testutil.User(2, "b@x.com"), testutil.User(3, "c@x.com"))

	page, total, err := f.users.List(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)

	page, _, err = f.users.List(ctx, 0, -5)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestUserService_FindByNationalID(t *testing.T) {
	f := newServiceTest(t, testutil.User(1, "a@x.com"))

	u, err := f.users.FindByNationalID(context.Background(), " NID-a@x.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)

	_, err = f.users.FindByNationalID(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultPageSize, 0},
		{-1, 10, DefaultPageSize, 10},
		{500, 0, MaxPageSize, 0},
		{50, -3, 50, 0},
	}
	for _, tt := range tests {
		limit, offset := ClampPage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}
