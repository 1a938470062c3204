package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/testutil"
)

const (
	verifyTTL = 24 * time.Hour
	resetTTL  = 30 * time.Minute
)

type fakeResets struct {
	mu      sync.Mutex
	seq     int
	byToken map[string]*repository.PasswordResetToken
}

func newFakeResets() *fakeResets {
	return &fakeResets{byToken: make(map[string]*repository.PasswordResetToken)}
}

func (f *fakeResets) Create(_ context.Context, token *repository.PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	token.ID = fmt.Sprintf("reset-%d", f.seq)
	token.CreatedAt = time.Now()
	c := *token
	f.byToken[token.Token] = &c
	return nil
}

func (f *fakeResets) GetByToken(_ context.Context, token string) (*repository.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byToken[token]
	if !ok {
		return nil, repository.ErrResetTokenNotFound
	}
	c := *t
	return &c, nil
}

func (f *fakeResets) MarkUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byToken {
		if t.ID == id && t.UsedAt == nil {
			now := time.Now()
			t.UsedAt = &now
			return nil
		}
	}
	return repository.ErrResetTokenNotFound
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, e events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) ofType(eventType events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, e := range d.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type serviceFixture struct {
	auth    *AuthService
	users   *UserService
	durable *testutil.UserStore
	cached  *repository.CachedUserRepository
	tokens  *auth.TokenAuthority
	resets  *fakeResets
	events  *recordingDispatcher
	mr      *miniredis.Miniredis
}

func newServiceTest(t *testing.T, users ...*domain.User) *serviceFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, mr := testutil.NewRedis(t)
	durable := testutil.NewUserStore(users...)
	cached := repository.NewCachedUserRepository(durable, store, time.Hour, logger, nil)

	pub, priv := testutil.Ed25519Keys(t)
	tokens, err := auth.NewTokenAuthority(auth.TokenConfig{
		Keys:       &auth.SigningKeys{Method: jwt.SigningMethodEdDSA, Private: priv, Public: pub},
		Issuer:     "user-service",
		Audience:   "user-service-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, durable, store, logger, nil)
	require.NoError(t, err)

	resets := newFakeResets()
	dispatcher := &recordingDispatcher{}

	authSvc := NewAuthService(config.AuthConfig{
		PasswordResetTTL:     resetTTL,
		EmailVerificationTTL: verifyTTL,
	}, AuthDependencies{
		Users:             cached,
		PasswordResetRepo: resets,
		Tokens:            tokens,
		Hasher:            auth.NewPasswordHasher(bcrypt.MinCost),
		Store:             store,
		Events:            dispatcher,
		Logger:            logger,
	})

	return &serviceFixture{
		auth:    authSvc,
		users:   NewUserService(cached, tokens, dispatcher, logger),
		durable: durable,
		cached:  cached,
		tokens:  tokens,
		resets:  resets,
		events:  dispatcher,
		mr:      mr,
	}
}

func (f *serviceFixture) register(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user, err := f.auth.Register(context.Background(), RegisterInput{
		FirstName:  "Foo",
		LastName:   "Bar",
		Email:      email,
		NationalID: "NID-" + email,
		Password:   password,
	})
	require.NoError(t, err)
	return user
}

// principal mirrors what the auth middleware attaches for an access token.
func (f *serviceFixture) principal(t *testing.T, accessToken string) *auth.Principal {
	t.Helper()
	claims, err := f.tokens.Verify(context.Background(), accessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	return &auth.Principal{
		UserID:     id,
		Email:      claims.Email,
		Role:       claims.Role,
		IsVerified: claims.IsVerified,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
}

func (f *serviceFixture) jti(t *testing.T, token string) string {
	t.Helper()
	claims, err := f.tokens.Verify(context.Background(), token)
	require.NoError(t, err)
	return claims.ID
}
