package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
	"github.com/spec-kit/user-service/internal/testutil"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type noResets struct{}

func (noResets) Create(context.Context, *repository.PasswordResetToken) error { return nil }
func (noResets) GetByToken(context.Context, string) (*repository.PasswordResetToken, error) {
	return nil, repository.ErrResetTokenNotFound
}
func (noResets) MarkUsed(context.Context, string) error { return repository.ErrResetTokenNotFound }

type testServer struct {
	app     *fiber.App
	durable *testutil.UserStore
}

func newTestServer(t *testing.T, redisErr error) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	store, _ := testutil.NewRedis(t)

	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	adminHash, err := hasher.Hash("admin-password")
	require.NoError(t, err)
	admin := testutil.User(100, "admin@x.com")
	admin.PasswordHash = adminHash
	durable := testutil.NewUserStore(admin)

	cached := repository.NewCachedUserRepository(durable, store, time.Hour, logger, metrics)
	pub, priv := testutil.Ed25519Keys(t)
	tokens, err := auth.NewTokenAuthority(auth.TokenConfig{
		Keys:       &auth.SigningKeys{Method: jwt.SigningMethodEdDSA, Private: priv, Public: pub},
		Issuer:     "user-service",
		Audience:   "user-service-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, durable, store, logger, metrics)
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher(logger)
	authSvc := service.NewAuthService(config.AuthConfig{
		PasswordResetTTL:     30 * time.Minute,
		EmailVerificationTTL: 24 * time.Hour,
	}, service.AuthDependencies{
		Users:             cached,
		PasswordResetRepo: noResets{},
		Tokens:            tokens,
		Hasher:            hasher,
		Store:             store,
		Events:            dispatcher,
		Logger:            logger,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("user-service", "test",
			handlers.Dependency{Name: "postgres", Pinger: stubPinger{}},
			handlers.Dependency{Name: "redis", Pinger: stubPinger{err: redisErr}},
		),
		Auth:           handlers.NewAuthHandler(authSvc),
		Users:          handlers.NewUsersHandler(service.NewUserService(cached, tokens, dispatcher, logger)),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, cached, logger),
		Metrics:        metrics.Handler(),
	})
	return &testServer{app: app, durable: durable}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func (s *testServer) login(t *testing.T, email, password string) (access, refresh string) {
	t.Helper()
	status, body := s.do(t, nethttp.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, nethttp.StatusOK, status, body)
	tokens := body["data"].(map[string]any)["tokens"].(map[string]any)
	return tokens["access_token"].(string), tokens["refresh_token"].(string)
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, nethttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	down := newTestServer(t, errors.New("connection refused"))
	status, body = down.do(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(body))
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": "short"})
	assert.Equal(t, nethttp.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
	assert.Contains(t, details, "first_name")
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]string{
		"first_name":  "Ada",
		"last_name":   "Lovelace",
		"email":       "ada@x.com",
		"national_id": "NID-1",
		"password":    "analytical",
	})
	require.Equal(t, nethttp.StatusCreated, status, body)
	user := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "ada@x.com", user["email"])
	assert.NotContains(t, user, "password_hash")

	status, body = s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]string{
		"first_name": "Ada", "last_name": "L", "email": "ADA@x.com", "national_id": "NID-2", "password": "analytical",
	})
	assert.Equal(t, nethttp.StatusConflict, status)

	status, body = s.do(t, nethttp.MethodPost, "/auth/login", "", map[string]string{"email": "ada@x.com", "password": "wrong-one"})
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(body))

	access, refresh := s.login(t, "ada@x.com", "analytical")

	status, body = s.do(t, nethttp.MethodGet, "/users/me", access, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "ada@x.com", body["data"].(map[string]any)["email"])

	status, body = s.do(t, nethttp.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, nethttp.StatusOK, status)
	rotated := body["data"].(map[string]any)["tokens"].(map[string]any)
	newAccess := rotated["access_token"].(string)
	assert.Equal(t, "Bearer", rotated["token_type"])

	status, _ = s.do(t, nethttp.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, nethttp.StatusUnauthorized, status)

	status, _ = s.do(t, nethttp.MethodPost, "/auth/logout", newAccess, nil)
	assert.Equal(t, nethttp.StatusNoContent, status)

	status, body = s.do(t, nethttp.MethodGet, "/users/me", newAccess, nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestProfileUpdateAndDelete(t *testing.T) {
	s := newTestServer(t, nil)
	access, _ := s.login(t, "admin@x.com", "admin-password")

	status, body := s.do(t, nethttp.MethodPatch, "/users/me", access, map[string]string{"first_name": "Grace"})
	require.Equal(t, nethttp.StatusOK, status, body)
	assert.Equal(t, "Grace", body["data"].(map[string]any)["first_name"])

	status, _ = s.do(t, nethttp.MethodDelete, "/users/me", access, nil)
	assert.Equal(t, nethttp.StatusNoContent, status)

	_, ok := s.durable.Get(100)
	assert.False(t, ok)

	status, _ = s.do(t, nethttp.MethodGet, "/users/me", access, nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, nethttp.MethodPost, "/auth/register", "", map[string]string{
		"first_name": "Member", "last_name": "One", "email": "member@x.com", "national_id": "NID-M", "password": "member-pass",
	})
	require.Equal(t, nethttp.StatusCreated, status)

	memberAccess, _ := s.login(t, "member@x.com", "member-pass")
	status, _ = s.do(t, nethttp.MethodGet, "/users", memberAccess, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, _ = s.do(t, nethttp.MethodGet, "/users", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)

	adminAccess, _ := s.login(t, "admin@x.com", "admin-password")
	status, body := s.do(t, nethttp.MethodGet, "/users?limit=500", adminAccess, nil)
	require.Equal(t, nethttp.StatusOK, status)
	page := body["data"].(map[string]any)
	assert.Equal(t, float64(2), page["total"])
	assert.Equal(t, float64(service.MaxPageSize), page["limit"])
	assert.Len(t, page["items"], 2)

	status, body = s.do(t, nethttp.MethodGet, "/users/national-id/NID-M", adminAccess, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, "member@x.com", body["data"].(map[string]any)["email"])

	status, body = s.do(t, nethttp.MethodGet, "/users/national-id/unknown", adminAccess, nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestAdminRoutes_RequireVerifiedEmail(t *testing.T) {
	s := newTestServer(t, nil)

	admin, ok := s.durable.Get(100)
	require.True(t, ok)
	admin.IsVerified = false
	_, err := s.durable.Update(context.Background(), admin)
	require.NoError(t, err)

	access, _ := s.login(t, "admin@x.com", "admin-password")

	status, body := s.do(t, nethttp.MethodGet, "/users", access, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = s.do(t, nethttp.MethodGet, "/users/me", access, nil)
	assert.Equal(t, nethttp.StatusOK, status, "self-service stays open to unverified accounts")
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, nethttp.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, nethttp.StatusNotFound, status)

	req := httptest.NewRequest(nethttp.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "http_requests_total")
}
