package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/persistence"
)

// NewRedis starts a miniredis server bound to t and returns a store on it.
func NewRedis(t *testing.T) (*persistence.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return persistence.NewRedisFromClient(client), mr
}

// Ed25519Keys generates a fresh signing key pair.
func Ed25519Keys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

// User returns a verified admin fixture with the given id and email.
func User(id int64, email string) *domain.User {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.User{
		ID:           id,
		FirstName:    "Foo",
		LastName:     "Bar",
		Email:        email,
		NationalID:   "NID-" + email,
		PasswordHash: "hash",
		Role:         domain.RoleAdmin,
		IsActive:     true,
		IsVerified:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
