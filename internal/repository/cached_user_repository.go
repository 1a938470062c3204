package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
)

const (
	userIDKeyPrefix    = "user:id:"
	userEmailKeyPrefix = "user:email:"
)

// UserIDKey returns the cache key of a user snapshot by id.
func UserIDKey(id int64) string {
	return userIDKeyPrefix + strconv.FormatInt(id, 10)
}

// UserEmailKey returns the cache key of a user snapshot by email.
func UserEmailKey(email string) string {
	return userEmailKeyPrefix + email
}

// CachedUserRepository keeps a dual-keyed snapshot of every user it reads in
// a KeyValueStore, in front of a durable UserRepository.
//
// Both keys of a user are always written and deleted together. Cache failures
// are logged and never fail the call; the durable store stays authoritative.
// Negative lookups are not cached.
type CachedUserRepository struct {
	next    UserRepository
	store   persistence.KeyValueStore
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ UserRepository = (*CachedUserRepository)(nil)

// NewCachedUserRepository wraps next with a cache held in store. metrics may be nil.
func NewCachedUserRepository(next UserRepository, store persistence.KeyValueStore, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *CachedUserRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedUserRepository{
		next:    next,
		store:   store,
		ttl:     ttl,
		logger:  logger.Named("user_cache"),
		metrics: metrics,
	}
}

func (r *CachedUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	if user, ok := r.readCache(ctx, "id", UserIDKey(id)); ok {
		return user, nil
	}
	user, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, user)
	return user, nil
}

func (r *CachedUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if user, ok := r.readCache(ctx, "email", UserEmailKey(email)); ok {
		return user, nil
	}
	user, err := r.next.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, user)
	return user, nil
}

// Create does not warm the cache; the first read does.
func (r *CachedUserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	return r.next.Create(ctx, user)
}

// Update reads the pre-update snapshot first so the old email key is dropped
// even when the update changes the email.
func (r *CachedUserRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	current, err := r.FindByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	updated, err := r.next.Update(ctx, user)
	if err != nil {
		return nil, err
	}

	r.invalidateCache(ctx, current)
	r.setCache(ctx, updated)
	return updated, nil
}

// Delete returns false without touching the cache when the user is absent.
func (r *CachedUserRepository) Delete(ctx context.Context, id int64) (bool, error) {
	current, err := r.FindByID(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := r.next.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		r.invalidateCache(ctx, current)
	}
	return deleted, nil
}

// UpdatePassword invalidates before writing and leaves the cache cold.
func (r *CachedUserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	r.invalidateCache(ctx, current)
	return r.next.UpdatePassword(ctx, id, hash)
}

// MarkVerified invalidates before writing and leaves the cache cold.
func (r *CachedUserRepository) MarkVerified(ctx context.Context, id int64) error {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	r.invalidateCache(ctx, current)
	return r.next.MarkVerified(ctx, id)
}

func (r *CachedUserRepository) FindByNationalID(ctx context.Context, nationalID string) (*domain.User, error) {
	return r.next.FindByNationalID(ctx, nationalID)
}

func (r *CachedUserRepository) List(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	return r.next.List(ctx, limit, offset)
}

func (r *CachedUserRepository) Count(ctx context.Context) (int64, error) {
	return r.next.Count(ctx)
}

func (r *CachedUserRepository) readCache(ctx context.Context, kind, key string) (*domain.User, bool) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		r.metrics.RecordCacheLookup(kind, observability.CacheMiss)
		return nil, false
	}
	if err != nil {
		r.metrics.RecordCacheLookup(kind, observability.CacheError)
		r.logger.Warn("cache read failed; falling back to database", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		r.metrics.RecordCacheLookup(kind, observability.CacheError)
		r.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	r.metrics.RecordCacheLookup(kind, observability.CacheHit)
	return &user, true
}

// setCache writes the id and email keys with one payload and one TTL. If the
// second write fails the pair is dropped so neither key survives alone.
func (r *CachedUserRepository) setCache(ctx context.Context, user *domain.User) {
	payload, err := json.Marshal(user)
	if err != nil {
		r.logger.Warn("cache encode failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}

	idKey, emailKey := UserIDKey(user.ID), UserEmailKey(user.Email)
	if err := r.store.Set(ctx, idKey, payload, r.ttl); err != nil {
		r.logger.Warn("cache write failed", zap.String("key", idKey), zap.Error(err))
		return
	}
	if err := r.store.Set(ctx, emailKey, payload, r.ttl); err != nil {
		r.logger.Warn("cache write failed", zap.String("key", emailKey), zap.Error(err))
		r.invalidateCache(ctx, user)
	}
}

func (r *CachedUserRepository) invalidateCache(ctx context.Context, user *domain.User) {
	if err := r.store.Delete(ctx, UserIDKey(user.ID), UserEmailKey(user.Email)); err != nil {
		r.logger.Warn("cache invalidation failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}
