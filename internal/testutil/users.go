// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/user-service/internal/domain"
)

// UserStore is an in-memory user directory that counts calls per method.
type UserStore struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	nextID int64
	calls  map[string]int
}

// NewUserStore returns a store seeded with copies of users.
func NewUserStore(users ...*domain.User) *UserStore {
	s := &UserStore{users: make(map[int64]*domain.User), calls: make(map[string]int), nextID: 1}
	for _, u := range users {
		c := *u
		s.users[c.ID] = &c
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
	return s
}

// Calls reports how many times method was invoked.
func (s *UserStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// ResetCalls zeroes all counters.
func (s *UserStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Get returns a copy of the stored user without counting a call.
func (s *UserStore) Get(id int64) (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	c := *u
	return &c, true
}

func (s *UserStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindByID"]++
	return s.find(func(u *domain.User) bool { return u.ID == id })
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindByEmail"]++
	return s.find(func(u *domain.User) bool { return u.Email == email })
}

func (s *UserStore) FindByNationalID(_ context.Context, nationalID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindByNationalID"]++
	return s.find(func(u *domain.User) bool { return u.NationalID == nationalID })
}

func (s *UserStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Create"]++
	for _, u := range s.users {
		if u.Email == user.Email || u.NationalID == user.NationalID {
			return nil, domain.ErrDuplicateUser
		}
	}
	c := *user
	c.ID = s.nextID
	s.nextID++
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	s.users[c.ID] = &c
	out := c
	return &out, nil
}

func (s *UserStore) Update(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Update"]++
	existing, ok := s.users[user.ID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *user
	c.PasswordHash = existing.PasswordHash
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.users[c.ID] = &c
	out := c
	return &out, nil
}

func (s *UserStore) UpdatePassword(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["UpdatePassword"]++
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *UserStore) MarkVerified(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["MarkVerified"]++
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsVerified = true
	return nil
}

func (s *UserStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Delete"]++
	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	return true, nil
}

func (s *UserStore) List(_ context.Context, limit, offset int) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["List"]++
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*domain.User
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		c := *s.users[ids[i]]
		out = append(out, &c)
	}
	return out, nil
}

func (s *UserStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Count"]++
	return int64(len(s.users)), nil
}

func (s *UserStore) find(match func(*domain.User) bool) (*domain.User, error) {
	for _, u := range s.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, domain.ErrUserNotFound
}
