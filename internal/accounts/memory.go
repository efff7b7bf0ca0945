package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
)

// MemoryStore keeps users in process. Used in development mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*models.User
	byKey   map[string]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*models.User),
		byKey:   make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return models.ErrDuplicate
	}
	if _, ok := s.byKey[user.APIKey]; ok {
		return models.ErrDuplicate
	}

	now := s.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	u := *user
	s.byEmail[u.Email] = &u
	s.byKey[u.APIKey] = u.Email
	return nil
}

func (s *MemoryStore) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.byKey[apiKey]
	if !ok {
		return nil, models.ErrNotFound
	}
	u := *s.byEmail[email]
	return &u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpdateUserTier(ctx context.Context, email, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok {
		return models.ErrNotFound
	}
	u.Tier = tier
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) RotateAPIKey(ctx context.Context, email, newAPIKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byEmail[email]
	if !ok {
		return models.ErrNotFound
	}
	if _, taken := s.byKey[newAPIKey]; taken {
		return models.ErrDuplicate
	}
	delete(s.byKey, u.APIKey)
	u.APIKey = newAPIKey
	u.UpdatedAt = s.now().UTC()
	s.byKey[newAPIKey] = email
	return nil
}

func (s *MemoryStore) Tier(ctx context.Context, apiKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.byKey[apiKey]
	if !ok {
		return "", models.ErrNotFound
	}
	return s.byEmail[email].Tier, nil
}
