package store

import (
	"fmt"
	"sync"
	"time"

	"linechat/pkg/model"
)

// MemoryStore provides an in-memory CredentialStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextID     int64
	byUsername map[string]*model.Credential
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:        now,
		nextID:     1,
		byUsername: make(map[string]*model.Credential),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Create persists a first-time registration and returns the stored record.
func (s *MemoryStore) Create(username, password string) (*model.Credential, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("store: create credential: %w", err)
	}
	if password == "" {
		return nil, fmt.Errorf("store: create credential: %w", model.ErrPasswordEmpty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[username]; exists {
		return nil, fmt.Errorf("store: create credential: constraint failed: UNIQUE constraint failed: credentials.username")
	}
	c := &model.Credential{
		ID:        s.nextID,
		Username:  username,
		Password:  password,
		CreatedAt: s.now().UTC(),
	}
	s.nextID++
	s.byUsername[username] = c
	cp := *c
	return &cp, nil
}

// Lookup retrieves a credential by exact username match.
func (s *MemoryStore) Lookup(username string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Count returns the number of stored credentials.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUsername), nil
}
