package dataprofile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned by stores that have no profile for a session.
	ErrNotFound = errors.New("profile not found")

	// ErrProfileUnavailable is returned by SessionToolProvider when no profile can be loaded.
	ErrProfileUnavailable = errors.New("profile unavailable")
)

// Store resolves dataset profiles by session id
type Store interface {
	Load(ctx context.Context, sessionID string) (*Profile, error)
	AppendInsight(ctx context.Context, sessionID string, insight Insight) error
}

// Writer is implemented by stores that accept profile uploads.
type Writer interface {
	Save(ctx context.Context, sessionID string, profile *Profile) error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// Load returns a copy of the stored profile
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	p, ok := s.profiles[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return cloneProfile(p)
}

// Save stores a copy of the profile
func (s *MemoryStore) Save(ctx context.Context, sessionID string, profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	p, err := cloneProfile(profile)
	if err != nil {
		return err
	}
	p.SessionID = sessionID

	s.mu.Lock()
	s.profiles[sessionID] = p
	s.mu.Unlock()
	return nil
}

// AppendInsight adds an insight to the stored profile
func (s *MemoryStore) AppendInsight(ctx context.Context, sessionID string, insight Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	p.Insights = append(p.Insights, insight)
	return nil
}

func cloneProfile(p *Profile) (*Profile, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to copy profile: %w", err)
	}
	var out Profile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy profile: %w", err)
	}
	return &out, nil
}
