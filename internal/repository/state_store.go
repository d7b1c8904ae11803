package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/cache"
)

// ErrSessionLocked is returned when another process holds the session lease.
var ErrSessionLocked = errors.New("session is locked")

// CacheStateStore keeps the latest engine state per session in a cache.
type CacheStateStore struct {
	cache cache.Service
	ttl   time.Duration
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)

func NewCacheStateStore(c cache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{cache: c, ttl: ttl}
}

func stateKey(sessionID string) string { return "state:" + sessionID }

func leaseKey(sessionID string) string { return "lease:" + sessionID }

func (s *CacheStateStore) Save(ctx context.Context, st *models.EngineState) error {
	if err := s.cache.Set(ctx, stateKey(st.SessionID), st, s.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", st.SessionID, err)
	}
	return nil
}

// Load returns nil without error when nothing is stored for the session.
func (s *CacheStateStore) Load(ctx context.Context, sessionID string) (*models.EngineState, error) {
	var st models.EngineState
	if err := s.cache.Get(ctx, stateKey(sessionID), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state %s: %w", sessionID, err)
	}
	return &st, nil
}

// Lock takes the session lease for the store TTL.
func (s *CacheStateStore) Lock(ctx context.Context, sessionID string) error {
	ok, err := s.cache.TryLock(ctx, leaseKey(sessionID), s.ttl)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionLocked, sessionID)
	}
	return nil
}

// Unlock releases the session lease.
func (s *CacheStateStore) Unlock(ctx context.Context, sessionID string) error {
	if err := s.cache.Unlock(ctx, leaseKey(sessionID)); err != nil {
		return fmt.Errorf("unlock session %s: %w", sessionID, err)
	}
	return nil
}

func (s *CacheStateStore) Close() error { return s.cache.Close() }
