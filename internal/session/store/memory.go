package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"session-manager/backend/internal/session/domain"
)

type memoryRecord struct {
	session   domain.Session
	expiresAt time.Time
	score     float64
}

// MemoryStore satisfies the Store contract with plain maps under a mutex.
// It mirrors the Redis semantics exactly, including lazy expiry, so tests
// exercise the same contract the production store provides.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*memoryRecord            // token -> record
	index    map[string]map[string]float64       // accountID -> token -> score
	accounts AccountResolver
	now      func() time.Time
}

func NewMemoryStore(accounts AccountResolver) *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*memoryRecord),
		index:    make(map[string]map[string]float64),
		accounts: accounts,
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateWithEviction(ctx context.Context, accountID string, sess *domain.Session, ttl time.Duration, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index[accountID]
	if idx == nil {
		idx = make(map[string]float64)
		s.index[accountID] = idx
	}
	if len(idx) >= limit {
		for _, token := range s.oldestLocked(idx, len(idx)-limit+1) {
			delete(idx, token)
			delete(s.records, token)
		}
	}
	score := recencyScore(sess.LastActiveAt)
	idx[sess.Token] = score
	copied := *sess
	s.records[sess.Token] = &memoryRecord{
		session:   copied,
		expiresAt: s.now().Add(ttl),
		score:     score,
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.liveLocked(token)
	if rec == nil {
		return nil, nil
	}
	copied := rec.session
	return &copied, nil
}

func (s *MemoryStore) RenewIfPresent(ctx context.Context, accountID, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	score := recencyScore(now)
	if rec := s.liveLocked(token); rec != nil {
		rec.session.LastActiveAt = now
		rec.expiresAt = s.now().Add(ttl)
		rec.score = score
	}
	if idx := s.index[accountID]; idx != nil {
		if _, ok := idx[token]; ok {
			idx[token] = score
		}
	}
	return nil
}

func (s *MemoryStore) DeleteAndUnindex(ctx context.Context, token, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(token) == nil {
		return false, nil
	}
	delete(s.records, token)
	if idx := s.index[accountID]; idx != nil {
		delete(idx, token)
	}
	return true, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, accountID string) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveLocked(accountID), nil
}

func (s *MemoryStore) Stats(ctx context.Context, accountID string) (*Stats, error) {
	s.mu.Lock()
	var sessions []*domain.Session
	if accountID != "" {
		sessions = s.listActiveLocked(accountID)
	} else {
		accountIDs := make([]string, 0, len(s.index))
		for id := range s.index {
			accountIDs = append(accountIDs, id)
		}
		sort.Strings(accountIDs)
		for _, id := range accountIDs {
			sessions = append(sessions, s.listActiveLocked(id)...)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		if _, ok := seen[sess.AccountID]; !ok {
			seen[sess.AccountID] = struct{}{}
			ids = append(ids, sess.AccountID)
		}
	}
	accounts, err := s.accounts.GetByIDSet(ctx, ids)
	if err != nil {
		return nil, err
	}
	return buildStats(sessions, accounts), nil
}

func (s *MemoryStore) listActiveLocked(accountID string) []*domain.Session {
	idx := s.index[accountID]
	if len(idx) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(idx))
	for token := range idx {
		if rec := s.liveLocked(token); rec != nil {
			tokens = append(tokens, token)
		} else {
			delete(idx, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := idx[tokens[i]], idx[tokens[j]]
		if a != b {
			return a < b
		}
		return tokens[i] < tokens[j]
	})
	sessions := make([]*domain.Session, len(tokens))
	for i, token := range tokens {
		copied := s.records[token].session
		sessions[i] = &copied
	}
	return sessions
}

// liveLocked returns the record for token, lazily discarding it if expired.
func (s *MemoryStore) liveLocked(token string) *memoryRecord {
	rec, ok := s.records[token]
	if !ok {
		return nil
	}
	if !s.now().Before(rec.expiresAt) {
		delete(s.records, token)
		return nil
	}
	return rec
}

// oldestLocked returns the n tokens with the lowest scores, ties broken by
// token so eviction order is stable.
func (s *MemoryStore) oldestLocked(idx map[string]float64, n int) []string {
	tokens := make([]string, 0, len(idx))
	for token := range idx {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := idx[tokens[i]], idx[tokens[j]]
		if a != b {
			return a < b
		}
		return tokens[i] < tokens[j]
	})
	if n > len(tokens) {
		n = len(tokens)
	}
	return tokens[:n]
}
