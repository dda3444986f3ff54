package session

import (
	"sync"
	"time"

	"github.com/waymark-app/waymark/internal/util"
)

// MemoryStore is a mutex-guarded in-memory Store. Records are lost on
// restart; it backs the tests and throwaway debug runs.
type MemoryStore struct {
	mu       sync.Mutex
	data     map[string]*Record
	idle     time.Duration
	remember time.Duration
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(idle, remember time.Duration) *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]*Record),
		idle:     idle,
		remember: remember,
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(remember bool) (*Record, error) {
	rec, err := newRecord(remember, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.data[rec.ID] = rec
	s.mu.Unlock()
	return copyRecord(rec), nil
}

func (s *MemoryStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok {
		return nil, nil
	}
	if rec.expired(s.now(), s.idle, s.remember) {
		delete(s.data, id)
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok || rec.expired(s.now(), s.idle, s.remember) {
		delete(s.data, id)
		return false
	}
	rec.LastSeenAt = s.now()
	return true
}

func (s *MemoryStore) Destroy(id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DestroyAll() error {
	s.mu.Lock()
	s.data = make(map[string]*Record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RotateCSRF(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[id]
	if !ok || rec.expired(s.now(), s.idle, s.remember) {
		delete(s.data, id)
		return "", ErrNotFound
	}
	token, err := util.RandomToken(tokenBytes)
	if err != nil {
		return "", err
	}
	rec.CSRFToken = token
	rec.CSRFIssuedAt = s.now()
	return token, nil
}

func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, rec := range s.data {
		if rec.expired(now, s.idle, s.remember) {
			delete(s.data, id)
		}
	}
}

func copyRecord(rec *Record) *Record {
	dup := *rec
	return &dup
}
