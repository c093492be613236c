package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"linkgate.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps all federation state in process. Intended for tests and single-node
// development setups.
type MemoryStore struct {
	nonces *MemoryNonceStore

	mu       sync.Mutex
	fences   map[string]FenceRecord
	accounts map[string]*Account
	byLogin  map[string]string
	byRemote map[string]string
}

// NewMemoryStore builds an empty store whose nonces expire after nonceTTL.
func NewMemoryStore(nonceTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		nonces:   NewMemoryNonceStore(nonceTTL),
		fences:   make(map[string]FenceRecord),
		accounts: make(map[string]*Account),
		byLogin:  make(map[string]string),
		byRemote: make(map[string]string),
	}
}

func (s *MemoryStore) Nonces(context.Context) NonceStore     { return s.nonces }
func (s *MemoryStore) Fences(context.Context) FenceStore     { return (*memoryFences)(s) }
func (s *MemoryStore) Links(context.Context) LinkStore       { return (*memoryLinks)(s) }
func (s *MemoryStore) Accounts(context.Context) AccountStore { return (*memoryAccounts)(s) }

// MemoryNonceStore keeps nonces in a go-cache instance.
type MemoryNonceStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryNonceStore returns a nonce store evicting entries after ttl (never when ttl <= 0).
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	exp := ttl
	cleanup := ttl
	if ttl <= 0 {
		exp = gocache.NoExpiration
		cleanup = 0
	}
	return &MemoryNonceStore{cache: gocache.New(exp, cleanup)}
}

func (s *MemoryNonceStore) Insert(_ context.Context, n Nonce) error {
	if err := s.cache.Add(n.Value, n.CreatedAt, gocache.DefaultExpiration); err != nil {
		return ErrAlreadyExists
	}
	return nil
}

func (s *MemoryNonceStore) Consume(_ context.Context, value string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(value)
	if !ok {
		return time.Time{}, ErrNotFound
	}
	s.cache.Delete(value)
	created, _ := v.(time.Time)
	return created, nil
}

func (s *MemoryNonceStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, item := range s.cache.Items() {
		if created, ok := item.Object.(time.Time); ok && created.Before(cutoff) {
			s.cache.Delete(key)
			n++
		}
	}
	return n, nil
}

type memoryFences MemoryStore

func (s *memoryFences) Find(_ context.Context, userID string) (FenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.fences[userID]
	if !ok {
		return FenceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *memoryFences) TouchLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.fences[userID]
	rec.UserID = userID
	rec.LastLoggedIn = later(rec.LastLoggedIn, at)
	s.fences[userID] = rec
	return nil
}

func (s *memoryFences) TouchLogout(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.fences[userID]
	rec.UserID = userID
	rec.LastLoggedOut = later(rec.LastLoggedOut, at)
	s.fences[userID] = rec
	return nil
}

func (s *memoryFences) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fences, userID)
	return nil
}

// later keeps the stored instant unless at is newer, at second precision.
func later(current *time.Time, at time.Time) *time.Time {
	at = time.Unix(at.Unix(), 0).UTC()
	if current != nil && current.Unix() >= at.Unix() {
		return current
	}
	return &at
}

type memoryLinks MemoryStore

func (s *memoryLinks) UserForRemote(_ context.Context, remoteID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRemote[remoteID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *memoryLinks) RemoteForUser(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return "", ErrNotFound
	}
	return a.RemoteID, nil
}

func (s *memoryLinks) Link(_ context.Context, userID, remoteID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(remoteID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	if a.RemoteID == remoteID {
		return nil
	}
	if a.RemoteID != "" {
		return ErrAlreadyLinked
	}
	if owner, taken := s.byRemote[remoteID]; taken && owner != userID {
		return ErrRemoteIdentityTaken
	}
	a.RemoteID = remoteID
	s.byRemote[remoteID] = userID
	return nil
}

func (s *memoryLinks) Unlink(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok || a.RemoteID == "" {
		return nil
	}
	delete(s.byRemote, a.RemoteID)
	a.RemoteID = ""
	return nil
}

type memoryAccounts MemoryStore

func (s *memoryAccounts) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if _, ok := s.byLogin[a.Login]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.accounts[a.ID]; ok {
		return ErrAlreadyExists
	}
	if a.RemoteID != "" {
		if _, taken := s.byRemote[a.RemoteID]; taken {
			return ErrRemoteIdentityTaken
		}
		s.byRemote[a.RemoteID] = a.ID
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := *a
	s.accounts[a.ID] = &stored
	s.byLogin[a.Login] = a.ID
	return nil
}

func (s *memoryAccounts) Find(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *memoryAccounts) FindByLogin(_ context.Context, login string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byLogin[login]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.accounts[id]
	return &out, nil
}
