package session

import (
	"context"
	"sync"
)

// Store is the credential store for one client. It is safe for concurrent use.
//
// Writes hold the lock across the durable call so memory and storage observe the same order
// of updates.
//
// Every Clear and Replace starts a new generation. Callers that read the session, wait on the
// network and then write back use SetIf or ClearIf so their result lands only on the session
// it was computed for.
type Store struct {
	mu         sync.RWMutex
	current    Session
	generation uint64
	durable    Durable
}

// NewStore returns an empty store writing through durable. A nil durable uses [MemoryDurable].
func NewStore(durable Durable) *Store {
	if durable == nil {
		durable = NewMemoryDurable()
	}
	return &Store{durable: durable}
}

// Get returns a copy of the current session.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.current
	out.User = s.current.User.clone()
	return out
}

// AccessToken returns the in-memory access token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

// Generation identifies the current session. It changes on every Clear and Replace.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Set merges patch into the session. When the patch carries a refresh token it is persisted
// together with the restore flag. The in-memory session is updated even when persistence
// fails; the returned error wraps [ErrDurableUnavailable].
func (s *Store) Set(ctx context.Context, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, patch)
}

// SetIf merges patch only while the session is still generation gen. It reports whether the
// patch was applied.
func (s *Store) SetIf(ctx context.Context, gen uint64, patch Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false, nil
	}
	return true, s.applyLocked(ctx, patch)
}

// Replace discards the current session and starts a new generation from patch. Without a
// refresh token in patch the durable record is cleared.
func (s *Store) Replace(ctx context.Context, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.current = Session{}
	err := s.applyLocked(ctx, patch)
	if patch.RefreshToken == nil {
		err = s.durable.Clear(ctx)
	}
	return err
}

func (s *Store) applyLocked(ctx context.Context, patch Patch) error {
	if patch.AccessToken != nil {
		s.current.AccessToken = *patch.AccessToken
	}
	if patch.Role != nil {
		s.current.Role = *patch.Role
	}
	if patch.User != nil {
		if isZeroUser(patch.User) {
			s.current.User = nil
		} else {
			s.current.User = patch.User.clone()
		}
	}
	if patch.RefreshToken == nil {
		return nil
	}

	s.current.RefreshToken = *patch.RefreshToken
	return s.durable.Save(ctx, Persisted{
		RefreshToken: s.current.RefreshToken,
		Restore:      s.current.RefreshToken != "",
	})
}

// Clear wipes the in-memory session and the durable record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

// ClearIf clears the session only while it is still generation gen. It reports whether the
// session was cleared.
func (s *Store) ClearIf(ctx context.Context, gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	s.generation++
	s.current = Session{}
	return s.durable.Clear(ctx)
}

// Restore loads the durable refresh token into memory when the restore flag is set. It reports
// whether a token was restored. An existing in-memory refresh token is never overwritten.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	p, err := s.durable.Load(ctx)
	if err != nil {
		return false, err
	}
	if !p.Restore || p.RefreshToken == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.RefreshToken != "" {
		return false, nil
	}
	s.current.RefreshToken = p.RefreshToken
	return true, nil
}

// RefreshToken returns the refresh token to present to the identity service. The in-memory
// token wins: it is written on every update, even when persisting it failed, so durable
// storage can only lag behind it. Durable storage is read only when memory holds no token.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.current.RefreshToken
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	p, err := s.durable.Load(ctx)
	if err != nil {
		return "", err
	}
	return p.RefreshToken, nil
}

func isZeroUser(u *User) bool {
	return u.ID == "" && u.Email == "" && u.Name == "" && len(u.Raw) == 0
}
