package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
)

// Listener is called after every session change with the new session
type Listener func(models.Session)

// Store keeps client session in memory and mirrors it to durable storage
//
// Tokens and user are written and removed together, so the stored session
// is either logged out (no access token) or complete. Store is safe for concurrent use.
type Store struct {
	storage Storage
	logger  logger.Logger

	mu      sync.RWMutex
	session models.Session

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewStore loads session from storage
func NewStore(storage Storage, l logger.Logger) (*Store, error) {
	s := &Store{
		storage:   storage,
		logger:    logger.OrNoOp(l),
		listeners: make(map[int]Listener),
	}

	sess, err := s.load()
	if err != nil {
		return nil, err
	}
	s.session = sess

	return s, nil
}

func (s *Store) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session)
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Authenticated()
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.RefreshToken
}

// User returns cached user or nil
func (s *Store) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session).User
}

// Save replaces the whole session (login, registration)
func (s *Store) Save(sess models.Session) error {
	if sess.AccessToken == "" || sess.User == nil {
		return fmt.Errorf("session must have access token and user")
	}

	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	values := map[string]string{
		KeyAccessToken: sess.AccessToken,
		KeyUser:        string(user),
	}
	if sess.RefreshToken != "" {
		values[KeyRefreshToken] = sess.RefreshToken
	}

	return s.update(func(current models.Session) (models.Session, error) {
		if err := s.storage.Set(values); err != nil {
			return current, err
		}
		if sess.RefreshToken == "" {
			if err := s.storage.Remove(KeyRefreshToken); err != nil {
				return current, err
			}
		}
		return copySession(sess), nil
	})
}

// SetUser updates cached user of the current session
func (s *Store) SetUser(u models.User) error {
	user, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	return s.update(func(current models.Session) (models.Session, error) {
		if current.AccessToken == "" {
			return current, fmt.Errorf("can't set user to logged out session")
		}
		if err := s.storage.Set(map[string]string{KeyUser: string(user)}); err != nil {
			return current, err
		}
		current.User = &u
		return current, nil
	})
}

// UpdateTokens stores refreshed tokens in place
// Empty refresh keeps the current refresh token (rotation is optional)
func (s *Store) UpdateTokens(access string, refresh string) error {
	if access == "" {
		return fmt.Errorf("access token must not be empty")
	}

	values := map[string]string{KeyAccessToken: access}
	if refresh != "" {
		values[KeyRefreshToken] = refresh
	}

	return s.update(func(current models.Session) (models.Session, error) {
		if err := s.storage.Set(values); err != nil {
			return current, err
		}
		current.AccessToken = access
		if refresh != "" {
			current.RefreshToken = refresh
		}
		return current, nil
	})
}

// Destroy clears all session fields
// Memory state is cleared even if storage fails
func (s *Store) Destroy() error {
	return s.update(func(current models.Session) (models.Session, error) {
		err := s.storage.Remove(KeyAccessToken, KeyRefreshToken, KeyUser)
		if err != nil {
			s.logger.Error("Failed to remove session from storage", "error", err)
		}
		return models.Session{}, err
	})
}

// Resync reloads session from storage. Used when storage was changed by another process
// The local state is replaced, not merged
func (s *Store) Resync() error {
	return s.update(func(current models.Session) (models.Session, error) {
		sess, err := s.load()
		if err != nil {
			return current, err
		}
		return sess, nil
	})
}

// Subscribe registers listener for session changes
// Returned function removes the listener
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// update applies fn under lock and notifies listeners if session changed
// fn may return changed session together with error: it's applied anyway
func (s *Store) update(fn func(current models.Session) (models.Session, error)) error {
	s.mu.Lock()
	prev := s.session
	next, err := fn(copySession(prev))
	s.session = next
	changed := !prev.Equal(next)
	s.mu.Unlock()

	if changed {
		s.notify(copySession(next))
	}

	return err
}

func (s *Store) notify(sess models.Session) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(copySession(sess))
	}
}

func (s *Store) load() (models.Session, error) {
	var sess models.Session

	access, ok, err := s.storage.Get(KeyAccessToken)
	if err != nil {
		return sess, fmt.Errorf("failed to load access token: %w", err)
	}
	if !ok || access == "" {
		return sess, nil
	}
	sess.AccessToken = access

	refresh, _, err := s.storage.Get(KeyRefreshToken)
	if err != nil {
		return sess, fmt.Errorf("failed to load refresh token: %w", err)
	}
	sess.RefreshToken = refresh

	raw, ok, err := s.storage.Get(KeyUser)
	if err != nil {
		return sess, fmt.Errorf("failed to load user: %w", err)
	}
	if ok {
		var u models.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			// Keep tokens: user will be fetched again on restore
			s.logger.Warn("Stored user is corrupted, ignore it", "error", err)
		} else {
			sess.User = &u
		}
	}

	return sess, nil
}

func copySession(s models.Session) models.Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
