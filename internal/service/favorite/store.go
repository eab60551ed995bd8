package favorite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/nkiryanov/storefront/internal/api"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/session"
)

const PathFavorites = "/api/favorites"

// State of a single item from the client point of view
type State int

const (
	StateAbsent State = iota
	StatePendingAdd
	StateFavorite
	StatePendingRemove
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StatePendingAdd:
		return "pending_add"
	case StateFavorite:
		return "favorite"
	case StatePendingRemove:
		return "pending_remove"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Requests made on behalf of the authenticated user (auth.Manager)
type requester interface {
	Do(ctx context.Context, r api.Request, out any) error
}

type sessionSource interface {
	Session() models.Session
	Subscribe(l session.Listener) func()
}

// Store keeps the user's favorite items and changes them optimistically
//
// Add and Remove update the local state before the server answers and roll it
// back if the server rejects the change. Every mutation ends with a refetch,
// so the server stays the source of truth.
type Store struct {
	client   requester
	sessions sessionSource
	logger   logger.Logger

	mu     sync.RWMutex
	userID int64
	states map[int64]State
	items  []models.Favorite // display list in server order

	unsubscribe func()
}

func NewStore(client requester, sessions sessionSource, l logger.Logger) (*Store, error) {
	if client == nil || sessions == nil {
		return nil, errors.New("client and sessions must not be nil")
	}

	s := &Store{
		client:   client,
		sessions: sessions,
		logger:   logger.OrNoOp(l).With("component", "favorites"),
		states:   make(map[int64]State),
		userID:   sessions.Session().UserID(),
	}
	s.unsubscribe = sessions.Subscribe(s.onSession)

	return s, nil
}

// Close stops following session changes
func (s *Store) Close() {
	s.unsubscribe()
}

// Clear local state when the user logs out or another user logs in
func (s *Store) onSession(sess models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := sess.UserID()
	if sess.Authenticated() && userID == s.userID {
		return
	}

	s.logger.Debug("Session changed, favorites cleared", "user_id", userID)
	s.userID = userID
	s.clearLocked()
}

func (s *Store) clearLocked() {
	s.states = make(map[int64]State)
	s.items = nil
}

func (s *Store) authenticated() bool {
	return s.sessions.Session().Authenticated()
}

// IsFavorite reports whether item is favorite or being added
func (s *Store) IsFavorite(itemID int64) bool {
	st := s.State(itemID)
	return st == StatePendingAdd || st == StateFavorite
}

func (s *Store) State(itemID int64) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[itemID]
}

// Items returns display list of favorites
func (s *Store) Items() []models.Favorite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// IDs returns ids of items shown as favorite, sorted
func (s *Store) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.states))
	for id, st := range s.states {
		if st == StatePendingAdd || st == StateFavorite {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Refresh replaces local state with the server list
// Without authenticated session the state is cleared and no request is made.
// The list is dropped if the session ends or changes user while it is fetched.
func (s *Store) Refresh(ctx context.Context) error {
	sess := s.sessions.Session()
	if !sess.Authenticated() {
		s.mu.Lock()
		s.clearLocked()
		s.mu.Unlock()
		return nil
	}
	userID := sess.UserID()

	var favorites []models.Favorite
	err := s.client.Do(ctx, api.Request{Method: http.MethodGet, Path: PathFavorites}, &favorites)
	if err != nil {
		return fmt.Errorf("can't fetch favorites: %w", err)
	}

	states := make(map[int64]State, len(favorites))
	for _, f := range favorites {
		states[f.ItemID] = StateFavorite
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.sessions.Session(); s.userID != userID || !current.Authenticated() || current.UserID() != userID {
		s.logger.Debug("Session changed while fetching favorites, result dropped", "user_id", userID)
		return nil
	}
	s.states = states
	s.items = favorites

	return nil
}

// Add marks item favorite right away and confirms it with the server
// No-op without authenticated session
func (s *Store) Add(ctx context.Context, itemID int64) error {
	if !s.authenticated() {
		return nil
	}

	prev := s.setState(itemID, StatePendingAdd)

	err := s.client.Do(ctx, itemRequest(http.MethodPost, itemID), nil)
	switch {
	case err == nil, alreadyFavorited(err):
		s.setState(itemID, StateFavorite)
		err = nil
	default:
		s.logger.Warn("Failed to add favorite, rolled back", "item_id", itemID, "error", err)
		s.setState(itemID, prev)
		err = fmt.Errorf("can't add item %d to favorites: %w", itemID, err)
	}

	s.reconcile(ctx)
	return err
}

// Remove unmarks item right away and confirms it with the server
// Item missing on the server is removed anyway. No-op without authenticated session
func (s *Store) Remove(ctx context.Context, itemID int64) error {
	if !s.authenticated() {
		return nil
	}

	prev, idx, entry := s.markRemoving(itemID)

	err := s.client.Do(ctx, itemRequest(http.MethodDelete, itemID), nil)
	switch {
	case err == nil, notFavorited(err):
		s.setState(itemID, StateAbsent)
		err = nil
	default:
		s.logger.Warn("Failed to remove favorite, rolled back", "item_id", itemID, "error", err)
		s.restore(itemID, prev, idx, entry)
		err = fmt.Errorf("can't remove item %d from favorites: %w", itemID, err)
	}

	s.reconcile(ctx)
	return err
}

func (s *Store) reconcile(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Failed to reconcile favorites", "error", err)
	}
}

// setState sets item state and returns the previous one
func (s *Store) setState(itemID int64, st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.states[itemID]
	if st == StateAbsent {
		delete(s.states, itemID)
	} else {
		s.states[itemID] = st
	}
	return prev
}

// markRemoving sets PendingRemove and drops item from display list
// Returns what is needed to restore it
func (s *Store) markRemoving(itemID int64) (State, int, *models.Favorite) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.states[itemID]
	s.states[itemID] = StatePendingRemove

	idx := slices.IndexFunc(s.items, func(f models.Favorite) bool { return f.ItemID == itemID })
	if idx < 0 {
		return prev, -1, nil
	}
	entry := s.items[idx]
	s.items = slices.Delete(slices.Clone(s.items), idx, idx+1)

	return prev, idx, &entry
}

func (s *Store) restore(itemID int64, prev State, idx int, entry *models.Favorite) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev == StateAbsent {
		delete(s.states, itemID)
	} else {
		s.states[itemID] = prev
	}

	if entry == nil || slices.ContainsFunc(s.items, func(f models.Favorite) bool { return f.ItemID == itemID }) {
		return
	}
	idx = min(idx, len(s.items))
	s.items = slices.Insert(slices.Clone(s.items), idx, *entry)
}

func itemRequest(method string, itemID int64) api.Request {
	return api.Request{Method: method, Path: PathFavorites + "/" + strconv.FormatInt(itemID, 10)}
}

// Server answers 400 or 409 "Item is already in favorites" when item is favorite already
func alreadyFavorited(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return isConflict(apiErr.StatusCode) && containsAny(apiErr, "already in favorites", "already favorited")
}

// Server answers 404, or 400/409 "Item is not in favorites", when item is not favorite
func notFavorited(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return true
	}
	return isConflict(apiErr.StatusCode) && containsAny(apiErr, "not in favorites", "not favorited")
}

func containsAny(err *api.Error, phrases ...string) bool {
	return slices.ContainsFunc(phrases, err.MessageContains)
}

func isConflict(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusConflict
}
