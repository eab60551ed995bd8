// Package fakeapi runs in-process fake of the storefront REST API
//
// It speaks the same envelope and endpoints as the real API, issues real
// HS256 access tokens and rotating refresh tokens, and lets tests inject
// faults, delays and holds per endpoint.
package fakeapi

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
)

// Endpoint patterns. Use them with Calls, FailNext and Hold
const (
	PatternRegister       = "POST /api/auth/register"
	PatternLogin          = "POST /api/auth/login"
	PatternRefresh        = "POST /api/auth/refresh-token"
	PatternMe             = "GET /api/auth/me"
	PatternLogout         = "POST /api/auth/logout"
	PatternFavorites      = "GET /api/favorites"
	PatternAddFavorite    = "POST /api/favorites/{itemId}"
	PatternRemoveFavorite = "DELETE /api/favorites/{itemId}"
)

const testSecret = "fake-api-secret"

type account struct {
	user         models.User
	passwordHash string
}

type fault struct {
	status  int
	message string
}

type Server struct {
	URL string

	t      testing.TB
	srv    *httptest.Server
	issuer *tokenIssuer
	hasher bcryptHasher
	logger logger.Logger

	mu            sync.Mutex
	accounts      map[int64]*account
	emails        map[string]int64
	nextUserID    int64
	access        map[string]bool // jti -> still valid
	refreshTokens map[string]int64
	items         map[int64]models.Item
	favorites     map[int64][]int64
	calls         map[string]int
	faults        map[string][]fault
	holds         map[string]chan struct{}
	refreshDelay  time.Duration
	failRefresh   bool
	rotate        bool
}

type Option func(s *Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger.OrNoOp(l)
	}
}

// Access tokens lifetime. Negative value issues already expired tokens
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		issuer, err := newTokenIssuer(testSecret, ttl)
		require.NoError(s.t, err)
		s.issuer = issuer
	}
}

// New starts fake API server. It is closed when the test ends
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	issuer, err := newTokenIssuer(testSecret, 0)
	require.NoError(t, err)

	s := &Server{
		t:             t,
		issuer:        issuer,
		logger:        logger.NewNoOpLogger(),
		accounts:      make(map[int64]*account),
		emails:        make(map[string]int64),
		access:        make(map[string]bool),
		refreshTokens: make(map[string]int64),
		items:         make(map[int64]models.Item),
		favorites:     make(map[int64][]int64),
		calls:         make(map[string]int),
		faults:        make(map[string][]fault),
		holds:         make(map[string]chan struct{}),
		rotate:        true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)

	return s
}

// Close releases held requests and stops the server
func (s *Server) Close() {
	s.mu.Lock()
	for pattern, gate := range s.holds {
		close(gate)
		delete(s.holds, pattern)
	}
	s.mu.Unlock()

	s.srv.Close()
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc, withAuth bool) {
		var handler http.Handler = h
		if withAuth {
			handler = s.authMiddleware(handler)
		}
		mux.Handle(pattern, s.instrument(pattern, handler))
	}

	handle(PatternRegister, s.handleRegister, false)
	handle(PatternLogin, s.handleLogin, false)
	handle(PatternRefresh, s.handleRefresh, false)
	handle(PatternMe, s.handleMe, true)
	handle(PatternLogout, s.handleLogout, true)
	handle(PatternFavorites, s.handleListFavorites, true)
	handle(PatternAddFavorite, s.handleAddFavorite, true)
	handle(PatternRemoveFavorite, s.handleRemoveFavorite, true)

	return chain(mux, s.loggerMiddleware)
}

// CreateUser registers account directly, without the API
func (s *Server) CreateUser(name string, email string, password string) models.User {
	s.t.Helper()

	hash, err := s.hasher.Hash(password)
	require.NoError(s.t, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.createAccountLocked(name, email, "", hash)
	require.NoError(s.t, err)
	return user
}

// IssueSession returns fresh tokens for the user as if it logged in
func (s *Server) IssueSession(user models.User) models.Session {
	s.t.Helper()

	pair, err := s.issuePair(user.ID)
	require.NoError(s.t, err)

	u := user
	return models.Session{AccessToken: pair.Access, RefreshToken: pair.Refresh, User: &u}
}

// AddItem registers item shown in favorites list
func (s *Server) AddItem(item models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// SetFavorites replaces user favorites on the server side
func (s *Server) SetFavorites(userID int64, itemIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites[userID] = slices.Clone(itemIDs)
}

// Favorites returns item ids favorited by the user, in order of addition
func (s *Server) Favorites(userID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites[userID])
}

// ExpireAccessTokens makes every issued access token rejected with 401
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti := range s.access {
		s.access[jti] = false
	}
}

// SetRefreshDelay delays every refresh response
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// FailRefresh makes refresh endpoint reject every token with 401
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRotateRefresh controls whether refresh returns new refresh token (the default)
// Without rotation the response has no refresh token and the old one stays valid
func (s *Server) SetRotateRefresh(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate = rotate
}

// FailNext makes the next request to the pattern fail with status and message
// Faults are consumed in order, one per request
func (s *Server) FailNext(pattern string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[pattern] = append(s.faults[pattern], fault{status: status, message: message})
}

func (s *Server) popFault(pattern string) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	faults := s.faults[pattern]
	if len(faults) == 0 {
		return fault{}, false
	}
	s.faults[pattern] = faults[1:]
	return faults[0], true
}

// Hold blocks requests to the pattern until release is called
// Calls are counted before blocking, so tests may wait for a request to arrive
func (s *Server) Hold(pattern string) (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.holds[pattern] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.holds[pattern] == gate {
				close(gate)
				delete(s.holds, pattern)
			}
		})
	}
}

// Calls returns number of requests to the pattern
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

func (s *Server) RefreshCalls() int {
	return s.Calls(PatternRefresh)
}

// ValidRefreshToken reports whether refresh token is accepted by the server
func (s *Server) ValidRefreshToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refreshTokens[token]
	return ok
}
