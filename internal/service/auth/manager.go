package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/storefront/internal/api"
	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/logger"
	"github.com/nkiryanov/storefront/internal/models"
)

const (
	PathLogin    = "/api/auth/login"
	PathRegister = "/api/auth/register"
	PathRefresh  = "/api/auth/refresh-token"
	PathMe       = "/api/auth/me"
	PathLogout   = "/api/auth/logout"

	defaultRefreshTimeout = 10 * time.Second
)

type apiClient interface {
	Do(ctx context.Context, r api.Request, out any) error
}

type sessionStore interface {
	Session() models.Session
	AccessToken() string
	RefreshToken() string
	Save(sess models.Session) error
	SetUser(u models.User) error
	UpdateTokens(access string, refresh string) error
	Destroy() error
}

// Manager config with sensible defaults
type Config struct {
	// Max time for the refresh call
	// The refresh is not cancelled with the caller's context: other requests wait for it
	RefreshTimeout time.Duration
}

type refreshResult struct {
	token string
	err   error
}

// Request failed with 401 while refresh was in flight
// The request itself stays with its goroutine; entry only delivers the refresh result
type queueEntry struct {
	id   uuid.UUID
	done chan refreshResult
}

// Manager owns the access/refresh token lifecycle
//
// Every request made with Do carries the current access token.
// On 401 the manager refreshes the token once, no matter how many requests fail
// at the same time, and replays every failed request with the new token.
type Manager struct {
	client apiClient
	store  sessionStore
	logger logger.Logger

	refreshTimeout time.Duration

	mu         sync.Mutex
	refreshing bool
	queue      []*queueEntry

	refreshes atomic.Int64
}

func NewManager(cfg Config, client apiClient, store sessionStore, l logger.Logger) (*Manager, error) {
	if client == nil || store == nil {
		return nil, errors.New("client and store must not be nil")
	}

	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}

	return &Manager{
		client:         client,
		store:          store,
		logger:         logger.OrNoOp(l).With("component", "auth"),
		refreshTimeout: cfg.RefreshTimeout,
	}, nil
}

// Refreshes returns number of refresh calls made
func (m *Manager) Refreshes() int64 {
	return m.refreshes.Load()
}

// Do sends request with current bearer token
// On 401 the token is refreshed and the request is replayed once
// Any other error, or 401 after the replay, is returned unchanged
func (m *Manager) Do(ctx context.Context, r api.Request, out any) error {
	token := m.store.AccessToken()

	err := m.client.Do(ctx, r.WithBearer(token), out)
	if err == nil || !api.IsUnauthorized(err) {
		return err
	}

	return m.recover(ctx, r, out, token, err)
}

// recover handles 401 of a not yet retried request
func (m *Manager) recover(ctx context.Context, r api.Request, out any, failedToken string, origErr error) error {
	m.mu.Lock()

	// Refresh in flight: wait for it in the queue
	if m.refreshing {
		entry := &queueEntry{id: uuid.New(), done: make(chan refreshResult, 1)}
		m.queue = append(m.queue, entry)
		m.mu.Unlock()

		m.logger.Debug("Request queued until token refreshed", "request", r.String(), "entry", entry.id)

		select {
		case res := <-entry.done:
			if res.err != nil {
				return res.err
			}
			return m.replay(ctx, r, out, res.token)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Token was refreshed while the request was in flight: no need to refresh again
	if current := m.store.AccessToken(); current != "" && current != failedToken {
		m.mu.Unlock()
		return m.replay(ctx, r, out, current)
	}

	m.refreshing = true
	m.mu.Unlock()

	token, err := m.refresh(ctx)

	// Drain queue and clear the flag at once: requests failing after that start a new refresh
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.refreshing = false
	m.mu.Unlock()

	for _, entry := range queue {
		entry.done <- refreshResult{token: token, err: err}
	}

	if err != nil {
		m.logger.Warn("Token refresh failed, session destroyed", "error", err, "rejected", len(queue))
		return origErr
	}

	m.logger.Debug("Token refreshed", "replayed", len(queue)+1)
	return m.replay(ctx, r, out, token)
}

// replay sends request once more. Its errors are final, including 401
func (m *Manager) replay(ctx context.Context, r api.Request, out any, token string) error {
	return m.client.Do(ctx, r.WithBearer(token), out)
}

// refresh exchanges refresh token for a new access token and persists it
// Any failure destroys the session
func (m *Manager) refresh(ctx context.Context) (string, error) {
	refresh := m.store.RefreshToken()
	if refresh == "" {
		m.destroy()
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, apperrors.ErrNoRefreshToken)
	}

	m.refreshes.Add(1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	type refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	var pair models.TokenPair
	err := m.client.Do(ctx, api.Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   refreshRequest{RefreshToken: refresh},
	}, &pair)
	if err == nil && pair.Access == "" {
		err = errors.New("refresh response has no access token")
	}
	if err == nil {
		err = m.store.UpdateTokens(pair.Access, pair.Refresh)
	}

	if err != nil {
		m.destroy()
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}

	return pair.Access, nil
}

func (m *Manager) destroy() {
	if err := m.store.Destroy(); err != nil {
		m.logger.Error("Failed to destroy session", "error", err)
	}
}
