package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nkiryanov/storefront/internal/api"
	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/service/validate"
)

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterInput struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email"`
	Phone                string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

// Login and registration response payload
type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

type meResponse struct {
	User *models.User `json:"user"`
}

// Login with email and password and persist the new session
// Has to return apperrors.ErrInvalidCredentials if the server rejects credentials
func (m *Manager) Login(ctx context.Context, email string, password string) (models.Session, error) {
	creds := Credentials{Email: email, Password: password}
	if err := validate.Struct(creds); err != nil {
		return models.Session{}, err
	}

	sess, err := m.authenticate(ctx, PathLogin, creds)
	if err != nil {
		return sess, err
	}

	m.logger.Info("User logged in", "user_id", sess.User.ID)
	return sess, nil
}

// Register new user. The server logs the user in right away
func (m *Manager) Register(ctx context.Context, in RegisterInput) (models.Session, error) {
	if err := validate.Struct(in); err != nil {
		return models.Session{}, err
	}

	sess, err := m.authenticate(ctx, PathRegister, in)
	if err != nil {
		return sess, err
	}

	m.logger.Info("User registered", "user_id", sess.User.ID)
	return sess, nil
}

func (m *Manager) authenticate(ctx context.Context, path string, body any) (models.Session, error) {
	var resp authResponse
	err := m.client.Do(ctx, api.Request{Method: http.MethodPost, Path: path, Body: body}, &resp)

	switch {
	case api.IsUnauthorized(err):
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	case err != nil:
		return models.Session{}, err
	case resp.AccessToken == "" || resp.User == nil:
		return models.Session{}, errors.New("auth response has no access token or user")
	}

	sess := models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	}
	if err := m.store.Save(sess); err != nil {
		return models.Session{}, fmt.Errorf("can't save session: %w", err)
	}

	return sess, nil
}

// Logout tells the server (best effort) and destroys the local session anyway
func (m *Manager) Logout(ctx context.Context) error {
	if token := m.store.AccessToken(); token != "" {
		req := api.Request{Method: http.MethodPost, Path: PathLogout}
		if err := m.client.Do(ctx, req.WithBearer(token), nil); err != nil {
			m.logger.Warn("Server logout failed, destroy local session anyway", "error", err)
		}
	}

	if err := m.store.Destroy(); err != nil {
		return fmt.Errorf("can't destroy session: %w", err)
	}

	m.logger.Info("User logged out")
	return nil
}

// Me fetches current user and updates cached user
func (m *Manager) Me(ctx context.Context) (models.User, error) {
	var resp meResponse
	if err := m.Do(ctx, api.Request{Method: http.MethodGet, Path: PathMe}, &resp); err != nil {
		return models.User{}, err
	}
	if resp.User == nil {
		return models.User{}, errors.New("me response has no user")
	}

	if err := m.store.SetUser(*resp.User); err != nil {
		return *resp.User, fmt.Errorf("can't save user: %w", err)
	}

	return *resp.User, nil
}

// Restore hydrates stored session on start
// Without access token there is nothing to restore. If the user can't be fetched the session is destroyed
func (m *Manager) Restore(ctx context.Context) error {
	if m.store.AccessToken() == "" {
		if err := m.store.Destroy(); err != nil {
			return fmt.Errorf("can't clear session: %w", err)
		}
		return nil
	}

	user, err := m.Me(ctx)
	if err != nil {
		m.destroy()
		return fmt.Errorf("can't restore session: %w", err)
	}

	m.logger.Debug("Session restored", "user_id", user.ID)
	return nil
}
