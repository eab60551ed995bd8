package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/service/validate"
	"github.com/nkiryanov/storefront/internal/testutil/fakeapi"
)

func TestManager_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newEnv(t)

		sess, err := e.manager.Login(t.Context(), "a@b.com", "secret")

		require.NoError(t, err)
		require.True(t, e.store.IsAuthenticated())
		require.Equal(t, "a@b.com", e.store.User().Email)
		require.Equal(t, sess, e.store.Session())
		require.NotEmpty(t, sess.RefreshToken)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.manager.Login(t.Context(), "a@b.com", "wrong")

		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		require.False(t, e.store.IsAuthenticated())
		require.Zero(t, e.srv.RefreshCalls(), "failed login must not trigger refresh")
	})

	t.Run("invalid input not sent", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.manager.Login(t.Context(), "not-email", "")

		var vErr *validate.Error
		require.ErrorAs(t, err, &vErr)
		require.Contains(t, vErr.Fields, "email")
		require.Contains(t, vErr.Fields, "password")
		require.Zero(t, e.srv.Calls(fakeapi.PatternLogin))
	})
}

func TestManager_Register(t *testing.T) {
	input := RegisterInput{
		Name:                 "Bob",
		Email:                "bob@b.com",
		Phone:                "+100",
		Password:             "password1",
		PasswordConfirmation: "password1",
	}

	t.Run("ok", func(t *testing.T) {
		e := newEnv(t)

		sess, err := e.manager.Register(t.Context(), input)

		require.NoError(t, err)
		require.True(t, sess.Authenticated())
		require.Equal(t, "Bob", e.store.User().Name)
		require.Equal(t, "+100", e.store.User().Phone)
	})

	t.Run("email taken", func(t *testing.T) {
		e := newEnv(t)
		in := input
		in.Email = "a@b.com"

		_, err := e.manager.Register(t.Context(), in)

		require.Error(t, err)
		require.False(t, e.store.IsAuthenticated())
	})

	t.Run("password confirmation mismatch", func(t *testing.T) {
		e := newEnv(t)
		in := input
		in.PasswordConfirmation = "password2"

		_, err := e.manager.Register(t.Context(), in)

		var vErr *validate.Error
		require.ErrorAs(t, err, &vErr)
		require.Contains(t, vErr.Fields, "password_confirmation")
		require.Zero(t, e.srv.Calls(fakeapi.PatternRegister))
	})
}

func TestManager_Logout(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newEnv(t)
		sess := e.login(t)

		err := e.manager.Logout(t.Context())

		require.NoError(t, err)
		require.Equal(t, models.Session{}, e.store.Session())
		require.Equal(t, 1, e.srv.Calls(fakeapi.PatternLogout))
		require.False(t, e.srv.ValidRefreshToken(sess.RefreshToken))
	})

	t.Run("server failed", func(t *testing.T) {
		e := newEnv(t)
		e.login(t)
		e.srv.FailNext(fakeapi.PatternLogout, http.StatusInternalServerError, "boom")

		err := e.manager.Logout(t.Context())

		require.NoError(t, err)
		require.Equal(t, models.Session{}, e.store.Session())
	})

	t.Run("logged out already", func(t *testing.T) {
		e := newEnv(t)

		err := e.manager.Logout(t.Context())

		require.NoError(t, err)
		require.Zero(t, e.srv.Calls(fakeapi.PatternLogout))
	})
}

func TestManager_Restore(t *testing.T) {
	t.Run("nothing to restore", func(t *testing.T) {
		e := newEnv(t)

		err := e.manager.Restore(t.Context())

		require.NoError(t, err)
		require.Zero(t, e.srv.Calls(fakeapi.PatternMe))
	})

	t.Run("user refreshed", func(t *testing.T) {
		e := newEnv(t)
		sess := e.srv.IssueSession(e.user)
		sess.User = &models.User{ID: e.user.ID, Name: "Old name", Email: "a@b.com"}
		require.NoError(t, e.store.Save(sess))

		err := e.manager.Restore(t.Context())

		require.NoError(t, err)
		require.Equal(t, e.user, *e.store.User())
	})

	t.Run("restore with expired access", func(t *testing.T) {
		e := newEnv(t)
		e.login(t)
		e.srv.ExpireAccessTokens()

		err := e.manager.Restore(t.Context())

		require.NoError(t, err)
		require.True(t, e.store.IsAuthenticated())
		require.Equal(t, 1, e.srv.RefreshCalls())
	})

	t.Run("me failed", func(t *testing.T) {
		e := newEnv(t)
		e.login(t)
		e.srv.FailNext(fakeapi.PatternMe, http.StatusInternalServerError, "boom")

		err := e.manager.Restore(t.Context())

		require.Error(t, err)
		assert.Equal(t, models.Session{}, e.store.Session())
	})
}

func TestManager_Me(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.manager.Me(t.Context())

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("ok", func(t *testing.T) {
		e := newEnv(t)
		e.login(t)

		user, err := e.manager.Me(t.Context())

		require.NoError(t, err)
		require.Equal(t, e.user, user)
	})
}
