package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/storefront/internal/apperrors"
)

// Run test server with a single handler and return client for it
func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL + "/")
}

func TestClient_Do(t *testing.T) {
	type payload struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	t.Run("decode envelope data", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/auth/me", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"success": true, "data": {"id": 7, "name": "Ann"}, "message": "ok"}`)
		})

		var out payload
		err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/api/auth/me"}, &out)

		require.NoError(t, err)
		require.Equal(t, payload{ID: 7, Name: "Ann"}, out)
	})

	t.Run("decode plain body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]`)
		})

		var out []payload
		err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/list"}, &out)

		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, int64(2), out[1].ID)
	})

	t.Run("no content", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		var out payload
		err := c.Do(t.Context(), Request{Method: http.MethodDelete, Path: "/api/favorites/1"}, &out)

		require.NoError(t, err)
		require.Zero(t, out)
	})

	t.Run("success false on 200", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success": false, "message": "Item is already in favorites"}`)
		})

		err := c.Do(t.Context(), Request{Method: http.MethodPost, Path: "/api/favorites/1"}, nil)

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusOK, apiErr.StatusCode)
		require.True(t, apiErr.MessageContains("ALREADY"))
	})

	t.Run("error with fields", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"success": false, "message": "The given data was invalid.", "errors": {"email": ["The email field is required."]}}`)
		})

		err := c.Do(t.Context(), Request{Method: http.MethodPost, Path: "/api/auth/login", Body: map[string]string{}}, nil)

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		require.Equal(t, "The given data was invalid.", apiErr.Message)
		require.Equal(t, []string{"The email field is required."}, apiErr.Fields["email"])
		require.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
	})

	t.Run("error without body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/api/favorites"}, nil)

		require.Error(t, err)
		require.True(t, IsUnauthorized(err))
		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.NotErrorIs(t, err, apperrors.ErrNotFound)
		require.Contains(t, err.Error(), "Unauthorized")
	})

	t.Run("not found maps to sentinel", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"success": false, "message": "Item is not in favorites"}`)
		})

		err := c.Do(t.Context(), Request{Method: http.MethodDelete, Path: "/api/favorites/3"}, nil)

		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("network error is not api error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := NewClient(srv.URL)

		err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/api/auth/me"}, nil)

		require.Error(t, err)
		var apiErr *Error
		require.False(t, errors.As(err, &apiErr), "network failure should not be reported as api error")
		require.Zero(t, StatusCode(err))
	})

	t.Run("invalid json", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success": true, "data": {"id": "seven"}}`)
		})

		var out payload
		err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/api/auth/me"}, &out)

		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to decode response")
	})
}

func TestClient_Headers(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get(HeaderRequestID), "request id should be generated")

			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"email": "a@b.com"}`, string(body))
		})

		req := Request{Method: http.MethodPost, Path: "/api/auth/login", Body: map[string]string{"email": "a@b.com"}}
		err := c.Do(t.Context(), req.WithBearer("access-1"), nil)

		require.NoError(t, err)
	})

	t.Run("multipart body keeps boundary content type", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			assert.True(t, strings.HasPrefix(ct, "multipart/form-data; boundary="), "unexpected content type %q", ct)

			err := r.ParseMultipartForm(1 << 20)
			require.NoError(t, err)
			assert.Equal(t, "Blue jeans", r.FormValue("title"))

			file, header, err := r.FormFile("images[]")
			require.NoError(t, err)
			defer file.Close() // nolint:errcheck
			content, _ := io.ReadAll(file)
			assert.Equal(t, "jeans.jpg", header.Filename)
			assert.Equal(t, "jpeg-bytes", string(content))
		})

		req := Request{
			Method: http.MethodPost,
			Path:   "/api/items",
			Body:   map[string]string{"ignored": "because form wins"},
			Form: &Form{
				Fields: map[string]string{"title": "Blue jeans"},
				Files:  []FormFile{{Field: "images[]", FileName: "jeans.jpg", Content: []byte("jpeg-bytes")}},
			},
		}
		err := c.Do(t.Context(), req.WithBearer("access-1"), nil)

		require.NoError(t, err)
	})

	t.Run("query and caller request id", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "fixed-id", r.Header.Get(HeaderRequestID))
		})

		req := Request{
			Method: http.MethodGet,
			Path:   "/api/favorites",
			Query:  map[string][]string{"page": {"2"}},
			Header: http.Header{HeaderRequestID: {"fixed-id"}},
		}

		require.NoError(t, c.Do(t.Context(), req, nil))
	})
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_WithHTTPClient(t *testing.T) {
	var got *http.Request
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"success": true, "data": [{"item_id": 5}]}`)),
			Request:    r,
		}, nil
	})
	hc := &http.Client{Transport: transport}

	c := NewClient("http://api.test", WithHTTPClient(hc), WithTimeout(time.Second))

	var out []map[string]int64
	err := c.Do(t.Context(), Request{Method: http.MethodGet, Path: "/api/favorites"}.WithBearer("access-1"), &out)

	require.NoError(t, err)
	require.Equal(t, []map[string]int64{{"item_id": 5}}, out)

	require.NotNil(t, got, "custom transport must serve the request")
	assert.Equal(t, "http://api.test/api/favorites", got.URL.String())
	assert.Equal(t, "Bearer access-1", got.Header.Get("Authorization"))
	assert.NotEmpty(t, got.Header.Get(HeaderRequestID))

	assert.Zero(t, hc.Timeout, "caller client must not be modified")
	_, ok := hc.Transport.(roundTripFunc)
	assert.True(t, ok, "caller transport must not be wrapped in place")
}

func TestRequest_WithBearer(t *testing.T) {
	orig := Request{Method: http.MethodGet, Path: "/api/favorites"}

	withToken := orig.WithBearer("t1")
	require.Equal(t, "t1", withToken.Bearer())
	require.Empty(t, orig.Bearer(), "original request must not be changed")

	replaced := withToken.WithBearer("t2")
	require.Equal(t, "t2", replaced.Bearer())
	require.Equal(t, "t1", withToken.Bearer(), "copy must not share headers")

	cleared := replaced.WithBearer("")
	require.Empty(t, cleared.Bearer())
	require.Equal(t, "GET /api/favorites", cleared.String())
}
