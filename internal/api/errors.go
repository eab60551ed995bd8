package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nkiryanov/storefront/internal/apperrors"
)

// Error returned for every non-2xx response (or 2xx with success=false)
type Error struct {
	StatusCode int
	Message    string
	Fields     map[string][]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d, message: %s", e.StatusCode, e.Message)
}

// Is maps status codes to application sentinels so callers may use errors.Is
func (e *Error) Is(target error) bool {
	switch target {
	case apperrors.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	default:
		return false
	}
}

// MessageContains reports whether the server message contains s, case insensitive
func (e *Error) MessageContains(s string) bool {
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(s))
}

// StatusCode returns the status of the api error wrapped in err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is 401 from the api
func IsUnauthorized(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized)
}
