package models

// Token pair issued by the API on login, registration or refresh
// Refresh may be empty on refresh responses when the server does not rotate it
type TokenPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token,omitempty"`
}

// Client authentication state
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *User
}

// Authenticated reports whether both access token and user are present
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.User != nil
}

// Equal compares sessions by value (user compared field by field)
func (s Session) Equal(o Session) bool {
	if s.AccessToken != o.AccessToken || s.RefreshToken != o.RefreshToken {
		return false
	}

	switch {
	case s.User == nil && o.User == nil:
		return true
	case s.User == nil || o.User == nil:
		return false
	default:
		return *s.User == *o.User
	}
}

// UserID returns user id or zero for anonymous session
func (s Session) UserID() int64 {
	if s.User == nil {
		return 0
	}
	return s.User.ID
}
