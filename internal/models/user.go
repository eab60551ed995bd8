package models

// Authenticated identity snapshot cached together with the tokens
// Used for display only: the server stays the source of truth
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}
