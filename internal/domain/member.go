// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type MemberID string

// Member is one live connection participating in a room. The ID is bound to
// the transport connection, not to a person: reconnecting yields a new Member.
type Member struct {
	ID           MemberID `json:"id"`
	Username     string   `json:"username"`
	Broadcasting bool     `json:"-"`
}

// NewMember is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewMember(id MemberID, username string) (*Member, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &Member{ID: id, Username: username}, nil
}
