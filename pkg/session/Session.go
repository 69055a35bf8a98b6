package session

import (
	"errors"
	"time"
)

// Session is the record of a successful login. It is immutable.
// Two sessions are the same session if their IDs match.
type Session struct {
	id        string
	user      string
	loginInfo *LoginInfo
	loginTime time.Time
	transient bool
}

func (s *Session) ID() string            { return s.id }
func (s *Session) User() string          { return s.user }
func (s *Session) LoginInfo() *LoginInfo { return s.loginInfo }
func (s *Session) LoginTime() time.Time  { return s.loginTime }
func (s *Session) Transient() bool       { return s.transient }

// Equal compares sessions by their ID
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.id == other.id
}

// CreateSession creates the session record for a successful login
func CreateSession(id string, user string, loginInfo *LoginInfo, loginTime time.Time, transient bool) (*Session, error) {
	if id == "" {
		return nil, errors.New("session: id is required")
	}
	return &Session{
		id:        id,
		user:      user,
		loginInfo: loginInfo,
		loginTime: loginTime,
		transient: transient,
	}, nil
}
