// Package session with the immutable login and session records exchanged with a session server
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

// ErrSensitiveDataCleared is returned when reading a credential after it was cleared
var ErrSensitiveDataCleared = errors.New("credential has been cleared")

// ErrAlreadyCleared is returned when clearing a credential a second time
var ErrAlreadyCleared = errors.New("credential was already cleared")

// EntryKind identifies the authentication entry variant
type EntryKind string

const (
	EntryKindPassword EntryKind = "password"
	EntryKindSecret   EntryKind = "secret"
)

// AuthenticationEntry holds the credential payload used to authenticate.
// Clearing the sensitive data is one-way.
type AuthenticationEntry interface {
	Kind() EntryKind
	UserName() string
	IsSensitiveDataCleared() bool
	ClearSensitiveData() error
}

// sensitive holds a credential that can be cleared exactly once
type sensitive struct {
	mu      sync.Mutex
	value   string
	cleared bool
}

func (s *sensitive) get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return "", ErrSensitiveDataCleared
	}
	return s.value, nil
}

func (s *sensitive) isCleared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

func (s *sensitive) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return ErrAlreadyCleared
	}
	s.value = ""
	s.cleared = true
	return nil
}

// PasswordEntry authenticates with a user name and password
type PasswordEntry struct {
	userName string
	password sensitive
}

func (e *PasswordEntry) Kind() EntryKind              { return EntryKindPassword }
func (e *PasswordEntry) UserName() string             { return e.userName }
func (e *PasswordEntry) IsSensitiveDataCleared() bool { return e.password.isCleared() }
func (e *PasswordEntry) ClearSensitiveData() error    { return e.password.clear() }

// Password returns the password or ErrSensitiveDataCleared
func (e *PasswordEntry) Password() (string, error) {
	return e.password.get()
}

// SecretEntry authenticates with a one-time secret token issued by the server
type SecretEntry struct {
	userName string
	secret   sensitive
}

func (e *SecretEntry) Kind() EntryKind              { return EntryKindSecret }
func (e *SecretEntry) UserName() string             { return e.userName }
func (e *SecretEntry) IsSensitiveDataCleared() bool { return e.secret.isCleared() }
func (e *SecretEntry) ClearSensitiveData() error    { return e.secret.clear() }

// Secret returns the secret token or ErrSensitiveDataCleared
func (e *SecretEntry) Secret() (string, error) {
	return e.secret.get()
}

// ExpiresAt returns the expiry time carried by the token, if any.
// The token signature is not verified; only the server can do that.
func (e *SecretEntry) ExpiresAt() (time.Time, bool) {
	secret, err := e.Secret()
	if err != nil {
		return time.Time{}, false
	}
	claims := &jwt.StandardClaims{}
	_, _, err = new(jwt.Parser).ParseUnverified(secret, claims)
	if err != nil || claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}

// NewPasswordEntry creates a user+password authentication entry
func NewPasswordEntry(userName string, password string) *PasswordEntry {
	return &PasswordEntry{userName: userName, password: sensitive{value: password}}
}

// NewSecretEntry creates a secret token authentication entry
func NewSecretEntry(userName string, secret string) *SecretEntry {
	return &SecretEntry{userName: userName, secret: sensitive{value: secret}}
}

// EntryPayload is the wire representation of an authentication entry
type EntryPayload struct {
	Kind     EntryKind `json:"kind"`
	UserName string    `json:"user"`
	Password string    `json:"password,omitempty"`
	Secret   string    `json:"secret,omitempty"`
}

// EncodeEntry converts the entry to its wire representation.
// This fails if the sensitive data was cleared.
func EncodeEntry(entry AuthenticationEntry) (*EntryPayload, error) {
	payload := &EntryPayload{Kind: entry.Kind(), UserName: entry.UserName()}
	var err error
	switch e := entry.(type) {
	case *PasswordEntry:
		payload.Password, err = e.Password()
	case *SecretEntry:
		payload.Secret, err = e.Secret()
	default:
		err = fmt.Errorf("unsupported authentication entry kind '%s'", entry.Kind())
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// DecodeEntry converts the wire representation back into an authentication entry
func DecodeEntry(payload *EntryPayload) (AuthenticationEntry, error) {
	if payload == nil {
		return nil, errors.New("missing authentication entry")
	}
	switch payload.Kind {
	case EntryKindPassword:
		return NewPasswordEntry(payload.UserName, payload.Password), nil
	case EntryKindSecret:
		return NewSecretEntry(payload.UserName, payload.Secret), nil
	}
	return nil, fmt.Errorf("unsupported authentication entry kind '%s'", payload.Kind)
}
