package remoteserver

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// DefaultSecretValidity is how long a one-time secret can be used to log in
const DefaultSecretValidity = 5 * time.Minute

// secretIssuer is the issuer claim of one-time secrets
const secretIssuer = "wost-session"

// ErrSecretConsumed is returned when a one-time secret is used for a second login
var ErrSecretConsumed = errors.New("secret already used")

// ErrSecretExpired is returned with the claims of a correctly signed secret that is past its expiry
var ErrSecretExpired = errors.New("secret expired")

// SecretIssuer issues and verifies the one-time secrets that replace the raw credential.
// A secret is a signed JWT whose ID can be consumed once.
type SecretIssuer struct {
	signingKey []byte
	validity   time.Duration
	// consumed holds the IDs of consumed secrets with their expiry for cleanup
	consumed      map[string]time.Time
	consumedMutex sync.Mutex
}

// Issue creates a new secret for the user
func (issuer *SecretIssuer) Issue(user string) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Id:        uuid.NewString(),
		Subject:   user,
		Issuer:    secretIssuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(issuer.validity).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(issuer.signingKey)
}

// Verify checks the signature, expiry and user of the secret and returns its claims.
// A secret that only failed the expiry check returns its claims together with ErrSecretExpired.
func (issuer *SecretIssuer) Verify(user string, secret string) (*jwt.StandardClaims, error) {
	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(secret, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method '%v'", token.Header["alg"])
		}
		return issuer.signingKey, nil
	})
	expired := false
	if err != nil {
		var validationErr *jwt.ValidationError
		if !errors.As(err, &validationErr) || validationErr.Errors != jwt.ValidationErrorExpired {
			return nil, err
		}
		expired = true
	}
	if claims.Subject != user || claims.Issuer != secretIssuer {
		return nil, errors.New("secret was not issued to this user")
	}
	if expired {
		return claims, fmt.Errorf("secret '%s': %w", claims.Id, ErrSecretExpired)
	}
	return claims, nil
}

// Consume verifies the secret and marks it as used
// Returns the ID of the consumed secret
func (issuer *SecretIssuer) Consume(user string, secret string) (string, error) {
	claims, err := issuer.Verify(user, secret)
	if err != nil {
		return "", err
	}
	issuer.consumedMutex.Lock()
	defer issuer.consumedMutex.Unlock()
	now := time.Now()
	for id, expiry := range issuer.consumed {
		if expiry.Before(now) {
			delete(issuer.consumed, id)
		}
	}
	if _, found := issuer.consumed[claims.Id]; found {
		return "", ErrSecretConsumed
	}
	issuer.consumed[claims.Id] = time.Unix(claims.ExpiresAt, 0)
	return claims.Id, nil
}

// NewSecretIssuer creates an issuer with a random signing key
//  validity of issued secrets. 0 for DefaultSecretValidity
func NewSecretIssuer(validity time.Duration) *SecretIssuer {
	if validity <= 0 {
		validity = DefaultSecretValidity
	}
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &SecretIssuer{
		signingKey: key,
		validity:   validity,
		consumed:   make(map[string]time.Time),
	}
}
