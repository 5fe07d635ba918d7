package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when the presented credential is
	// absent, malformed, or does not match the stored one.
	ErrUnauthenticated = errors.New("security: unauthenticated")
	// ErrForbidden is returned when the credential is valid but the
	// access level does not permit the requested category.
	ErrForbidden = errors.New("security: forbidden")
)

// Authenticator validates credentials against the token store and resolves
// the requested category against the process-wide access level.
type Authenticator struct {
	store  TokenStore
	level  Level
	grants *GrantIssuer
}

// NewAuthenticator wires a token store, a fixed access level, and a grant
// issuer together.
func NewAuthenticator(store TokenStore, level Level, grants *GrantIssuer) *Authenticator {
	return &Authenticator{store: store, level: level, grants: grants}
}

// Level returns the process-wide access level.
func (a *Authenticator) Level() Level {
	return a.level
}

// Authenticate checks the presented credential and the requested category,
// returning a single-request grant on success.
//
// Credential matching is constant-time: both sides are hashed before
// comparison, so neither length nor prefix agreement leaks through timing.
func (a *Authenticator) Authenticate(presented string, cat Category) (string, error) {
	stored, ok, err := a.store.Get()
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if !ok || presented == "" {
		// Burn a comparison anyway so the absent-token path is not
		// distinguishable from a mismatch.
		compareCredentials(presented, "")
		return "", ErrUnauthenticated
	}

	if !compareCredentials(presented, stored.Value) {
		return "", ErrUnauthenticated
	}

	if !a.level.Allows(cat) {
		return "", ErrForbidden
	}

	return a.grants.Issue(cat)
}

func compareCredentials(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}
