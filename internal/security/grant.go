package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidGrant is returned when a grant is malformed, expired,
	// signed by another process, or issued for a different category.
	ErrInvalidGrant = errors.New("security: invalid grant")
	// ErrGrantReused is returned when a grant is presented a second time.
	ErrGrantReused = errors.New("security: grant already used")
)

// grantTTL bounds how long a grant stays redeemable. A grant only travels
// from the dispatcher to a gateway inside one request, so this is generous.
const grantTTL = 30 * time.Second

// grantClaims is the JWT payload for a single-request authorization.
type grantClaims struct {
	Category string `json:"cat"`
	jwt.RegisteredClaims
}

// GrantIssuer mints and verifies single-request authorization grants.
// The signing secret is ephemeral and process-local: a grant from one
// process run means nothing to another.
type GrantIssuer struct {
	secret []byte

	mu   sync.Mutex
	used map[string]time.Time // jti -> expiry, pruned on verify
}

// NewGrantIssuer creates an issuer with a fresh random secret.
func NewGrantIssuer() (*GrantIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("grant secret: %w", err)
	}
	return &GrantIssuer{
		secret: secret,
		used:   make(map[string]time.Time),
	}, nil
}

// Issue creates a signed grant for one operation of the given category.
func (g *GrantIssuer) Issue(cat Category) (string, error) {
	now := time.Now()
	claims := grantClaims{
		Category: string(cat),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(grantTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Redeem validates a grant for the given category and consumes it. A grant
// redeems at most once; replaying one fails with ErrGrantReused.
func (g *GrantIssuer) Redeem(grant string, cat Category) error {
	token, err := jwt.ParseWithClaims(grant, &grantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return ErrInvalidGrant
	}

	claims, ok := token.Claims.(*grantClaims)
	if !ok || !token.Valid {
		return ErrInvalidGrant
	}
	if claims.Category != string(cat) {
		return ErrInvalidGrant
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrInvalidGrant
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for id, exp := range g.used {
		if now.After(exp) {
			delete(g.used, id)
		}
	}

	if _, seen := g.used[claims.ID]; seen {
		return ErrGrantReused
	}
	g.used[claims.ID] = claims.ExpiresAt.Time

	return nil
}
