// Package auth is the Authorization Gate. It turns a caller credential into
// a Principal; services accept only a Principal, never a client-supplied id.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "bank-ledger"

// Role distinguishes customers from the scheduler/operator collaborator.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// Principal is a verified caller. The zero value is unauthenticated, and
// only a Gate can produce any other value.
type Principal struct {
	identityID string
	role       Role
}

// IdentityID is the verified identity of a customer principal.
func (p Principal) IdentityID() string { return p.identityID }

func (p Principal) Role() Role { return p.role }

// Authenticated reports whether p came from a Gate.
func (p Principal) Authenticated() bool { return p.role != "" }

// Require checks that p is an authenticated customer and, when the request
// names an acting identity, that it is p's own.
func Require(p Principal, claimedIdentity string) error {
	if p.role != RoleCustomer || p.identityID == "" {
		return models.ErrUnauthorized
	}
	if claimedIdentity != "" && claimedIdentity != p.identityID {
		return models.ErrForbidden
	}
	return nil
}

// IdentityLookup confirms that a token subject still names an identity.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
}

// Gate verifies customer bearer tokens and the operator key.
type Gate struct {
	secret      []byte
	ttl         time.Duration
	operatorKey [sha256.Size]byte
	hasOperator bool
	identities  IdentityLookup
	now         func() time.Time
}

// NewGate creates a gate. An empty operatorKey disables operator access.
func NewGate(secret string, ttl time.Duration, operatorKey string, identities IdentityLookup) *Gate {
	g := &Gate{
		secret:     []byte(secret),
		ttl:        ttl,
		identities: identities,
		now:        time.Now,
	}
	if operatorKey != "" {
		g.operatorKey = sha256.Sum256([]byte(operatorKey))
		g.hasOperator = true
	}
	return g
}

// Issue signs a customer token for identityID.
func (g *Gate) Issue(identityID string) (string, error) {
	now := g.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   identityID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
	})
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves a bearer token to exactly one identity or fails
// with Unauthorized. Storage failures while checking the subject surface as
// StorageUnavailable.
func (g *Gate) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	if rawToken == "" {
		return Principal{}, models.ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || claims.Subject == "" {
		return Principal{}, models.ErrUnauthorized
	}

	identity, err := g.identities.GetIdentity(ctx, claims.Subject)
	if errors.Is(err, models.ErrNotFound) {
		return Principal{}, models.ErrUnauthorized
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{identityID: identity.ID, role: RoleCustomer}, nil
}

// AuthenticateOperator checks the scheduler/operator key in constant time.
func (g *Gate) AuthenticateOperator(key string) (Principal, error) {
	if !g.hasOperator || key == "" {
		return Principal{}, models.ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(sum[:], g.operatorKey[:]) != 1 {
		return Principal{}, models.ErrUnauthorized
	}
	return Principal{role: RoleOperator}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal placed by the gate middleware. A missing
// principal comes back as the zero value, which every service rejects.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
