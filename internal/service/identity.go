package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// IdentityService onboards identities and issues their credentials.
type IdentityService struct {
	store repository.Store
	gate  *auth.Gate
	log   *logrus.Logger
}

// NewIdentityService initializes a new identity service
func NewIdentityService(store repository.Store, gate *auth.Gate, log *logrus.Logger) *IdentityService {
	return &IdentityService{store: store, gate: gate, log: log}
}

// Register creates an identity with a hashed password and its zero-balance
// account.
func (s *IdentityService) Register(ctx context.Context, email, password string) (*models.Identity, error) {
	email = models.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, models.Errorf(models.KindInvalidRequest, "email is malformed")
	}
	if len(password) < minPasswordLength {
		return nil, models.Errorf(models.KindInvalidRequest, "password must be at least %d characters", minPasswordLength)
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, models.Unavailable(err)
	}

	identity := &models.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateIdentity(ctx, identity)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Identity registered: %s", identity.ID)
	return identity, nil
}

// Login verifies the password and returns a signed bearer token.
func (s *IdentityService) Login(ctx context.Context, email, password string) (string, error) {
	identity, err := s.store.FindIdentityByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return "", models.Errorf(models.KindUnauthorized, "invalid credentials")
	}
	if err != nil {
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return "", models.Errorf(models.KindUnauthorized, "invalid credentials")
	}

	token, err := s.gate.Issue(identity.ID)
	if err != nil {
		return "", models.Unavailable(err)
	}

	s.log.Infof("Identity logged in: %s", identity.ID)
	return token, nil
}
