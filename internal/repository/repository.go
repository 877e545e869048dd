// Package repository is the Ledger Store: durable account balances and
// savings records behind an all-or-nothing transaction boundary.
package repository

import (
	"context"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
)

// Tx is the unit of work handed to Store.WithTx. Every mutation made through
// a Tx commits together or not at all.
type Tx interface {
	// LockAccounts takes row locks on the given accounts in a stable order so
	// that concurrent two-party operations cannot deadlock.
	LockAccounts(ctx context.Context, identityIDs ...string) error
	GetBalance(ctx context.Context, identityID string) (int64, error)
	// AdjustBalance applies a signed delta and returns the new balance. It
	// fails with NotFound for an unknown identity and InsufficientFunds when a
	// debit would leave the balance negative.
	AdjustBalance(ctx context.Context, identityID string, delta int64) (int64, error)

	CreateIdentity(ctx context.Context, identity *models.Identity) error
	FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetProduct(ctx context.Context, productID string) (*models.SavingsProduct, error)

	InsertSavings(ctx context.Context, s *models.SavingsAccount) error
	GetSavingsForUpdate(ctx context.Context, savingsID string) (*models.SavingsAccount, error)
	UpdateSavings(ctx context.Context, s *models.SavingsAccount) error

	InsertEntry(ctx context.Context, e *models.Entry) error
}

// Store is the Ledger Store. Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn in one transaction. Domain errors returned by fn pass
	// through unchanged; any other failure is rolled back and reported as
	// StorageUnavailable.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	GetAccount(ctx context.Context, identityID string) (*models.Account, error)
	GetIdentity(ctx context.Context, identityID string) (*models.Identity, error)
	FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	ListActiveProducts(ctx context.Context) ([]models.SavingsProduct, error)
	GetSavings(ctx context.Context, savingsID string) (*models.SavingsAccount, error)
	ListSavingsByOwner(ctx context.Context, ownerID string) ([]models.SavingsAccount, error)
	// ListAccrualCandidates returns ids of savings accounts that still have
	// pre-maturity days the engine may need to post.
	ListAccrualCandidates(ctx context.Context) ([]string, error)
	// MarkMatured flips stored status active to matured for every account due
	// at now and returns the flipped accounts. Amounts are never touched.
	MarkMatured(ctx context.Context, now time.Time) ([]models.SavingsAccount, error)
	ListEntries(ctx context.Context, identityID string, limit int) ([]models.Entry, error)
	RecordAccrualRun(ctx context.Context, run *models.AccrualRun) error
}

// Options tunes a Store's transaction boundary.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	return o
}

func accountNotFound(identityID string) error {
	return models.Errorf(models.KindNotFound, "account %s not found", identityID)
}

func insufficientFunds(delta int64) error {
	return models.Errorf(models.KindInsufficientFunds, "balance cannot cover a debit of %d", -delta)
}

func balanceOverflow(delta int64) error {
	return models.Errorf(models.KindInvalidAmount, "a credit of %d exceeds the maximum balance", delta)
}
