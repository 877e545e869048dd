package service

import (
	"context"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaturityNotifier tells an owner that a savings account can be withdrawn.
type MaturityNotifier interface {
	NotifyMatured(ctx context.Context, owner *models.Identity, sa models.SavingsAccount) error
}

// WithdrawResult reports a committed withdrawal.
type WithdrawResult struct {
	Savings  models.SavingsAccount `json:"savings"`
	Credited int64                 `json:"credited"`
	Balance  int64                 `json:"balance"`
}

// SavingsService is the Savings Account Lifecycle Manager.
type SavingsService struct {
	store    repository.Store
	notifier MaturityNotifier
	log      *logrus.Logger
	clock    Clock
}

// NewSavingsService initializes a new savings service. notifier may be nil.
func NewSavingsService(store repository.Store, notifier MaturityNotifier, log *logrus.Logger, clock Clock) *SavingsService {
	return &SavingsService{store: store, notifier: notifier, log: log, clock: clock}
}

// Open moves amount from the caller's spendable balance into a new active
// savings account. The debit and the account creation commit together.
func (s *SavingsService) Open(ctx context.Context, caller auth.Principal, productID string, amount int64) (*models.SavingsAccount, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if productID == "" {
		return nil, models.Errorf(models.KindInvalidRequest, "product_id is required")
	}

	owner := caller.IdentityID()
	var created *models.SavingsAccount
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return models.ErrProductInactive
		}
		if amount < product.MinDeposit {
			return models.Errorf(models.KindAmountTooLow, "minimum deposit for this product is %d", product.MinDeposit)
		}

		if _, err := tx.AdjustBalance(ctx, owner, -amount); err != nil {
			return err
		}

		now := s.clock.now()
		sa := &models.SavingsAccount{
			ID:                uuid.NewString(),
			OwnerIdentity:     owner,
			ProductID:         product.ID,
			Principal:         amount,
			AnnualInterestPct: product.AnnualInterestPct,
			Status:            models.SavingsActive,
			StartsAt:          now,
			MaturityAt:        now.AddDate(0, product.TermMonths, 0),
			LastAccrualAt:     now,
		}
		if err := tx.InsertSavings(ctx, sa); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.Entry{
			ID: uuid.NewString(), IdentityID: owner, Kind: models.EntrySavingsOpen,
			Amount: -amount, Reference: sa.ID, CreatedAt: now,
		}); err != nil {
			return err
		}
		created = sa
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"identity": owner, "product_id": productID, "amount": amount, "error": err}).
			Warn("Savings open rejected")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"identity":    owner,
		"savings_id":  created.ID,
		"principal":   created.Principal,
		"maturity_at": created.MaturityAt.Format(time.RFC3339),
	}).Info("Savings account opened")
	return created, nil
}

// Withdraw pays a matured savings account back to its owner and marks it
// withdrawn. Pre-maturity days the engine has not posted yet are settled in
// the same transaction. A second call fails with AlreadyWithdrawn.
func (s *SavingsService) Withdraw(ctx context.Context, caller auth.Principal, savingsID string) (*WithdrawResult, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}

	var result *WithdrawResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sa, err := tx.GetSavingsForUpdate(ctx, savingsID)
		if err != nil {
			return err
		}
		if sa.OwnerIdentity != caller.IdentityID() {
			return models.ErrForbidden
		}

		now := s.clock.now()
		switch sa.EffectiveStatus(now) {
		case models.SavingsWithdrawn:
			return models.ErrAlreadyWithdrawn
		case models.SavingsActive:
			return models.Errorf(models.KindNotMatured, "savings account matures at %s", sa.MaturityAt.Format(time.RFC3339))
		}

		Settle(sa, now)
		payout := sa.Payout()
		balance, err := tx.AdjustBalance(ctx, sa.OwnerIdentity, payout)
		if err != nil {
			return err
		}
		sa.Status = models.SavingsWithdrawn
		sa.WithdrawnAt = &now
		if err := tx.UpdateSavings(ctx, sa); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, &models.Entry{
			ID: uuid.NewString(), IdentityID: sa.OwnerIdentity, Kind: models.EntrySavingsWithdraw,
			Amount: payout, Reference: sa.ID, CreatedAt: now,
		}); err != nil {
			return err
		}
		result = &WithdrawResult{Savings: *sa, Credited: payout, Balance: balance}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"identity": caller.IdentityID(), "savings_id": savingsID, "error": err}).
			Warn("Savings withdrawal rejected")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"identity":   caller.IdentityID(),
		"savings_id": savingsID,
		"credited":   result.Credited,
	}).Info("Savings account withdrawn")
	return result, nil
}

// Get returns one of the caller's savings accounts with its derived status.
func (s *SavingsService) Get(ctx context.Context, caller auth.Principal, savingsID string) (*models.SavingsAccount, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}
	sa, err := s.store.GetSavings(ctx, savingsID)
	if err != nil {
		return nil, err
	}
	if sa.OwnerIdentity != caller.IdentityID() {
		return nil, models.ErrForbidden
	}
	view := sa.View(s.clock.now())
	return &view, nil
}

// List returns the caller's savings accounts with derived statuses.
func (s *SavingsService) List(ctx context.Context, caller auth.Principal) ([]models.SavingsAccount, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}
	list, err := s.store.ListSavingsByOwner(ctx, caller.IdentityID())
	if err != nil {
		return nil, err
	}
	now := s.clock.now()
	out := make([]models.SavingsAccount, 0, len(list))
	for _, sa := range list {
		out = append(out, sa.View(now))
	}
	return out, nil
}

// Products returns the active savings catalog.
func (s *SavingsService) Products(ctx context.Context) ([]models.SavingsProduct, error) {
	products, err := s.store.ListActiveProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []models.SavingsProduct{}
	}
	return products, nil
}

// Sweep stores the matured status for every account due at now and notifies
// the owners. Reads already derive the status, so a missed sweep only delays
// the notice. The returned accounts and the notices carry the settled
// interest, which is what Withdraw will pay even if an accrual run was missed.
func (s *SavingsService) Sweep(ctx context.Context) ([]models.SavingsAccount, error) {
	now := s.clock.now()
	matured, err := s.store.MarkMatured(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Maturity sweep failed")
		return nil, err
	}
	for i := range matured {
		Settle(&matured[i], now)
	}
	if s.notifier != nil {
		for _, sa := range matured {
			owner, err := s.store.GetIdentity(ctx, sa.OwnerIdentity)
			if err == nil {
				err = s.notifier.NotifyMatured(ctx, owner, sa)
			}
			if err != nil {
				s.log.WithFields(logrus.Fields{"savings_id": sa.ID, "error": err}).Warn("Failed to send maturity notice")
			}
		}
	}
	s.log.Infof("Maturity sweep marked %d savings account(s)", len(matured))
	if matured == nil {
		matured = []models.SavingsAccount{}
	}
	return matured, nil
}
