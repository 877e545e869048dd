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
)

// TransferRequest is a client's transfer intent. From is optional; when set
// it must equal the authenticated caller.
type TransferRequest struct {
	From           string `json:"from,omitempty"`
	RecipientEmail string `json:"recipient_email"`
	Amount         int64  `json:"amount"`
}

// TransferResult reports a committed transfer.
type TransferResult struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	SenderBalance int64  `json:"sender_balance"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// LedgerService is the Transfer Processor plus the caller's balance and
// history reads.
type LedgerService struct {
	store repository.Store
	log   *logrus.Logger
	clock Clock
}

// NewLedgerService initializes a new ledger service
func NewLedgerService(store repository.Store, log *logrus.Logger, clock Clock) *LedgerService {
	return &LedgerService{store: store, log: log, clock: clock}
}

// Transfer debits the caller and credits the recipient in one transaction.
// All validation happens before storage is touched.
func (s *LedgerService) Transfer(ctx context.Context, caller auth.Principal, req TransferRequest) (*TransferResult, error) {
	if err := auth.Require(caller, req.From); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	email := models.NormalizeEmail(req.RecipientEmail)
	if !strings.Contains(email, "@") {
		return nil, models.Errorf(models.KindInvalidRecipient, "recipient email is malformed")
	}

	sender := caller.IdentityID()
	result := &TransferResult{Reference: uuid.NewString(), Amount: req.Amount}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		recipient, err := tx.FindIdentityByEmail(ctx, email)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidRecipient
		}
		if err != nil {
			return err
		}
		if recipient.ID == sender {
			return models.Errorf(models.KindInvalidRecipient, "cannot transfer to your own account")
		}

		if err := tx.LockAccounts(ctx, sender, recipient.ID); err != nil {
			return err
		}
		if result.SenderBalance, err = tx.AdjustBalance(ctx, sender, -req.Amount); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, recipient.ID, req.Amount); err != nil {
			return err
		}

		now := s.clock.now()
		if err := tx.InsertEntry(ctx, &models.Entry{
			ID: uuid.NewString(), IdentityID: sender, Kind: models.EntryTransferOut,
			Amount: -req.Amount, Reference: result.Reference, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, &models.Entry{
			ID: uuid.NewString(), IdentityID: recipient.ID, Kind: models.EntryTransferIn,
			Amount: req.Amount, Reference: result.Reference, CreatedAt: now,
		})
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"identity": sender, "amount": req.Amount, "error": err}).Warn("Transfer rejected")
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"identity":  sender,
		"amount":    req.Amount,
		"reference": result.Reference,
	}).Info("Transfer committed")
	return result, nil
}

// Balance returns the caller's spendable account.
func (s *LedgerService) Balance(ctx context.Context, caller auth.Principal) (*models.Account, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}
	return s.store.GetAccount(ctx, caller.IdentityID())
}

// History returns up to limit of the caller's most recent ledger entries.
func (s *LedgerService) History(ctx context.Context, caller auth.Principal, limit int) ([]models.Entry, error) {
	if err := auth.Require(caller, ""); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return s.store.ListEntries(ctx, caller.IdentityID(), limit)
}
