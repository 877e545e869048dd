package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SavingsStatus is the lifecycle state of a savings account.
type SavingsStatus string

const (
	SavingsActive    SavingsStatus = "active"
	SavingsMatured   SavingsStatus = "matured"
	SavingsWithdrawn SavingsStatus = "withdrawn"
)

// SavingsProduct is a read-only catalog row.
type SavingsProduct struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	AnnualInterestPct decimal.Decimal `json:"annual_interest_pct"`
	TermMonths        int             `json:"term_months"`
	MinDeposit        int64           `json:"min_deposit"`
	Demographic       string          `json:"demographic"`
	IsActive          bool            `json:"is_active"`
}

// SavingsAccount holds funds apart from the owner's spendable balance until
// it matures and is withdrawn.
type SavingsAccount struct {
	ID                string          `json:"id"`
	OwnerIdentity     string          `json:"owner_identity"`
	ProductID         string          `json:"product_id"`
	Principal         int64           `json:"principal"`
	AnnualInterestPct decimal.Decimal `json:"annual_interest_pct"`
	Status            SavingsStatus   `json:"status"`
	StartsAt          time.Time       `json:"starts_at"`
	MaturityAt        time.Time       `json:"maturity_at"`
	InterestAccrued   int64           `json:"interest_accrued"`
	LastAccrualAt     time.Time       `json:"last_accrual_at"`
	WithdrawnAt       *time.Time      `json:"withdrawn_at,omitempty"`
}

// EffectiveStatus derives the status at now: a stored active account whose
// maturity has passed reads as matured.
func (s *SavingsAccount) EffectiveStatus(now time.Time) SavingsStatus {
	if s.Status == SavingsActive && !now.Before(s.MaturityAt) {
		return SavingsMatured
	}
	return s.Status
}

// View returns a copy with Status replaced by the derived status at now.
func (s SavingsAccount) View(now time.Time) SavingsAccount {
	s.Status = s.EffectiveStatus(now)
	return s
}

// Payout is the amount credited back to the owner on withdrawal.
func (s *SavingsAccount) Payout() int64 {
	return s.Principal + s.InterestAccrued
}
