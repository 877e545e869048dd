package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const day = 24 * time.Hour

// pct × days / (100 × 365)
var interestDivisor = decimal.NewFromInt(100 * 365)

// InterestFor is simple ACT/365 interest in minor units for days whole days,
// rounded down.
func InterestFor(principal int64, annualPct decimal.Decimal, days int64) int64 {
	if principal <= 0 || days <= 0 || !annualPct.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(principal).
		Mul(annualPct).
		Mul(decimal.NewFromInt(days)).
		Div(interestDivisor).
		Floor().
		IntPart()
}

// Settle is the accrual engine's computation: it brings sa's accrual up to
// asOf, capped at maturity. Interest is recomputed from the total number of
// whole days since StartsAt, so running it again for a day already posted
// changes nothing. It reports whether sa was modified.
//
// Besides AccrualEngine.Run, Withdraw calls it inside its own transaction to
// post days the engine has not reached yet, and Sweep applies it to a copy
// to quote the payout. All three produce the same figure for the same asOf.
func Settle(sa *models.SavingsAccount, asOf time.Time) bool {
	end := asOf
	if sa.MaturityAt.Before(end) {
		end = sa.MaturityAt
	}
	days := int64(end.Sub(sa.StartsAt) / day)
	posted := int64(sa.LastAccrualAt.Sub(sa.StartsAt) / day)
	if days <= posted {
		return false
	}

	sa.LastAccrualAt = sa.StartsAt.Add(time.Duration(days) * day)
	if interest := InterestFor(sa.Principal, sa.AnnualInterestPct, days); interest > sa.InterestAccrued {
		sa.InterestAccrued = interest
	}
	return true
}

// AccrualEngine posts interest for every savings account with unposted
// pre-maturity days. Each account is its own transaction; one account
// failing never stops the others.
type AccrualEngine struct {
	store   repository.Store
	log     *logrus.Logger
	workers int
	clock   Clock
}

// NewAccrualEngine initializes a new engine running workers accounts at a time.
func NewAccrualEngine(store repository.Store, log *logrus.Logger, workers int, clock Clock) *AccrualEngine {
	if workers < 1 {
		workers = 1
	}
	return &AccrualEngine{store: store, log: log, workers: workers, clock: clock}
}

// Run accrues every candidate account up to asOf. The returned run lists
// per-account failures; the error is non-nil only when the candidate list
// itself cannot be read.
func (e *AccrualEngine) Run(ctx context.Context, asOf time.Time) (*models.AccrualRun, error) {
	run := &models.AccrualRun{
		ID:        uuid.NewString(),
		AsOf:      asOf.UTC(),
		StartedAt: e.clock.now(),
		Failures:  []models.AccrualFailure{},
	}

	ids, err := e.store.ListAccrualCandidates(ctx)
	if err != nil {
		e.log.WithError(err).Error("Failed to list accrual candidates")
		return nil, err
	}
	run.Considered = len(ids)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan string)
	)
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				posted, err := e.accrueOne(ctx, id, run.AsOf)
				mu.Lock()
				switch {
				case err != nil:
					kind := models.AsError(err)
					run.Failures = append(run.Failures, models.AccrualFailure{SavingsID: id, Kind: kind.Kind, Reason: kind.Reason})
					e.log.WithFields(logrus.Fields{"savings_id": id, "error": err}).Error("Accrual failed for savings account")
				case posted:
					run.Posted++
				}
				mu.Unlock()
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	sort.Slice(run.Failures, func(i, j int) bool { return run.Failures[i].SavingsID < run.Failures[j].SavingsID })
	run.FinishedAt = e.clock.now()

	if err := e.store.RecordAccrualRun(ctx, run); err != nil {
		e.log.WithError(err).Warn("Failed to record accrual run")
	}
	e.log.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"as_of":      run.AsOf.Format(time.RFC3339),
		"considered": run.Considered,
		"posted":     run.Posted,
		"failed":     len(run.Failures),
	}).Info("Accrual run finished")
	return run, nil
}

func (e *AccrualEngine) accrueOne(ctx context.Context, savingsID string, asOf time.Time) (bool, error) {
	var posted bool
	err := e.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		sa, err := tx.GetSavingsForUpdate(ctx, savingsID)
		if err != nil {
			return err
		}
		if sa.Status == models.SavingsWithdrawn || !Settle(sa, asOf) {
			return nil
		}
		if err := tx.UpdateSavings(ctx, sa); err != nil {
			return err
		}
		posted = true
		return nil
	})
	return posted, err
}
