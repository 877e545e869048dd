// Package scheduler triggers the daily accrual run and maturity sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Accruer runs the interest accrual engine.
type Accruer interface {
	Run(ctx context.Context, asOf time.Time) (*models.AccrualRun, error)
}

// Sweeper stores matured statuses and sends notices.
type Sweeper interface {
	Sweep(ctx context.Context) ([]models.SavingsAccount, error)
}

// Scheduler wraps a UTC cron with the two ledger jobs. A job still running
// when its next tick fires is skipped, never overlapped.
type Scheduler struct {
	cron    *cron.Cron
	accruer Accruer
	sweeper Sweeper
	log     *logrus.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the accrual and sweep jobs on the given five-field specs.
func New(accrualSpec, sweepSpec string, accruer Accruer, sweeper Sweeper, log *logrus.Logger) (*Scheduler, error) {
	cronLog := cron.PrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		accruer: accruer,
		sweeper: sweeper,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := s.cron.AddFunc(accrualSpec, s.RunAccrual); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid accrual schedule %q: %w", accrualSpec, err)
	}
	if _, err := s.cron.AddFunc(sweepSpec, s.RunSweep); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", sweepSpec, err)
	}
	return s, nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs until ctx expires, then
// cancels them.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler jobs still running at shutdown, cancelling")
	}
	s.cancel()
}

// RunAccrual accrues every savings account up to the current time.
func (s *Scheduler) RunAccrual() {
	run, err := s.accruer.Run(s.ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("Scheduled accrual run failed")
		return
	}
	if err := run.Err(); err != nil {
		s.log.WithFields(logrus.Fields{"run_id": run.ID, "failures": run.Failures}).Warn(err.Error())
	}
}

// RunSweep marks matured savings accounts.
func (s *Scheduler) RunSweep() {
	if _, err := s.sweeper.Sweep(s.ctx); err != nil {
		s.log.WithError(err).Error("Scheduled maturity sweep failed")
	}
}
