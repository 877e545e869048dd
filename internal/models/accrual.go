package models

import "time"

// AccrualFailure names one savings account the engine could not post.
type AccrualFailure struct {
	SavingsID string `json:"savings_id"`
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason"`
}

// AccrualRun is the outcome of one Interest Accrual Engine run.
type AccrualRun struct {
	ID         string           `json:"id"`
	AsOf       time.Time        `json:"as_of"`
	Considered int              `json:"considered"`
	Posted     int              `json:"posted_count"`
	Failures   []AccrualFailure `json:"failures"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Err reports the run's failures as a single PartialAccrualFailure, or nil.
func (r *AccrualRun) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return Errorf(KindPartialAccrualFailure, "%d savings account(s) failed to accrue", len(r.Failures))
}
