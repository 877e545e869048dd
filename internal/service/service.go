// Package service holds the business operations of the ledger: transfers,
// the savings lifecycle, interest accrual and identity onboarding.
package service

import (
	"time"
)

// Clock supplies the current time. Tests replace it to move through a
// savings term without waiting.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
