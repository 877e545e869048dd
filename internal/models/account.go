package models

import "time"

// Account is the spendable balance owned by one identity.
// Balance is kept in integer minor units and is never negative.
type Account struct {
	IdentityID string    `json:"identity_id"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
