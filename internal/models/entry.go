package models

import "time"

// EntryKind names the balance movement recorded by an Entry.
type EntryKind string

const (
	EntryTransferOut     EntryKind = "transfer_out"
	EntryTransferIn      EntryKind = "transfer_in"
	EntrySavingsOpen     EntryKind = "savings_open"
	EntrySavingsWithdraw EntryKind = "savings_withdraw"
)

// Entry is one line of an identity's ledger history. Amount is signed:
// debits are negative, credits positive.
type Entry struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Kind       EntryKind `json:"kind"`
	Amount     int64     `json:"amount"`
	Reference  string    `json:"reference,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
