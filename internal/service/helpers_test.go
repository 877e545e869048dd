package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var epoch = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *repository.MemoryStore
	gate    *auth.Gate
	clock   *fakeClock
	ledger  *LedgerService
	savings *SavingsService
	engine  *AccrualEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(repository.Options{Timeout: 5 * time.Second})
	store.SeedIdentity("alice", "alice@example.com", 1000)
	store.SeedIdentity("bob", "bob@example.com", 0)
	store.PutProduct(models.SavingsProduct{
		ID: "fixed-12", Name: "Fixed 12", AnnualInterestPct: decimal.NewFromInt(10),
		TermMonths: 12, MinDeposit: 500, Demographic: "adult", IsActive: true,
	})
	store.PutProduct(models.SavingsProduct{
		ID: "retired", Name: "Retired", AnnualInterestPct: decimal.NewFromInt(5),
		TermMonths: 6, MinDeposit: 0, IsActive: false,
	})

	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := &fakeClock{now: epoch}
	return &fixture{
		store:   store,
		gate:    auth.NewGate("test-secret", time.Hour, "op-key", store),
		clock:   clock,
		ledger:  NewLedgerService(store, log, clock.Now),
		savings: NewSavingsService(store, nil, log, clock.Now),
		engine:  NewAccrualEngine(store, log, 2, clock.Now),
	}
}

func (f *fixture) principal(t *testing.T, identityID string) auth.Principal {
	t.Helper()
	token, err := f.gate.Issue(identityID)
	if err != nil {
		t.Fatal(err)
	}
	p, err := f.gate.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate(%s) err=%v", identityID, err)
	}
	return p
}

func (f *fixture) balance(t *testing.T, identityID string) int64 {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), identityID)
	if err != nil {
		t.Fatalf("GetAccount(%s) err=%v", identityID, err)
	}
	return a.Balance
}

func (f *fixture) savingsRow(t *testing.T, id string) *models.SavingsAccount {
	t.Helper()
	sa, err := f.store.GetSavings(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSavings(%s) err=%v", id, err)
	}
	return sa
}
