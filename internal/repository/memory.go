package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
)

// MemoryStore is an in-process Store used by tests and local runs. A single
// context-aware lock serialises every operation, and each transaction keeps
// an undo log so a failing fn leaves no trace.
type MemoryStore struct {
	sem  chan struct{}
	opts Options

	identities map[string]*models.Identity
	emails     map[string]string
	accounts   map[string]*models.Account
	products   map[string]*models.SavingsProduct
	savings    map[string]*models.SavingsAccount
	entries    []models.Entry
	runs       []models.AccrualRun

	faultsMu sync.Mutex
	faults   map[string]error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		sem:        make(chan struct{}, 1),
		opts:       opts.withDefaults(),
		identities: make(map[string]*models.Identity),
		emails:     make(map[string]string),
		accounts:   make(map[string]*models.Account),
		products:   make(map[string]*models.SavingsProduct),
		savings:    make(map[string]*models.SavingsAccount),
		faults:     make(map[string]error),
	}
}

// InjectFault makes every call of op on key fail with err until cleared.
// op is a Tx method name such as "AdjustBalance"; key is its first argument.
func (s *MemoryStore) InjectFault(op, key string, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[op+":"+key] = err
}

// ClearFaults removes all injected faults.
func (s *MemoryStore) ClearFaults() {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults = make(map[string]error)
}

func (s *MemoryStore) fault(op, key string) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	return s.faults[op+":"+key]
}

// SeedIdentity registers an identity with an opening balance, bypassing
// the ledger. It stands in for onboarding and external deposits.
func (s *MemoryStore) SeedIdentity(id, email string, balance int64) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	email = models.NormalizeEmail(email)
	now := time.Now().UTC()
	s.identities[id] = &models.Identity{ID: id, Email: email, CreatedAt: now}
	s.emails[email] = id
	s.accounts[id] = &models.Account{IdentityID: id, Balance: balance, CreatedAt: now, UpdatedAt: now}
}

// PutProduct inserts or replaces a catalog product.
func (s *MemoryStore) PutProduct(p models.SavingsProduct) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	s.products[p.ID] = &p
}

// TotalFunds is the sum of all spendable balances plus everything held in
// savings accounts that have not been withdrawn.
func (s *MemoryStore) TotalFunds() int64 {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	var total int64
	for _, a := range s.accounts {
		total += a.Balance
	}
	for _, sa := range s.savings {
		if sa.Status != models.SavingsWithdrawn {
			total += sa.Payout()
		}
	}
	return total
}

func (s *MemoryStore) lock(ctx context.Context) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	select {
	case s.sem <- struct{}{}:
		return ctx, cancel, nil
	case <-ctx.Done():
		cancel()
		return nil, nil, classify(ctx.Err())
	}
}

func (s *MemoryStore) unlock(cancel context.CancelFunc) {
	<-s.sem
	cancel()
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer s.unlock(cancel)

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return classify(err)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return err
	}
	s.unlock(cancel)
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, identityID string) (*models.Account, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	a, ok := s.accounts[identityID]
	if !ok {
		return nil, accountNotFound(identityID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "identity not found")
	}
	cp := *identity
	return &cp, nil
}

func (s *MemoryStore) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	return s.findIdentityByEmail(email)
}

func (s *MemoryStore) findIdentityByEmail(email string) (*models.Identity, error) {
	id, ok := s.emails[models.NormalizeEmail(email)]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "identity not found")
	}
	cp := *s.identities[id]
	return &cp, nil
}

func (s *MemoryStore) ListActiveProducts(ctx context.Context) ([]models.SavingsProduct, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	var out []models.SavingsProduct
	for _, p := range s.products {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetSavings(ctx context.Context, savingsID string) (*models.SavingsAccount, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	sa, ok := s.savings[savingsID]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "savings account not found")
	}
	cp := *sa
	return &cp, nil
}

func (s *MemoryStore) ListSavingsByOwner(ctx context.Context, ownerID string) ([]models.SavingsAccount, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	var out []models.SavingsAccount
	for _, sa := range s.savings {
		if sa.OwnerIdentity == ownerID {
			out = append(out, *sa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.After(out[j].StartsAt) })
	return out, nil
}

func (s *MemoryStore) ListAccrualCandidates(ctx context.Context) ([]string, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	var ids []string
	for id, sa := range s.savings {
		if sa.Status != models.SavingsWithdrawn && sa.LastAccrualAt.Before(sa.MaturityAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) MarkMatured(ctx context.Context, now time.Time) ([]models.SavingsAccount, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	var out []models.SavingsAccount
	for _, sa := range s.savings {
		if sa.Status == models.SavingsActive && !now.Before(sa.MaturityAt) {
			sa.Status = models.SavingsMatured
			out = append(out, *sa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, identityID string, limit int) ([]models.Entry, error) {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.unlock(cancel)
	var out []models.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].IdentityID == identityID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordAccrualRun(ctx context.Context, run *models.AccrualRun) error {
	_, cancel, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer s.unlock(cancel)
	s.runs = append(s.runs, *run)
	return nil
}

// AccrualRuns returns the recorded runs, oldest first.
func (s *MemoryStore) AccrualRuns() []models.AccrualRun {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return append([]models.AccrualRun(nil), s.runs...)
}

// memTx mutates the store's maps directly while holding its lock and
// records how to undo each change.
type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockAccounts(ctx context.Context, identityIDs ...string) error {
	for _, id := range identityIDs {
		if err := t.s.fault("LockAccounts", id); err != nil {
			return err
		}
		if _, ok := t.s.accounts[id]; !ok {
			return accountNotFound(id)
		}
	}
	return nil
}

func (t *memTx) GetBalance(ctx context.Context, identityID string) (int64, error) {
	if err := t.s.fault("GetBalance", identityID); err != nil {
		return 0, err
	}
	a, ok := t.s.accounts[identityID]
	if !ok {
		return 0, accountNotFound(identityID)
	}
	return a.Balance, nil
}

func (t *memTx) AdjustBalance(ctx context.Context, identityID string, delta int64) (int64, error) {
	if err := t.s.fault("AdjustBalance", identityID); err != nil {
		return 0, err
	}
	a, ok := t.s.accounts[identityID]
	if !ok {
		return 0, accountNotFound(identityID)
	}
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return 0, balanceOverflow(delta)
	}
	if a.Balance+delta < 0 {
		return 0, insufficientFunds(delta)
	}
	prev, prevUpdated := a.Balance, a.UpdatedAt
	a.Balance += delta
	a.UpdatedAt = time.Now().UTC()
	t.undo = append(t.undo, func() { a.Balance, a.UpdatedAt = prev, prevUpdated })
	return a.Balance, nil
}

func (t *memTx) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	if err := t.s.fault("CreateIdentity", identity.Email); err != nil {
		return err
	}
	if _, taken := t.s.emails[identity.Email]; taken {
		return models.Errorf(models.KindConflict, "email %s is already registered", identity.Email)
	}
	now := time.Now().UTC()
	identity.CreatedAt = now
	cp := *identity
	t.s.identities[identity.ID] = &cp
	t.s.emails[identity.Email] = identity.ID
	t.s.accounts[identity.ID] = &models.Account{IdentityID: identity.ID, CreatedAt: now, UpdatedAt: now}
	t.undo = append(t.undo, func() {
		delete(t.s.identities, cp.ID)
		delete(t.s.emails, cp.Email)
		delete(t.s.accounts, cp.ID)
	})
	return nil
}

func (t *memTx) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	if err := t.s.fault("FindIdentityByEmail", email); err != nil {
		return nil, err
	}
	return t.s.findIdentityByEmail(email)
}

func (t *memTx) GetProduct(ctx context.Context, productID string) (*models.SavingsProduct, error) {
	if err := t.s.fault("GetProduct", productID); err != nil {
		return nil, err
	}
	p, ok := t.s.products[productID]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "savings product %s not found", productID)
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) InsertSavings(ctx context.Context, sa *models.SavingsAccount) error {
	if err := t.s.fault("InsertSavings", sa.OwnerIdentity); err != nil {
		return err
	}
	cp := *sa
	t.s.savings[sa.ID] = &cp
	t.undo = append(t.undo, func() { delete(t.s.savings, cp.ID) })
	return nil
}

func (t *memTx) GetSavingsForUpdate(ctx context.Context, savingsID string) (*models.SavingsAccount, error) {
	if err := t.s.fault("GetSavingsForUpdate", savingsID); err != nil {
		return nil, err
	}
	sa, ok := t.s.savings[savingsID]
	if !ok {
		return nil, models.Errorf(models.KindNotFound, "savings account not found")
	}
	cp := *sa
	return &cp, nil
}

func (t *memTx) UpdateSavings(ctx context.Context, sa *models.SavingsAccount) error {
	if err := t.s.fault("UpdateSavings", sa.ID); err != nil {
		return err
	}
	cur, ok := t.s.savings[sa.ID]
	if !ok {
		return models.Errorf(models.KindNotFound, "savings account %s not found", sa.ID)
	}
	prev := *cur
	cur.Status = sa.Status
	cur.InterestAccrued = sa.InterestAccrued
	cur.LastAccrualAt = sa.LastAccrualAt
	cur.WithdrawnAt = sa.WithdrawnAt
	t.undo = append(t.undo, func() { *cur = prev })
	return nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *models.Entry) error {
	if err := t.s.fault("InsertEntry", e.IdentityID); err != nil {
		return err
	}
	n := len(t.s.entries)
	t.s.entries = append(t.s.entries, *e)
	t.undo = append(t.undo, func() { t.s.entries = t.s.entries[:n] })
	return nil
}
