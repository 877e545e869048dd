package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/bank-ledger/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// Open connects to PostgreSQL through the named database/sql driver
// ("postgres" for lib/pq, "pgx" for pgx) and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresStore provides database operations
type PostgresStore struct {
	db   *sql.DB
	opts Options
	log  *logrus.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes a new store
func NewPostgresStore(db *sql.DB, opts Options, log *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults(), log: log}
}

// WithTx runs fn in a READ COMMITTED transaction. Rows are locked
// explicitly by the Tx methods; serialization failures and deadlocks are
// retried up to MaxRetries attempts.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isConflict(err) {
			break
		}
		s.log.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("Transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return classify(ctx.Err())
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	if err != nil {
		var domainErr *models.Error
		if !errors.As(err, &domainErr) {
			s.log.WithError(err).Error("Transaction failed")
		}
	}
	return classify(err)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// run applies the storage timeout to a single statement outside WithTx.
func (s *PostgresStore) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		var domainErr *models.Error
		if !errors.As(err, &domainErr) {
			s.log.WithError(err).Error("Storage read failed")
		}
		return classify(err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.run(ctx, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// GetAccount retrieves the spendable account of an identity
func (s *PostgresStore) GetAccount(ctx context.Context, identityID string) (*models.Account, error) {
	acc := &models.Account{}
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			SELECT identity_id, balance, created_at, updated_at
			FROM bank.accounts
			WHERE identity_id = $1`
		err := s.db.QueryRowContext(ctx, query, identityID).
			Scan(&acc.IdentityID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return accountNotFound(identityID)
		}
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// GetIdentity retrieves an identity by id
func (s *PostgresStore) GetIdentity(ctx context.Context, identityID string) (*models.Identity, error) {
	var identity *models.Identity
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, email, password_hash, created_at
			FROM bank.identities
			WHERE id = $1`
		var err error
		identity, err = scanIdentity(s.db.QueryRowContext(ctx, query, identityID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// FindIdentityByEmail retrieves an identity by normalized email
func (s *PostgresStore) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var identity *models.Identity
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		identity, err = findIdentityByEmail(ctx, s.db, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// ListActiveProducts returns the active savings catalog
func (s *PostgresStore) ListActiveProducts(ctx context.Context) ([]models.SavingsProduct, error) {
	var products []models.SavingsProduct
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, name, annual_interest_pct, term_months, min_deposit, demographic, is_active
			FROM bank.savings_products
			WHERE is_active
			ORDER BY id`
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to list products: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProduct(rows)
			if err != nil {
				return err
			}
			products = append(products, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

// GetSavings retrieves a savings account by id
func (s *PostgresStore) GetSavings(ctx context.Context, savingsID string) (*models.SavingsAccount, error) {
	var sa *models.SavingsAccount
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		sa, err = scanSavings(s.db.QueryRowContext(ctx, selectSavings+` WHERE id = $1`, savingsID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sa, nil
}

// ListSavingsByOwner returns an identity's savings accounts, newest first
func (s *PostgresStore) ListSavingsByOwner(ctx context.Context, ownerID string) ([]models.SavingsAccount, error) {
	var list []models.SavingsAccount
	err := s.run(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, selectSavings+` WHERE owner_identity = $1 ORDER BY starts_at DESC`, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list savings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sa, err := scanSavings(rows)
			if err != nil {
				return err
			}
			list = append(list, *sa)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *PostgresStore) ListAccrualCandidates(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			SELECT id
			FROM bank.savings_accounts
			WHERE status <> 'withdrawn' AND last_accrual_at < maturity_at
			ORDER BY id`
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to list accrual candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan accrual candidate: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) MarkMatured(ctx context.Context, now time.Time) ([]models.SavingsAccount, error) {
	var list []models.SavingsAccount
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			UPDATE bank.savings_accounts
			SET status = 'matured'
			WHERE status = 'active' AND maturity_at <= $1
			RETURNING ` + savingsColumns
		rows, err := s.db.QueryContext(ctx, query, now.UTC())
		if err != nil {
			return fmt.Errorf("failed to mark matured: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sa, err := scanSavings(rows)
			if err != nil {
				return err
			}
			list = append(list, *sa)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListEntries returns the most recent ledger entries of an identity
func (s *PostgresStore) ListEntries(ctx context.Context, identityID string, limit int) ([]models.Entry, error) {
	var entries []models.Entry
	err := s.run(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, identity_id, kind, amount, reference, created_at
			FROM bank.ledger_entries
			WHERE identity_id = $1
			ORDER BY created_at DESC
			LIMIT $2`
		rows, err := s.db.QueryContext(ctx, query, identityID, limit)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e models.Entry
			if err := rows.Scan(&e.ID, &e.IdentityID, &e.Kind, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan entry: %w", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) RecordAccrualRun(ctx context.Context, run *models.AccrualRun) error {
	return s.run(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO bank.accrual_runs (id, as_of, considered, posted, failed, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := s.db.ExecContext(ctx, query, run.ID, run.AsOf.UTC(), run.Considered, run.Posted,
			len(run.Failures), run.StartedAt.UTC(), run.FinishedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to record accrual run: %w", err)
		}
		return nil
	})
}

// pgTx implements Tx over a database/sql transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccounts(ctx context.Context, identityIDs ...string) error {
	ids := append([]string(nil), identityIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		var locked string
		err := t.tx.QueryRowContext(ctx,
			`SELECT identity_id FROM bank.accounts WHERE identity_id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return accountNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
	}
	return nil
}

func (t *pgTx) GetBalance(ctx context.Context, identityID string) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT balance FROM bank.accounts WHERE identity_id = $1`, identityID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, accountNotFound(identityID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, identityID string, delta int64) (int64, error) {
	query := `
		UPDATE bank.accounts
		SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE identity_id = $2 AND balance + $1 >= 0
		RETURNING balance`
	var balance int64
	err := t.tx.QueryRowContext(ctx, query, delta, identityID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if isOutOfRange(err) {
		return 0, balanceOverflow(delta)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}

	// The guarded update matched nothing: either the account is missing or
	// the debit would overdraw it.
	var exists bool
	err = t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bank.accounts WHERE identity_id = $1)`, identityID).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return 0, accountNotFound(identityID)
	}
	return 0, insufficientFunds(delta)
}

func (t *pgTx) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO bank.identities (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		RETURNING created_at`
	err := t.tx.QueryRowContext(ctx, query, identity.ID, identity.Email, identity.PasswordHash).
		Scan(&identity.CreatedAt)
	if isUniqueViolation(err) {
		return models.Errorf(models.KindConflict, "email %s is already registered", identity.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO bank.accounts (identity_id, balance) VALUES ($1, 0)`, identity.ID); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (t *pgTx) FindIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return findIdentityByEmail(ctx, t.tx, email)
}

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*models.SavingsProduct, error) {
	query := `
		SELECT id, name, annual_interest_pct, term_months, min_deposit, demographic, is_active
		FROM bank.savings_products
		WHERE id = $1`
	p, err := scanProduct(t.tx.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.KindNotFound, "savings product %s not found", productID)
	}
	return p, err
}

func (t *pgTx) InsertSavings(ctx context.Context, sa *models.SavingsAccount) error {
	query := `
		INSERT INTO bank.savings_accounts (id, owner_identity, product_id, principal, annual_interest_pct,
			status, starts_at, maturity_at, interest_accrued, last_accrual_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.ExecContext(ctx, query, sa.ID, sa.OwnerIdentity, sa.ProductID, sa.Principal,
		sa.AnnualInterestPct, string(sa.Status), sa.StartsAt.UTC(), sa.MaturityAt.UTC(),
		sa.InterestAccrued, sa.LastAccrualAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create savings account: %w", err)
	}
	return nil
}

func (t *pgTx) GetSavingsForUpdate(ctx context.Context, savingsID string) (*models.SavingsAccount, error) {
	return scanSavings(t.tx.QueryRowContext(ctx, selectSavings+` WHERE id = $1 FOR UPDATE`, savingsID))
}

func (t *pgTx) UpdateSavings(ctx context.Context, sa *models.SavingsAccount) error {
	query := `
		UPDATE bank.savings_accounts
		SET status = $2, interest_accrued = $3, last_accrual_at = $4, withdrawn_at = $5
		WHERE id = $1`
	var withdrawnAt sql.NullTime
	if sa.WithdrawnAt != nil {
		withdrawnAt = sql.NullTime{Time: sa.WithdrawnAt.UTC(), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, query, sa.ID, string(sa.Status), sa.InterestAccrued,
		sa.LastAccrualAt.UTC(), withdrawnAt)
	if err != nil {
		return fmt.Errorf("failed to update savings account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Errorf(models.KindNotFound, "savings account %s not found", sa.ID)
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.Entry) error {
	query := `
		INSERT INTO bank.ledger_entries (id, identity_id, kind, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := t.tx.ExecContext(ctx, query, e.ID, e.IdentityID, string(e.Kind), e.Amount, e.Reference, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

const savingsColumns = `id, owner_identity, product_id, principal, annual_interest_pct, status,
	starts_at, maturity_at, interest_accrued, last_accrual_at, withdrawn_at`

const selectSavings = `SELECT ` + savingsColumns + ` FROM bank.savings_accounts`

type scanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findIdentityByEmail(ctx context.Context, q queryRower, email string) (*models.Identity, error) {
	query := `
		SELECT id, email, password_hash, created_at
		FROM bank.identities
		WHERE email = $1`
	return scanIdentity(q.QueryRowContext(ctx, query, models.NormalizeEmail(email)))
}

func scanIdentity(row scanner) (*models.Identity, error) {
	var identity models.Identity
	err := row.Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.KindNotFound, "identity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &identity, nil
}

func scanProduct(row scanner) (*models.SavingsProduct, error) {
	var p models.SavingsProduct
	err := row.Scan(&p.ID, &p.Name, &p.AnnualInterestPct, &p.TermMonths, &p.MinDeposit, &p.Demographic, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}

func scanSavings(row scanner) (*models.SavingsAccount, error) {
	var (
		sa          models.SavingsAccount
		status      string
		withdrawnAt sql.NullTime
	)
	err := row.Scan(&sa.ID, &sa.OwnerIdentity, &sa.ProductID, &sa.Principal, &sa.AnnualInterestPct, &status,
		&sa.StartsAt, &sa.MaturityAt, &sa.InterestAccrued, &sa.LastAccrualAt, &withdrawnAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.Errorf(models.KindNotFound, "savings account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan savings account: %w", err)
	}
	sa.Status = models.SavingsStatus(status)
	sa.StartsAt = sa.StartsAt.UTC()
	sa.MaturityAt = sa.MaturityAt.UTC()
	sa.LastAccrualAt = sa.LastAccrualAt.UTC()
	if withdrawnAt.Valid {
		t := withdrawnAt.Time.UTC()
		sa.WithdrawnAt = &t
	}
	return &sa, nil
}
