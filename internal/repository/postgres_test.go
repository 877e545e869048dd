package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New err=%v", err)
	}
	t.Cleanup(func() { db.Close() })
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewPostgresStore(db, Options{Timeout: time.Second, MaxRetries: 3}, log), mock
}

func adjust(id string, delta int64) func(ctx context.Context, tx Tx) error {
	return func(ctx context.Context, tx Tx) error {
		_, err := tx.AdjustBalance(ctx, id, delta)
		return err
	}
}

func TestPostgresAdjustBalanceCommits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(-300), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(700)))
	mock.ExpectCommit()

	if err := s.WithTx(context.Background(), adjust("alice", -300)); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAdjustBalanceInsufficientFunds(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(-500), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), adjust("alice", -500))
	if !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("want InsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAdjustBalanceUnknownAccount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(50), "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	if err := s.WithTx(context.Background(), adjust("ghost", 50)); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestPostgresAdjustBalanceOutOfRange(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(11), "whale").
		WillReturnError(&pq.Error{Code: "22003", Message: "bigint out of range"})
	mock.ExpectRollback()

	if err := s.WithTx(context.Background(), adjust("whale", 11)); !errors.Is(err, models.ErrInvalidAmount) {
		t.Fatalf("want InvalidAmount, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRetriesSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(-300), "alice").
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(-300), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(700)))
	mock.ExpectCommit()

	if err := s.WithTx(context.Background(), adjust("alice", -300)); err != nil {
		t.Fatalf("conflict should be retried, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresBeginFailureIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	err := s.WithTx(context.Background(), adjust("alice", 1))
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("want StorageUnavailable, got %v", err)
	}
	if reason := models.AsError(err).Reason; reason != models.ErrStorageUnavailable.Reason {
		t.Fatalf("backend text leaked: %q", reason)
	}
}

func TestPostgresLockAccountsOrdersRows(t *testing.T) {
	s, mock := newMockStore(t)
	lock := regexp.QuoteMeta(`SELECT identity_id FROM bank.accounts WHERE identity_id = $1 FOR UPDATE`)
	mock.ExpectBegin()
	mock.ExpectQuery(lock).WithArgs("alice").WillReturnRows(sqlmock.NewRows([]string{"identity_id"}).AddRow("alice"))
	mock.ExpectQuery(lock).WithArgs("bob").WillReturnRows(sqlmock.NewRows([]string{"identity_id"}).AddRow("bob"))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.LockAccounts(ctx, "bob", "alice", "bob")
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetAccountNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bank.accounts`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "balance", "created_at", "updated_at"}))

	if _, err := s.GetAccount(context.Background(), "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

var savingsRowColumns = []string{"id", "owner_identity", "product_id", "principal", "annual_interest_pct", "status",
	"starts_at", "maturity_at", "interest_accrued", "last_accrual_at", "withdrawn_at"}

var (
	opened  = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	matures = opened.AddDate(1, 0, 0)
)

func TestPostgresCreateIdentity(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bank.identities`).
		WithArgs("id-1", "alice@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(opened))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bank.accounts (identity_id, balance) VALUES ($1, 0)`)).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	identity := &models.Identity{ID: "id-1", Email: "alice@example.com", PasswordHash: "hash"}
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateIdentity(ctx, identity)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !identity.CreatedAt.Equal(opened) {
		t.Fatalf("created_at=%v want %v", identity.CreatedAt, opened)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCreateIdentityDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bank.identities`).
		WithArgs("id-2", "alice@example.com", "hash").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateIdentity(ctx, &models.Identity{ID: "id-2", Email: "alice@example.com", PasswordHash: "hash"})
	})
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("want Conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresInsertSavings(t *testing.T) {
	s, mock := newMockStore(t)
	sa := &models.SavingsAccount{
		ID:                "sav-1",
		OwnerIdentity:     "alice",
		ProductID:         "fixed-12",
		Principal:         500,
		AnnualInterestPct: decimal.RequireFromString("7.25"),
		Status:            models.SavingsActive,
		StartsAt:          opened,
		MaturityAt:        matures,
		LastAccrualAt:     opened,
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bank.savings_accounts`).
		WithArgs("sav-1", "alice", "fixed-12", int64(500), "7.25", "active", opened, matures, int64(0), opened).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertSavings(ctx, sa)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetSavingsForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.savings_accounts WHERE id = $1 FOR UPDATE`)).
		WithArgs("sav-1").
		WillReturnRows(sqlmock.NewRows(savingsRowColumns).
			AddRow("sav-1", "alice", "fixed-12", int64(500), "7.25", "active", opened, matures, int64(13), opened.AddDate(0, 0, 100), nil))
	mock.ExpectCommit()

	var got *models.SavingsAccount
	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		got, err = tx.GetSavingsForUpdate(ctx, "sav-1")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.AnnualInterestPct.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("annual_interest_pct=%s want 7.25", got.AnnualInterestPct)
	}
	if got.Status != models.SavingsActive || got.InterestAccrued != 13 || got.WithdrawnAt != nil {
		t.Errorf("unexpected row %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresUpdateSavings(t *testing.T) {
	update := `UPDATE bank.savings_accounts SET status`
	withdrawn := matures.Add(time.Hour)
	sa := &models.SavingsAccount{
		ID:              "sav-1",
		Status:          models.SavingsWithdrawn,
		InterestAccrued: 50,
		LastAccrualAt:   matures,
		WithdrawnAt:     &withdrawn,
	}

	t.Run("updated", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(update).
			WithArgs("sav-1", "withdrawn", int64(50), matures, withdrawn).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.UpdateSavings(ctx, sa)
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(update).
			WithArgs("sav-1", "withdrawn", int64(50), matures, withdrawn).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.UpdateSavings(ctx, sa)
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("want NotFound, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestPostgresInsertEntry(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bank.ledger_entries`).
		WithArgs("ent-1", "alice", "transfer_out", int64(-300), "tr-1", opened).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertEntry(ctx, &models.Entry{
			ID:         "ent-1",
			IdentityID: "alice",
			Kind:       models.EntryTransferOut,
			Amount:     -300,
			Reference:  "tr-1",
			CreatedAt:  opened,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresFailureAfterCreditRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE bank.accounts`).
		WithArgs(int64(550), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(1550)))
	mock.ExpectExec(`UPDATE bank.savings_accounts SET status`).
		WillReturnError(errors.New("write tcp 10.0.0.5:5432: broken pipe"))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.AdjustBalance(ctx, "alice", 550); err != nil {
			return err
		}
		return tx.UpdateSavings(ctx, &models.SavingsAccount{ID: "sav-1", Status: models.SavingsWithdrawn, LastAccrualAt: matures})
	})
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("want StorageUnavailable, got %v", err)
	}
	// A commit here would be an unexpected call and fail the expectations.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresMarkMaturedReturnsRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := matures.Add(time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta(`SET status = 'matured' WHERE status = 'active' AND maturity_at <= $1 RETURNING id`)).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(savingsRowColumns).
			AddRow("sav-1", "alice", "fixed-12", int64(500), "10", "matured", opened, matures, int64(13), opened.AddDate(0, 0, 100), nil).
			AddRow("sav-2", "bob", "fixed-12", int64(900), "10", "matured", opened, matures, int64(90), matures, nil))

	list, err := s.MarkMatured(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("matured %d rows, want 2", len(list))
	}
	for _, sa := range list {
		if sa.Status != models.SavingsMatured {
			t.Errorf("%s status=%s want matured", sa.ID, sa.Status)
		}
	}
	if list[0].InterestAccrued != 13 || list[1].Principal != 900 {
		t.Errorf("amounts not carried through: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListAccrualCandidates(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE status <> 'withdrawn' AND last_accrual_at < maturity_at ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sav-1").AddRow("sav-3"))

	ids, err := s.ListAccrualCandidates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "sav-1" || ids[1] != "sav-3" {
		t.Fatalf("ids=%v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
