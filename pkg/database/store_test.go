package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bank-sca/internal/models"
	"bank-sca/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, createTables(db))
	return NewStore(db, nil)
}

func seed(t *testing.T, s *Store, id, number, balance string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.Accounts().Create(context.Background(), &models.Account{
		ID:        id,
		OwnerID:   "owner-" + id,
		Number:    number,
		Balance:   decimal.RequireFromString(balance),
		Currency:  "EUR",
		Status:    models.AccountActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a1", "DE001", "100.00")
	seed(t, s, "a2", "", "0")
	seed(t, s, "a3", "", "0")

	got, err := s.Accounts().Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "DE001", got.Number)

	byNumber, err := s.Accounts().FindByNumber(ctx, "DE001")
	require.NoError(t, err)
	assert.Equal(t, "a1", byNumber.ID)

	_, err = s.Accounts().FindByNumber(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Accounts().Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.Accounts().Create(ctx, &models.Account{ID: "a4", Number: "DE001", Currency: "EUR", Status: models.AccountActive})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	require.NoError(t, s.Accounts().UpdateBalance(ctx, "a1", decimal.RequireFromString("60.25"), "seal", time.Now().UTC()))
	got, err = s.Accounts().Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("60.25")))
	assert.Equal(t, "seal", got.BalanceSeal)

	err = s.Accounts().UpdateBalance(ctx, "missing", decimal.Zero, "", time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_TransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	tests := []struct {
		id        string
		recipient models.Recipient
	}{
		{"t-int", models.InternalRecipient{DestinationAccountID: "a2"}},
		{"t-ext", models.ExternalRecipient{AccountNumber: "GB29NWBK60161331926819"}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			require.NoError(t, s.Transactions().Create(ctx, &models.Transaction{
				ID:              tt.id,
				UserID:          "alice",
				SourceAccountID: "a1",
				Amount:          decimal.RequireFromString("40.00"),
				Currency:        "EUR",
				Recipient:       tt.recipient,
				Status:          models.TransactionPending,
				ChallengeID:     "c1",
				CreatedAt:       now,
			}))

			got, err := s.Transactions().Get(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.recipient, got.Recipient)
			assert.Equal(t, "c1", got.ChallengeID)
			assert.Nil(t, got.CompletedAt)
		})
	}

	err := s.Transactions().Create(ctx, &models.Transaction{ID: "t-bad", Status: models.TransactionPending})
	assert.ErrorIs(t, err, models.ErrUnknownTransferKind)
}

func TestStore_TransactionConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tx := &models.Transaction{
		ID:              "t1",
		UserID:          "alice",
		SourceAccountID: "a1",
		Amount:          decimal.NewFromInt(5),
		Currency:        "EUR",
		Recipient:       models.InternalRecipient{DestinationAccountID: "a2"},
		Status:          models.TransactionPending,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.Transactions().Create(ctx, tx))

	done := time.Now().UTC()
	tx.Status = models.TransactionCompleted
	tx.CompletedAt = &done
	require.NoError(t, s.Transactions().Update(ctx, tx, models.TransactionPending))

	tx.Status = models.TransactionFailed
	err := s.Transactions().Update(ctx, tx, models.TransactionPending)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.Transactions().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	tx.ID = "missing"
	err = s.Transactions().Update(ctx, tx, models.TransactionPending)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func newChallenge(id, txID string, created, expires time.Time) *models.Challenge {
	return &models.Challenge{
		ID:            id,
		UserID:        "alice",
		TransactionID: txID,
		CodeHash:      "hash",
		DynamicLink:   "link",
		Kind:          models.PushTAN,
		Status:        models.ChallengePending,
		CreatedAt:     created,
		ExpiresAt:     expires,
	}
}

func TestStore_Challenges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Challenges().Create(ctx, newChallenge("c2", "t1", base.Add(time.Second), base.Add(5*time.Minute))))
	require.NoError(t, s.Challenges().Create(ctx, newChallenge("c1", "t1", base, base.Add(time.Minute))))
	require.NoError(t, s.Challenges().Create(ctx, newChallenge("c3", "t2", base, base.Add(time.Minute))))

	pending, err := s.Challenges().FindPending(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "c1", pending[0].ID)
	assert.Equal(t, "c2", pending[1].ID)

	c := pending[0]
	c.Attempts = 1
	require.NoError(t, s.Challenges().Update(ctx, c, models.ChallengePending))
	got, err := s.Challenges().Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, models.PushTAN, got.Kind)

	err = s.Challenges().Update(ctx, c, models.ChallengeUsed)
	assert.ErrorIs(t, err, storage.ErrConflict)

	n, err := s.Challenges().ExpirePending(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = s.Challenges().Get(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengePending, got.Status)
	got, err = s.Challenges().Get(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeExpired, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestStore_AtomicRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a1", "", "100")

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
		acc, err := r.Accounts().GetForUpdate(ctx, "a1")
		if err != nil {
			return err
		}
		if err := r.Accounts().UpdateBalance(ctx, acc.ID, decimal.Zero, "", time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Accounts().Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))
}

func TestStore_AtomicSerialisesIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "a1", "", "0")

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Atomic(ctx, func(ctx context.Context, r storage.Repository) error {
				acc, err := r.Accounts().GetForUpdate(ctx, "a1")
				if err != nil {
					return err
				}
				return r.Accounts().UpdateBalance(ctx, acc.ID, acc.Balance.Add(decimal.NewFromInt(1)), "", time.Now().UTC())
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Accounts().Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(workers)), "got %s", got.Balance)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", gorm.ErrRecordNotFound, storage.ErrNotFound},
		{"duplicate", gorm.ErrDuplicatedKey, storage.ErrDuplicate},
		{"serialization", &pgconn.PgError{Code: "40001"}, storage.ErrTransient},
		{"deadlock", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), storage.ErrTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, storage.ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	other := &pgconn.PgError{Code: "42P01"}
	assert.Same(t, other, classify(other))
	assert.NoError(t, classify(nil))
}
