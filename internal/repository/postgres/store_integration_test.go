//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

// setupStore starts a disposable PostgreSQL container, migrates it and
// returns a Store over a fresh pool.
func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn, "ledger_test", zaptest.NewLogger(t)))
	// Running twice is a no-op.
	require.NoError(t, Migrate(dsn, "ledger_test", zaptest.NewLogger(t)))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStore(pool), pool
}

type stack struct {
	ledger    *usecase.LedgerUsecase
	accounts  *usecase.AccountUsecase
	cards     *usecase.CardUsecase
	transfers *usecase.TransferUsecase
}

func newStack(t *testing.T, store *Store) stack {
	logger := zaptest.NewLogger(t)
	ids := utils.NewIDGenerator()
	ledger := usecase.NewLedgerUsecase(store, ids, logger)
	accounts := usecase.NewAccountUsecase(store, ledger, ids, usecase.AccountPolicy{DefaultTimezone: "UTC"}, nil, nil, logger)
	return stack{
		ledger:    ledger,
		accounts:  accounts,
		cards:     usecase.NewCardUsecase(store, accounts, ids, 3, nil, nil, logger),
		transfers: usecase.NewTransferUsecase(store, ledger, nil, ids, nil, nil, logger),
	}
}

func (s stack) open(t *testing.T, owner string, deposit int64) *domain.Account {
	t.Helper()
	acc, err := s.accounts.Create(context.Background(), domain.AccountCreate{
		OwnerID: owner, AccountType: domain.AccountTypeChecking, Currency: "USD", InitialDeposit: deposit,
	})
	require.NoError(t, err)
	return acc
}

func TestIntegration_Postgres_TransferAndReplay(t *testing.T) {
	store, _ := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	a := s.open(t, "user-1", 5000)
	b := s.open(t, "user-2", 0)
	req := domain.TransferRequest{
		OwnerID: "user-1", IdempotencyKey: "pg-k1-transfer",
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: 3000,
	}

	res, created, err := s.transfers.Transfer(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, res.Postings, 2)

	replay, created, err := s.transfers.Transfer(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, res.Transfer.ID, replay.Transfer.ID)
	assert.Len(t, replay.Postings, 2)

	gotA, err := store.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := store.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), gotA.Balance)
	assert.Equal(t, int64(3000), gotB.Balance)

	req.IdempotencyKey = "pg-k2-transfer"
	req.Amount = 10000
	_, _, err = s.transfers.Transfer(ctx, req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	_, _, err = s.transfers.Transfer(ctx, req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	failed, err := store.GetTransferByKey(ctx, "pg-k2-transfer")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, failed.Status)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, domain.KindInsufficientFunds, failed.Failure.Kind)
}

func TestIntegration_Postgres_ConcurrentSameKey(t *testing.T) {
	store, _ := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	a := s.open(t, "user-1", 10000)
	b := s.open(t, "user-1", 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		createdN int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.transfers.Transfer(ctx, domain.TransferRequest{
				OwnerID: "user-1", IdempotencyKey: "pg-concurrent",
				FromAccountID: a.ID, ToAccountID: b.ID, Amount: 700,
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrConflict)
				return
			}
			if created {
				mu.Lock()
				createdN++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdN)
	got, err := store.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Balance)
}

func TestIntegration_Postgres_ConservesUnderConcurrency(t *testing.T) {
	store, _ := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	ids := make([]string, 4)
	for i := range ids {
		ids[i] = s.open(t, "user-1", 10000).ID
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		from, to := ids[i%4], ids[(i+1+i/4)%4]
		key := fmt.Sprintf("pg-conserve-%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.transfers.Transfer(ctx, domain.TransferRequest{
				OwnerID: "user-1", IdempotencyKey: key,
				FromAccountID: from, ToAccountID: to, Amount: 1500,
			})
		}()
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		acc, err := store.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, acc.Balance, int64(0))
		total += acc.Balance

		agg, err := store.SumForRange(ctx, id, time.Time{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, acc.Balance, agg.Net())
	}
	assert.Equal(t, int64(40000), total)
}

func TestIntegration_Postgres_PostingsAreAppendOnly(t *testing.T) {
	store, pool := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	acc := s.open(t, "user-1", 1000)

	_, err := pool.Exec(ctx, `UPDATE postings SET amount_cents = 1 WHERE account_id = $1`, acc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = pool.Exec(ctx, `DELETE FROM postings WHERE account_id = $1`, acc.ID)
	require.Error(t, err)
}

func TestIntegration_Postgres_PaginationPinnedByAsOf(t *testing.T) {
	store, _ := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	acc := s.open(t, "user-1", 0)
	for i := 0; i < 5; i++ {
		_, err := s.accounts.Deposit(ctx, "user-1", acc.ID, int64(100*(i+1)), "")
		require.NoError(t, err)
	}

	first, err := s.ledger.ListForAccount(ctx, "user-1", domain.PostingFilter{AccountID: acc.ID, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.AsOf)
	assert.Equal(t, 5, first.Total)

	_, err = s.accounts.Deposit(ctx, "user-1", acc.ID, 999, "")
	require.NoError(t, err)

	second, err := s.ledger.ListForAccount(ctx, "user-1", domain.PostingFilter{AccountID: acc.ID, Page: 2, PageSize: 2, AsOf: first.AsOf})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, int64(3), second.Items[0].Seq)
	assert.Equal(t, int64(2), second.Items[1].Seq)
}

func TestIntegration_Postgres_CardLimitUnderConcurrency(t *testing.T) {
	store, _ := setupStore(t)
	s := newStack(t, store)
	ctx := context.Background()

	acc := s.open(t, "user-1", 100000)
	card, err := s.cards.Register(ctx, domain.CardCreate{
		OwnerID: "user-1", AccountID: acc.ID, CardNumber: "4111111111111111",
		CardType: domain.CardTypeDebit, ExpiryMonth: 12, ExpiryYear: time.Now().Year() + 2,
		DailyLimit: 10000,
	})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.cards.Charge(ctx, "user-1", card.ID, 1000, ""); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrLimitExceeded)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, approved)
}

func TestIntegration_Postgres_ClaimTransfer(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	claim := &domain.Transfer{
		ID: "trf_claim_1", IdempotencyKey: "pg-claim-key", OwnerID: "user-1",
		FromAccountID: "acc_a", ToAccountID: "acc_b", Amount: 10,
		Status: domain.TransferPending, CreatedAt: now, UpdatedAt: now,
	}
	got, won, err := store.ClaimTransfer(ctx, claim)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, claim.ID, got.ID)

	loser := claim.Clone()
	loser.ID = "trf_claim_2"
	got, won, err = store.ClaimTransfer(ctx, loser)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, "trf_claim_1", got.ID)

	pending, err := store.ListPendingTransfers(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		tr, err := tx.LockTransfer(ctx, "pg-claim-key")
		if err != nil {
			return err
		}
		tr.Fail(domain.Aborted("", "abandoned"), now)
		return tx.UpdateTransfer(ctx, tr)
	})
	require.NoError(t, err)

	stored, err := store.GetTransferByKey(ctx, "pg-claim-key")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, stored.Status)
	assert.Equal(t, domain.KindAborted, stored.Failure.Kind)
}
