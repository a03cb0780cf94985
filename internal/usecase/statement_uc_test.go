package usecase

import (
	"context"
	"testing"
	"time"

	"ledger-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementUsecase_Build(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.openAccount(t, "user-1", 10000)

	f.clock.Advance(24 * time.Hour)
	_, err := f.accounts.Withdraw(ctx, "user-1", acc.ID, 3000, "")
	require.NoError(t, err)
	_, err = f.accounts.Deposit(ctx, "user-1", acc.ID, 500, "")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.accounts.Deposit(ctx, "user-1", acc.ID, 2000, "")
	require.NoError(t, err)

	st, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-03-11", "2026-03-11")
	require.NoError(t, err)
	assert.Equal(t, acc.AccountNumber, st.AccountNumber)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), st.Start.UTC())
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), st.End.UTC())
	assert.Equal(t, int64(10000), st.OpeningBalance)
	assert.Equal(t, int64(7500), st.ClosingBalance)
	assert.Equal(t, int64(500), st.TotalDeposits)
	assert.Equal(t, int64(3000), st.TotalWithdrawals)
	assert.Equal(t, 2, st.TransactionCount)
	require.Len(t, st.Postings, 2)
	assert.Equal(t, st.OpeningBalance+st.TotalDeposits-st.TotalWithdrawals, st.ClosingBalance)

	assert.Equal(t, "100.00", st.Formatted.OpeningBalance)
	assert.Equal(t, "75.00", st.Formatted.ClosingBalance)
	assert.Equal(t, "5.00", st.Formatted.TotalDeposits)
	assert.Equal(t, "30.00", st.Formatted.TotalWithdrawals)
	assert.Equal(t, f.clock.Now(), st.GeneratedAt)
}

func TestStatementUsecase_EmptyRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.openAccount(t, "user-1", 4200)

	st, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-04-01", "2026-04-30")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), st.OpeningBalance)
	assert.Equal(t, st.OpeningBalance, st.ClosingBalance)
	assert.Zero(t, st.TransactionCount)
	assert.Empty(t, st.Postings)

	before, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-01-01", "2026-01-31")
	require.NoError(t, err)
	assert.Zero(t, before.OpeningBalance)
	assert.Zero(t, before.ClosingBalance)
}

func TestStatementUsecase_InstantEndIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.openAccount(t, "user-1", 1000)

	// The initial deposit lands exactly at fixtureStart.
	st, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-03-10T00:00:00Z", "2026-03-10T15:00:00Z")
	require.NoError(t, err)
	assert.Zero(t, st.TransactionCount)
	assert.Zero(t, st.ClosingBalance)

	st, err = f.statements.Build(ctx, "user-1", acc.ID, "2026-03-10T15:00:00Z", "2026-03-10T15:00:01Z")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TransactionCount)
	assert.Equal(t, int64(1000), st.ClosingBalance)
}

func TestStatementUsecase_AccountTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 15:00 UTC is 11:00 in New York.
	acc := f.openAccountIn(t, "user-1", 1000, "USD", "America/New_York")

	// 01:00 UTC next day is still 21:00 on the 10th locally.
	f.clock.Advance(10 * time.Hour)
	_, err := f.accounts.Deposit(ctx, "user-1", acc.ID, 700, "")
	require.NoError(t, err)

	day, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-03-10", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 2, day.TransactionCount)
	assert.Equal(t, int64(1700), day.ClosingBalance)

	next, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-03-11", "2026-03-11")
	require.NoError(t, err)
	assert.Zero(t, next.TransactionCount)
	assert.Equal(t, int64(1700), next.OpeningBalance)
}

func TestStatementUsecase_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.openAccount(t, "user-1", 1000)

	_, err := f.statements.Build(ctx, "user-1", acc.ID, "2026-03-12", "2026-03-11")
	requireKind(t, err, domain.KindInvalidArgument)

	_, err = f.statements.Build(ctx, "user-1", acc.ID, "", "2026-03-11")
	requireKind(t, err, domain.KindInvalidArgument)
	assert.Equal(t, "start", domain.AsError(err).Field)

	_, err = f.statements.Build(ctx, "user-1", acc.ID, "2026-03-01", "03/11/2026")
	requireKind(t, err, domain.KindInvalidArgument)
	assert.Equal(t, "end", domain.AsError(err).Field)

	_, err = f.statements.Build(ctx, "user-2", acc.ID, "2026-03-01", "2026-03-11")
	requireKind(t, err, domain.KindNotFound)

	_, err = f.statements.Build(ctx, "user-1", "acc_missing", "2026-03-01", "2026-03-11")
	requireKind(t, err, domain.KindNotFound)
}
