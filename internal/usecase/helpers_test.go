package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository/memory"
	"ledger-service/pkg/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*pub.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev *pub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	store      *memory.Store
	clock      *testClock
	publisher  *recordingPublisher
	ledger     *LedgerUsecase
	accounts   *AccountUsecase
	cards      *CardUsecase
	transfers  *TransferUsecase
	statements *StatementUsecase
	reconciler *Reconciler
}

var fixtureStart = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, AccountPolicy{DefaultTimezone: "UTC"})
}

func newFixtureWithPolicy(t *testing.T, policy AccountPolicy) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := newTestClock(fixtureStart)
	store := memory.New(memory.WithClock(clock.Now))
	ids := utils.NewIDGenerator()
	publisher := &recordingPublisher{}

	ledger := NewLedgerUsecase(store, ids, logger)
	accounts := NewAccountUsecase(store, ledger, ids, policy, publisher, clock.Now, logger)
	return &fixture{
		store:      store,
		clock:      clock,
		publisher:  publisher,
		ledger:     ledger,
		accounts:   accounts,
		cards:      NewCardUsecase(store, accounts, ids, 3, publisher, clock.Now, logger),
		transfers:  NewTransferUsecase(store, ledger, nil, ids, publisher, clock.Now, logger),
		statements: NewStatementUsecase(store, clock.Now, logger),
		reconciler: NewReconciler(store, ledger, time.Minute, time.Second, publisher, clock.Now, logger),
	}
}

func (f *fixture) openAccount(t *testing.T, owner string, deposit int64) *domain.Account {
	t.Helper()
	return f.openAccountIn(t, owner, deposit, "USD", "")
}

func (f *fixture) openAccountIn(t *testing.T, owner string, deposit int64, currency, tz string) *domain.Account {
	t.Helper()
	acc, err := f.accounts.Create(context.Background(), domain.AccountCreate{
		OwnerID:        owner,
		AccountType:    domain.AccountTypeChecking,
		Currency:       currency,
		InitialDeposit: deposit,
		Timezone:       tz,
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}
