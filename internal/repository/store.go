package repository

import (
	"context"
	"errors"
	"time"

	"ledger-service/internal/domain"
)

// ErrDuplicateAccountNumber is returned when a generated account number collides.
// Callers generate a new number and retry.
var ErrDuplicateAccountNumber = errors.New("duplicate account number")

// Reader is the read side of the store. Reads never mutate and never block on
// account locks.
type Reader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error)

	// ListPostings returns one page newest-first. A zero AsOf is pinned to the
	// account's current last sequence and reported back in the page.
	ListPostings(ctx context.Context, f domain.PostingFilter) (*domain.PostingPage, error)
	// PostingsInRange returns the balance before start and the postings in
	// [start, end) in sequence order, read from one snapshot.
	PostingsInRange(ctx context.Context, accountID string, start, end time.Time) (int64, []*domain.Posting, error)
	SumForRange(ctx context.Context, accountID string, start, end time.Time) (domain.PostingAggregate, error)
	PostingsForTransfer(ctx context.Context, transferID string) ([]*domain.Posting, error)

	GetTransferByKey(ctx context.Context, key string) (*domain.Transfer, error)
	// ListPendingTransfers returns pending transfers last updated before the cutoff, oldest first.
	ListPendingTransfers(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transfer, error)

	GetCard(ctx context.Context, id string) (*domain.Card, error)
	ListCards(ctx context.Context, ownerID string) ([]*domain.Card, error)
}

// Store is the account, ledger, transfer and card persistence boundary.
type Store interface {
	Reader

	// ClaimTransfer inserts t if no transfer with the same idempotency key exists.
	// It returns the stored record and whether this call created it.
	ClaimTransfer(ctx context.Context, t *domain.Transfer) (*domain.Transfer, bool, error)

	// Atomically runs fn in one atomic unit. Everything written through tx
	// commits together when fn returns nil and is discarded otherwise.
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close()
}

// Tx is the write side, only available inside Store.Atomically.
type Tx interface {
	// LockAccounts takes the per-account locks in ascending id order and
	// returns the locked accounts keyed by id. Missing accounts are NotFound.
	LockAccounts(ctx context.Context, ids ...string) (map[string]*domain.Account, error)
	// InsertAccount stores a new account and holds its lock until commit.
	InsertAccount(ctx context.Context, a *domain.Account) error
	UpdateAccountStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) (*domain.Account, error)

	// AppendPosting assigns seq, created_at and balance_after, appends p and
	// moves the cached balance of its account by p.Amount. The account must be
	// locked by this Tx.
	AppendPosting(ctx context.Context, p *domain.Posting) (*domain.Posting, error)
	// SumCardSpend totals the magnitude of card-tagged withdrawals in [start, end).
	SumCardSpend(ctx context.Context, cardID string, start, end time.Time) (int64, error)
	PostingsForTransfer(ctx context.Context, transferID string) ([]*domain.Posting, error)

	// LockTransfer locks the transfer row. Taken before any account lock.
	LockTransfer(ctx context.Context, key string) (*domain.Transfer, error)
	UpdateTransfer(ctx context.Context, t *domain.Transfer) error

	GetCard(ctx context.Context, id string) (*domain.Card, error)
	InsertCard(ctx context.Context, c *domain.Card) error
	UpdateCard(ctx context.Context, c *domain.Card) error
	CountActiveCards(ctx context.Context, accountID string) (int, error)
}
