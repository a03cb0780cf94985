package postgres

import (
	"context"
	"errors"
	"time"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, owner_id, account_number, account_type, currency, balance_cents,
	overdraft_limit_cents, status, timezone, last_seq, last_posted_at, created_at, updated_at`

const postingColumns = `id, account_id, seq, amount_cents, kind, description, related_transfer_id,
	card_id, reverses_posting_id, balance_after_cents, created_at`

const transferColumns = `id, idempotency_key, owner_id, from_account_id, to_account_id, amount_cents,
	description, status, failure_kind, failure_field, failure_message, created_at, updated_at, completed_at`

const cardColumns = `id, account_id, masked_number, number_hash, card_type, expiry_month, expiry_year,
	daily_limit_cents, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.AccountType, &a.Currency, &a.Balance,
		&a.OverdraftLimit, &a.Status, &a.Timezone, &a.LastSeq, &a.LastPostedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPosting(row pgx.Row) (*domain.Posting, error) {
	var p domain.Posting
	err := row.Scan(&p.ID, &p.AccountID, &p.Seq, &p.Amount, &p.Kind, &p.Description, &p.RelatedTransferID,
		&p.CardID, &p.ReversesPostingID, &p.BalanceAfter, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t                    domain.Transfer
		kind, field, message *string
		completedAt          *time.Time
	)
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.OwnerID, &t.FromAccountID, &t.ToAccountID, &t.Amount,
		&t.Description, &t.Status, &kind, &field, &message, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if kind != nil {
		t.Failure = &domain.Error{Kind: domain.ErrorKind(*kind)}
		if field != nil {
			t.Failure.Field = *field
		}
		if message != nil {
			t.Failure.Message = *message
		}
	}
	t.CompletedAt = completedAt
	return &t, nil
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var c domain.Card
	err := row.Scan(&c.ID, &c.AccountID, &c.MaskedNumber, &c.NumberHash, &c.CardType, &c.ExpiryMonth,
		&c.ExpiryYear, &c.DailyLimit, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectPostings(rows pgx.Rows) ([]*domain.Posting, error) {
	defer rows.Close()
	out := make([]*domain.Posting, 0)
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func failureColumns(t *domain.Transfer) (kind, field, message *string) {
	if t.Failure == nil {
		return nil, nil, nil
	}
	k := string(t.Failure.Kind)
	f := t.Failure.Field
	m := t.Failure.Message
	return &k, &f, &m
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func notFoundOr(err error, notFound error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return err
}
