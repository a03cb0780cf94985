// Package postgres is the durable Store backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

func accountNotFound(id string) error {
	return domain.NotFound("account_id", "account %s not found", id)
}

func transferNotFound(key string) error {
	return domain.NotFound("idempotency_key", "transfer %s not found", key)
}

func cardNotFound(id string) error {
	return domain.NotFound("card_id", "card %s not found", id)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, accountNotFound(id))
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListPostings(ctx context.Context, f domain.PostingFilter) (*domain.PostingPage, error) {
	asOf := f.AsOf
	var lastSeq int64
	if err := s.db.QueryRow(ctx, `SELECT last_seq FROM accounts WHERE id = $1`, f.AccountID).Scan(&lastSeq); err != nil {
		return nil, notFoundOr(err, accountNotFound(f.AccountID))
	}
	if asOf == 0 {
		asOf = lastSeq
	}

	var kind *string
	if f.Kind != nil {
		k := string(*f.Kind)
		kind = &k
	}

	page := &domain.PostingPage{Page: f.Page, PageSize: f.PageSize, AsOf: asOf}
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM postings
		WHERE account_id = $1 AND seq <= $2 AND ($3::text IS NULL OR kind = $3)`,
		f.AccountID, asOf, kind,
	).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("count postings: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+postingColumns+` FROM postings
		WHERE account_id = $1 AND seq <= $2 AND ($3::text IS NULL OR kind = $3)
		ORDER BY seq DESC
		LIMIT $4 OFFSET $5`,
		f.AccountID, asOf, kind, f.PageSize, f.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	page.Items, err = collectPostings(rows)
	if err != nil {
		return nil, fmt.Errorf("scan postings: %w", err)
	}
	return page, nil
}

// PostingsInRange reads the opening balance and the range in one repeatable-read snapshot.
func (s *Store) PostingsInRange(ctx context.Context, accountID string, start, end time.Time) (int64, []*domain.Posting, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return 0, nil, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return 0, nil, accountNotFound(accountID)
	}

	var opening int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM postings WHERE account_id = $1 AND created_at < $2`,
		accountID, start,
	).Scan(&opening)
	if err != nil {
		return 0, nil, fmt.Errorf("opening balance: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT `+postingColumns+` FROM postings
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY seq`,
		accountID, start, end,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("range postings: %w", err)
	}
	items, err := collectPostings(rows)
	if err != nil {
		return 0, nil, fmt.Errorf("scan postings: %w", err)
	}
	return opening, items, nil
}

func (s *Store) SumForRange(ctx context.Context, accountID string, start, end time.Time) (domain.PostingAggregate, error) {
	var agg domain.PostingAggregate
	err := s.db.QueryRow(ctx, `
		SELECT count(p.id),
		       COALESCE(SUM(p.amount_cents) FILTER (WHERE p.amount_cents > 0), 0),
		       COALESCE(-SUM(p.amount_cents) FILTER (WHERE p.amount_cents < 0), 0)
		FROM accounts a
		LEFT JOIN postings p ON p.account_id = a.id AND p.created_at >= $2 AND p.created_at < $3
		WHERE a.id = $1
		GROUP BY a.id`,
		accountID, start, end,
	).Scan(&agg.Count, &agg.Credits, &agg.Debits)
	if err != nil {
		return agg, notFoundOr(err, accountNotFound(accountID))
	}
	return agg, nil
}

func (s *Store) PostingsForTransfer(ctx context.Context, transferID string) ([]*domain.Posting, error) {
	return postingsForTransfer(ctx, s.db, transferID)
}

func postingsForTransfer(ctx context.Context, q querier, transferID string) ([]*domain.Posting, error) {
	rows, err := q.Query(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE related_transfer_id = $1 ORDER BY created_at, id`, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer postings: %w", err)
	}
	return collectPostings(rows)
}

func (s *Store) GetTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	t, err := scanTransfer(s.db.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, notFoundOr(err, transferNotFound(key))
	}
	return t, nil
}

func (s *Store) ListPendingTransfers(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transfer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`,
		updatedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending transfers: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	return getCard(ctx, s.db, id)
}

func getCard(ctx context.Context, q querier, id string) (*domain.Card, error) {
	c, err := scanCard(q.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, cardNotFound(id))
	}
	return c, nil
}

func (s *Store) ListCards(ctx context.Context, ownerID string) ([]*domain.Card, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.account_id, c.masked_number, c.number_hash, c.card_type, c.expiry_month, c.expiry_year,
		       c.daily_limit_cents, c.status, c.created_at, c.updated_at
		FROM cards c
		JOIN accounts a ON a.id = c.account_id
		WHERE a.owner_id = $1
		ORDER BY c.created_at, c.id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimTransfer inserts the pending record, or returns the winner's record
// when the idempotency key is already taken.
func (s *Store) ClaimTransfer(ctx context.Context, t *domain.Transfer) (*domain.Transfer, bool, error) {
	kind, field, message := failureColumns(t)
	claimed, err := scanTransfer(s.db.QueryRow(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+transferColumns,
		t.ID, t.IdempotencyKey, t.OwnerID, t.FromAccountID, t.ToAccountID, t.Amount,
		t.Description, t.Status, kind, field, message, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	))
	switch {
	case err == nil:
		return claimed, true, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err, "transfers_idempotency_key_key"):
		existing, err := s.GetTransferByKey(ctx, t.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("load claimed transfer: %w", err)
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("claim transfer: %w", err)
	}
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &txn{tx: pgTx, now: s.now, locked: make(map[string]bool)}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		if isUniqueViolation(err, "accounts_account_number_key") {
			return repository.ErrDuplicateAccountNumber
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
