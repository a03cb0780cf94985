package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"

	"github.com/jackc/pgx/v5"
)

type txn struct {
	tx     pgx.Tx
	now    func() time.Time
	locked map[string]bool
}

var _ repository.Tx = (*txn)(nil)

// LockAccounts uses SELECT ... FOR UPDATE ordered by id so concurrent units
// always acquire row locks in the same order.
func (t *txn) LockAccounts(ctx context.Context, ids ...string) (map[string]*domain.Account, error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	rows, err := t.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, uniq)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.Account, len(uniq))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out[a.ID] = a
		t.locked[a.ID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	for _, id := range uniq {
		if _, ok := out[id]; !ok {
			return nil, accountNotFound(id)
		}
	}
	return out, nil
}

func (t *txn) InsertAccount(ctx context.Context, a *domain.Account) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.OwnerID, a.AccountNumber, a.AccountType, a.Currency, a.Balance,
		a.OverdraftLimit, a.Status, a.Timezone, a.LastSeq, a.CreatedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "accounts_account_number_key") {
			return repository.ErrDuplicateAccountNumber
		}
		return fmt.Errorf("insert account: %w", err)
	}
	t.locked[a.ID] = true
	return nil
}

func (t *txn) requireLocked(id string) error {
	if !t.locked[id] {
		return fmt.Errorf("account %s is not locked by this transaction", id)
	}
	return nil
}

func (t *txn) UpdateAccountStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) (*domain.Account, error) {
	if err := t.requireLocked(id); err != nil {
		return nil, err
	}
	a, err := scanAccount(t.tx.QueryRow(ctx, `
		UPDATE accounts SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns,
		id, status, at,
	))
	if err != nil {
		return nil, notFoundOr(err, accountNotFound(id))
	}
	return a, nil
}

// AppendPosting bumps the account's sequence and balance and inserts the
// posting with the resulting values in the same transaction.
func (t *txn) AppendPosting(ctx context.Context, p *domain.Posting) (*domain.Posting, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("append posting: id is required")
	}
	if err := t.requireLocked(p.AccountID); err != nil {
		return nil, err
	}

	out := *p
	err := t.tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + $2,
		    last_seq = last_seq + 1,
		    last_posted_at = GREATEST(last_posted_at, $3),
		    updated_at = GREATEST(last_posted_at, $3)
		WHERE id = $1
		RETURNING balance_cents, last_seq, last_posted_at`,
		p.AccountID, p.Amount, t.now(),
	).Scan(&out.BalanceAfter, &out.Seq, &out.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, accountNotFound(p.AccountID))
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO postings (`+postingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		out.ID, out.AccountID, out.Seq, out.Amount, out.Kind, out.Description, out.RelatedTransferID,
		out.CardID, out.ReversesPostingID, out.BalanceAfter, out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert posting: %w", err)
	}
	return &out, nil
}

func (t *txn) SumCardSpend(ctx context.Context, cardID string, start, end time.Time) (int64, error) {
	var spent int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(-SUM(amount_cents), 0) FROM postings
		WHERE card_id = $1 AND created_at >= $2 AND created_at < $3`,
		cardID, start, end,
	).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("sum card spend: %w", err)
	}
	if spent < 0 {
		spent = 0
	}
	return spent, nil
}

func (t *txn) PostingsForTransfer(ctx context.Context, transferID string) ([]*domain.Posting, error) {
	return postingsForTransfer(ctx, t.tx, transferID)
}

func (t *txn) LockTransfer(ctx context.Context, key string) (*domain.Transfer, error) {
	tr, err := scanTransfer(t.tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1 FOR UPDATE`, key))
	if err != nil {
		return nil, notFoundOr(err, transferNotFound(key))
	}
	return tr, nil
}

func (t *txn) UpdateTransfer(ctx context.Context, tr *domain.Transfer) error {
	kind, field, message := failureColumns(tr)
	tag, err := t.tx.Exec(ctx, `
		UPDATE transfers
		SET status = $2, failure_kind = $3, failure_field = $4, failure_message = $5,
		    updated_at = $6, completed_at = $7
		WHERE idempotency_key = $1`,
		tr.IdempotencyKey, tr.Status, kind, field, message, tr.UpdatedAt, tr.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transferNotFound(tr.IdempotencyKey)
	}
	return nil
}

func (t *txn) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	return getCard(ctx, t.tx, id)
}

func (t *txn) InsertCard(ctx context.Context, c *domain.Card) error {
	if err := t.requireLocked(c.AccountID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.AccountID, c.MaskedNumber, c.NumberHash, c.CardType, c.ExpiryMonth, c.ExpiryYear,
		c.DailyLimit, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (t *txn) UpdateCard(ctx context.Context, c *domain.Card) error {
	if err := t.requireLocked(c.AccountID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE cards SET status = $2, daily_limit_cents = $3, updated_at = $4
		WHERE id = $1`,
		c.ID, c.Status, c.DailyLimit, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cardNotFound(c.ID)
	}
	return nil
}

func (t *txn) CountActiveCards(ctx context.Context, accountID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM cards WHERE account_id = $1 AND status = 'active'`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active cards: %w", err)
	}
	return n, nil
}
