package usecase

import (
	"context"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

// LedgerUsecase is the only writer of postings. History is append-only;
// corrections are new offsetting postings.
type LedgerUsecase struct {
	store  repository.Store
	ids    *utils.IDGenerator
	logger *zap.Logger
}

func NewLedgerUsecase(store repository.Store, ids *utils.IDGenerator, logger *zap.Logger) *LedgerUsecase {
	return &LedgerUsecase{store: store, ids: ids, logger: logger}
}

// Append records p inside tx. The store assigns seq, created_at and
// balance_after and moves the cached balance in the same unit.
func (uc *LedgerUsecase) Append(ctx context.Context, tx repository.Tx, p *domain.Posting) (*domain.Posting, error) {
	if !p.Kind.Valid() {
		return nil, domain.Invalid("transaction_type", "unknown transaction type %q", p.Kind)
	}
	if p.Amount == 0 {
		return nil, domain.Invalid("amount_cents", "amount must not be zero")
	}
	if p.ID == "" {
		p.ID = uc.ids.PostingID()
	}
	out, err := tx.AppendPosting(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("append posting: %w", err)
	}
	return out, nil
}

// AppendOffset records the compensating posting for original.
func (uc *LedgerUsecase) AppendOffset(ctx context.Context, tx repository.Tx, original *domain.Posting, description string) (*domain.Posting, error) {
	out, err := uc.Append(ctx, tx, original.Offset(description))
	if err != nil {
		return nil, err
	}
	uc.logger.Info("offset posting appended",
		zap.String("account_id", out.AccountID),
		zap.String("reverses_posting_id", original.ID),
		zap.Int64("amount_cents", out.Amount),
	)
	return out, nil
}

// ListForAccount returns one newest-first page, pinned to the as_of snapshot.
func (uc *LedgerUsecase) ListForAccount(ctx context.Context, ownerID string, f domain.PostingFilter) (*domain.PostingPage, error) {
	if err := f.Normalize(); err != nil {
		return nil, err
	}
	acc, err := uc.store.GetAccount(ctx, f.AccountID)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(acc, ownerID); err != nil {
		return nil, err
	}
	return uc.store.ListPostings(ctx, f)
}

// SumForRange aggregates postings over [start, end).
func (uc *LedgerUsecase) SumForRange(ctx context.Context, ownerID, accountID string, start, end time.Time) (domain.PostingAggregate, error) {
	if end.Before(start) {
		return domain.PostingAggregate{}, domain.Invalid("start", "start must not be after end")
	}
	acc, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.PostingAggregate{}, err
	}
	if err := ownedBy(acc, ownerID); err != nil {
		return domain.PostingAggregate{}, err
	}
	return uc.store.SumForRange(ctx, accountID, start, end)
}
