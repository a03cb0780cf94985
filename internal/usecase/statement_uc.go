package usecase

import (
	"context"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"

	"go.uber.org/zap"
)

// StatementUsecase builds read-only statements by replaying the ledger.
type StatementUsecase struct {
	store  repository.Store
	now    Clock
	logger *zap.Logger
}

func NewStatementUsecase(store repository.Store, clock Clock, logger *zap.Logger) *StatementUsecase {
	return &StatementUsecase{store: store, now: clock.orDefault(), logger: logger}
}

// Build returns the statement for [start, end). Dates are read in the
// account timezone. The opening balance is the sum of every posting before
// start, never the live balance.
func (uc *StatementUsecase) Build(ctx context.Context, ownerID, accountID, start, end string) (*domain.Statement, error) {
	acc, err := uc.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(acc, ownerID); err != nil {
		return nil, err
	}

	rng, err := domain.ParseStatementRange(start, end, acc.Location())
	if err != nil {
		return nil, err
	}

	opening, postings, err := uc.store.PostingsInRange(ctx, acc.ID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}

	var agg domain.PostingAggregate
	for _, p := range postings {
		agg.Add(p)
	}

	st := &domain.Statement{
		AccountID:        acc.ID,
		AccountNumber:    acc.AccountNumber,
		Currency:         acc.Currency,
		Start:            rng.Start,
		End:              rng.End,
		OpeningBalance:   opening,
		ClosingBalance:   opening + agg.Net(),
		TotalDeposits:    agg.Credits,
		TotalWithdrawals: agg.Debits,
		TransactionCount: agg.Count,
		Postings:         postings,
		GeneratedAt:      uc.now(),
	}
	st.Formatted = domain.StatementFormatted{
		OpeningBalance:   domain.FormatMinor(st.OpeningBalance, acc.Currency),
		ClosingBalance:   domain.FormatMinor(st.ClosingBalance, acc.Currency),
		TotalDeposits:    domain.FormatMinor(st.TotalDeposits, acc.Currency),
		TotalWithdrawals: domain.FormatMinor(st.TotalWithdrawals, acc.Currency),
	}

	uc.logger.Debug("statement built",
		zap.String("account_id", acc.ID),
		zap.Time("start", rng.Start),
		zap.Time("end", rng.End),
		zap.Int("transaction_count", st.TransactionCount),
	)
	return st, nil
}
