package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

// TransferCache is an optional read-through cache of completed transfer results.
type TransferCache interface {
	Get(ctx context.Context, key string) (*domain.TransferResult, string, error)
	Set(ctx context.Context, key string, res *domain.TransferResult) error
}

// TransferUsecase moves funds between two accounts exactly once per idempotency key.
type TransferUsecase struct {
	store  repository.Store
	ledger *LedgerUsecase
	cache  TransferCache
	ids    *utils.IDGenerator
	events events
	now    Clock
	logger *zap.Logger
}

func NewTransferUsecase(
	store repository.Store,
	ledger *LedgerUsecase,
	cache TransferCache,
	ids *utils.IDGenerator,
	publisher pub.Publisher,
	clock Clock,
	logger *zap.Logger,
) *TransferUsecase {
	return &TransferUsecase{
		store:  store,
		ledger: ledger,
		cache:  cache,
		ids:    ids,
		events: events{publisher: publisher, logger: logger},
		now:    clock.orDefault(),
		logger: logger,
	}
}

// Transfer executes req, or replays the recorded outcome for its key.
// created reports whether this call performed the transfer.
func (uc *TransferUsecase) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, bool, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := req.ValidateKey(); err != nil {
		return nil, false, err
	}

	if res, ok := uc.fromCache(ctx, req.OwnerID, req.IdempotencyKey); ok {
		return res, false, nil
	}

	existing, err := uc.store.GetTransferByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		res, err := uc.replay(ctx, req.OwnerID, existing)
		return res, false, err
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("lookup transfer: %w", err)
	}

	now := uc.now()
	claim := &domain.Transfer{
		ID:             uc.ids.TransferID(),
		IdempotencyKey: req.IdempotencyKey,
		OwnerID:        req.OwnerID,
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		Status:         domain.TransferPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	stored, won, err := uc.store.ClaimTransfer(ctx, claim)
	if err != nil {
		return nil, false, fmt.Errorf("claim transfer: %w", err)
	}
	if !won {
		res, err := uc.replay(ctx, req.OwnerID, stored)
		return res, false, err
	}

	// The key is claimed: finish regardless of the caller going away.
	ctx = context.WithoutCancel(ctx)
	res, err := uc.execute(ctx, req, stored)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Get returns the recorded result for key. A failed transfer is returned
// with its failure attached rather than as an error.
func (uc *TransferUsecase) Get(ctx context.Context, ownerID, key string) (*domain.TransferResult, error) {
	if res, ok := uc.fromCache(ctx, ownerID, key); ok {
		return res, nil
	}
	t, err := uc.store.GetTransferByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, domain.NotFound("idempotency_key", "transfer %s not found", key)
	}
	return uc.result(ctx, t)
}

func (uc *TransferUsecase) fromCache(ctx context.Context, ownerID, key string) (*domain.TransferResult, bool) {
	if uc.cache == nil {
		return nil, false
	}
	res, owner, err := uc.cache.Get(ctx, key)
	if err != nil {
		uc.logger.Warn("idempotency cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if res == nil || owner != ownerID {
		return nil, false
	}
	return res, true
}

// replay applies the recorded outcome of t: completed returns the stored
// result, failed returns the stored error, pending asks the caller to retry.
func (uc *TransferUsecase) replay(ctx context.Context, ownerID string, t *domain.Transfer) (*domain.TransferResult, error) {
	if t.OwnerID != ownerID {
		return nil, domain.NotFound("idempotency_key", "transfer %s not found", t.IdempotencyKey)
	}
	switch t.Status {
	case domain.TransferCompleted:
		return uc.result(ctx, t)
	case domain.TransferFailed:
		if t.Failure == nil {
			return nil, &domain.Error{Kind: domain.KindInternal, Message: "internal error"}
		}
		return nil, t.Failure
	default:
		return nil, domain.Conflict("idempotency_key", "transfer %s is still in progress", t.IdempotencyKey)
	}
}

func (uc *TransferUsecase) result(ctx context.Context, t *domain.Transfer) (*domain.TransferResult, error) {
	postings, err := uc.store.PostingsForTransfer(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("load transfer postings: %w", err)
	}
	return &domain.TransferResult{Transfer: t, Postings: postings}, nil
}

func (uc *TransferUsecase) execute(ctx context.Context, req domain.TransferRequest, claim *domain.Transfer) (*domain.TransferResult, error) {
	log := uc.logger.With(
		zap.String("idempotency_key", claim.IdempotencyKey),
		zap.String("transfer_id", claim.ID),
	)

	if err := req.Validate(); err != nil {
		return uc.fail(ctx, log, claim, err)
	}

	var (
		res      *domain.TransferResult
		resolved *domain.Transfer
	)
	err := uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.LockTransfer(ctx, claim.IdempotencyKey)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferPending {
			resolved = t
			return nil
		}

		accounts, err := tx.LockAccounts(ctx, t.FromAccountID, t.ToAccountID)
		if err != nil {
			return err
		}
		from, to := accounts[t.FromAccountID], accounts[t.ToAccountID]
		if from.OwnerID != t.OwnerID {
			return domain.NotFound("from_account_id", "account %s not found", from.ID)
		}
		if err := from.CanMutate(); err != nil {
			return err
		}
		if err := to.CanMutate(); err != nil {
			return err
		}
		if from.Currency != to.Currency {
			return domain.Invalid("to_account_id", "currency mismatch: %s to %s", from.Currency, to.Currency)
		}
		if err := from.CanDebit(t.Amount); err != nil {
			return err
		}
		if err := to.CanCredit(t.Amount); err != nil {
			return err
		}

		transferID := t.ID
		description := t.Description
		if description == "" {
			description = "Transfer " + t.IdempotencyKey
		}
		out, err := uc.ledger.Append(ctx, tx, &domain.Posting{
			AccountID:         t.FromAccountID,
			Amount:            -t.Amount,
			Kind:              domain.PostingTransferOut,
			Description:       description,
			RelatedTransferID: &transferID,
		})
		if err != nil {
			return err
		}
		in, err := uc.ledger.Append(ctx, tx, &domain.Posting{
			AccountID:         t.ToAccountID,
			Amount:            t.Amount,
			Kind:              domain.PostingTransferIn,
			Description:       description,
			RelatedTransferID: &transferID,
		})
		if err != nil {
			return err
		}

		t.Complete(uc.now())
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		res = &domain.TransferResult{Transfer: t, Postings: []*domain.Posting{out, in}}
		return nil
	})
	if err != nil {
		return uc.fail(ctx, log, claim, err)
	}
	if resolved != nil {
		log.Warn("transfer resolved elsewhere before execution", zap.String("status", string(resolved.Status)))
		return uc.replay(ctx, claim.OwnerID, resolved)
	}

	log.Info("transfer completed",
		zap.String("from_account_id", res.Transfer.FromAccountID),
		zap.String("to_account_id", res.Transfer.ToAccountID),
		zap.Int64("amount_cents", res.Transfer.Amount),
	)
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, claim.IdempotencyKey, res); err != nil {
			log.Warn("idempotency cache write failed", zap.Error(err))
		}
	}
	uc.events.emit(ctx,
		pub.TransferResolved(res.Transfer),
		pub.PostingCommitted(res.Transfer.OwnerID, res.Postings[0]),
		pub.PostingCommitted("", res.Postings[1]),
	)
	return res, nil
}

const failureRecordAttempts = 2

// fail records cause on the pending transfer and returns what the caller
// should see. If the record still cannot be written the key stays pending and
// the reconciler later fails it as Aborted, so replays will not repeat cause.
func (uc *TransferUsecase) fail(ctx context.Context, log *zap.Logger, claim *domain.Transfer, cause error) (*domain.TransferResult, error) {
	failure := domain.AsError(cause)
	if failure.Kind == domain.KindInternal {
		log.Error("transfer execution failed", zap.Error(cause))
	}

	var (
		recorded *domain.Transfer
		err      error
	)
	for attempt := 1; attempt <= failureRecordAttempts; attempt++ {
		err = uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
			t, err := tx.LockTransfer(ctx, claim.IdempotencyKey)
			if err != nil {
				return err
			}
			recorded = t
			if t.Status != domain.TransferPending {
				return nil
			}
			t.Fail(failure, uc.now())
			return tx.UpdateTransfer(ctx, t)
		})
		if err == nil {
			break
		}
		log.Warn("failed to record transfer failure", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		log.Error("transfer failure not recorded, leaving it to the reconciler", zap.Error(err))
		return nil, failure
	}
	if recorded.Status == domain.TransferCompleted {
		return uc.result(ctx, recorded)
	}

	if recorded.Failure != nil {
		failure = recorded.Failure
	}
	log.Info("transfer failed",
		zap.String("kind", string(failure.Kind)),
		zap.String("reason", failure.Message),
	)
	uc.events.emit(ctx, pub.TransferResolved(recorded))
	return nil, failure
}
