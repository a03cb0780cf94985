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

const accountNumberAttempts = 5

// AccountPolicy holds the product rules applied when opening accounts.
type AccountPolicy struct {
	DefaultTimezone   string
	CheckingOverdraft int64
	SavingsOverdraft  int64
}

func (p AccountPolicy) overdraftFor(t domain.AccountType) int64 {
	if t == domain.AccountTypeSavings {
		return p.SavingsOverdraft
	}
	return p.CheckingOverdraft
}

// AccountUsecase owns account lifecycle and is the sole path for balance mutation.
type AccountUsecase struct {
	store  repository.Store
	ledger *LedgerUsecase
	ids    *utils.IDGenerator
	policy AccountPolicy
	events events
	now    Clock
	logger *zap.Logger
}

func NewAccountUsecase(
	store repository.Store,
	ledger *LedgerUsecase,
	ids *utils.IDGenerator,
	policy AccountPolicy,
	publisher pub.Publisher,
	clock Clock,
	logger *zap.Logger,
) *AccountUsecase {
	if policy.DefaultTimezone == "" {
		policy.DefaultTimezone = "UTC"
	}
	return &AccountUsecase{
		store:  store,
		ledger: ledger,
		ids:    ids,
		policy: policy,
		events: events{publisher: publisher, logger: logger},
		now:    clock.orDefault(),
		logger: logger,
	}
}

// Create opens an account. A positive initial deposit is recorded as a single
// deposit posting in the same unit as the insert.
func (uc *AccountUsecase) Create(ctx context.Context, in domain.AccountCreate) (*domain.Account, error) {
	in.Currency = domain.NormalizeCurrency(in.Currency)
	in.Timezone = strings.TrimSpace(in.Timezone)
	if in.Timezone == "" {
		in.Timezone = uc.policy.DefaultTimezone
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var (
		created *domain.Account
		initial *domain.Posting
	)
	for attempt := 1; ; attempt++ {
		now := uc.now()
		acc := &domain.Account{
			ID:             uc.ids.AccountID(),
			OwnerID:        in.OwnerID,
			AccountNumber:  uc.ids.AccountNumber(),
			AccountType:    in.AccountType,
			Currency:       in.Currency,
			OverdraftLimit: uc.policy.overdraftFor(in.AccountType),
			Status:         domain.AccountStatusActive,
			Timezone:       in.Timezone,
			LastPostedAt:   now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		err := uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
			if err := tx.InsertAccount(ctx, acc); err != nil {
				return err
			}
			if in.InitialDeposit > 0 {
				p, err := uc.ledger.Append(ctx, tx, &domain.Posting{
					AccountID:   acc.ID,
					Amount:      in.InitialDeposit,
					Kind:        domain.PostingDeposit,
					Description: "Initial deposit",
				})
				if err != nil {
					return err
				}
				initial = p
			}
			locked, err := tx.LockAccounts(ctx, acc.ID)
			if err != nil {
				return err
			}
			created = locked[acc.ID]
			return nil
		})
		if errors.Is(err, repository.ErrDuplicateAccountNumber) && attempt < accountNumberAttempts {
			uc.logger.Warn("account number collision, retrying", zap.Int("attempt", attempt))
			initial = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		break
	}

	uc.logger.Info("account created",
		zap.String("account_id", created.ID),
		zap.String("owner_id", created.OwnerID),
		zap.String("currency", created.Currency),
		zap.Int64("initial_deposit_cents", in.InitialDeposit),
	)
	evs := []*pub.Event{pub.AccountCreated(created)}
	if initial != nil {
		evs = append(evs, pub.PostingCommitted(created.OwnerID, initial))
	}
	uc.events.emit(ctx, evs...)
	return created, nil
}

// Get returns the account when ownerID owns it. An empty ownerID skips the check.
func (uc *AccountUsecase) Get(ctx context.Context, ownerID, id string) (*domain.Account, error) {
	acc, err := uc.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(acc, ownerID); err != nil {
		return nil, err
	}
	return acc, nil
}

// List returns the owner's accounts in creation order.
func (uc *AccountUsecase) List(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	return uc.store.ListAccounts(ctx, ownerID)
}

// SetStatus moves the account through its lifecycle. Re-applying the current
// status is a no-op and emits nothing.
func (uc *AccountUsecase) SetStatus(ctx context.Context, ownerID, id string, status domain.AccountStatus) (*domain.Account, error) {
	var (
		updated *domain.Account
		changed bool
	)
	err := uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		acc := locked[id]
		if err := ownedBy(acc, ownerID); err != nil {
			return err
		}
		if err := acc.TransitionTo(status); err != nil {
			return err
		}
		if acc.Status == status {
			updated = acc
			return nil
		}
		updated, err = tx.UpdateAccountStatus(ctx, id, status, uc.now())
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		uc.logger.Info("account status changed",
			zap.String("account_id", id),
			zap.String("status", string(status)),
		)
		uc.events.emit(ctx, pub.AccountStatusChanged(updated))
	}
	return updated, nil
}

// Gate runs under the account lock right before a posting is appended.
type Gate func(ctx context.Context, tx repository.Tx, acc *domain.Account) error

// Delta is a single balance movement request.
type Delta struct {
	// OwnerID scopes the account; empty skips the check.
	OwnerID     string
	AccountID   string
	Amount      int64
	Kind        domain.PostingKind
	Description string
	CardID      *string
	Gate        Gate
}

// ApplyDelta validates and applies one balance movement in its own atomic unit.
func (uc *AccountUsecase) ApplyDelta(ctx context.Context, d Delta) (*domain.Posting, error) {
	var posting *domain.Posting
	err := uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		posting, err = uc.applyDelta(ctx, tx, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("posting committed",
		zap.String("account_id", posting.AccountID),
		zap.String("posting_id", posting.ID),
		zap.String("kind", string(posting.Kind)),
		zap.Int64("amount_cents", posting.Amount),
		zap.Int64("balance_after_cents", posting.BalanceAfter),
	)
	uc.events.emit(ctx, pub.PostingCommitted(d.OwnerID, posting))
	return posting, nil
}

// applyDelta runs inside an existing unit. It locks the account itself.
func (uc *AccountUsecase) applyDelta(ctx context.Context, tx repository.Tx, d Delta) (*domain.Posting, error) {
	if !d.Kind.Valid() {
		return nil, domain.Invalid("transaction_type", "unknown transaction type %q", d.Kind)
	}
	if d.Amount == 0 {
		return nil, domain.Invalid("amount_cents", "amount must not be zero")
	}
	if d.Kind.IsDebit() != (d.Amount < 0) {
		return nil, domain.Invalid("amount_cents", "amount sign does not match %s", d.Kind)
	}

	locked, err := tx.LockAccounts(ctx, d.AccountID)
	if err != nil {
		return nil, err
	}
	acc := locked[d.AccountID]
	if err := ownedBy(acc, d.OwnerID); err != nil {
		return nil, err
	}
	if err := acc.CanMutate(); err != nil {
		return nil, err
	}
	if d.Gate != nil {
		if err := d.Gate(ctx, tx, acc); err != nil {
			return nil, err
		}
	}
	if d.Kind.IsDebit() {
		if err := acc.CanDebit(-d.Amount); err != nil {
			return nil, err
		}
	} else if err := acc.CanCredit(d.Amount); err != nil {
		return nil, err
	}

	return uc.ledger.Append(ctx, tx, &domain.Posting{
		AccountID:   d.AccountID,
		Amount:      d.Amount,
		Kind:        d.Kind,
		Description: d.Description,
		CardID:      d.CardID,
	})
}

// Deposit credits a positive amount.
func (uc *AccountUsecase) Deposit(ctx context.Context, ownerID, id string, amount int64, description string) (*domain.Posting, error) {
	if amount <= 0 {
		return nil, domain.Invalid("amount_cents", "amount must be greater than zero")
	}
	if description == "" {
		description = "Deposit"
	}
	return uc.ApplyDelta(ctx, Delta{
		OwnerID:     ownerID,
		AccountID:   id,
		Amount:      amount,
		Kind:        domain.PostingDeposit,
		Description: description,
	})
}

// Withdraw debits a positive amount, respecting the overdraft allowance.
func (uc *AccountUsecase) Withdraw(ctx context.Context, ownerID, id string, amount int64, description string) (*domain.Posting, error) {
	if amount <= 0 {
		return nil, domain.Invalid("amount_cents", "amount must be greater than zero")
	}
	if description == "" {
		description = "Withdrawal"
	}
	return uc.ApplyDelta(ctx, Delta{
		OwnerID:     ownerID,
		AccountID:   id,
		Amount:      -amount,
		Kind:        domain.PostingWithdrawal,
		Description: description,
	})
}
