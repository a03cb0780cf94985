package usecase

import (
	"context"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

type CardUsecase struct {
	store          repository.Store
	accounts       *AccountUsecase
	ids            *utils.IDGenerator
	maxActiveCards int
	events         events
	now            Clock
	logger         *zap.Logger
}

func NewCardUsecase(
	store repository.Store,
	accounts *AccountUsecase,
	ids *utils.IDGenerator,
	maxActiveCards int,
	publisher pub.Publisher,
	clock Clock,
	logger *zap.Logger,
) *CardUsecase {
	if maxActiveCards < 1 {
		maxActiveCards = 3
	}
	return &CardUsecase{
		store:          store,
		accounts:       accounts,
		ids:            ids,
		maxActiveCards: maxActiveCards,
		events:         events{publisher: publisher, logger: logger},
		now:            clock.orDefault(),
		logger:         logger,
	}
}

func (uc *CardUsecase) activeCapErr() error {
	return domain.LimitExceeded("status", "account already has the maximum of %d active cards", uc.maxActiveCards)
}

// Register stores a new active card. Only the masked number and a hash of
// the PAN are kept.
func (uc *CardUsecase) Register(ctx context.Context, in domain.CardCreate) (*domain.Card, error) {
	var card *domain.Card
	err := uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, in.AccountID)
		if err != nil {
			return err
		}
		acc := locked[in.AccountID]
		if err := ownedBy(acc, in.OwnerID); err != nil {
			return err
		}
		if acc.Status == domain.AccountStatusClosed {
			return acc.CanMutate()
		}

		now := uc.now()
		if err := in.Validate(now.In(acc.Location())); err != nil {
			return err
		}
		active, err := tx.CountActiveCards(ctx, acc.ID)
		if err != nil {
			return err
		}
		if active >= uc.maxActiveCards {
			return uc.activeCapErr()
		}

		card = &domain.Card{
			ID:           uc.ids.CardID(),
			AccountID:    acc.ID,
			MaskedNumber: domain.MaskCardNumber(in.CardNumber),
			NumberHash:   domain.HashCardNumber(in.CardNumber),
			CardType:     in.CardType,
			ExpiryMonth:  in.ExpiryMonth,
			ExpiryYear:   in.ExpiryYear,
			DailyLimit:   in.DailyLimit,
			Status:       domain.CardStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.InsertCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("card registered",
		zap.String("card_id", card.ID),
		zap.String("account_id", card.AccountID),
		zap.Int64("daily_limit_cents", card.DailyLimit),
	)
	uc.events.emit(ctx, pub.CardUpdated(in.OwnerID, card))
	return card, nil
}

func (uc *CardUsecase) List(ctx context.Context, ownerID string) ([]*domain.Card, error) {
	return uc.store.ListCards(ctx, ownerID)
}

// Get returns the card when its account belongs to ownerID.
func (uc *CardUsecase) Get(ctx context.Context, ownerID, id string) (*domain.Card, error) {
	card, err := uc.store.GetCard(ctx, id)
	if err != nil {
		return nil, err
	}
	acc, err := uc.store.GetAccount(ctx, card.AccountID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && acc.OwnerID != ownerID {
		return nil, domain.NotFound("card_id", "card %s not found", id)
	}
	return card, nil
}

// Update applies a partial status/limit change under the account lock.
func (uc *CardUsecase) Update(ctx context.Context, ownerID, id string, patch domain.CardPatch) (*domain.Card, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := uc.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	var updated *domain.Card
	err = uc.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, current.AccountID)
		if err != nil {
			return err
		}
		acc := locked[current.AccountID]
		card, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		// A closed account only lets its cards be blocked or expired.
		reactivating := patch.Status.Set && patch.Status.Value == domain.CardStatusActive
		if acc.Status == domain.AccountStatusClosed && (reactivating || patch.DailyLimit.Set) {
			return acc.CanMutate()
		}
		now := uc.now()

		if patch.Status.Set {
			next := patch.Status.Value
			if err := card.TransitionTo(next); err != nil {
				return err
			}
			if next == domain.CardStatusActive && card.Status != domain.CardStatusActive {
				if card.ExpiredAt(now.In(acc.Location())) {
					return &domain.Error{Kind: domain.KindCardExpired, Field: "status", Message: "card " + id + " is past its expiry date"}
				}
				active, err := tx.CountActiveCards(ctx, acc.ID)
				if err != nil {
					return err
				}
				if active >= uc.maxActiveCards {
					return uc.activeCapErr()
				}
			}
			card.Status = next
		}
		if patch.DailyLimit.Set {
			card.DailyLimit = patch.DailyLimit.Value
		}
		card.UpdatedAt = now
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}
		updated = card
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("card updated",
		zap.String("card_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int64("daily_limit_cents", updated.DailyLimit),
	)
	uc.events.emit(ctx, pub.CardUpdated(ownerID, updated))
	return updated, nil
}

// Charge spends amount on the card: the limit guard and the withdrawal
// posting run in one atomic unit under the account lock.
func (uc *CardUsecase) Charge(ctx context.Context, ownerID, id string, amount int64, description string) (*domain.Posting, error) {
	if amount <= 0 {
		return nil, domain.Invalid("amount_cents", "amount must be greater than zero")
	}
	card, err := uc.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "Card payment " + card.MaskedNumber
	}

	var decision Decision
	cardID := card.ID
	posting, err := uc.accounts.ApplyDelta(ctx, Delta{
		OwnerID:     ownerID,
		AccountID:   card.AccountID,
		Amount:      -amount,
		Kind:        domain.PostingWithdrawal,
		Description: description,
		CardID:      &cardID,
		Gate: func(ctx context.Context, tx repository.Tx, acc *domain.Account) error {
			current, err := tx.GetCard(ctx, cardID)
			if err != nil {
				return err
			}
			now := uc.now()
			spent, err := spentToday(ctx, tx, current, acc, now)
			if err != nil {
				return err
			}
			decision, err = Authorize(current, acc, spent, amount, now)
			return err
		},
	})
	if err != nil {
		uc.logger.Info("card charge declined",
			zap.String("card_id", cardID),
			zap.Int64("amount_cents", amount),
			zap.String("kind", string(domain.KindOf(err))),
		)
		return nil, err
	}

	uc.logger.Debug("card charge authorized",
		zap.String("card_id", cardID),
		zap.String("date", decision.Date),
		zap.Int64("remaining_cents", decision.Remaining),
	)
	return posting, nil
}
