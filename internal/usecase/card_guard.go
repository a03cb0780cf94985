package usecase

import (
	"context"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
)

// Decision is the outcome of an authorized card charge.
type Decision struct {
	CardID      string    `json:"card_id"`
	Date        string    `json:"date"`
	SpentSoFar  int64     `json:"spent_so_far_cents"`
	Amount      int64     `json:"amount_cents"`
	Remaining   int64     `json:"remaining_cents"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Authorize checks a card charge against the card's status, expiry and daily
// limit. It does no I/O; spentSoFar is supplied by the caller.
func Authorize(card *domain.Card, acc *domain.Account, spentSoFar, amount int64, now time.Time) (Decision, error) {
	loc := acc.Location()
	local := now.In(loc)
	start, end := domain.DayWindow(local, loc)

	d := Decision{
		CardID:      card.ID,
		Date:        start.Format("2006-01-02"),
		SpentSoFar:  spentSoFar,
		Amount:      amount,
		WindowStart: start,
		WindowEnd:   end,
	}

	switch {
	case card.Status == domain.CardStatusBlocked:
		return d, &domain.Error{Kind: domain.KindCardBlocked, Field: "card_id", Message: "card " + card.ID + " is blocked"}
	case card.Status == domain.CardStatusExpired, card.ExpiredAt(local):
		return d, &domain.Error{Kind: domain.KindCardExpired, Field: "card_id", Message: "card " + card.ID + " is expired"}
	case amount <= 0:
		return d, domain.Invalid("amount_cents", "amount must be greater than zero")
	case amount > card.DailyLimit-spentSoFar:
		return d, domain.LimitExceeded("amount_cents",
			"daily limit %d exceeded: spent %d, requested %d", card.DailyLimit, spentSoFar, amount)
	}

	d.Remaining = card.DailyLimit - spentSoFar - amount
	return d, nil
}

// spentToday sums today's card spend in the account timezone. Must run under
// the account lock so concurrent charges see each other's postings.
func spentToday(ctx context.Context, tx repository.Tx, card *domain.Card, acc *domain.Account, now time.Time) (int64, error) {
	loc := acc.Location()
	start, end := domain.DayWindow(now, loc)
	return tx.SumCardSpend(ctx, card.ID, start, end)
}
