package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("account_id", "account %s not found", "acc_1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "NotFound: account acc_1 not found (account_id)", AsError(err).Error())

	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", AsError(errors.New("dial tcp: refused")).Message)
	assert.Nil(t, AsError(nil))
}

func TestAccountTransitions(t *testing.T) {
	tests := []struct {
		from    AccountStatus
		to      AccountStatus
		balance int64
		kind    ErrorKind
	}{
		{AccountStatusActive, AccountStatusFrozen, 100, ""},
		{AccountStatusFrozen, AccountStatusActive, 100, ""},
		{AccountStatusActive, AccountStatusActive, 100, ""},
		{AccountStatusActive, AccountStatusClosed, 0, ""},
		{AccountStatusFrozen, AccountStatusClosed, 0, ""},
		{AccountStatusActive, AccountStatusClosed, 100, KindInvalidStateTransition},
		{AccountStatusClosed, AccountStatusActive, 0, KindInvalidStateTransition},
		{AccountStatusClosed, AccountStatusFrozen, 0, KindInvalidStateTransition},
		{AccountStatusActive, "dormant", 0, KindInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			a := &Account{Status: tt.from, Balance: tt.balance}
			err := a.TransitionTo(tt.to)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestAccountCanDebit(t *testing.T) {
	a := &Account{Balance: 500, OverdraftLimit: 200}
	assert.NoError(t, a.CanDebit(700))
	assert.ErrorIs(t, a.CanDebit(701), ErrInsufficientFunds)

	rich := &Account{ID: "acc_rich", Balance: math.MaxInt64 - 10, OverdraftLimit: 500}
	assert.Equal(t, int64(math.MaxInt64), rich.Available())
	assert.NoError(t, rich.CanCredit(10))
	err := rich.CanCredit(11)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "amount_cents", AsError(err).Field)

	frozen := &Account{Status: AccountStatusFrozen}
	assert.ErrorIs(t, frozen.CanMutate(), ErrAccountFrozen)
	closed := &Account{Status: AccountStatusClosed}
	assert.ErrorIs(t, closed.CanMutate(), ErrAccountClosed)
}

func TestCardCreateValidate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	valid := func() CardCreate {
		return CardCreate{
			AccountID: "acc_1", CardNumber: "4111111111111111", CardType: CardTypeCredit,
			ExpiryMonth: 6, ExpiryYear: 2026, DailyLimit: 1,
		}
	}
	c := valid()
	require.NoError(t, c.Validate(now))

	tests := map[string]struct {
		mutate func(*CardCreate)
		field  string
	}{
		"short number":   {func(c *CardCreate) { c.CardNumber = "41111111111" }, "card_number"},
		"letters":        {func(c *CardCreate) { c.CardNumber = "4111x11111111111" }, "card_number"},
		"type":           {func(c *CardCreate) { c.CardType = "prepaid" }, "card_type"},
		"month 13":       {func(c *CardCreate) { c.ExpiryMonth = 13 }, "expiry_month"},
		"past year":      {func(c *CardCreate) { c.ExpiryYear = 2025 }, "expiry_year"},
		"past month":     {func(c *CardCreate) { c.ExpiryMonth = 5 }, "expiry_month"},
		"negative limit": {func(c *CardCreate) { c.DailyLimit = -1 }, "daily_limit"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate(now)
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, tt.field, AsError(err).Field)
		})
	}
}

func TestCardExpiryAndTransitions(t *testing.T) {
	c := &Card{ExpiryMonth: 2, ExpiryYear: 2027, Status: CardStatusActive}
	assert.False(t, c.ExpiredAt(time.Date(2027, 2, 28, 23, 59, 0, 0, time.UTC)))
	assert.True(t, c.ExpiredAt(time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, c.ExpiredAt(time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.NoError(t, c.TransitionTo(CardStatusBlocked))
	assert.NoError(t, c.TransitionTo(CardStatusExpired))
	c.Status = CardStatusExpired
	assert.NoError(t, c.TransitionTo(CardStatusExpired))
	assert.ErrorIs(t, c.TransitionTo(CardStatusActive), ErrInvalidStateTransition)
	assert.ErrorIs(t, c.TransitionTo("lost"), ErrInvalidArgument)

	assert.Equal(t, "**** **** **** 4242", MaskCardNumber("4242424242424242"))
	assert.Len(t, HashCardNumber("4242424242424242"), 64)
}

func TestCardPatchOptional(t *testing.T) {
	var p CardPatch
	require.NoError(t, json.Unmarshal([]byte(`{"daily_limit":5000}`), &p))
	assert.False(t, p.Status.Set)
	assert.True(t, p.DailyLimit.Set)
	assert.Equal(t, int64(5000), p.DailyLimit.Value)
	assert.NoError(t, p.Validate())

	var null CardPatch
	require.NoError(t, json.Unmarshal([]byte(`{"daily_limit":null}`), &null))
	assert.True(t, null.DailyLimit.Set)
	assert.ErrorIs(t, null.Validate(), ErrInvalidArgument)

	var empty CardPatch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.ErrorIs(t, empty.Validate(), ErrInvalidArgument)

	out, err := json.Marshal(CardPatch{Status: Some(CardStatusBlocked)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"blocked","daily_limit":null}`, string(out))
}

func TestParseStatementRange(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	r, err := ParseStatementRange("2026-03-01", "2026-03-31", ny)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, ny), r.Start)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, ny), r.End)

	r, err = ParseStatementRange("2026-03-01T10:00:00Z", "2026-03-01T10:00:00Z", ny)
	require.NoError(t, err)
	assert.True(t, r.Start.Equal(r.End))

	r, err = ParseStatementRange("2026-03-01T10:00:00-05:00", "2026-03-01", ny)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, ny), r.End)

	_, err = ParseStatementRange("2026-03-02", "2026-03-01", ny)
	assert.Equal(t, "start", AsError(err).Field)
	_, err = ParseStatementRange("2026-03-12", "2026-03-11", ny)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseStatementRange("2026-03-01T10:00:01Z", "2026-03-01T10:00:00Z", ny)
	assert.Equal(t, "start", AsError(err).Field)
	_, err = ParseStatementRange("2026-03-01", "yesterday", ny)
	assert.Equal(t, "end", AsError(err).Field)
	_, err = ParseStatementRange(" ", "2026-03-01", ny)
	assert.Equal(t, "start", AsError(err).Field)
}

func TestDayWindow(t *testing.T) {
	sg, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	start, end := DayWindow(time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), sg)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, sg), start)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, sg), end)
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "1234.56", FormatMinor(123456, "USD"))
	assert.Equal(t, "-0.05", FormatMinor(-5, "EUR"))
	assert.Equal(t, "0.00", FormatMinor(0, "USD"))
	assert.Equal(t, "1500", FormatMinor(1500, "JPY"))
	assert.Equal(t, "NZD", NormalizeCurrency(" nzd "))
}

func TestPostingOffset(t *testing.T) {
	trf := "trf_1"
	p := &Posting{ID: "pst_1", AccountID: "acc_1", Amount: -300, Kind: PostingTransferOut, RelatedTransferID: &trf}
	off := p.Offset("reversal")
	assert.Equal(t, int64(300), off.Amount)
	assert.Equal(t, PostingTransferIn, off.Kind)
	assert.Equal(t, "pst_1", *off.ReversesPostingID)
	assert.Equal(t, &trf, off.RelatedTransferID)
}

func TestTransferRequestValidation(t *testing.T) {
	r := TransferRequest{IdempotencyKey: "  spaced-key-1  ", FromAccountID: "a", ToAccountID: "b", Amount: 1}
	assert.NoError(t, r.ValidateKey())
	assert.NoError(t, r.Validate())

	r.IdempotencyKey = "1234567"
	assert.ErrorIs(t, r.ValidateKey(), ErrInvalidArgument)

	r.ToAccountID = "a"
	assert.Equal(t, "to_account_id", AsError(r.Validate()).Field)
}
