package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

type CardType string

const (
	CardTypeDebit  CardType = "debit"
	CardTypeCredit CardType = "credit"
)

func (t CardType) Valid() bool {
	return t == CardTypeDebit || t == CardTypeCredit
}

type CardStatus string

const (
	CardStatusActive  CardStatus = "active"
	CardStatusBlocked CardStatus = "blocked"
	CardStatusExpired CardStatus = "expired"
)

func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return true
	}
	return false
}

// Card is a payment card drawing on an account. Only the masked number and a
// hash of the PAN are kept.
type Card struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	MaskedNumber string     `json:"masked_number"`
	NumberHash   string     `json:"-"`
	CardType     CardType   `json:"card_type"`
	ExpiryMonth  int        `json:"expiry_month"`
	ExpiryYear   int        `json:"expiry_year"`
	DailyLimit   int64      `json:"daily_limit_cents"`
	Status       CardStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ExpiredAt reports whether the card's expiry month has fully passed at now.
func (c *Card) ExpiredAt(now time.Time) bool {
	y, m, _ := now.Date()
	if y != c.ExpiryYear {
		return y > c.ExpiryYear
	}
	return int(m) > c.ExpiryMonth
}

// TransitionTo validates a card status change.
func (c *Card) TransitionTo(next CardStatus) error {
	if !next.Valid() {
		return Invalid("status", "unknown card status %q", next)
	}
	if c.Status == next {
		return nil
	}
	if c.Status == CardStatusExpired {
		return InvalidTransition("status", "expired card cannot move to %s", next)
	}
	return nil
}

var cardNumberRe = regexp.MustCompile(`^\d{12,19}$`)

// CardCreate is the validated input for registering a card.
type CardCreate struct {
	OwnerID     string
	AccountID   string
	CardNumber  string
	CardType    CardType
	ExpiryMonth int
	ExpiryYear  int
	DailyLimit  int64
}

func (c *CardCreate) Validate(now time.Time) error {
	if c.AccountID == "" {
		return Invalid("account_id", "account_id is required")
	}
	if !cardNumberRe.MatchString(c.CardNumber) {
		return Invalid("card_number", "card number must be 12-19 digits")
	}
	if !c.CardType.Valid() {
		return Invalid("card_type", "unsupported card type %q", c.CardType)
	}
	if c.ExpiryMonth < 1 || c.ExpiryMonth > 12 {
		return Invalid("expiry_month", "expiry month must be between 1 and 12")
	}
	y, m, _ := now.Date()
	if c.ExpiryYear < y {
		return Invalid("expiry_year", "expiry year must be current year or later")
	}
	if c.ExpiryYear == y && c.ExpiryMonth < int(m) {
		return Invalid("expiry_month", "card expiry is in the past")
	}
	if c.DailyLimit <= 0 {
		return Invalid("daily_limit", "daily limit must be greater than zero")
	}
	return nil
}

// MaskCardNumber keeps the last four digits only.
func MaskCardNumber(number string) string {
	last4 := number
	if len(number) > 4 {
		last4 = number[len(number)-4:]
	}
	return "**** **** **** " + last4
}

func HashCardNumber(number string) string {
	sum := sha256.Sum256([]byte(number))
	return hex.EncodeToString(sum[:])
}

// CardPatch is a partial card update. Unset fields are left untouched.
type CardPatch struct {
	Status     Optional[CardStatus] `json:"status"`
	DailyLimit Optional[int64]      `json:"daily_limit"`
}

func (p *CardPatch) Validate() error {
	if !p.Status.Set && !p.DailyLimit.Set {
		return Invalid("status", "at least one of status or daily_limit is required")
	}
	if p.Status.Set && !p.Status.Value.Valid() {
		return Invalid("status", "unknown card status %q", p.Status.Value)
	}
	if p.DailyLimit.Set && p.DailyLimit.Value <= 0 {
		return Invalid("daily_limit", "daily limit must be greater than zero")
	}
	return nil
}
