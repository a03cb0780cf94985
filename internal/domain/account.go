package domain

import (
	"math"
	"time"
)

// AccountType is the product an account was opened under.
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

// Account represents a customer ledger account. Balance is a cache of the sum
// of its postings and is only ever changed together with a posting append.
type Account struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	AccountNumber  string        `json:"account_number"`
	AccountType    AccountType   `json:"account_type"`
	Currency       string        `json:"currency"`
	Balance        int64         `json:"balance_cents"`
	OverdraftLimit int64         `json:"overdraft_limit_cents"`
	Status         AccountStatus `json:"status"`
	Timezone       string        `json:"timezone"`
	LastSeq        int64         `json:"-"`
	LastPostedAt   time.Time     `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Clone returns a copy safe to hand out of a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Location resolves the account timezone, falling back to UTC.
func (a *Account) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CanMutate reports whether postings may be appended to the account.
func (a *Account) CanMutate() error {
	switch a.Status {
	case AccountStatusClosed:
		return &Error{Kind: KindAccountClosed, Field: "account_id", Message: "account " + a.ID + " is closed"}
	case AccountStatusFrozen:
		return &Error{Kind: KindAccountFrozen, Field: "account_id", Message: "account " + a.ID + " is frozen"}
	}
	return nil
}

// Available is the balance plus the overdraft allowance, capped at MaxInt64.
func (a *Account) Available() int64 {
	if a.OverdraftLimit > 0 && a.Balance > math.MaxInt64-a.OverdraftLimit {
		return math.MaxInt64
	}
	return a.Balance + a.OverdraftLimit
}

// CanDebit checks that a debit of amount keeps the balance within the overdraft allowance.
func (a *Account) CanDebit(amount int64) error {
	if available := a.Available(); amount > available {
		return InsufficientFunds("amount_cents", available, amount)
	}
	return nil
}

// CanCredit checks that a credit of amount fits in the balance.
func (a *Account) CanCredit(amount int64) error {
	if amount > 0 && a.Balance > math.MaxInt64-amount {
		return Invalid("amount_cents", "credit of %d would overflow the balance of account %s", amount, a.ID)
	}
	return nil
}

// TransitionTo validates a status change. Re-applying the current status is allowed.
func (a *Account) TransitionTo(next AccountStatus) error {
	if !next.Valid() {
		return Invalid("status", "unknown account status %q", next)
	}
	if a.Status == next {
		return nil
	}
	switch a.Status {
	case AccountStatusClosed:
		return InvalidTransition("status", "account is closed and cannot move to %s", next)
	case AccountStatusActive, AccountStatusFrozen:
		if next == AccountStatusClosed && a.Balance != 0 {
			return InvalidTransition("balance_cents", "cannot close account with non-zero balance")
		}
		return nil
	}
	return InvalidTransition("status", "cannot move from %s to %s", a.Status, next)
}

// AccountCreate carries the validated input for opening an account.
type AccountCreate struct {
	OwnerID        string
	AccountType    AccountType
	Currency       string
	InitialDeposit int64
	Timezone       string
}

func (c *AccountCreate) Validate() error {
	if c.OwnerID == "" {
		return Invalid("owner_id", "owner is required")
	}
	if !c.AccountType.Valid() {
		return Invalid("account_type", "unsupported account type %q", c.AccountType)
	}
	if _, ok := LookupCurrency(c.Currency); !ok {
		return Invalid("currency", "unsupported currency %q", c.Currency)
	}
	if c.InitialDeposit < 0 {
		return Invalid("initial_deposit_cents", "initial deposit cannot be negative")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return Invalid("timezone", "unknown timezone %q", c.Timezone)
		}
	}
	return nil
}
