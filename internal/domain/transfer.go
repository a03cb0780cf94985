package domain

import (
	"strings"
	"time"
)

// TransferStatus is the state of an idempotent transfer record.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

const (
	MinIdempotencyKeyLen = 8
	MaxIdempotencyKeyLen = 128
)

// Transfer represents one logical movement of funds between two accounts,
// keyed by a caller-supplied idempotency key.
type Transfer struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	OwnerID        string         `json:"-"`
	FromAccountID  string         `json:"from_account_id"`
	ToAccountID    string         `json:"to_account_id"`
	Amount         int64          `json:"amount_cents"`
	Description    string         `json:"description,omitempty"`
	Status         TransferStatus `json:"status"`
	Failure        *Error         `json:"failure,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Failure != nil {
		f := *t.Failure
		cp.Failure = &f
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

// Fail records err on the transfer. Non-domain errors are stored as Internal.
func (t *Transfer) Fail(err error, at time.Time) {
	t.Status = TransferFailed
	t.Failure = AsError(err)
	t.UpdatedAt = at
}

func (t *Transfer) Complete(at time.Time) {
	t.Status = TransferCompleted
	t.Failure = nil
	t.UpdatedAt = at
	t.CompletedAt = &at
}

// TransferRequest is the caller input for a transfer.
type TransferRequest struct {
	OwnerID        string
	IdempotencyKey string
	FromAccountID  string
	ToAccountID    string
	Amount         int64
	Description    string
}

// ValidateKey checks the idempotency key only; everything else is validated
// after the key is claimed so failures are recorded against it.
func (r *TransferRequest) ValidateKey() error {
	key := strings.TrimSpace(r.IdempotencyKey)
	if key == "" {
		return Invalid("idempotency_key", "idempotency_key is required")
	}
	if len(key) < MinIdempotencyKeyLen || len(key) > MaxIdempotencyKeyLen {
		return Invalid("idempotency_key", "idempotency_key must be %d-%d characters", MinIdempotencyKeyLen, MaxIdempotencyKeyLen)
	}
	return nil
}

// Validate checks the static shape of the transfer.
func (r *TransferRequest) Validate() error {
	if r.FromAccountID == "" {
		return Invalid("from_account_id", "from_account_id is required")
	}
	if r.ToAccountID == "" {
		return Invalid("to_account_id", "to_account_id is required")
	}
	if r.FromAccountID == r.ToAccountID {
		return Invalid("to_account_id", "from_account_id must differ from to_account_id")
	}
	if r.Amount <= 0 {
		return Invalid("amount_cents", "amount must be greater than zero")
	}
	return nil
}

// TransferResult is what a transfer call (or its replay) returns.
type TransferResult struct {
	Transfer *Transfer  `json:"transfer"`
	Postings []*Posting `json:"postings"`
}
