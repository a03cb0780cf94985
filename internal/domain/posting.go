package domain

import "time"

// PostingKind is the business meaning of a single balance movement.
type PostingKind string

const (
	PostingDeposit     PostingKind = "deposit"
	PostingWithdrawal  PostingKind = "withdrawal"
	PostingTransferOut PostingKind = "transfer_out"
	PostingTransferIn  PostingKind = "transfer_in"
)

func (k PostingKind) Valid() bool {
	switch k {
	case PostingDeposit, PostingWithdrawal, PostingTransferOut, PostingTransferIn:
		return true
	}
	return false
}

// IsDebit reports whether the kind removes funds from the account.
func (k PostingKind) IsDebit() bool {
	return k == PostingWithdrawal || k == PostingTransferOut
}

// Posting is an immutable, signed balance movement recorded against one account.
type Posting struct {
	ID                string      `json:"id"`
	AccountID         string      `json:"account_id"`
	Seq               int64       `json:"seq"`
	Amount            int64       `json:"amount_cents"`
	Kind              PostingKind `json:"transaction_type"`
	Description       string      `json:"description,omitempty"`
	RelatedTransferID *string     `json:"related_transfer_id,omitempty"`
	CardID            *string     `json:"card_id,omitempty"`
	ReversesPostingID *string     `json:"reverses_posting_id,omitempty"`
	BalanceAfter      int64       `json:"balance_after_cents"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Offset builds the compensating posting that cancels p.
func (p *Posting) Offset(description string) *Posting {
	kind := PostingTransferIn
	switch p.Kind {
	case PostingTransferIn:
		kind = PostingTransferOut
	case PostingDeposit:
		kind = PostingWithdrawal
	case PostingWithdrawal:
		kind = PostingDeposit
	}
	reverses := p.ID
	return &Posting{
		AccountID:         p.AccountID,
		Amount:            -p.Amount,
		Kind:              kind,
		Description:       description,
		RelatedTransferID: p.RelatedTransferID,
		CardID:            p.CardID,
		ReversesPostingID: &reverses,
	}
}

// PostingFilter selects one page of an account's postings, newest first.
type PostingFilter struct {
	AccountID string
	Kind      *PostingKind
	Page      int
	PageSize  int
	// AsOf pins the page to postings with Seq <= AsOf. Zero means "latest".
	AsOf      int64
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (f *PostingFilter) Normalize() error {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Page < 1 {
		return Invalid("page", "page must be >= 1")
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return Invalid("page_size", "page_size must be between 1 and %d", MaxPageSize)
	}
	if f.AsOf < 0 {
		return Invalid("as_of", "as_of must be >= 0")
	}
	if f.Kind != nil && !f.Kind.Valid() {
		return Invalid("transaction_type", "unknown transaction type %q", *f.Kind)
	}
	return nil
}

func (f *PostingFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// PostingPage is one page of postings plus the snapshot it was read at.
type PostingPage struct {
	Items    []*Posting `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
	AsOf     int64      `json:"as_of"`
}

// PostingAggregate summarises postings over a time range.
type PostingAggregate struct {
	Count   int   `json:"count"`
	Credits int64 `json:"credits_cents"`
	Debits  int64 `json:"debits_cents"`
}

func (a PostingAggregate) Net() int64 {
	return a.Credits - a.Debits
}

func (a *PostingAggregate) Add(p *Posting) {
	a.Count++
	if p.Amount >= 0 {
		a.Credits += p.Amount
	} else {
		a.Debits += -p.Amount
	}
}
