package pub

import (
	"context"
	"time"

	"ledger-service/internal/domain"
)

// LedgerEventsChannel is the Redis pub/sub channel for ledger events.
const LedgerEventsChannel = "ledger_events"

const (
	EventAccountCreated       = "account.created"
	EventAuditRecorded        = "audit.recorded"
	EventPostingCommitted     = "posting.committed"
	EventTransferCompleted    = "transfer.completed"
	EventTransferFailed       = "transfer.failed"
	EventAccountStatusChanged = "account.status_changed"
	EventCardUpdated          = "card.updated"
)

// Event is published after the change it describes has committed.
type Event struct {
	EventType string             `json:"event_type"`
	OwnerID   string             `json:"owner_id,omitempty"`
	AccountID string             `json:"account_id,omitempty"`
	Posting   *domain.Posting    `json:"posting,omitempty"`
	Transfer  *domain.Transfer   `json:"transfer,omitempty"`
	Account   *domain.Account    `json:"account,omitempty"`
	Card      *domain.Card       `json:"card,omitempty"`
	Audit     *domain.AuditEntry `json:"audit,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Key is the partitioning key: events of one account stay ordered.
func (e *Event) Key() string {
	switch {
	case e.AccountID != "":
		return e.AccountID
	case e.Transfer != nil:
		return e.Transfer.FromAccountID
	case e.Audit != nil:
		return e.Audit.ActorID
	}
	return e.EventType
}

// Publisher delivers events best-effort. Callers log a returned error and move on.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

func PostingCommitted(ownerID string, p *domain.Posting) *Event {
	return &Event{EventType: EventPostingCommitted, OwnerID: ownerID, AccountID: p.AccountID, Posting: p}
}

func TransferResolved(t *domain.Transfer) *Event {
	eventType := EventTransferCompleted
	if t.Status == domain.TransferFailed {
		eventType = EventTransferFailed
	}
	return &Event{EventType: eventType, OwnerID: t.OwnerID, AccountID: t.FromAccountID, Transfer: t}
}

func AccountCreated(a *domain.Account) *Event {
	return &Event{EventType: EventAccountCreated, OwnerID: a.OwnerID, AccountID: a.ID, Account: a}
}

// AuditRecorded carries an audit entry. It is keyed by actor, not account.
func AuditRecorded(e *domain.AuditEntry) *Event {
	return &Event{EventType: EventAuditRecorded, OwnerID: e.ActorID, Audit: e}
}

func AccountStatusChanged(a *domain.Account) *Event {
	return &Event{EventType: EventAccountStatusChanged, OwnerID: a.OwnerID, AccountID: a.ID, Account: a}
}

func CardUpdated(ownerID string, c *domain.Card) *Event {
	return &Event{EventType: EventCardUpdated, OwnerID: ownerID, AccountID: c.AccountID, Card: c}
}
