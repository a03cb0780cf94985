package domain

import "time"

// Audit actions recorded for caller-initiated changes and statement reads.
const (
	AuditAccountCreate     = "account.create"
	AuditAccountStatus     = "account.status"
	AuditAccountDeposit    = "account.deposit"
	AuditAccountWithdraw   = "account.withdraw"
	AuditTransferCreate    = "transfer.create"
	AuditCardRegister      = "card.register"
	AuditCardUpdate        = "card.update"
	AuditCardCharge        = "card.charge"
	AuditStatementGenerate = "statement.generate"
)

// Audit resource types.
const (
	ResourceAccount   = "account"
	ResourceTransfer  = "transfer"
	ResourceCard      = "card"
	ResourceStatement = "statement"
)

// AuditEntry records who did what to which resource, and from where.
type AuditEntry struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Details      string    `json:"details,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
