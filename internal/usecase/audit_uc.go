package usecase

import (
	"context"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

// AuditUsecase records caller actions. Entries go to the structured log and
// the event sink after the action has committed; recording never fails the
// action itself.
type AuditUsecase struct {
	ids    *utils.IDGenerator
	events events
	now    Clock
	logger *zap.Logger
}

func NewAuditUsecase(ids *utils.IDGenerator, publisher pub.Publisher, clock Clock, logger *zap.Logger) *AuditUsecase {
	return &AuditUsecase{
		ids:    ids,
		events: events{publisher: publisher, logger: logger},
		now:    clock.orDefault(),
		logger: logger,
	}
}

// Record stamps and publishes e.
func (uc *AuditUsecase) Record(ctx context.Context, e domain.AuditEntry) *domain.AuditEntry {
	e.ID = uc.ids.AuditID()
	e.CreatedAt = uc.now()

	uc.logger.Info("audit",
		zap.String("audit_id", e.ID),
		zap.String("actor_id", e.ActorID),
		zap.String("action", e.Action),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
		zap.String("details", e.Details),
		zap.String("ip_address", e.IPAddress),
		zap.String("request_id", e.RequestID),
	)
	uc.events.emit(ctx, pub.AuditRecorded(&e))
	return &e
}
