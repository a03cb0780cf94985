package pub

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *Event) error {
	p.logger.Info("ledger event",
		zap.String("event_type", event.EventType),
		zap.String("owner_id", event.OwnerID),
		zap.String("account_id", event.AccountID),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
