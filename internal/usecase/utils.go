package usecase

import (
	"context"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"

	"go.uber.org/zap"
)

// Clock returns the current time. Usecases default to time.Now.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

const publishTimeout = 5 * time.Second

// events publishes best-effort after commit. Failures are logged, never returned.
type events struct {
	publisher pub.Publisher
	logger    *zap.Logger
}

func (e events) emit(ctx context.Context, evs ...*pub.Event) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, ev := range evs {
		if ev == nil {
			continue
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("failed to publish event",
				zap.String("event_type", ev.EventType),
				zap.String("account_id", ev.AccountID),
				zap.Error(err),
			)
		}
	}
}

// ownedBy hides accounts of other owners behind NotFound. An empty owner
// skips the check for internal callers.
func ownedBy(a *domain.Account, ownerID string) error {
	if ownerID != "" && a.OwnerID != ownerID {
		return domain.NotFound("account_id", "account %s not found", a.ID)
	}
	return nil
}
