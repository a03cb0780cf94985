package usecase

import (
	"context"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"

	"go.uber.org/zap"
)

const reconcileBatchSize = 100

// Reconciler resolves transfers left pending past the timeout, e.g. after a
// crash between claim and execution.
type Reconciler struct {
	store    repository.Store
	ledger   *LedgerUsecase
	timeout  time.Duration
	interval time.Duration
	events   events
	now      Clock
	logger   *zap.Logger
}

func NewReconciler(
	store repository.Store,
	ledger *LedgerUsecase,
	timeout, interval time.Duration,
	publisher pub.Publisher,
	clock Clock,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:    store,
		ledger:   ledger,
		timeout:  timeout,
		interval: interval,
		events:   events{publisher: publisher, logger: logger},
		now:      clock.orDefault(),
		logger:   logger,
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("pending_timeout", r.timeout),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if n, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("reconcile pass resolved transfers", zap.Int("resolved", n))
			}
		}
	}
}

// ReconcileOnce resolves one batch of stale pending transfers and returns how
// many it resolved.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	stale, err := r.store.ListPendingTransfers(ctx, r.now().Add(-r.timeout), reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending transfers: %w", err)
	}

	resolved := 0
	for _, t := range stale {
		done, err := r.resolve(ctx, t.IdempotencyKey)
		if err != nil {
			r.logger.Error("failed to resolve pending transfer",
				zap.String("idempotency_key", t.IdempotencyKey),
				zap.Error(err),
			)
			continue
		}
		if done != nil {
			resolved++
			r.events.emit(ctx, pub.TransferResolved(done))
		}
	}
	return resolved, nil
}

// resolve settles one pending transfer under its lock: both legs present
// completes it, one leg is offset and the transfer failed, no legs fails it
// as aborted.
func (r *Reconciler) resolve(ctx context.Context, key string) (*domain.Transfer, error) {
	var out *domain.Transfer
	err := r.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.LockTransfer(ctx, key)
		if err != nil {
			return err
		}
		if t.Status != domain.TransferPending {
			return nil
		}

		all, err := tx.PostingsForTransfer(ctx, t.ID)
		if err != nil {
			return err
		}
		legs := make([]*domain.Posting, 0, 2)
		for _, p := range all {
			if p.ReversesPostingID == nil {
				legs = append(legs, p)
			}
		}

		now := r.now()
		log := r.logger.With(zap.String("idempotency_key", key), zap.Int("legs", len(legs)))
		switch len(legs) {
		case 2:
			t.Complete(now)
			log.Warn("stale transfer had both legs, marking completed")
		case 1:
			leg := legs[0]
			if _, err := tx.LockAccounts(ctx, leg.AccountID); err != nil {
				return err
			}
			if _, err := r.ledger.AppendOffset(ctx, tx, leg, "Reversal of incomplete transfer "+key); err != nil {
				return err
			}
			t.Fail(domain.Aborted("", "transfer %s was interrupted and has been reversed", key), now)
			log.Warn("stale transfer had one leg, reversed and failed")
		case 0:
			t.Fail(domain.Aborted("", "transfer %s was abandoned before execution", key), now)
			log.Warn("stale transfer had no legs, marking aborted")
		default:
			return fmt.Errorf("transfer %s has %d legs", key, len(legs))
		}

		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
