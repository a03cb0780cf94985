// Package memory is the in-process Store used by tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	accounts     map[string]*domain.Account
	accountOrder []string
	numbers      map[string]string

	postings   map[string][]*domain.Posting
	byTransfer map[string][]*domain.Posting

	transfers     map[string]*domain.Transfer
	transferOrder []string

	cards     map[string]*domain.Card
	cardOrder []string

	locks *keyedMutex
	now   func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used to stamp postings.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts:   make(map[string]*domain.Account),
		numbers:    make(map[string]string),
		postings:   make(map[string][]*domain.Posting),
		byTransfer: make(map[string][]*domain.Posting),
		transfers:  make(map[string]*domain.Transfer),
		cards:      make(map[string]*domain.Card),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func accountNotFound(id string) error {
	return domain.NotFound("account_id", "account %s not found", id)
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, accountNotFound(id)
	}
	return a.Clone(), nil
}

func (s *Store) ListAccounts(_ context.Context, ownerID string) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Account, 0)
	for _, id := range s.accountOrder {
		if a := s.accounts[id]; a.OwnerID == ownerID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListPostings(_ context.Context, f domain.PostingFilter) (*domain.PostingPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[f.AccountID]
	if !ok {
		return nil, accountNotFound(f.AccountID)
	}
	asOf := f.AsOf
	if asOf == 0 {
		asOf = a.LastSeq
	}

	list := s.postings[f.AccountID]
	page := &domain.PostingPage{Items: []*domain.Posting{}, Page: f.Page, PageSize: f.PageSize, AsOf: asOf}
	skip := f.Offset()
	for i := len(list) - 1; i >= 0; i-- {
		p := list[i]
		if p.Seq > asOf {
			continue
		}
		if f.Kind != nil && p.Kind != *f.Kind {
			continue
		}
		if page.Total >= skip && len(page.Items) < f.PageSize {
			page.Items = append(page.Items, clonePosting(p))
		}
		page.Total++
	}
	return page, nil
}

func (s *Store) PostingsInRange(_ context.Context, accountID string, start, end time.Time) (int64, []*domain.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return 0, nil, accountNotFound(accountID)
	}
	var opening int64
	items := make([]*domain.Posting, 0)
	for _, p := range s.postings[accountID] {
		switch {
		case p.CreatedAt.Before(start):
			opening += p.Amount
		case p.CreatedAt.Before(end):
			items = append(items, clonePosting(p))
		}
	}
	return opening, items, nil
}

func (s *Store) SumForRange(_ context.Context, accountID string, start, end time.Time) (domain.PostingAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg domain.PostingAggregate
	if _, ok := s.accounts[accountID]; !ok {
		return agg, accountNotFound(accountID)
	}
	for _, p := range s.postings[accountID] {
		if !p.CreatedAt.Before(start) && p.CreatedAt.Before(end) {
			agg.Add(p)
		}
	}
	return agg, nil
}

func (s *Store) PostingsForTransfer(_ context.Context, transferID string) ([]*domain.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePostings(s.byTransfer[transferID]), nil
}

func (s *Store) GetTransferByKey(_ context.Context, key string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[key]
	if !ok {
		return nil, domain.NotFound("idempotency_key", "transfer %s not found", key)
	}
	return t.Clone(), nil
}

func (s *Store) ListPendingTransfers(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Transfer, 0)
	for _, key := range s.transferOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		t := s.transfers[key]
		if t.Status == domain.TransferPending && t.UpdatedAt.Before(updatedBefore) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetCard(_ context.Context, id string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[id]
	if !ok {
		return nil, domain.NotFound("card_id", "card %s not found", id)
	}
	return c.Clone(), nil
}

func (s *Store) ListCards(_ context.Context, ownerID string) ([]*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Card, 0)
	for _, id := range s.cardOrder {
		c := s.cards[id]
		if a, ok := s.accounts[c.AccountID]; ok && a.OwnerID == ownerID {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *Store) ClaimTransfer(_ context.Context, t *domain.Transfer) (*domain.Transfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transfers[t.IdempotencyKey]; ok {
		return existing.Clone(), false, nil
	}
	s.transfers[t.IdempotencyKey] = t.Clone()
	s.transferOrder = append(s.transferOrder, t.IdempotencyKey)
	return t.Clone(), true, nil
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	t := newTx(s)
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func clonePosting(p *domain.Posting) *domain.Posting {
	cp := *p
	return &cp
}

func clonePostings(in []*domain.Posting) []*domain.Posting {
	out := make([]*domain.Posting, 0, len(in))
	for _, p := range in {
		out = append(out, clonePosting(p))
	}
	return out
}
