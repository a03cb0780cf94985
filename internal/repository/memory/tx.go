package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
)

// tx stages writes against copies of the locked rows and publishes them to the
// store in one step on commit.
type tx struct {
	s *Store

	unlocks []func()
	held    map[string]bool

	accounts    map[string]*domain.Account
	newAccounts []string
	postings    []*domain.Posting
	transfers   map[string]*domain.Transfer
	cards       map[string]*domain.Card
	newCards    []string
}

var _ repository.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		held:      make(map[string]bool),
		accounts:  make(map[string]*domain.Account),
		transfers: make(map[string]*domain.Transfer),
		cards:     make(map[string]*domain.Card),
	}
}

func (t *tx) release() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	unlock, err := t.s.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	t.unlocks = append(t.unlocks, unlock)
	t.held[key] = true
	return nil
}

func accountKey(id string) string { return "acc:" + id }
func transferKey(k string) string { return "trf:" + k }

func (t *tx) LockAccounts(ctx context.Context, ids ...string) (map[string]*domain.Account, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]*domain.Account, len(sorted))
	for _, id := range sorted {
		if _, seen := out[id]; seen {
			continue
		}
		if err := t.lock(ctx, accountKey(id)); err != nil {
			return nil, err
		}
		a, ok := t.accounts[id]
		if !ok {
			t.s.mu.RLock()
			committed, exists := t.s.accounts[id]
			if exists {
				a = committed.Clone()
			}
			t.s.mu.RUnlock()
			if !exists {
				return nil, accountNotFound(id)
			}
			t.accounts[id] = a
		}
		out[id] = a.Clone()
	}
	return out, nil
}

func (t *tx) InsertAccount(ctx context.Context, a *domain.Account) error {
	t.s.mu.RLock()
	_, dupID := t.s.accounts[a.ID]
	_, dupNumber := t.s.numbers[a.AccountNumber]
	t.s.mu.RUnlock()
	if dupID {
		return fmt.Errorf("insert account %s: already exists", a.ID)
	}
	if dupNumber {
		return repository.ErrDuplicateAccountNumber
	}
	if err := t.lock(ctx, accountKey(a.ID)); err != nil {
		return err
	}
	t.accounts[a.ID] = a.Clone()
	t.newAccounts = append(t.newAccounts, a.ID)
	return nil
}

func (t *tx) lockedAccount(id string) (*domain.Account, error) {
	a, ok := t.accounts[id]
	if !ok || !t.held[accountKey(id)] {
		return nil, fmt.Errorf("account %s is not locked by this transaction", id)
	}
	return a, nil
}

func (t *tx) UpdateAccountStatus(_ context.Context, id string, status domain.AccountStatus, at time.Time) (*domain.Account, error) {
	a, err := t.lockedAccount(id)
	if err != nil {
		return nil, err
	}
	a.Status = status
	a.UpdatedAt = at
	return a.Clone(), nil
}

func (t *tx) AppendPosting(_ context.Context, p *domain.Posting) (*domain.Posting, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("append posting: id is required")
	}
	a, err := t.lockedAccount(p.AccountID)
	if err != nil {
		return nil, err
	}

	now := t.s.now()
	if now.Before(a.LastPostedAt) {
		now = a.LastPostedAt
	}

	cp := clonePosting(p)
	cp.Seq = a.LastSeq + 1
	cp.CreatedAt = now
	a.Balance += p.Amount
	cp.BalanceAfter = a.Balance
	a.LastSeq = cp.Seq
	a.LastPostedAt = now
	a.UpdatedAt = now

	t.postings = append(t.postings, cp)
	return clonePosting(cp), nil
}

// SumCardSpend nets card-tagged postings in the window, so a reversed card
// withdrawal no longer counts against the limit.
func (t *tx) SumCardSpend(ctx context.Context, cardID string, start, end time.Time) (int64, error) {
	c, err := t.GetCard(ctx, cardID)
	if err != nil {
		return 0, err
	}

	var spent int64
	add := func(p *domain.Posting) {
		if p.CardID == nil || *p.CardID != cardID {
			return
		}
		if p.CreatedAt.Before(start) || !p.CreatedAt.Before(end) {
			return
		}
		spent -= p.Amount
	}

	t.s.mu.RLock()
	for _, p := range t.s.postings[c.AccountID] {
		add(p)
	}
	t.s.mu.RUnlock()
	for _, p := range t.postings {
		add(p)
	}
	if spent < 0 {
		spent = 0
	}
	return spent, nil
}

func (t *tx) PostingsForTransfer(_ context.Context, transferID string) ([]*domain.Posting, error) {
	t.s.mu.RLock()
	out := clonePostings(t.s.byTransfer[transferID])
	t.s.mu.RUnlock()
	for _, p := range t.postings {
		if p.RelatedTransferID != nil && *p.RelatedTransferID == transferID {
			out = append(out, clonePosting(p))
		}
	}
	return out, nil
}

func (t *tx) LockTransfer(ctx context.Context, key string) (*domain.Transfer, error) {
	if err := t.lock(ctx, transferKey(key)); err != nil {
		return nil, err
	}
	if tr, ok := t.transfers[key]; ok {
		return tr.Clone(), nil
	}
	t.s.mu.RLock()
	committed, ok := t.s.transfers[key]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.NotFound("idempotency_key", "transfer %s not found", key)
	}
	t.transfers[key] = committed.Clone()
	return committed.Clone(), nil
}

func (t *tx) UpdateTransfer(_ context.Context, tr *domain.Transfer) error {
	if !t.held[transferKey(tr.IdempotencyKey)] {
		return fmt.Errorf("transfer %s is not locked by this transaction", tr.IdempotencyKey)
	}
	t.transfers[tr.IdempotencyKey] = tr.Clone()
	return nil
}

func (t *tx) GetCard(_ context.Context, id string) (*domain.Card, error) {
	if c, ok := t.cards[id]; ok {
		return c.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.cards[id]
	if !ok {
		return nil, domain.NotFound("card_id", "card %s not found", id)
	}
	return c.Clone(), nil
}

func (t *tx) InsertCard(_ context.Context, c *domain.Card) error {
	if _, err := t.lockedAccount(c.AccountID); err != nil {
		return err
	}
	t.cards[c.ID] = c.Clone()
	t.newCards = append(t.newCards, c.ID)
	return nil
}

func (t *tx) UpdateCard(_ context.Context, c *domain.Card) error {
	if _, err := t.lockedAccount(c.AccountID); err != nil {
		return err
	}
	t.cards[c.ID] = c.Clone()
	return nil
}

func (t *tx) CountActiveCards(_ context.Context, accountID string) (int, error) {
	n := 0
	t.s.mu.RLock()
	for id, c := range t.s.cards {
		if _, staged := t.cards[id]; staged {
			continue
		}
		if c.AccountID == accountID && c.Status == domain.CardStatusActive {
			n++
		}
	}
	t.s.mu.RUnlock()
	for _, c := range t.cards {
		if c.AccountID == accountID && c.Status == domain.CardStatusActive {
			n++
		}
	}
	return n, nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.newAccounts {
		if _, dup := s.numbers[t.accounts[id].AccountNumber]; dup {
			return repository.ErrDuplicateAccountNumber
		}
	}

	for id, a := range t.accounts {
		s.accounts[id] = a.Clone()
	}
	for _, id := range t.newAccounts {
		s.accountOrder = append(s.accountOrder, id)
		s.numbers[t.accounts[id].AccountNumber] = id
	}
	for _, p := range t.postings {
		s.postings[p.AccountID] = append(s.postings[p.AccountID], p)
		if p.RelatedTransferID != nil {
			s.byTransfer[*p.RelatedTransferID] = append(s.byTransfer[*p.RelatedTransferID], p)
		}
	}
	for key, tr := range t.transfers {
		s.transfers[key] = tr.Clone()
	}
	for id, c := range t.cards {
		s.cards[id] = c.Clone()
	}
	s.cardOrder = append(s.cardOrder, t.newCards...)
	return nil
}
