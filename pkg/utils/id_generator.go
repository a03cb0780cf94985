package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes per entity.
const (
	PrefixAccount  = "acc"
	PrefixPosting  = "pst"
	PrefixTransfer = "trf"
	PrefixCard     = "crd"
	PrefixAudit    = "aud"
)

// AccountNumberLength is the number of digits in a customer-facing account number.
const AccountNumberLength = 10

// IDGenerator generates sortable prefixed ULIDs and random account numbers.
// Safe for concurrent use.
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewIDGenerator creates a generator backed by crypto/rand monotonic entropy.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// New returns "<prefix>_<ULID>".
func (g *IDGenerator) New(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

func (g *IDGenerator) AccountID() string { return g.New(PrefixAccount) }
func (g *IDGenerator) PostingID() string { return g.New(PrefixPosting) }
func (g *IDGenerator) TransferID() string { return g.New(PrefixTransfer) }
func (g *IDGenerator) CardID() string { return g.New(PrefixCard) }
func (g *IDGenerator) AuditID() string { return g.New(PrefixAudit) }

// AccountNumber generates a 10 digit account number. The first digit is never zero.
// Uniqueness is enforced by the store; callers retry on collision.
func (g *IDGenerator) AccountNumber() string {
	const digits = "0123456789"
	result := make([]byte, AccountNumberLength)
	for i := range result {
		lo := 0
		if i == 0 {
			lo = 1
		}
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits)-lo)))
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		result[i] = digits[lo+int(num.Int64())]
	}
	return string(result)
}
