package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
)

// AgreementStore persists escrow records and the global creation counter.
// Every read and write happens inside a transaction obtained from Begin;
// transactions are applied one at a time.
type AgreementStore interface {
	Begin(ctx context.Context) (AgreementTx, error)
}

// AgreementTx is a single all-or-nothing unit of work. Rollback after a
// successful Commit is a no-op, so callers can always defer it.
type AgreementTx interface {
	// Get returns the record and true, or false if nothing is stored under id.
	Get(ctx context.Context, id models.AgreementID) (*models.EscrowRecord, bool, error)
	// Put unconditionally upserts the record.
	Put(ctx context.Context, id models.AgreementID, rec models.EscrowRecord) error
	IncrementCounter(ctx context.Context) (uint32, error)
	Counter(ctx context.Context) (uint32, error)
	// ExtendTTL pushes the record's lifetime to now+extendTo when less than
	// threshold remains.
	ExtendTTL(ctx context.Context, id models.AgreementID, threshold, extendTo time.Duration) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CounterKey is the storage key of the creation counter.
const CounterKey = "ESC_CNT"

// ErrCounterOverflow is returned by IncrementCounter once the counter has
// reached math.MaxUint32. The counter is never wrapped.
var ErrCounterOverflow = errors.New("escrow counter overflow")
