package repositories

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
)

var errTxDone = errors.New("repositories: transaction already finished")

type memoryEntry struct {
	rec       models.EscrowRecord
	liveUntil time.Time
}

// MemoryStore keeps agreements in process memory. A transaction holds the
// store lock from Begin until Commit or Rollback and stages its writes
// privately, so aborted transactions leave no trace.
type MemoryStore struct {
	mu      sync.Mutex
	records map[models.AgreementID]memoryEntry
	counter uint32
	nowFn   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[models.AgreementID]memoryEntry),
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock used for lifetime extension.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

// LiveUntil exposes a record's lifetime for inspection.
func (s *MemoryStore) LiveUntil(id models.AgreementID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[id]
	return e.liveUntil, ok
}

func (s *MemoryStore) Begin(ctx context.Context) (AgreementTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &memoryTx{
		store:   s,
		staged:  make(map[models.AgreementID]memoryEntry),
		counter: s.counter,
	}, nil
}

type memoryTx struct {
	store   *MemoryStore
	staged  map[models.AgreementID]memoryEntry
	counter uint32
	done    bool
}

func (tx *memoryTx) lookup(id models.AgreementID) (memoryEntry, bool) {
	if e, ok := tx.staged[id]; ok {
		return e, true
	}
	e, ok := tx.store.records[id]
	return e, ok
}

func (tx *memoryTx) Get(ctx context.Context, id models.AgreementID) (*models.EscrowRecord, bool, error) {
	if tx.done {
		return nil, false, errTxDone
	}
	e, ok := tx.lookup(id)
	if !ok {
		return nil, false, nil
	}
	rec := e.rec
	return &rec, true, nil
}

func (tx *memoryTx) Put(ctx context.Context, id models.AgreementID, rec models.EscrowRecord) error {
	if tx.done {
		return errTxDone
	}
	e, _ := tx.lookup(id)
	e.rec = rec
	tx.staged[id] = e
	return nil
}

func (tx *memoryTx) IncrementCounter(ctx context.Context) (uint32, error) {
	if tx.done {
		return 0, errTxDone
	}
	if tx.counter == math.MaxUint32 {
		return 0, ErrCounterOverflow
	}
	tx.counter++
	return tx.counter, nil
}

func (tx *memoryTx) Counter(ctx context.Context) (uint32, error) {
	if tx.done {
		return 0, errTxDone
	}
	return tx.counter, nil
}

func (tx *memoryTx) ExtendTTL(ctx context.Context, id models.AgreementID, threshold, extendTo time.Duration) error {
	if tx.done {
		return errTxDone
	}
	e, ok := tx.lookup(id)
	if !ok {
		return nil
	}
	now := tx.store.nowFn()
	if e.liveUntil.Sub(now) < threshold {
		e.liveUntil = now.Add(extendTo)
		tx.staged[id] = e
	}
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}
	for id, e := range tx.staged {
		tx.store.records[id] = e
	}
	tx.store.counter = tx.counter
	tx.finish()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *memoryTx) finish() {
	tx.done = true
	tx.staged = nil
	tx.store.mu.Unlock()
}
