package repositories

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/freelance-escrow/backend/internal/models"
	"github.com/jackc/pgx/v5"
)

// escrowLockKey serializes escrow transactions through pg_advisory_xact_lock.
const escrowLockKey int64 = 0x45534352 // "ESCR"

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowRepo is the Postgres-backed AgreementStore.
type EscrowRepo struct {
	pool TxBeginner
}

func NewEscrowRepo(pool TxBeginner) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

func (r *EscrowRepo) Begin(ctx context.Context) (AgreementTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("escrow repo: begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, escrowLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("escrow repo: acquire lock: %w", err)
	}
	return &escrowTx{tx: tx}, nil
}

type escrowTx struct {
	tx pgx.Tx
}

func (t *escrowTx) Get(ctx context.Context, id models.AgreementID) (*models.EscrowRecord, bool, error) {
	var (
		rec                models.EscrowRecord
		client, freelancer string
		amount             string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT client, freelancer, amount::text,
		       client_approved, freelancer_approved, is_completed, is_refunded
		FROM escrow_agreements WHERE agreement_id = $1
	`, string(id)).Scan(&client, &freelancer, &amount,
		&rec.ClientApproved, &rec.FreelancerApproved, &rec.IsCompleted, &rec.IsRefunded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("escrow repo: get %s: %w", id, err)
	}
	rec.Client = models.Identity(client)
	rec.Freelancer = models.Identity(freelancer)
	rec.Amount, err = models.ParseAmount(amount)
	if err != nil {
		return nil, false, fmt.Errorf("escrow repo: decode amount of %s: %w", id, err)
	}
	return &rec, true, nil
}

func (t *escrowTx) Put(ctx context.Context, id models.AgreementID, rec models.EscrowRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO escrow_agreements (
			agreement_id, client, freelancer, amount,
			client_approved, freelancer_approved, is_completed, is_refunded
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT (agreement_id) DO UPDATE SET
			client = EXCLUDED.client,
			freelancer = EXCLUDED.freelancer,
			amount = EXCLUDED.amount,
			client_approved = EXCLUDED.client_approved,
			freelancer_approved = EXCLUDED.freelancer_approved,
			is_completed = EXCLUDED.is_completed,
			is_refunded = EXCLUDED.is_refunded,
			updated_at = now()
	`, string(id), string(rec.Client), string(rec.Freelancer), rec.Amount.String(),
		rec.ClientApproved, rec.FreelancerApproved, rec.IsCompleted, rec.IsRefunded)
	if err != nil {
		return fmt.Errorf("escrow repo: put %s: %w", id, err)
	}
	return nil
}

func (t *escrowTx) IncrementCounter(ctx context.Context) (uint32, error) {
	var v int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO escrow_meta (key, value) VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET value = escrow_meta.value + 1
		RETURNING value
	`, CounterKey).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("escrow repo: increment counter: %w", err)
	}
	if v > math.MaxUint32 {
		return 0, ErrCounterOverflow
	}
	return uint32(v), nil
}

func (t *escrowTx) Counter(ctx context.Context) (uint32, error) {
	var v int64
	err := t.tx.QueryRow(ctx, `SELECT value FROM escrow_meta WHERE key = $1`, CounterKey).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("escrow repo: read counter: %w", err)
	}
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("escrow repo: counter %d out of range", v)
	}
	return uint32(v), nil
}

func (t *escrowTx) ExtendTTL(ctx context.Context, id models.AgreementID, threshold, extendTo time.Duration) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE escrow_agreements
		SET live_until = now() + make_interval(secs => $3)
		WHERE agreement_id = $1
		  AND (live_until IS NULL OR live_until < now() + make_interval(secs => $2))
	`, string(id), threshold.Seconds(), extendTo.Seconds())
	if err != nil {
		return fmt.Errorf("escrow repo: extend ttl %s: %w", id, err)
	}
	return nil
}

func (t *escrowTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow repo: commit: %w", err)
	}
	return nil
}

func (t *escrowTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("escrow repo: rollback: %w", err)
	}
	return nil
}
