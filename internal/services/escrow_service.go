package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/metrics"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/freelance-escrow/backend/internal/rbac"
	"github.com/freelance-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// Operation names used in metrics and logs.
const (
	OpCreate  = "create"
	OpApprove = "approve"
	OpRefund  = "refund"
	OpView    = "view"
	OpCount   = "count"
	OpHistory = "history"
)

// Auditor stores the action log of an agreement. *repositories.AuditRepo
// implements it.
type Auditor interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

type EscrowService struct {
	store     repositories.AgreementStore
	authn     auth.Authenticator
	publisher events.Publisher
	auditor   Auditor
	metrics   *metrics.Recorder

	ttlThreshold time.Duration
	ttlExtendTo  time.Duration

	log *zap.Logger
}

// NewEscrowService wires the service. auditor and rec may be nil; a nil
// publisher drops events.
func NewEscrowService(
	store repositories.AgreementStore,
	authn auth.Authenticator,
	publisher events.Publisher,
	auditor Auditor,
	rec *metrics.Recorder,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &EscrowService{
		store:        store,
		authn:        authn,
		publisher:    publisher,
		auditor:      auditor,
		metrics:      rec,
		ttlThreshold: cfg.EscrowTTLThreshold,
		ttlExtendTo:  cfg.EscrowTTLExtendTo,
		log:          log,
	}
}

// CreateEscrow stores a fresh agreement under id, replacing whatever was
// there before, and bumps the creation counter. Only the client may create.
func (s *EscrowService) CreateEscrow(ctx context.Context, client, freelancer models.Identity, amount models.Amount, id models.AgreementID) (_ bool, err error) {
	defer s.observe(OpCreate, time.Now(), &err)

	if err := s.authenticate(ctx, client); err != nil {
		return false, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, existed, err := tx.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get escrow: %w", err)
	}

	rec := models.NewEscrowRecord(client, freelancer, amount)
	if err := tx.Put(ctx, id, rec); err != nil {
		return false, fmt.Errorf("put escrow: %w", err)
	}
	count, err := tx.IncrementCounter(ctx)
	if err != nil {
		return false, fmt.Errorf("increment counter: %w", err)
	}
	if err := tx.ExtendTTL(ctx, id, s.ttlThreshold, s.ttlExtendTo); err != nil {
		return false, fmt.Errorf("extend ttl: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	s.metrics.SetCreated(count)
	if existed {
		s.log.Warn("escrow overwritten",
			zap.String("agreement_id", id.String()),
			zap.String("previous_status", prev.Status()),
			zap.Bool("previous_terminal", prev.IsTerminal()),
			zap.String("previous_client", prev.Client.String()),
		)
	}
	if amount.Sign() <= 0 {
		s.log.Warn("escrow amount is not positive",
			zap.String("agreement_id", id.String()),
			zap.String("amount", amount.String()),
		)
	}
	s.log.Info("escrow created",
		zap.String("agreement_id", id.String()),
		zap.String("client", client.String()),
		zap.String("freelancer", freelancer.String()),
		zap.String("amount", amount.String()),
		zap.Uint32("escrow_count", count),
	)

	s.emit(ctx, events.EventEscrowCreated, id, rec, client)
	s.audit(ctx, models.AuditActionEscrowCreated, id, client, map[string]any{
		"amount":      amount.String(),
		"freelancer":  freelancer.String(),
		"overwritten": existed,
	})
	return true, nil
}

// ApproveCompletion records the approver's sign-off and returns whether the
// agreement is now completed.
func (s *EscrowService) ApproveCompletion(ctx context.Context, id models.AgreementID, approver models.Identity) (_ bool, err error) {
	defer s.observe(OpApprove, time.Now(), &err)

	if err := s.authenticate(ctx, approver); err != nil {
		return false, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := getEscrow(ctx, tx, id)
	if err != nil {
		return false, err
	}

	if !rbac.Allowed(*rec, approver, rbac.PermApprove) {
		return false, fmt.Errorf("%w: %s is not a party of escrow %s", ErrUnauthorized, approver, id)
	}
	wasCompleted := rec.IsCompleted
	rec.Approve(approver)

	if err := tx.Put(ctx, id, *rec); err != nil {
		return false, fmt.Errorf("put escrow: %w", err)
	}
	if err := tx.ExtendTTL(ctx, id, s.ttlThreshold, s.ttlExtendTo); err != nil {
		return false, fmt.Errorf("extend ttl: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("escrow approved",
		zap.String("agreement_id", id.String()),
		zap.String("approver", approver.String()),
		zap.Bool("client_approved", rec.ClientApproved),
		zap.Bool("freelancer_approved", rec.FreelancerApproved),
	)
	s.emit(ctx, events.EventEscrowApproved, id, *rec, approver)
	s.audit(ctx, models.AuditActionEscrowApproved, id, approver, map[string]any{
		"client_approved":     rec.ClientApproved,
		"freelancer_approved": rec.FreelancerApproved,
	})

	if rec.IsCompleted && !wasCompleted {
		s.log.Info("escrow completed and ready for release", zap.String("agreement_id", id.String()))
		s.emit(ctx, events.EventEscrowCompleted, id, *rec, approver)
		s.audit(ctx, models.AuditActionEscrowCompleted, id, approver, map[string]any{
			"amount": rec.Amount.String(),
		})
	}
	return rec.IsCompleted, nil
}

// RefundEscrow marks an uncompleted agreement as refunded. Only the stored
// client may refund.
func (s *EscrowService) RefundEscrow(ctx context.Context, id models.AgreementID, client models.Identity) (_ bool, err error) {
	defer s.observe(OpRefund, time.Now(), &err)

	if err := s.authenticate(ctx, client); err != nil {
		return false, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := getEscrow(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if !rbac.Allowed(*rec, client, rbac.PermRefund) {
		return false, fmt.Errorf("%w: only the client can refund escrow %s", ErrUnauthorized, id)
	}
	if rec.IsCompleted {
		return false, fmt.Errorf("%w: escrow %s is already completed", ErrInvalidState, id)
	}

	alreadyRefunded := rec.IsRefunded
	rec.IsRefunded = true
	if err := tx.Put(ctx, id, *rec); err != nil {
		return false, fmt.Errorf("put escrow: %w", err)
	}
	if err := tx.ExtendTTL(ctx, id, s.ttlThreshold, s.ttlExtendTo); err != nil {
		return false, fmt.Errorf("extend ttl: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("escrow refunded to client",
		zap.String("agreement_id", id.String()),
		zap.String("client", client.String()),
		zap.Bool("repeat", alreadyRefunded),
	)
	s.emit(ctx, events.EventEscrowRefunded, id, *rec, client)
	s.audit(ctx, models.AuditActionEscrowRefunded, id, client, map[string]any{
		"amount": rec.Amount.String(),
		"repeat": alreadyRefunded,
	})
	return true, nil
}

// ViewEscrow returns a copy of the stored record. No authorization needed.
func (s *EscrowService) ViewEscrow(ctx context.Context, id models.AgreementID) (_ models.EscrowRecord, err error) {
	defer s.observe(OpView, time.Now(), &err)
	return s.load(ctx, id)
}

func (s *EscrowService) load(ctx context.Context, id models.AgreementID) (models.EscrowRecord, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return models.EscrowRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := getEscrow(ctx, tx, id)
	if err != nil {
		return models.EscrowRecord{}, err
	}
	return *rec, nil
}

// EscrowCount returns the number of successful creations so far.
func (s *EscrowService) EscrowCount(ctx context.Context) (_ uint32, err error) {
	defer s.observe(OpCount, time.Now(), &err)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.Counter(ctx)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return n, nil
}

// History lists the audit entries of an agreement, newest first.
func (s *EscrowService) History(ctx context.Context, id models.AgreementID, limit, offset int) (_ []models.AuditLog, err error) {
	defer s.observe(OpHistory, time.Now(), &err)

	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if s.auditor == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.auditor.GetByEntity(ctx, models.AuditEntityEscrow, id.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}

func (s *EscrowService) authenticate(ctx context.Context, claimed models.Identity) error {
	if err := s.authn.Authenticate(ctx, claimed); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func getEscrow(ctx context.Context, tx repositories.AgreementTx, id models.AgreementID) (*models.EscrowRecord, error) {
	rec, found, err := tx.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// emit publishes a committed transition. Failures are logged only.
func (s *EscrowService) emit(ctx context.Context, eventType string, id models.AgreementID, rec models.EscrowRecord, actor models.Identity) {
	err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"agreement_id":        id.String(),
			"actor":               actor.String(),
			"client":              rec.Client.String(),
			"freelancer":          rec.Freelancer.String(),
			"amount":              rec.Amount.String(),
			"client_approved":     rec.ClientApproved,
			"freelancer_approved": rec.FreelancerApproved,
			"is_completed":        rec.IsCompleted,
			"is_refunded":         rec.IsRefunded,
		},
	})
	if err != nil {
		s.log.Warn("failed to publish escrow event",
			zap.String("type", eventType),
			zap.String("agreement_id", id.String()),
			zap.Error(err),
		)
	}
}

func (s *EscrowService) audit(ctx context.Context, action string, id models.AgreementID, actor models.Identity, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Log(ctx, models.AuditLog{
		Actor:      actor,
		ActorType:  models.AuditActorWallet,
		Action:     action,
		EntityType: models.AuditEntityEscrow,
		EntityID:   id.String(),
		Meta:       meta,
	})
	if err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("agreement_id", id.String()),
			zap.Error(err),
		)
	}
}

func (s *EscrowService) observe(op string, started time.Time, errp *error) {
	s.metrics.Observe(op, Outcome(*errp), started)
}

// Outcome classifies an operation error for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, ErrInvalidState):
		return metrics.OutcomeInvalidState
	default:
		return metrics.OutcomeError
	}
}
