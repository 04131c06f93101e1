package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionEscrowCreated   = "escrow_created"
	AuditActionEscrowApproved  = "escrow_approved"
	AuditActionEscrowCompleted = "escrow_completed"
	AuditActionEscrowRefunded  = "escrow_refunded"

	AuditEntityEscrow = "escrow"

	AuditActorWallet = "wallet"
	AuditActorSystem = "system"
)

type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	Actor      Identity  `json:"actor"`
	ActorType  string    `json:"actor_type"` // wallet/system
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Meta       any       `json:"meta,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
