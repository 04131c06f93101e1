package events

import "context"

// StreamEscrow is the pub/sub channel all escrow lifecycle events go to.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated   = "escrow_created"
	EventEscrowApproved  = "escrow_approved"
	EventEscrowCompleted = "escrow_completed"
	EventEscrowRefunded  = "escrow_refunded"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
