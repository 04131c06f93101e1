package services

import "errors"

// Error kinds returned by EscrowService. Every one of them aborts the
// operation's store transaction.
var (
	ErrNotFound     = errors.New("escrow not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid escrow state")
)
