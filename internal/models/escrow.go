package models

import (
	"fmt"
	"regexp"
)

// Identity is a party of an escrow agreement. The core treats it as opaque;
// the HTTP layer stores TON addresses in raw "workchain:hex" form.
type Identity string

func (i Identity) String() string { return string(i) }

// AgreementID keys one escrow record in the store.
type AgreementID string

func (id AgreementID) String() string { return string(id) }

// MaxAgreementIDLen matches the symbol limit of the on-chain contract.
const MaxAgreementIDLen = 32

var agreementIDRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ParseAgreementID validates an identifier received from a client.
func ParseAgreementID(s string) (AgreementID, error) {
	if s == "" {
		return "", fmt.Errorf("agreement_id is required")
	}
	if len(s) > MaxAgreementIDLen {
		return "", fmt.Errorf("agreement_id must be at most %d characters", MaxAgreementIDLen)
	}
	if !agreementIDRe.MatchString(s) {
		return "", fmt.Errorf("agreement_id may only contain letters, digits and '_'")
	}
	return AgreementID(s), nil
}

// EscrowRecord is the persisted state of one agreement.
type EscrowRecord struct {
	Client             Identity `json:"client"`
	Freelancer         Identity `json:"freelancer"`
	Amount             Amount   `json:"amount"`
	ClientApproved     bool     `json:"client_approved"`
	FreelancerApproved bool     `json:"freelancer_approved"`
	IsCompleted        bool     `json:"is_completed"`
	IsRefunded         bool     `json:"is_refunded"`
}

// NewEscrowRecord returns a fresh agreement with every flag cleared.
func NewEscrowRecord(client, freelancer Identity, amount Amount) EscrowRecord {
	return EscrowRecord{
		Client:     client,
		Freelancer: freelancer,
		Amount:     amount,
	}
}

// IsTerminal reports whether no further meaningful transition exists.
func (r EscrowRecord) IsTerminal() bool {
	return r.IsCompleted || r.IsRefunded
}

// IsParty reports whether id is the client or the freelancer.
func (r EscrowRecord) IsParty(id Identity) bool {
	return id == r.Client || id == r.Freelancer
}

// Approve records an approval from id and derives IsCompleted. It returns
// false when id is not a party; the record is left untouched in that case.
// IsCompleted is never cleared once set.
func (r *EscrowRecord) Approve(id Identity) bool {
	if !r.IsParty(id) {
		return false
	}
	if id == r.Client {
		r.ClientApproved = true
	}
	// Not else-if: an identity holding both roles approves for both.
	if id == r.Freelancer {
		r.FreelancerApproved = true
	}
	if r.ClientApproved && r.FreelancerApproved {
		r.IsCompleted = true
	}
	return true
}

// Status is a display label derived from the flags.
func (r EscrowRecord) Status() string {
	switch {
	case r.IsCompleted:
		return EscrowStatusCompleted
	case r.IsRefunded:
		return EscrowStatusRefunded
	case r.ClientApproved || r.FreelancerApproved:
		return EscrowStatusPartiallyApproved
	default:
		return EscrowStatusOpen
	}
}

const (
	EscrowStatusOpen              = "open"
	EscrowStatusPartiallyApproved = "partially_approved"
	EscrowStatusCompleted         = "completed"
	EscrowStatusRefunded          = "refunded"
)

// Equal compares two records field by field.
func (r EscrowRecord) Equal(o EscrowRecord) bool {
	return r.Client == o.Client &&
		r.Freelancer == o.Freelancer &&
		r.Amount.Equal(o.Amount) &&
		r.ClientApproved == o.ClientApproved &&
		r.FreelancerApproved == o.FreelancerApproved &&
		r.IsCompleted == o.IsCompleted &&
		r.IsRefunded == o.IsRefunded
}
