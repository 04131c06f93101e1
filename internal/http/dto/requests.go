package dto

import "github.com/freelance-escrow/backend/internal/models"

// CreateEscrowRequest creates an agreement. Client defaults to the signer.
// Amount is a decimal string or a JSON number.
type CreateEscrowRequest struct {
	AgreementID string         `json:"agreement_id"`
	Client      string         `json:"client,omitempty"`
	Freelancer  string         `json:"freelancer"`
	Amount      *models.Amount `json:"amount"`
}

type ApproveEscrowRequest struct {
	Approver string `json:"approver,omitempty"` // defaults to the signer
}

type RefundEscrowRequest struct {
	Client string `json:"client,omitempty"` // defaults to the signer
}
