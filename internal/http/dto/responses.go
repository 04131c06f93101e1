package dto

import "github.com/freelance-escrow/backend/internal/models"

type AuthResponse struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"identity"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type EscrowResponse struct {
	AgreementID models.AgreementID `json:"agreement_id"`
	Status      string             `json:"status"`
	models.EscrowRecord
}

func NewEscrowResponse(id models.AgreementID, rec models.EscrowRecord) EscrowResponse {
	return EscrowResponse{AgreementID: id, Status: rec.Status(), EscrowRecord: rec}
}

type CreateEscrowResponse struct {
	AgreementID models.AgreementID `json:"agreement_id"`
	Created     bool               `json:"created"`
}

type ApproveEscrowResponse struct {
	AgreementID models.AgreementID `json:"agreement_id"`
	IsCompleted bool               `json:"is_completed"`
}

type RefundEscrowResponse struct {
	AgreementID models.AgreementID `json:"agreement_id"`
	Refunded    bool               `json:"refunded"`
}

type EscrowCountResponse struct {
	Count uint32 `json:"count"`
}

type ProofPayloadResponse struct {
	Payload string `json:"payload"`
}
