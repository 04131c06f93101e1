package handlers

import (
	"errors"

	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	sessionService *services.SessionService
	log            *zap.Logger
}

func NewAuthHandler(sessionService *services.SessionService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{sessionService: sessionService, log: log}
}

// GeneratePayload issues a TON proof nonce.
// POST /auth/ton-proof/payload
func (h *AuthHandler) GeneratePayload(c *fiber.Ctx) error {
	payload, err := h.sessionService.GeneratePayload(c.UserContext())
	if err != nil {
		h.log.Error("failed to generate proof payload", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "internal error")
	}
	return c.JSON(dto.ProofPayloadResponse{Payload: payload})
}

// TonProofLogin exchanges a signed TON proof for a session JWT.
// POST /auth/ton-proof
func (h *AuthHandler) TonProofLogin(c *fiber.Ctx) error {
	var req services.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Address == "" || req.StateInit == "" || req.Proof.Signature == "" {
		return errorJSON(c, fiber.StatusBadRequest, "address, state_init and proof.signature are required")
	}

	token, identity, err := h.sessionService.Login(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidProof) {
			h.log.Debug("ton proof rejected", zap.Error(err))
			return errorJSON(c, fiber.StatusUnauthorized, err.Error())
		}
		h.log.Error("ton proof login failed", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "internal error")
	}

	return c.JSON(dto.AuthResponse{Token: token, Identity: identity})
}
