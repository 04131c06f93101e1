package handlers

import (
	"errors"

	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/freelance-escrow/backend/internal/services"
	"github.com/freelance-escrow/backend/internal/ton"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const maxHistoryLimit = 200

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

// CreateEscrow POST /escrows
func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	id, err := models.ParseAgreementID(req.AgreementID)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	client, err := partyOrSigner(c, req.Client)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid client: "+err.Error())
	}
	freelancer, err := ton.NormalizeIdentity(req.Freelancer)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid freelancer: "+err.Error())
	}
	if req.Amount == nil {
		return errorJSON(c, fiber.StatusBadRequest, "amount is required")
	}

	created, err := h.escrowService.CreateEscrow(c.UserContext(), client, freelancer, *req.Amount, id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CreateEscrowResponse{
		AgreementID: id,
		Created:     created,
	}})
}

// ApproveCompletion POST /escrows/:id/approve
func (h *EscrowHandler) ApproveCompletion(c *fiber.Ctx) error {
	id, err := models.ParseAgreementID(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.ApproveEscrowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	approver, err := partyOrSigner(c, req.Approver)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid approver: "+err.Error())
	}

	completed, err := h.escrowService.ApproveCompletion(c.UserContext(), id, approver)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ApproveEscrowResponse{
		AgreementID: id,
		IsCompleted: completed,
	}})
}

// RefundEscrow POST /escrows/:id/refund
func (h *EscrowHandler) RefundEscrow(c *fiber.Ctx) error {
	id, err := models.ParseAgreementID(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.RefundEscrowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	client, err := partyOrSigner(c, req.Client)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid client: "+err.Error())
	}

	refunded, err := h.escrowService.RefundEscrow(c.UserContext(), id, client)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RefundEscrowResponse{
		AgreementID: id,
		Refunded:    refunded,
	}})
}

// GetEscrow GET /escrows/:id
func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := models.ParseAgreementID(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	rec, err := h.escrowService.ViewEscrow(c.UserContext(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewEscrowResponse(id, rec)})
}

// GetEscrowEvents GET /escrows/:id/events?limit=&offset=
func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	id, err := models.ParseAgreementID(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := h.escrowService.History(c.UserContext(), id, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

// CountEscrows GET /escrows/count
func (h *EscrowHandler) CountEscrows(c *fiber.Ctx) error {
	n, err := h.escrowService.EscrowCount(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.EscrowCountResponse{Count: n}})
}

func (h *EscrowHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "escrow not found")
	case errors.Is(err, services.ErrUnauthorized):
		return errorJSON(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	default:
		h.log.Error("escrow operation failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return errorJSON(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// partyOrSigner normalizes an address from the body, falling back to the
// authenticated signer when it is omitted.
func partyOrSigner(c *fiber.Ctx, addr string) (models.Identity, error) {
	if addr == "" {
		if id := middleware.GetIdentity(c); id != "" {
			return id, nil
		}
	}
	return ton.NormalizeIdentity(addr)
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}
