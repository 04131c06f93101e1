package middleware

import (
	"strings"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CtxIdentity = "identity"

// AuthMiddleware validates the bearer JWT and makes its wallet identity the
// request signer seen by auth.SignerAuthenticator.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return unauthorized(c, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(CtxIdentity, claims.Identity)
		c.SetUserContext(auth.WithSigner(c.UserContext(), claims.Identity))

		return c.Next()
	}
}

func GetIdentity(c *fiber.Ctx) models.Identity {
	id, _ := c.Locals(CtxIdentity).(models.Identity)
	return id
}

func unauthorized(c *fiber.Ctx, msg string) error {
	reqID, _ := c.Locals(CtxRequestID).(string)
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}
