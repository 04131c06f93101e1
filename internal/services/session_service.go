package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/freelance-escrow/backend/internal/repositories"
	"github.com/freelance-escrow/backend/internal/ton"
	"go.uber.org/zap"
)

// ErrInvalidProof covers every reason a TON proof login is refused.
var ErrInvalidProof = errors.New("invalid ton proof")

// SessionService turns a verified TON Connect proof into a JWT whose
// identity is the wallet's raw address.
type SessionService struct {
	payloads repositories.ProofPayloads
	cfg      *config.Config
	log      *zap.Logger
}

func NewSessionService(payloads repositories.ProofPayloads, cfg *config.Config, log *zap.Logger) *SessionService {
	return &SessionService{payloads: payloads, cfg: cfg, log: log}
}

// GeneratePayload issues a nonce the wallet must embed in its proof.
func (s *SessionService) GeneratePayload(ctx context.Context) (string, error) {
	p, err := s.payloads.Create(ctx, s.cfg.TONProofPayloadTTL)
	if err != nil {
		return "", fmt.Errorf("failed to create proof payload: %w", err)
	}
	return p, nil
}

type LoginRequest struct {
	Address   string    `json:"address"`    // raw "0:abc..." or user-friendly
	Network   string    `json:"network"`    // mainnet/testnet
	PublicKey string    `json:"public_key"` // hex, optional; must match state_init
	StateInit string    `json:"state_init"` // base64 BOC of the wallet StateInit
	Proof     ton.Proof `json:"proof"`
}

// Login verifies req and returns a session token with the wallet identity.
// The verifying key is read from the wallet StateInit, which must hash to the
// claimed address.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (string, models.Identity, error) {
	if err := s.payloads.Consume(ctx, req.Proof.Payload); err != nil {
		if errors.Is(err, repositories.ErrProofPayloadUnknown) {
			return "", "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
		}
		return "", "", fmt.Errorf("consume proof payload: %w", err)
	}

	identity, err := ton.NormalizeIdentity(req.Address)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	workchain, addrHash, err := ton.ParseRawAddress(identity.String())
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	if req.Network != "" && req.Network != s.cfg.TONNetwork {
		return "", "", fmt.Errorf("%w: network mismatch: expected %s, got %s", ErrInvalidProof, s.cfg.TONNetwork, req.Network)
	}

	pubKey, err := ton.WalletPublicKey(req.StateInit, addrHash)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if req.PublicKey != "" && !strings.EqualFold(req.PublicKey, hex.EncodeToString(pubKey)) {
		return "", "", fmt.Errorf("%w: public_key does not belong to the wallet", ErrInvalidProof)
	}

	if err := ton.VerifyProof(pubKey, addrHash, workchain, req.Proof, s.cfg.TONProofAllowedDomains); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, identity, s.cfg.TONNetwork, s.cfg.JWTExpiration)
	if err != nil {
		return "", "", fmt.Errorf("generate jwt: %w", err)
	}

	s.log.Info("wallet signed in",
		zap.String("identity", identity.String()),
		zap.String("domain", req.Proof.Domain.Value),
	)
	return token, identity, nil
}
