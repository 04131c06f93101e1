package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/freelance-escrow/backend/internal/models"
)

var (
	ErrNoSigner       = errors.New("request has no authenticated signer")
	ErrSignerMismatch = errors.New("claimed identity is not the request signer")
)

// Authenticator confirms that a claimed identity is the genuine signer of
// the current request.
type Authenticator interface {
	Authenticate(ctx context.Context, claimed models.Identity) error
}

type signerKey struct{}

// WithSigner attaches the authenticated signer to ctx.
func WithSigner(ctx context.Context, signer models.Identity) context.Context {
	return context.WithValue(ctx, signerKey{}, signer)
}

func SignerFromContext(ctx context.Context) (models.Identity, bool) {
	s, ok := ctx.Value(signerKey{}).(models.Identity)
	return s, ok && s != ""
}

// SignerAuthenticator accepts a claim only if it equals the signer the
// transport layer put into the context.
type SignerAuthenticator struct{}

func (SignerAuthenticator) Authenticate(ctx context.Context, claimed models.Identity) error {
	signer, ok := SignerFromContext(ctx)
	if !ok {
		return ErrNoSigner
	}
	if signer != claimed {
		return fmt.Errorf("%w: %s", ErrSignerMismatch, claimed)
	}
	return nil
}
