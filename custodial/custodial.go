// Package custodial defines the engine's interface to the external
// custodial signing service that holds the user's durable wallet key.
//
// The engine never sees the custodial private key: it builds an
// instruction set, asks the collaborator to prepare an unsigned payload
// from it, and asks the collaborator to sign and submit that payload.
package custodial

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Credentials are the opaque authentication secrets the custodial
// service requires to authorize a signing request.
type Credentials struct {
	// APIKey and APISecret authenticate the client to the service.
	APIKey    string
	APISecret string

	// OTP is an optional one-time code when the service demands
	// per-request verification.
	OTP string
}

// Collaborator is the custodial signing service.
type Collaborator interface {
	// Prepare assembles an unsigned transaction that executes the given
	// instructions, pays fees from source, and anchors its validity
	// window on anchor. Returns the serialized unsigned payload.
	Prepare(ctx context.Context, source solana.PublicKey, instructions []solana.Instruction, anchor solana.Hash) ([]byte, error)

	// SignAndSubmit signs the prepared payload with the custodial key
	// and submits it to the ledger, returning the submission signature.
	SignAndSubmit(ctx context.Context, unsignedPayload []byte, creds Credentials) (solana.Signature, error)
}

// SerializedSigner serializes custodial signing requests across
// concurrent flows. The custodial wallet is the one resource flows
// share: its signer anchors transactions on an account-level validity
// reference that cannot be reused across simultaneously in-flight
// signings, so two flows must never race to fund from the same source.
type SerializedSigner struct {
	mu    sync.Mutex
	inner Collaborator
}

// NewSerializedSigner wraps a Collaborator with the process-wide
// funding lock.
func NewSerializedSigner(inner Collaborator) *SerializedSigner {
	return &SerializedSigner{inner: inner}
}

// Submit prepares, signs and submits one instruction set while holding
// the lock for the whole prepare-to-submit span.
func (s *SerializedSigner) Submit(ctx context.Context, source solana.PublicKey, instructions []solana.Instruction, anchor solana.Hash, creds Credentials) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.inner.Prepare(ctx, source, instructions, anchor)
	if err != nil {
		return solana.Signature{}, err
	}
	return s.inner.SignAndSubmit(ctx, payload, creds)
}
