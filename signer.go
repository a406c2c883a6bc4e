package payflow

import "math/big"

// Signer creates signed payment payloads for a specific network. This is
// the direct-pay path: the signer holds a durable local key and can
// satisfy a challenge without the funded ephemeral flow. Implementations
// handle chain-specific signing for EVM and SVM networks.
type Signer interface {
	// Network returns the CAIP-2 network identifier.
	Network() string

	// Scheme returns the payment scheme identifier (e.g., "exact").
	Scheme() string

	// CanSign checks if this signer can satisfy the given requirements.
	CanSign(requirements *PaymentRequirements) bool

	// Sign creates a signed PaymentPayload for the given requirements.
	Sign(requirements *PaymentRequirements) (*PaymentPayload, error)

	// GetPriority returns the signer's priority. Lower is preferred.
	GetPriority() int

	// GetTokens returns the tokens this signer can pay with.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil.
	GetMaxAmount() *big.Int
}
