// Package payflow implements a client-side pay-per-call micropayment
// engine for the x402 payment challenge protocol.
//
// The root package holds the wire types exchanged with resource servers,
// the engine's error taxonomy, the chain registry, and the configuration
// values shared by the subpackages. The engine itself lives in the flow
// package; the funding, sweep, ledger and identity packages hold the
// pieces it orchestrates.
package payflow

import (
	"math/big"
	"strings"
)

// X402Version is the protocol version the engine speaks.
const X402Version = 2

// Header names used by the payment challenge protocol.
const (
	// PaymentHeader carries the base64-encoded signed payment on the
	// retried request.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64-encoded settlement
	// receipt on the final response.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// ResourceInfo describes the protected resource.
type ResourceInfo struct {
	// URL is the URL of the protected resource.
	URL string `json:"url"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`
}

// PaymentRequirements is one acceptable payment option offered by a
// resource server, an element of the "accepts" array of PaymentRequired.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the target ledger network in CAIP-2 format.
	Network string `json:"network"`

	// Amount is the amount owed in atomic units (e.g., wei, lamports,
	// token base units). Always an integer string, never a decimal.
	Amount string `json:"amount"`

	// Asset is the token contract address (EVM) or mint address (SVM).
	Asset string `json:"asset"`

	// PayTo is the payee address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response body sent by resource servers.
type PaymentRequired struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Resource describes the protected resource, when the server sends it.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepts is the list of payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the signed payment a client attaches to the retried
// request. It is immutable once built and valid for a single submission;
// resource servers reject a resubmitted payload as a replay.
type PaymentPayload struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Resource optionally echoes the resource being paid for.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepted is the requirement this payment satisfies, verbatim.
	Accepted PaymentRequirements `json:"accepted"`

	// Payload is the chain-specific signed payment data:
	// SVMPayload for Solana, EVMPayload for EIP-3009 chains.
	Payload interface{} `json:"payload"`
}

// SVMPayload carries a signed Solana transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded signed transaction bytes.
	Transaction string `json:"transaction"`
}

// EVMPayload carries EIP-3009 authorization data for EVM payments.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization contains EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettleResponse is the settlement receipt a resource server returns in
// the X-PAYMENT-RESPONSE header after accepting a payment.
type SettleResponse struct {
	// Success indicates whether the payment settled on-chain.
	Success bool `json:"success"`

	// ErrorReason is a short error code if settlement failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// ErrorMessage is a human-readable message if settlement failed.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Transaction is the on-chain transaction reference.
	Transaction string `json:"transaction"`

	// Network is the network the payment settled on (CAIP-2 format).
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// TokenConfig defines a token a signer is willing to pay with.
type TokenConfig struct {
	// Address is the token contract address (EVM) or mint address (SVM).
	Address string

	// Symbol is the token symbol (e.g., "USDC").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Priority orders tokens within a signer. Lower is preferred.
	Priority int

	// Name is an optional human-readable token name.
	Name string
}

// Capability describes the single scheme/network/asset combination a
// payment flow can satisfy. A flow never negotiates outside its
// capability: a challenge whose options all fall outside it is a
// terminal negotiation failure, not retried with different assets.
type Capability struct {
	// Scheme is the payment scheme the engine can produce (e.g., "exact").
	Scheme string

	// Network is the CAIP-2 network the engine funds and settles on.
	Network string

	// Asset is the token the engine holds at the ephemeral address.
	Asset string
}

// Matches reports whether a requirement is satisfiable by this
// capability. Scheme, network and asset must all match exactly. Asset
// comparison follows the address convention of the network: EVM hex
// addresses compare case-insensitively, base58 addresses byte-for-byte.
func (c Capability) Matches(req *PaymentRequirements) bool {
	if req == nil {
		return false
	}
	if req.Scheme != c.Scheme || req.Network != c.Network {
		return false
	}
	if networkType(c.Network) == NetworkTypeEVM {
		return strings.EqualFold(req.Asset, c.Asset)
	}
	return req.Asset == c.Asset
}

// MatchRequirement returns the first requirement in reqs that the
// capability can satisfy, or nil when none match. It is a pure function
// of its inputs: the same requirement list and capability always select
// the same entry.
func MatchRequirement(reqs []PaymentRequirements, c Capability) *PaymentRequirements {
	for i := range reqs {
		if c.Matches(&reqs[i]) {
			return &reqs[i]
		}
	}
	return nil
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic
// units. For example, "1.5" with 6 decimals becomes 1500000. Returns
// ErrInvalidAmount if the amount is negative, fractional beyond the
// token's precision, or malformed.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
