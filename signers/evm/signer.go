// Package evm provides an EVM signer for direct payment of x402
// challenges via EIP-3009 transfer authorizations.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/internal/eip3009"
)

// Signer implements payflow.Signer for EVM networks. Payments are
// EIP-3009 transferWithAuthorization signatures; no transaction is
// sent by the client and no gas is spent from the signing key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    string
	chainID    int64
	tokens     []payflow.TokenConfig
	priority   int
	maxAmount  *big.Int
}

// Option configures a Signer.
type Option func(*Signer) error

// NewSigner creates an EVM signer from a hex-encoded private key.
func NewSigner(network string, privateKeyHex string, tokens []payflow.TokenConfig, opts ...Option) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, payflow.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, tokens, opts...)
}

// NewSignerFromKey creates an EVM signer from an existing private key.
func NewSignerFromKey(network string, key *ecdsa.PrivateKey, tokens []payflow.TokenConfig, opts ...Option) (*Signer, error) {
	s := &Signer{
		privateKey: key,
		network:    network,
		tokens:     tokens,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.address = crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := GetChainID(network)
	if err != nil {
		return nil, err
	}
	s.chainID = chainID
	return s, nil
}

// WithPriority sets the signer priority. Lower is preferred.
func WithPriority(priority int) Option {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmount sets the maximum amount per payment.
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		s.maxAmount = amount
		return nil
	}
}

// Network returns the CAIP-2 network identifier.
func (s *Signer) Network() string {
	return s.network
}

// Scheme returns the payment scheme identifier.
func (s *Signer) Scheme() string {
	return "exact"
}

// CanSign reports whether this signer can satisfy the requirements.
func (s *Signer) CanSign(requirements *payflow.PaymentRequirements) bool {
	if requirements == nil {
		return false
	}
	if requirements.Scheme != "exact" || requirements.Network != s.network {
		return false
	}
	// Hex addresses compare case-insensitively.
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, requirements.Asset) {
			return true
		}
	}
	return false
}

// Sign creates a signed PaymentPayload for the given requirements.
func (s *Signer) Sign(requirements *payflow.PaymentRequirements) (*payflow.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, payflow.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return nil, payflow.ErrInvalidAmount
	}
	if amount.Sign() <= 0 {
		return nil, payflow.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, payflow.ErrAmountExceeded
	}

	var tokenAddress common.Address
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, requirements.Asset) {
			tokenAddress = common.HexToAddress(token.Address)
			break
		}
	}

	name, version, err := extractEIP3009Params(requirements)
	if err != nil {
		return nil, err
	}

	auth, err := eip3009.NewAuthorization(
		s.address,
		common.HexToAddress(requirements.PayTo),
		amount,
		time.Duration(requirements.MaxTimeoutSeconds)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	signature, err := eip3009.Sign(s.privateKey, tokenAddress, big.NewInt(s.chainID), auth, name, version)
	if err != nil {
		return nil, err
	}

	return &payflow.PaymentPayload{
		X402Version: payflow.X402Version,
		Accepted:    *requirements,
		Payload: payflow.EVMPayload{
			Signature: signature,
			Authorization: payflow.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       common.BytesToHash(auth.Nonce[:]).Hex(),
			},
		},
	}, nil
}

// GetPriority returns the signer's priority level.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens returns the tokens this signer will pay with.
func (s *Signer) GetTokens() []payflow.TokenConfig {
	return s.tokens
}

// GetMaxAmount returns the per-payment spending limit, or nil.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// GetChainID maps a CAIP-2 eip155 network to its numeric chain ID.
func GetChainID(network string) (int64, error) {
	switch network {
	case payflow.NetworkBase:
		return 8453, nil
	case payflow.NetworkBaseSepolia:
		return 84532, nil
	case payflow.NetworkEthereum:
		return 1, nil
	case payflow.NetworkSepolia:
		return 11155111, nil
	case "eip155:137":
		return 137, nil
	case "eip155:80002":
		return 80002, nil
	case "eip155:43114":
		return 43114, nil
	case "eip155:43113":
		return 43113, nil
	default:
		return 0, payflow.ErrInvalidNetwork
	}
}

func extractEIP3009Params(requirements *payflow.PaymentRequirements) (name, version string, err error) {
	if requirements.Extra == nil {
		return "", "", fmt.Errorf("missing EIP-3009 parameters: Extra field is nil")
	}

	nameVal, ok := requirements.Extra["name"]
	if !ok {
		return "", "", fmt.Errorf("missing EIP-3009 parameter: name")
	}
	name, ok = nameVal.(string)
	if !ok {
		return "", "", fmt.Errorf("invalid EIP-3009 parameter: name is not a string")
	}

	versionVal, ok := requirements.Extra["version"]
	if !ok {
		return "", "", fmt.Errorf("missing EIP-3009 parameter: version")
	}
	version, ok = versionVal.(string)
	if !ok {
		return "", "", fmt.Errorf("invalid EIP-3009 parameter: version is not a string")
	}

	return name, version, nil
}
