// Package svm provides a Solana signer for direct payment of x402
// challenges from a long-lived wallet, without the ephemeral funding
// lifecycle. It is the low-level alternative to the flow package for
// callers who accept spending from a persistent key.
package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/nacorid/payflow"
	solutil "github.com/nacorid/payflow/internal/solana"
)

// RPCClient is the slice of Solana RPC the signer needs. It allows
// injecting a fake in tests.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// Signer implements payflow.Signer for Solana networks.
type Signer struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    string // CAIP-2
	tokens     []payflow.TokenConfig
	priority   int
	maxAmount  *big.Int
	rpcClient  RPCClient
}

// Option configures a Signer.
type Option func(*Signer) error

// NewSigner creates a Solana signer from a base58-encoded private key.
func NewSigner(network string, privateKeyBase58 string, tokens []payflow.TokenConfig, opts ...Option) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, payflow.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, tokens, opts...)
}

// NewSignerFromKey creates a Solana signer from an existing private key.
func NewSignerFromKey(network string, key solana.PrivateKey, tokens []payflow.TokenConfig, opts ...Option) (*Signer, error) {
	networkType, err := payflow.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != payflow.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: expected Solana network, got %s", payflow.ErrInvalidNetwork, network)
	}
	if len(tokens) == 0 {
		return nil, payflow.ErrInvalidToken
	}

	s := &Signer{
		privateKey: key,
		publicKey:  key.PublicKey(),
		network:    network,
		tokens:     tokens,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewSignerFromKeygenFile creates a Solana signer from a solana-keygen
// JSON file: a JSON array of the 64 ed25519 private key bytes.
func NewSignerFromKeygenFile(network string, path string, tokens []payflow.TokenConfig, opts ...Option) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payflow.ErrInvalidKey, err)
	}

	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", payflow.ErrInvalidKey)
	}
	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("%w: invalid key length (expected 64 bytes)", payflow.ErrInvalidKey)
	}
	return NewSignerFromKey(network, solana.PrivateKey(keyBytes), tokens, opts...)
}

// WithMaxAmount sets the maximum amount per payment.
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		s.maxAmount = amount
		return nil
	}
}

// WithPriority sets the signer priority. Lower is preferred.
func WithPriority(priority int) Option {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithRPCClient sets a custom RPC client.
func WithRPCClient(client RPCClient) Option {
	return func(s *Signer) error {
		s.rpcClient = client
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
	// Base58 addresses compare byte-for-byte.
	for _, token := range s.tokens {
		if token.Address == requirements.Asset {
			return true
		}
	}
	return false
}

// Sign creates a signed PaymentPayload for the given requirements. The
// transaction is partially signed: the fee payer named in the
// requirement's extra data adds its signature server-side.
func (s *Signer) Sign(requirements *payflow.PaymentRequirements) (*payflow.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, payflow.ErrNoValidSigner
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(requirements.Amount, 10); !ok {
		return nil, payflow.ErrInvalidAmount
	}
	if amount.Sign() <= 0 {
		return nil, payflow.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, payflow.ErrAmountExceeded
	}
	maxUint64 := new(big.Int).SetUint64(^uint64(0))
	if amount.Cmp(maxUint64) > 0 {
		return nil, payflow.ErrAmountExceeded
	}

	mintAddress, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	var decimals uint8
	var found bool
	for _, token := range s.tokens {
		if token.Address == requirements.Asset {
			if token.Decimals < 0 || token.Decimals > 255 {
				return nil, fmt.Errorf("%w: invalid token decimals %d", payflow.ErrInvalidToken, token.Decimals)
			}
			decimals = uint8(token.Decimals)
			found = true
			break
		}
	}
	if !found {
		return nil, payflow.ErrInvalidToken
	}

	feePayer, err := extractFeePayer(requirements)
	if err != nil {
		return nil, fmt.Errorf("invalid fee payer: %w", err)
	}

	client := s.rpcClient
	if client == nil {
		rpcURL, err := solutil.GetRPCURL(s.network)
		if err != nil {
			return nil, fmt.Errorf("failed to get RPC URL: %w", err)
		}
		client = rpc.New(rpcURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), payflow.DefaultTimeouts.RequestTimeout)
	defer cancel()
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	txBase64, err := buildPartiallySignedTransfer(
		s.privateKey,
		s.publicKey,
		mintAddress,
		recipient,
		amount.Uint64(),
		decimals,
		feePayer,
		recent.Value.Blockhash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	return &payflow.PaymentPayload{
		X402Version: payflow.X402Version,
		Accepted:    *requirements,
		Payload: payflow.SVMPayload{
			Transaction: txBase64,
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

// Address returns the signer's public key.
func (s *Signer) Address() solana.PublicKey {
	return s.publicKey
}

// extractFeePayer reads the sponsoring fee payer from the requirement's
// extra data, where the exact scheme on Solana carries it.
func extractFeePayer(requirements *payflow.PaymentRequirements) (solana.PublicKey, error) {
	if requirements.Extra == nil {
		return solana.PublicKey{}, fmt.Errorf("missing extra field in requirements")
	}
	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("feePayer not found or not a string in extra field")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid feePayer address: %w", err)
	}
	return feePayer, nil
}

// buildPartiallySignedTransfer creates an SPL token transfer signed
// only by the paying wallet. The fee payer slot is left for the
// sponsor's signature.
func buildPartiallySignedTransfer(
	clientPrivateKey solana.PrivateKey,
	clientPublicKey solana.PublicKey,
	mint solana.PublicKey,
	recipient solana.PublicKey,
	amount uint64,
	decimals uint8,
	feePayer solana.PublicKey,
	blockhash solana.Hash,
) (string, error) {
	sourceATA, err := solutil.DeriveAssociatedTokenAddress(clientPublicKey, mint)
	if err != nil {
		return "", fmt.Errorf("failed to find source ATA: %w", err)
	}
	destATA, err := solutil.DeriveAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return "", fmt.Errorf("failed to find destination ATA: %w", err)
	}

	// The fee payer sponsors rent for the destination token account.
	createATAInstruction, err := solutil.BuildCreateIdempotentATAInstruction(feePayer, recipient, mint)
	if err != nil {
		return "", fmt.Errorf("failed to build ATA creation instruction: %w", err)
	}

	instructions := []solana.Instruction{
		solutil.BuildSetComputeUnitLimitInstruction(solutil.DefaultComputeUnits),
		solutil.BuildSetComputeUnitPriceInstruction(solutil.DefaultComputeUnitPrice),
		createATAInstruction,
		solutil.BuildTransferCheckedInstruction(sourceATA, mint, destATA, clientPublicKey, amount, decimals),
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	// Sign only with the client key; the fee payer signature slot
	// stays empty for the sponsor.
	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(clientPublicKey) {
			return &clientPrivateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(txBytes), nil
}
