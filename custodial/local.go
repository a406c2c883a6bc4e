package custodial

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/nacorid/payflow"
)

// Submitter submits raw signed transaction bytes to the ledger. The
// ledger gateway satisfies it.
type Submitter interface {
	Submit(ctx context.Context, signedTx []byte) (solana.Signature, error)
}

// LocalWallet is a Collaborator backed by a locally held keypair. It
// stands in for the remote custodial service in tests, examples, and
// deployments where the operator custodies the source key themselves.
// Credentials are accepted and ignored.
type LocalWallet struct {
	key       solana.PrivateKey
	pub       solana.PublicKey
	submitter Submitter
}

// NewLocalWallet creates a LocalWallet from a base58-encoded private
// key and a submitter for the signed result.
func NewLocalWallet(privateKeyBase58 string, submitter Submitter) (*LocalWallet, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, payflow.ErrInvalidKey
	}
	return NewLocalWalletFromKey(key, submitter), nil
}

// NewLocalWalletFromKey creates a LocalWallet from an existing key.
func NewLocalWalletFromKey(key solana.PrivateKey, submitter Submitter) *LocalWallet {
	return &LocalWallet{
		key:       key,
		pub:       key.PublicKey(),
		submitter: submitter,
	}
}

// Address returns the wallet's public key.
func (w *LocalWallet) Address() solana.PublicKey {
	return w.pub
}

// Prepare implements Collaborator.
func (w *LocalWallet) Prepare(ctx context.Context, source solana.PublicKey, instructions []solana.Instruction, anchor solana.Hash) ([]byte, error) {
	if !source.Equals(w.pub) {
		return nil, fmt.Errorf("source %s is not this wallet: %w", source, payflow.ErrInvalidKey)
	}

	tx, err := solana.NewTransaction(instructions, anchor, solana.TransactionPayer(source))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}
	return tx.Message.MarshalBinary()
}

// SignAndSubmit implements Collaborator.
func (w *LocalWallet) SignAndSubmit(ctx context.Context, unsignedPayload []byte, _ Credentials) (solana.Signature, error) {
	var msg solana.Message
	if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(unsignedPayload)); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to decode prepared payload: %w", err)
	}

	tx := &solana.Transaction{Message: msg}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.pub) {
			return &w.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("custodial signing failed: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return w.submitter.Submit(ctx, raw)
}
