// Package ledger is the engine's thin read/submit interface to the
// distributed ledger: balance queries, recent block references,
// transaction submission and confirmation polling.
//
// The gateway classifies failures as transient (ErrNetworkError,
// retryable by the caller) or rejections (ErrLedgerRejected, not
// retryable) and never retries internally, so idempotency stays under
// the orchestration layer's control.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/nacorid/payflow"
	solutil "github.com/nacorid/payflow/internal/solana"
)

// RPCClient is the subset of Solana RPC operations the gateway needs.
// Narrowed for dependency injection in tests.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendRawTransactionWithOpts(ctx context.Context, transaction []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Gateway reads from and submits to one Solana network.
type Gateway struct {
	client          RPCClient
	log             *slog.Logger
	confirmWindow   time.Duration
	confirmInterval time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRPCClient sets a custom RPC client.
func WithRPCClient(client RPCClient) Option {
	return func(g *Gateway) { g.client = client }
}

// WithLogger sets the gateway's logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithConfirmWindow sets the total confirmation polling window.
func WithConfirmWindow(d time.Duration) Option {
	return func(g *Gateway) { g.confirmWindow = d }
}

// WithConfirmInterval sets the confirmation polling interval.
func WithConfirmInterval(d time.Duration) Option {
	return func(g *Gateway) { g.confirmInterval = d }
}

// New creates a Gateway for a CAIP-2 Solana network. Without
// WithRPCClient the network's public RPC endpoint is used.
func New(network string, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		confirmWindow:   payflow.DefaultTimeouts.ConfirmWindow,
		confirmInterval: payflow.DefaultTimeouts.ConfirmInterval,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		url, err := solutil.GetRPCURL(network)
		if err != nil {
			return nil, err
		}
		g.client = rpc.New(url)
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g, nil
}

// NativeBalance returns the lamport balance of an address.
func (g *Gateway) NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := g.client.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classify("get balance", err)
	}
	return out.Value, nil
}

// TokenBalance returns the base-unit balance of mint held by owner's
// associated token account. A missing token account reads as zero.
func (g *Gateway) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, err := solutil.DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}

	out, err := g.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isMissingAccount(err) {
			return 0, nil
		}
		return 0, classify("get token balance", err)
	}
	if out.Value == nil {
		return 0, nil
	}

	amount, convErr := strconv.ParseUint(out.Value.Amount, 10, 64)
	if convErr != nil {
		return 0, payflow.NewFlowError(payflow.CodeNetworkError, "malformed token balance from RPC", convErr)
	}
	return amount, nil
}

// TokenAccountExists reports whether owner's associated token account
// for mint exists on-chain. Funding uses this to decide whether the
// instruction set needs a sub-account creation step.
func (g *Gateway) TokenAccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	ata, err := solutil.DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, err
	}

	_, err = g.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if isMissingAccount(err) {
			return false, nil
		}
		return false, classify("get token account", err)
	}
	return true, nil
}

// RecentBlockReference fetches a fresh blockhash to anchor a new
// transaction's validity window. Block references expire within a
// bounded window, so callers must fetch one immediately before signing
// rather than reusing an earlier anchor.
func (g *Gateway) RecentBlockReference(ctx context.Context) (solana.Hash, error) {
	out, err := g.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, classify("get latest blockhash", err)
	}
	return out.Value.Blockhash, nil
}

// Submit sends raw signed transaction bytes to the ledger and returns
// the submission signature. Preflight is skipped: the caller observes
// the outcome through WaitConfirmed and balance re-reads, which also
// covers transactions that fail only at execution time.
func (g *Gateway) Submit(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	sig, err := g.client.SendRawTransactionWithOpts(ctx, signedTx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, classify("send transaction", err)
	}
	return sig, nil
}

// WaitConfirmed polls the submission's status within the gateway's
// fixed confirmation window. Returns nil once the transaction is
// confirmed or finalized, ErrLedgerRejected if it failed on-chain, and
// ErrUnconfirmed when the window elapses first.
func (g *Gateway) WaitConfirmed(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, g.confirmWindow)
	defer cancel()

	ticker := time.NewTicker(g.confirmInterval)
	defer ticker.Stop()

	for {
		out, err := g.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on-chain (%v): %w", sig, status.Err, payflow.ErrLedgerRejected)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		} else if err != nil && ctx.Err() == nil {
			g.log.Debug("signature status poll failed", "signature", sig.String(), "err", err)
		}

		select {
		case <-ctx.Done():
			return payflow.ErrUnconfirmed
		case <-ticker.C:
		}
	}
}

// ConfirmWindow returns the gateway's confirmation polling window.
func (g *Gateway) ConfirmWindow() time.Duration {
	return g.confirmWindow
}

// ConfirmInterval returns the gateway's confirmation polling interval.
func (g *Gateway) ConfirmInterval() time.Duration {
	return g.confirmInterval
}

// classify maps an RPC failure onto the engine's error taxonomy. A
// structured JSON-RPC error is the node rejecting the request; anything
// else is transport trouble and retryable.
func classify(op string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: rpc %d %s: %w", op, rpcErr.Code, rpcErr.Message, payflow.ErrLedgerRejected)
	}
	return fmt.Errorf("%s: %v: %w", op, err, payflow.ErrNetworkError)
}

// isMissingAccount detects the RPC error for a token account that does
// not exist yet.
func isMissingAccount(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "could not find account")
}
