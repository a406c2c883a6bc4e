// Package sweep returns residual funds from a flow's ephemeral address
// to the custodial wallet after the flow terminates.
//
// A sweep drains the remaining token balance, closes the then-empty
// token sub-account to reclaim its rent deposit, and drains the native
// balance minus the reserve that pays for the sweep transaction itself.
// Sweeping is best-effort: it runs exactly once per flow regardless of
// outcome, and its own failure never reopens the flow. What it cannot
// recover is logged with the stranded address and amounts for
// out-of-band recovery, because the ephemeral key is gone once the
// process exits.
package sweep

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/identity"
	solutil "github.com/nacorid/payflow/internal/solana"
	"github.com/nacorid/payflow/metrics"
)

// Ledger is the surface the sweeper needs from the ledger gateway.
type Ledger interface {
	TokenAccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	RecentBlockReference(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, signedTx []byte) (solana.Signature, error)
	WaitConfirmed(ctx context.Context, sig solana.Signature) error
}

// Result reports what a sweep recovered. A sweep never fails the flow:
// shortfalls surface as Incomplete with the reason attached.
type Result struct {
	// FungibleRecovered is the token amount returned, in base units.
	FungibleRecovered uint64

	// NativeRecovered is the lamport amount returned, excluding the fee
	// reserve spent on the sweep transaction.
	NativeRecovered uint64

	// RentReclaimed reports whether the token sub-account was closed
	// and its rent deposit returned.
	RentReclaimed bool

	// Signature is the sweep transaction reference, when one was sent.
	Signature solana.Signature

	// Incomplete is set when funds may remain at the ephemeral address.
	Incomplete bool

	// Err is the reason the sweep fell short, when Incomplete.
	Err error
}

// Coordinator sweeps ephemeral addresses.
type Coordinator struct {
	ledger     Ledger
	mint       solana.PublicKey
	decimals   uint8
	feeReserve uint64
	log        *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the sweeper's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithFeeReserve overrides the lamports withheld to pay the sweep
// transaction's own fee.
func WithFeeReserve(lamports uint64) Option {
	return func(c *Coordinator) { c.feeReserve = lamports }
}

// New creates a Coordinator for one token mint.
func New(ledger Ledger, mint solana.PublicKey, decimals uint8, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:     ledger,
		mint:       mint,
		decimals:   decimals,
		feeReserve: solutil.BaseFeeLamports,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Sweep transfers whatever remains at the ephemeral address back to
// destination. It always returns a Result, never an error: callers
// attach the result to the flow outcome without letting it override
// the flow's verdict.
func (c *Coordinator) Sweep(ctx context.Context, id *identity.Ephemeral, destination solana.PublicKey) *Result {
	if id == nil || id.Destroyed() {
		return c.incomplete(solana.PublicKey{}, 0, 0, payflow.ErrIdentityDestroyed)
	}
	source := id.PublicKey()

	fungible, ferr := c.ledger.TokenBalance(ctx, source, c.mint)
	if ferr != nil {
		return c.incomplete(source, 0, 0, ferr)
	}
	native, nerr := c.ledger.NativeBalance(ctx, source)
	if nerr != nil {
		return c.incomplete(source, fungible, 0, nerr)
	}
	subAccountExists, aerr := c.ledger.TokenAccountExists(ctx, source, c.mint)
	if aerr != nil {
		return c.incomplete(source, fungible, native, aerr)
	}

	if fungible == 0 && !subAccountExists && native <= c.feeReserve {
		// Nothing recoverable. Whatever dust is below the fee reserve
		// stays behind; flag it so the caller records the residue.
		return c.incomplete(source, fungible, native, payflow.ErrSweepIncomplete)
	}

	instructions, reclaimRent, err := c.buildInstructions(source, destination, fungible, native, subAccountExists)
	if err != nil {
		return c.incomplete(source, fungible, native, err)
	}

	anchor, err := c.ledger.RecentBlockReference(ctx)
	if err != nil {
		return c.incomplete(source, fungible, native, err)
	}

	tx, err := solana.NewTransaction(instructions, anchor, solana.TransactionPayer(source))
	if err != nil {
		return c.incomplete(source, fungible, native, err)
	}
	if err := id.SignTransaction(tx); err != nil {
		return c.incomplete(source, fungible, native, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return c.incomplete(source, fungible, native, err)
	}

	sig, err := c.ledger.Submit(ctx, raw)
	if err != nil {
		return c.incomplete(source, fungible, native, err)
	}
	if err := c.ledger.WaitConfirmed(ctx, sig); err != nil {
		res := c.incomplete(source, fungible, native, err)
		res.Signature = sig
		return res
	}

	nativeRecovered := uint64(0)
	if native > c.feeReserve {
		nativeRecovered = native - c.feeReserve
	}

	c.log.Info("sweep complete",
		"source", source.String(),
		"destination", destination.String(),
		"signature", sig.String(),
		"fungibleRecovered", fungible,
		"nativeRecovered", nativeRecovered,
		"rentReclaimed", reclaimRent,
	)

	return &Result{
		FungibleRecovered: fungible,
		NativeRecovered:   nativeRecovered,
		RentReclaimed:     reclaimRent,
		Signature:         sig,
	}
}

// buildInstructions assembles the sweep transaction: drain the token
// balance, close the empty sub-account for its rent, drain lamports
// minus the fee reserve.
func (c *Coordinator) buildInstructions(source, destination solana.PublicKey, fungible, native uint64, subAccountExists bool) ([]solana.Instruction, bool, error) {
	var instructions []solana.Instruction
	reclaimRent := false

	if subAccountExists {
		sourceATA, err := solutil.DeriveAssociatedTokenAddress(source, c.mint)
		if err != nil {
			return nil, false, err
		}

		if fungible > 0 {
			destATA, err := solutil.DeriveAssociatedTokenAddress(destination, c.mint)
			if err != nil {
				return nil, false, err
			}
			instructions = append(instructions,
				solutil.BuildTransferCheckedInstruction(sourceATA, c.mint, destATA, source, fungible, c.decimals))
		}

		// The account is empty after the transfer above; closing it
		// sends the rent deposit straight to the custodial wallet.
		instructions = append(instructions,
			solutil.BuildCloseAccountInstruction(sourceATA, destination, source))
		reclaimRent = true
	}

	if native > c.feeReserve {
		instructions = append(instructions,
			solutil.BuildSystemTransferInstruction(source, destination, native-c.feeReserve))
	}

	if len(instructions) == 0 {
		return nil, false, payflow.ErrSweepIncomplete
	}
	return instructions, reclaimRent, nil
}

// incomplete builds the non-fatal shortfall result and logs the
// stranded state for out-of-band recovery.
func (c *Coordinator) incomplete(source solana.PublicKey, fungible, native uint64, cause error) *Result {
	addr := source.String()
	if source.IsZero() {
		addr = "unknown"
	}
	c.log.Warn("sweep incomplete; funds may be stranded",
		"ephemeralAddress", addr,
		"lastKnownFungible", fungible,
		"lastKnownNative", native,
		"err", cause,
	)
	metrics.StrandedNative.Add(float64(native))
	return &Result{
		Incomplete: true,
		Err: payflow.NewFlowError(payflow.CodeSweepIncomplete, "sweep incomplete", payflow.ErrSweepIncomplete).
			WithDetails("ephemeralAddress", addr).
			WithDetails("lastKnownFungible", fungible).
			WithDetails("lastKnownNative", native).
			WithDetails("cause", cause.Error()),
	}
}
