// Package funding moves a bounded amount of a token and the network's
// native asset from the custodial wallet into a flow's ephemeral
// address.
//
// One funding transaction carries the whole instruction set: the
// ephemeral address's token sub-account creation when needed, the token
// transfer, and the native transfer that covers settlement fees. After
// the transaction confirms, the coordinator re-reads the destination
// balances directly before declaring funding complete, guarding against
// read-after-write lag on the ledger endpoint the negotiation step will
// use next.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/custodial"
	solutil "github.com/nacorid/payflow/internal/solana"
)

// Ledger is the read surface the coordinator needs from the ledger
// gateway.
type Ledger interface {
	TokenAccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	RecentBlockReference(ctx context.Context) (solana.Hash, error)
	WaitConfirmed(ctx context.Context, sig solana.Signature) error
}

// Receipt records what a completed funding moved.
type Receipt struct {
	// Signature is the funding transaction's submission reference.
	Signature solana.Signature

	// FungibleFunded and NativeFunded are the observed destination
	// balances after funding, in base units and lamports.
	FungibleFunded uint64
	NativeFunded   uint64

	// CreatedTokenAccount reports whether funding had to create the
	// ephemeral address's token sub-account.
	CreatedTokenAccount bool
}

// Coordinator funds ephemeral addresses from the custodial wallet.
type Coordinator struct {
	ledger   Ledger
	signer   *custodial.SerializedSigner
	mint     solana.PublicKey
	decimals uint8
	log      *slog.Logger

	verifyWindow   time.Duration
	verifyInterval time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithVerifyWindow sets the post-confirmation balance re-read window.
func WithVerifyWindow(window, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.verifyWindow = window
		c.verifyInterval = interval
	}
}

// New creates a Coordinator for one token mint. All custodial signing
// goes through signer, which serializes requests across flows.
func New(ledger Ledger, signer *custodial.SerializedSigner, mint solana.PublicKey, decimals uint8, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:         ledger,
		signer:         signer,
		mint:           mint,
		decimals:       decimals,
		verifyWindow:   payflow.DefaultTimeouts.ConfirmWindow,
		verifyInterval: payflow.DefaultTimeouts.ConfirmInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Fund moves plan's amounts from source into dest. On success the
// returned receipt reflects balances observed at dest, not just
// transaction confirmation. Failure is either ErrFundingRejected (the
// ledger refused the transaction) or ErrFundingUnconfirmed (the
// transfers were not observable in time; whatever landed is left for
// the sweep to recover).
func (c *Coordinator) Fund(ctx context.Context, source, dest solana.PublicKey, plan payflow.FundingPlan, creds custodial.Credentials) (*Receipt, error) {
	if err := plan.Validate(); err != nil {
		return nil, payflow.NewFlowError(payflow.CodeFundingRejected, "invalid funding plan", err)
	}

	exists, err := c.ledger.TokenAccountExists(ctx, dest, c.mint)
	if err != nil {
		return nil, payflow.NewFlowError(payflow.CodeFundingUnconfirmed, "failed to inspect destination sub-account", err)
	}

	instructions, err := c.buildInstructions(source, dest, plan, !exists)
	if err != nil {
		return nil, payflow.NewFlowError(payflow.CodeFundingRejected, "failed to build funding instructions", err)
	}

	anchor, err := c.ledger.RecentBlockReference(ctx)
	if err != nil {
		return nil, payflow.NewFlowError(payflow.CodeFundingUnconfirmed, "failed to fetch funding anchor", err)
	}

	sig, err := c.signer.Submit(ctx, source, instructions, anchor, creds)
	if err != nil {
		if errors.Is(err, payflow.ErrLedgerRejected) {
			return nil, payflow.NewFlowError(payflow.CodeFundingRejected, "ledger rejected funding transaction", payflow.ErrFundingRejected).
				WithDetails("cause", err.Error())
		}
		return nil, payflow.NewFlowError(payflow.CodeFundingUnconfirmed, "custodial signing did not complete", payflow.ErrFundingUnconfirmed).
			WithDetails("cause", err.Error())
	}

	if err := c.ledger.WaitConfirmed(ctx, sig); err != nil {
		if errors.Is(err, payflow.ErrLedgerRejected) {
			return nil, payflow.NewFlowError(payflow.CodeFundingRejected, "funding transaction failed on-chain", payflow.ErrFundingRejected).
				WithDetails("signature", sig.String()).
				WithDetails("cause", err.Error())
		}
		return nil, payflow.NewFlowError(payflow.CodeFundingUnconfirmed, "funding transaction not confirmed", payflow.ErrFundingUnconfirmed).
			WithDetails("signature", sig.String())
	}

	// Confirmation is necessary but not sufficient: the balances must be
	// visible on the read path before the flow proceeds.
	fungible, native, err := c.verifyBalances(ctx, dest, plan)
	if err != nil {
		return nil, err
	}

	c.log.Info("funding complete",
		"dest", dest.String(),
		"signature", sig.String(),
		"fungible", fungible,
		"native", native,
		"createdSubAccount", !exists,
	)

	return &Receipt{
		Signature:           sig,
		FungibleFunded:      fungible,
		NativeFunded:        native,
		CreatedTokenAccount: !exists,
	}, nil
}

func (c *Coordinator) buildInstructions(source, dest solana.PublicKey, plan payflow.FundingPlan, createSubAccount bool) ([]solana.Instruction, error) {
	sourceATA, err := solutil.DeriveAssociatedTokenAddress(source, c.mint)
	if err != nil {
		return nil, err
	}
	destATA, err := solutil.DeriveAssociatedTokenAddress(dest, c.mint)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if createSubAccount {
		// Rent for the new sub-account is fronted by the custodial
		// wallet and reclaimed when the sweep closes the account.
		create, err := solutil.BuildCreateIdempotentATAInstruction(source, dest, c.mint)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, create)
	}

	instructions = append(instructions,
		solutil.BuildTransferCheckedInstruction(sourceATA, c.mint, destATA, source, plan.FungibleAmount, c.decimals),
		solutil.BuildSystemTransferInstruction(source, dest, plan.NativeAmount),
	)
	return instructions, nil
}

// verifyBalances re-reads the destination's balances until both reach
// the planned amounts or the window elapses. The reads for the two
// assets run concurrently on each attempt.
func (c *Coordinator) verifyBalances(ctx context.Context, dest solana.PublicKey, plan payflow.FundingPlan) (uint64, uint64, error) {
	deadline := time.Now().Add(c.verifyWindow)

	var fungible, native uint64
	for {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			fungible, err = c.ledger.TokenBalance(gctx, dest, c.mint)
			return err
		})
		g.Go(func() error {
			var err error
			native, err = c.ledger.NativeBalance(gctx, dest)
			return err
		})

		if err := g.Wait(); err == nil &&
			fungible >= plan.FungibleAmount && native >= plan.NativeAmount {
			return fungible, native, nil
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			return 0, 0, payflow.NewFlowError(payflow.CodeFundingUnconfirmed,
				fmt.Sprintf("destination balances did not reach plan within %v", c.verifyWindow),
				payflow.ErrFundingUnconfirmed).
				WithDetails("dest", dest.String()).
				WithDetails("fungibleObserved", fungible).
				WithDetails("nativeObserved", native)
		}

		select {
		case <-ctx.Done():
			return 0, 0, payflow.NewFlowError(payflow.CodeFundingUnconfirmed, "funding verification cancelled", payflow.ErrFundingUnconfirmed)
		case <-time.After(c.verifyInterval):
		}
	}
}
