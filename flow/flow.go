// Package flow runs end-to-end pay-per-call flows: fund an ephemeral
// address from a custodial wallet, negotiate a payment challenge,
// settle the payment, and sweep what remains back.
//
// A flow is single-shot. Each call to FetchWithPayment creates a fresh
// ephemeral identity, drives it through the lifecycle, and destroys it
// before returning. Flows share nothing; callers may run them
// concurrently and the custodial signing step serializes internally.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/custodial"
	"github.com/nacorid/payflow/funding"
	"github.com/nacorid/payflow/identity"
	"github.com/nacorid/payflow/metrics"
	"github.com/nacorid/payflow/sweep"
)

// settlementAttempts bounds how many signed payments a flow will build
// for one challenge. The second attempt exists for anchor expiry; each
// attempt signs a fresh transaction against a fresh block reference.
const settlementAttempts = 2

// sweepGrace is how long a sweep may run after the flow's own context
// has been cancelled. Recovery is not abandoned just because the caller
// stopped waiting.
const sweepGrace = 30 * time.Second

// Funder moves the planned amounts from the custodial wallet to the
// ephemeral address. Implemented by funding.Coordinator.
type Funder interface {
	Fund(ctx context.Context, source, dest solana.PublicKey, plan payflow.FundingPlan, creds custodial.Credentials) (*funding.Receipt, error)
}

// Sweeper returns residual funds to the custodial wallet. Implemented
// by sweep.Coordinator.
type Sweeper interface {
	Sweep(ctx context.Context, id *identity.Ephemeral, destination solana.PublicKey) *sweep.Result
}

// AnchorSource provides fresh block references for payment
// transactions. Implemented by ledger.Gateway.
type AnchorSource interface {
	RecentBlockReference(ctx context.Context) (solana.Hash, error)
}

// Orchestrator drives payment flows. Construct with New; the zero
// value is not usable.
type Orchestrator struct {
	httpClient *http.Client
	anchors    AnchorSource
	funder     Funder
	sweeper    Sweeper

	custodialAddress solana.PublicKey
	decimals         uint8
	timeouts         payflow.TimeoutConfig
	log              *slog.Logger
	onEvent          payflow.FlowCallback

	// newIdentity is swapped in tests to inject entropy failures.
	newIdentity func() (*identity.Ephemeral, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the HTTP client used for resource requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTimeouts overrides the default timeout configuration.
func WithTimeouts(t payflow.TimeoutConfig) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// WithTokenDecimals sets the decimals of the funded token. Defaults to
// 6 (USDC).
func WithTokenDecimals(decimals uint8) Option {
	return func(o *Orchestrator) { o.decimals = decimals }
}

// WithEventCallback registers a callback for flow lifecycle events.
func WithEventCallback(cb payflow.FlowCallback) Option {
	return func(o *Orchestrator) { o.onEvent = cb }
}

// New creates an Orchestrator that funds ephemeral addresses from
// custodialAddress and sweeps residuals back to it.
func New(anchors AnchorSource, funder Funder, sweeper Sweeper, custodialAddress solana.PublicKey, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		httpClient:       http.DefaultClient,
		anchors:          anchors,
		funder:           funder,
		sweeper:          sweeper,
		custodialAddress: custodialAddress,
		decimals:         6,
		timeouts:         payflow.DefaultTimeouts,
		log:              slog.Default(),
		newIdentity:      identity.New,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.anchors == nil || o.funder == nil || o.sweeper == nil {
		return nil, errors.New("flow: anchors, funder and sweeper are required")
	}
	if custodialAddress.IsZero() {
		return nil, errors.New("flow: custodial address is required")
	}
	if err := o.timeouts.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// FetchWithPayment fetches a protected resource, paying for it if
// challenged. It funds a fresh ephemeral address per plan, negotiates
// the 402 challenge against cap, settles, and sweeps residual funds
// back to the custodial wallet before returning. The sweep runs on
// every path, success or failure, including caller cancellation.
//
// On failure the returned error carries a payflow error code and the
// Result still reports the sweep outcome when a sweep was possible.
func (o *Orchestrator) FetchWithPayment(ctx context.Context, req Request, cap payflow.Capability, plan payflow.FundingPlan, creds custodial.Credentials) (*Result, error) {
	start := time.Now()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeouts.FlowTimeout)
		defer cancel()
	}

	rec := &Record{
		ID:        uuid.New(),
		State:     StateCreated,
		CreatedAt: start,
	}
	res := &Result{Record: rec}
	log := o.log.With("flowID", rec.ID, "url", req.URL)

	id, err := o.newIdentity()
	if err != nil {
		// No identity means no funds ever moved; there is nothing to
		// sweep.
		rec.State = StateFailed
		metrics.FlowsTotal.WithLabelValues(string(payflow.CodeOf(err))).Inc()
		metrics.FlowDuration.Observe(time.Since(start).Seconds())
		o.emit(payflow.FlowEvent{Type: payflow.EventFailure, FlowID: rec.ID.String(), URL: req.URL, Error: err})
		return res, err
	}
	defer id.Destroy()
	rec.EphemeralAddress = id.Address()
	log = log.With("ephemeral", rec.EphemeralAddress)

	o.emit(payflow.FlowEvent{
		Type:             payflow.EventFunding,
		FlowID:           rec.ID.String(),
		URL:              req.URL,
		EphemeralAddress: rec.EphemeralAddress,
		Network:          cap.Network,
		Asset:            cap.Asset,
	})
	receipt, err := o.funder.Fund(ctx, o.custodialAddress, id.PublicKey(), plan, creds)
	if err != nil {
		log.Error("funding failed", "error", err)
		return o.finish(ctx, req, cap, id, rec, res, start, o.classifyTimeout(ctx, err))
	}
	rec.State = StateFunded
	rec.FundingSignature = receipt.Signature
	log.Info("ephemeral address funded",
		"signature", receipt.Signature,
		"fungible", receipt.FungibleFunded,
		"native", receipt.NativeFunded,
	)
	o.emit(payflow.FlowEvent{
		Type:             payflow.EventFunded,
		FlowID:           rec.ID.String(),
		URL:              req.URL,
		EphemeralAddress: rec.EphemeralAddress,
		Network:          cap.Network,
		Asset:            cap.Asset,
		Transaction:      receipt.Signature.String(),
		Duration:         time.Since(start),
	})

	neg, err := o.challenge(ctx, req, cap, rec)
	if err != nil {
		log.Error("negotiation failed", "error", err)
		return o.finish(ctx, req, cap, id, rec, res, start, o.classifyTimeout(ctx, err))
	}
	if neg.requirement == nil {
		// The server did not demand payment. Still a success, and the
		// funded amounts still get swept back.
		log.Info("resource returned without payment challenge", "status", neg.statusCode)
		res.Payload = neg.payload
		res.StatusCode = neg.statusCode
		rec.State = StateSettled
		return o.finish(ctx, req, cap, id, rec, res, start, nil)
	}
	rec.State = StateNegotiated
	log.Info("payment requirement matched",
		"amount", neg.requirement.Amount,
		"payTo", neg.requirement.PayTo,
		"network", neg.requirement.Network,
	)
	o.emit(payflow.FlowEvent{
		Type:             payflow.EventNegotiated,
		FlowID:           rec.ID.String(),
		URL:              req.URL,
		EphemeralAddress: rec.EphemeralAddress,
		Network:          neg.requirement.Network,
		Scheme:           neg.requirement.Scheme,
		Amount:           neg.requirement.Amount,
		Asset:            neg.requirement.Asset,
		Recipient:        neg.requirement.PayTo,
	})

	var settleErr error
	for attempt := 1; attempt <= settlementAttempts; attempt++ {
		tx, err := o.buildTransfer(ctx, id, neg.requirement)
		if err != nil {
			settleErr = err
			break
		}
		sp, err := o.signPayment(id, tx, neg.requirement)
		if err != nil {
			settleErr = err
			break
		}
		o.emit(payflow.FlowEvent{
			Type:             payflow.EventSettlementAttempt,
			FlowID:           rec.ID.String(),
			URL:              req.URL,
			EphemeralAddress: rec.EphemeralAddress,
			Network:          neg.requirement.Network,
			Scheme:           neg.requirement.Scheme,
			Amount:           neg.requirement.Amount,
			Asset:            neg.requirement.Asset,
			Recipient:        neg.requirement.PayTo,
		})

		body, status, settlement, err := o.settle(ctx, req, sp, rec)
		if err == nil {
			res.Payload = body
			res.StatusCode = status
			res.Settlement = settlement
			rec.State = StateSettled
			settleErr = nil
			log.Info("payment settled", "status", status, "attempt", attempt)
			o.emit(payflow.FlowEvent{
				Type:             payflow.EventSettled,
				FlowID:           rec.ID.String(),
				URL:              req.URL,
				EphemeralAddress: rec.EphemeralAddress,
				Network:          neg.requirement.Network,
				Scheme:           neg.requirement.Scheme,
				Amount:           neg.requirement.Amount,
				Asset:            neg.requirement.Asset,
				Recipient:        neg.requirement.PayTo,
				Transaction:      settlementReference(settlement),
				Duration:         time.Since(start),
			})
			break
		}
		settleErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < settlementAttempts {
			metrics.SettlementRetries.Inc()
			log.Warn("settlement attempt failed; retrying with fresh payment",
				"attempt", attempt,
				"error", err,
			)
		}
	}
	return o.finish(ctx, req, cap, id, rec, res, start, o.classifyTimeout(ctx, settleErr))
}

// finish runs the unconditional sweep, destroys the identity, records
// metrics, and emits the terminal event. primary is the flow's failure
// cause, nil on success; the sweep outcome never overrides it.
func (o *Orchestrator) finish(ctx context.Context, req Request, cap payflow.Capability, id *identity.Ephemeral, rec *Record, res *Result, start time.Time, primary error) (*Result, error) {
	rec.State = StateSweeping

	// The sweep outlives caller cancellation: stranding funds because
	// the caller stopped waiting would defeat the point of sweeping.
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepGrace)
	defer cancel()

	sres := o.sweeper.Sweep(sweepCtx, id, o.custodialAddress)
	res.Sweep = sres
	id.Destroy()

	if sres.Incomplete {
		// Recorded on the result and the record, never promoted: a flow
		// that already fetched the resource stays successful.
		rec.ResidualFunds = true
		metrics.SweepsIncomplete.Inc()
		o.log.Warn("sweep incomplete; residual funds on ephemeral identity",
			"flowID", rec.ID,
			"ephemeralAddress", rec.EphemeralAddress,
			"error", sres.Err,
		)
	}

	outcome := "settled"
	if primary != nil {
		rec.State = StateFailed
		if code := payflow.CodeOf(primary); code != "" {
			outcome = string(code)
		} else {
			outcome = "error"
		}
	} else {
		rec.State = StateSwept
	}
	metrics.FlowsTotal.WithLabelValues(outcome).Inc()
	metrics.FlowDuration.Observe(time.Since(start).Seconds())

	ev := payflow.FlowEvent{
		FlowID:           rec.ID.String(),
		URL:              req.URL,
		EphemeralAddress: rec.EphemeralAddress,
		Network:          cap.Network,
		Asset:            cap.Asset,
		Transaction:      sres.Signature.String(),
		Duration:         time.Since(start),
	}
	if primary != nil {
		ev.Type = payflow.EventFailure
		ev.Error = primary
		o.log.Error("flow failed",
			"flowID", rec.ID,
			"state", rec.State,
			"outcome", outcome,
			"residualFunds", rec.ResidualFunds,
			"error", primary,
		)
	} else {
		ev.Type = payflow.EventSwept
		o.log.Info("flow complete",
			"flowID", rec.ID,
			"fungibleRecovered", sres.FungibleRecovered,
			"nativeRecovered", sres.NativeRecovered,
			"duration", time.Since(start),
		)
	}
	o.emit(ev)
	return res, primary
}

// classifyTimeout rewrites context expiry into the flow timeout error
// so callers see one code for "the flow ran out of time" regardless of
// which stage the deadline interrupted.
func (o *Orchestrator) classifyTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	// Only the flow's own deadline becomes a timeout failure; a single
	// request timing out keeps its stage-specific classification.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return payflow.NewFlowError(
			payflow.CodeTimeout,
			fmt.Sprintf("flow deadline exceeded after %s", o.timeouts.FlowTimeout),
			fmt.Errorf("%w: %w", payflow.ErrTimeout, err),
		)
	}
	return err
}

func (o *Orchestrator) emit(ev payflow.FlowEvent) {
	if o.onEvent == nil {
		return
	}
	ev.Timestamp = time.Now()
	o.onEvent(ev)
}

func settlementReference(s *payflow.SettleResponse) string {
	if s == nil {
		return ""
	}
	return s.Transaction
}
