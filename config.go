package payflow

import (
	"fmt"
	"time"
)

// TimeoutConfig holds the timing policy for a payment flow. The
// confirmation window is a short fixed wait, not exponential backoff:
// the target ledgers reach finality in low single-digit seconds, so a
// transfer that has not confirmed inside the window is treated as
// unconfirmed and the flow moves on to recovery.
type TimeoutConfig struct {
	// ConfirmWindow is the total time to wait for a submitted
	// transaction to confirm.
	ConfirmWindow time.Duration

	// ConfirmInterval is the polling interval within ConfirmWindow.
	ConfirmInterval time.Duration

	// RequestTimeout bounds each individual HTTP request to the
	// resource server.
	RequestTimeout time.Duration

	// FlowTimeout bounds an entire flow when the caller's context
	// carries no deadline of its own.
	FlowTimeout time.Duration
}

// DefaultTimeouts provides the engine's default timing policy.
var DefaultTimeouts = TimeoutConfig{
	ConfirmWindow:   5 * time.Second,
	ConfirmInterval: 500 * time.Millisecond,
	RequestTimeout:  30 * time.Second,
	FlowTimeout:     120 * time.Second,
}

// WithConfirmWindow returns a copy with an updated confirmation window.
func (tc TimeoutConfig) WithConfirmWindow(d time.Duration) TimeoutConfig {
	tc.ConfirmWindow = d
	return tc
}

// WithConfirmInterval returns a copy with an updated polling interval.
func (tc TimeoutConfig) WithConfirmInterval(d time.Duration) TimeoutConfig {
	tc.ConfirmInterval = d
	return tc
}

// WithRequestTimeout returns a copy with an updated request timeout.
func (tc TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	tc.RequestTimeout = d
	return tc
}

// WithFlowTimeout returns a copy with an updated flow timeout.
func (tc TimeoutConfig) WithFlowTimeout(d time.Duration) TimeoutConfig {
	tc.FlowTimeout = d
	return tc
}

// Validate ensures timeout values are coherent.
func (tc TimeoutConfig) Validate() error {
	if tc.ConfirmWindow <= 0 {
		return fmt.Errorf("confirm window must be positive, got %v", tc.ConfirmWindow)
	}
	if tc.ConfirmInterval <= 0 || tc.ConfirmInterval > tc.ConfirmWindow {
		return fmt.Errorf("confirm interval %v must be positive and within the window %v", tc.ConfirmInterval, tc.ConfirmWindow)
	}
	if tc.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", tc.RequestTimeout)
	}
	if tc.FlowTimeout < tc.ConfirmWindow {
		return fmt.Errorf("flow timeout (%v) should be >= confirm window (%v)", tc.FlowTimeout, tc.ConfirmWindow)
	}
	return nil
}

// FundingPlan is the pair of transfer amounts moved into the ephemeral
// address at flow start, in each asset's smallest indivisible unit.
// The amounts are fixed policy constants per flow: they are never
// derived from the server's price quote, and must exceed the minimum
// needed to cover one settlement plus its transaction fee.
type FundingPlan struct {
	// FungibleAmount is the token amount in base units.
	FungibleAmount uint64

	// NativeAmount is the native-asset amount in its smallest unit
	// (lamports). It covers settlement fees and any sub-account rent.
	NativeAmount uint64
}

// Validate rejects plans that cannot fund a settlement.
func (p FundingPlan) Validate() error {
	if p.FungibleAmount == 0 {
		return fmt.Errorf("funding plan fungible amount must be positive")
	}
	if p.NativeAmount == 0 {
		return fmt.Errorf("funding plan native amount must be positive")
	}
	return nil
}
