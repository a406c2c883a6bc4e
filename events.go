package payflow

import "time"

// FlowEventType represents the lifecycle stage a flow event reports.
type FlowEventType string

const (
	// EventFunding indicates a funding attempt has started.
	EventFunding FlowEventType = "funding"

	// EventFunded indicates the ephemeral address is funded.
	EventFunded FlowEventType = "funded"

	// EventNegotiated indicates a payment requirement was matched.
	EventNegotiated FlowEventType = "negotiated"

	// EventSettlementAttempt indicates a signed payment is being
	// submitted to the resource server.
	EventSettlementAttempt FlowEventType = "settlement_attempt"

	// EventSettled indicates the resource server accepted the payment.
	EventSettled FlowEventType = "settled"

	// EventSwept indicates residual funds were returned to the
	// custodial wallet.
	EventSwept FlowEventType = "swept"

	// EventFailure indicates the flow failed.
	EventFailure FlowEventType = "failure"
)

// FlowEvent is a payment flow lifecycle notification. Events carry the
// same data regardless of which stage emits them; fields not relevant
// to a stage are zero.
type FlowEvent struct {
	// Type is the lifecycle stage.
	Type FlowEventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// FlowID identifies the flow emitting the event.
	FlowID string

	// URL is the resource being fetched.
	URL string

	// Network, Scheme, Amount, Asset and Recipient describe the matched
	// payment requirement, once one exists.
	Network   string
	Scheme    string
	Amount    string
	Asset     string
	Recipient string

	// EphemeralAddress is the flow's single-use funding address.
	EphemeralAddress string

	// Transaction is an on-chain transaction reference, when available.
	Transaction string

	// Error carries failure details on EventFailure.
	Error error

	// Duration is the elapsed time for the stage.
	Duration time.Duration
}

// FlowCallback handles flow events. Callbacks run synchronously inside
// the flow; keep them fast and move slow work onto a goroutine.
type FlowCallback func(FlowEvent)
