package flow

import (
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/sweep"
)

// State is a flow's position in its lifecycle.
type State string

const (
	// StateCreated: the ephemeral identity exists, nothing is funded.
	StateCreated State = "created"

	// StateFunded: the ephemeral address holds the planned amounts.
	StateFunded State = "funded"

	// StateNegotiated: a payment requirement matched the capability.
	StateNegotiated State = "negotiated"

	// StateSettled: the resource server accepted the payment.
	StateSettled State = "settled"

	// StateSweeping: residual funds are being returned.
	StateSweeping State = "sweeping"

	// StateSwept: terminal success.
	StateSwept State = "swept"

	// StateFailed: terminal failure. The sweep still ran.
	StateFailed State = "failed"
)

// Request describes the resource fetch a flow performs. The body is
// held as bytes so the request can be replayed verbatim on the settled
// retry.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Record is a flow's private state. It is created at flow start,
// mutated only by the orchestrator, and discarded once the caller has
// consumed the result; nothing about a flow persists across flows.
type Record struct {
	// ID identifies the flow in logs and events.
	ID uuid.UUID

	// State is the flow's current lifecycle position.
	State State

	// CreatedAt is when the flow started.
	CreatedAt time.Time

	// EphemeralAddress is the flow's single-use funding address.
	EphemeralAddress string

	// FundingSignature references the funding transaction, once sent.
	FundingSignature solana.Signature

	// ChallengeCount counts requests sent without a payment header.
	ChallengeCount int

	// SettlementSubmissions counts requests sent with a payment header.
	// Each submission carries a distinct signed payment; a signed
	// payment is never submitted twice.
	SettlementSubmissions int

	// ResidualFunds is set when the sweep could not fully recover the
	// ephemeral address's balances.
	ResidualFunds bool
}

// Result is what a completed flow hands back to the caller. No partial
// results are exposed mid-flow.
type Result struct {
	// Payload is the fetched resource body, on success.
	Payload []byte

	// StatusCode is the final response's HTTP status.
	StatusCode int

	// Settlement is the server's settlement receipt, when provided.
	Settlement *payflow.SettleResponse

	// Sweep reports what the recovery step returned to the custodial
	// wallet. Always present: the sweep runs on every path.
	Sweep *sweep.Result

	// Record is the flow's final state.
	Record *Record
}
