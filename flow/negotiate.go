package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/identity"
	solutil "github.com/nacorid/payflow/internal/solana"
)

// maxBodySize caps how much of a response body the negotiator reads.
const maxBodySize = 10 << 20

// negotiation is the outcome of the challenge request. Either the
// resource came back without a payment demand (payload set) or a
// requirement matched the flow's capability (requirement set).
type negotiation struct {
	payload     []byte
	statusCode  int
	requirement *payflow.PaymentRequirements
}

// challenge performs the initial resource fetch without a payment
// header and interprets the response. A non-402 response ends the
// negotiation immediately: the resource either came back free or
// failed for reasons payment cannot fix.
func (o *Orchestrator) challenge(ctx context.Context, req Request, cap payflow.Capability, rec *Record) (*negotiation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeouts.RequestTimeout)
	defer cancel()

	httpReq, err := buildHTTPRequest(ctx, req, "")
	if err != nil {
		return nil, err
	}
	rec.ChallengeCount++

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("challenge request: %w: %w", payflow.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading challenge response: %w: %w", payflow.ErrNetworkError, err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return &negotiation{payload: body, statusCode: resp.StatusCode}, nil
	}

	var pr payflow.PaymentRequired
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, payflow.NewFlowError(
			payflow.CodeInvalidRequirements,
			"malformed payment required response",
			fmt.Errorf("%w: %w", payflow.ErrInvalidRequirements, err),
		)
	}
	if pr.X402Version != payflow.X402Version {
		return nil, payflow.NewFlowError(
			payflow.CodeUnsupportedVersion,
			fmt.Sprintf("unsupported x402 version %d", pr.X402Version),
			payflow.ErrUnsupportedVersion,
		).WithDetails("version", pr.X402Version)
	}

	match := payflow.MatchRequirement(pr.Accepts, cap)
	if match == nil {
		return nil, payflow.NewFlowError(
			payflow.CodeNoMatchingRequirement,
			"no accepted requirement matches scheme, network and asset",
			payflow.ErrNoMatchingRequirement,
		).WithDetails("offered", len(pr.Accepts)).
			WithDetails("network", cap.Network).
			WithDetails("scheme", cap.Scheme).
			WithDetails("asset", cap.Asset)
	}
	return &negotiation{statusCode: resp.StatusCode, requirement: match}, nil
}

// buildTransfer assembles the payment transaction for a matched
// requirement: a token transfer from the ephemeral address to the
// payee, with an idempotent create of the payee's token account and
// compute budget instructions up front. The ephemeral key is the fee
// payer; its funded native balance covers the fee. The block reference
// is fetched fresh here so retries never reuse a stale anchor.
func (o *Orchestrator) buildTransfer(ctx context.Context, id *identity.Ephemeral, req *payflow.PaymentRequirements) (*solana.Transaction, error) {
	amount, err := strconv.ParseUint(req.Amount, 10, 64)
	if err != nil || amount == 0 {
		return nil, payflow.NewFlowError(
			payflow.CodeInvalidRequirements,
			fmt.Sprintf("invalid requirement amount %q", req.Amount),
			payflow.ErrInvalidAmount,
		)
	}
	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, fmt.Errorf("parsing asset %q: %w", req.Asset, payflow.ErrInvalidToken)
	}
	payee, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, fmt.Errorf("parsing payee %q: %w", req.PayTo, payflow.ErrInvalidRequirements)
	}

	owner := id.PublicKey()
	source, err := solutil.DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	dest, err := solutil.DeriveAssociatedTokenAddress(payee, mint)
	if err != nil {
		return nil, err
	}

	createATA, err := solutil.BuildCreateIdempotentATAInstruction(owner, payee, mint)
	if err != nil {
		return nil, err
	}
	transfer := solutil.BuildTransferCheckedInstruction(source, mint, dest, owner, amount, o.decimals)

	instrs := []solana.Instruction{
		solutil.BuildSetComputeUnitLimitInstruction(solutil.DefaultComputeUnits),
		solutil.BuildSetComputeUnitPriceInstruction(solutil.DefaultComputeUnitPrice),
		createATA,
		transfer,
	}

	anchor, err := o.anchors.RecentBlockReference(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(instrs, anchor, solana.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("assembling payment transaction: %w", err)
	}
	return tx, nil
}

// buildHTTPRequest turns a flow Request into an *http.Request,
// optionally attaching a payment header. The body is rebuilt from the
// retained bytes each call.
func buildHTTPRequest(ctx context.Context, req Request, paymentHeader string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if paymentHeader != "" {
		httpReq.Header.Set(payflow.PaymentHeader, paymentHeader)
	}
	return httpReq, nil
}
