package flow

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/gagliardetto/solana-go"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/encoding"
	"github.com/nacorid/payflow/identity"
)

// signedPayment is a fully signed payment bound to one block reference.
// It may be submitted at most once; a rejected payment is discarded and
// a fresh one built, never resubmitted.
type signedPayment struct {
	header    string
	anchor    solana.Hash
	submitted bool
}

// signPayment signs the payment transaction with the ephemeral key and
// wraps it into the payment header the resource server expects.
func (o *Orchestrator) signPayment(id *identity.Ephemeral, tx *solana.Transaction, req *payflow.PaymentRequirements) (*signedPayment, error) {
	if err := id.SignTransaction(tx); err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serializing payment transaction: %w", err)
	}
	payment := payflow.PaymentPayload{
		X402Version: payflow.X402Version,
		Accepted:    *req,
		Payload: &payflow.SVMPayload{
			Transaction: base64.StdEncoding.EncodeToString(raw),
		},
	}
	header, err := encoding.EncodePayment(payment)
	if err != nil {
		return nil, err
	}
	return &signedPayment{header: header, anchor: tx.Message.RecentBlockhash}, nil
}

// settle resends the resource request with the payment attached and
// interprets the outcome. A 2xx response means the server settled the
// payment on-chain and returned the resource; any other status is a
// settlement rejection. The signed payment is consumed either way.
func (o *Orchestrator) settle(ctx context.Context, req Request, sp *signedPayment, rec *Record) ([]byte, int, *payflow.SettleResponse, error) {
	if sp.submitted {
		return nil, 0, nil, fmt.Errorf("signed payment already submitted: %w", payflow.ErrReplay)
	}
	sp.submitted = true

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.RequestTimeout)
	defer cancel()

	httpReq, err := buildHTTPRequest(ctx, req, sp.header)
	if err != nil {
		return nil, 0, nil, err
	}
	// Counted once the request exists to be sent; a payment consumed by
	// a build failure is not a wire submission.
	rec.SettlementSubmissions++
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("settlement request: %w: %w", payflow.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("reading settlement response: %w: %w", payflow.ErrNetworkError, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, nil, payflow.NewFlowError(
			payflow.CodeSettlementRejected,
			fmt.Sprintf("resource server rejected payment with status %d", resp.StatusCode),
			payflow.ErrSettlementRejected,
		).WithDetails("status", resp.StatusCode).
			WithDetails("body", truncate(body, 512))
	}

	var settlement *payflow.SettleResponse
	if raw := resp.Header.Get(payflow.PaymentResponseHeader); raw != "" {
		decoded, err := encoding.DecodeSettlement(raw)
		if err != nil {
			// The resource came back; a mangled receipt header is
			// logged, not fatal.
			o.log.Warn("unparseable settlement response header",
				"flowID", rec.ID,
				"error", err,
			)
		} else {
			settlement = &decoded
		}
	}
	return body, resp.StatusCode, settlement, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
