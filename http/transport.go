// Package http provides an HTTP client and RoundTripper that pay x402
// challenges directly from configured signers. This is the
// wallet-funded path: the signing key is long-lived and pays from its
// own balance. Callers who want single-use funded keys with residual
// recovery use the flow package instead.
package http

import (
	"net/http"
	"time"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/http/internal/helpers"
)

// PaymentTransport is a RoundTripper that wraps another RoundTripper
// and automatically satisfies 402 Payment Required responses.
type PaymentTransport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Signers is the list of available payment signers.
	Signers []payflow.Signer

	// Selector chooses the signer and creates payments.
	Selector payflow.PaymentSelector

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt payflow.FlowCallback

	// OnPaymentSuccess is called when a payment settles.
	OnPaymentSuccess payflow.FlowCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure payflow.FlowCallback
}

// RoundTrip implements http.RoundTripper. It makes the initial request
// and, on a 402 response, signs a payment and retries once with the
// payment header attached. Each retry carries a freshly signed payment;
// a payment header is never reused across requests.
func (t *PaymentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Base == nil {
		t.Base = http.DefaultTransport
	}

	reqCopy := req.Clone(req.Context())
	resp, err := t.Base.RoundTrip(reqCopy)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	paymentReq, err := helpers.ParsePaymentRequirements(resp)
	if err != nil {
		resp.Body.Close()
		return nil, payflow.NewFlowError(payflow.CodeInvalidRequirements, "failed to parse payment requirements", err)
	}
	resp.Body.Close()

	payment, err := t.Selector.SelectAndSign(t.Signers, paymentReq.Accepts)
	if err != nil {
		return nil, err
	}
	selected := payflow.FindAcceptedRequirement(payment, paymentReq.Accepts)

	startTime := time.Now()
	if t.OnPaymentAttempt != nil && selected != nil {
		t.OnPaymentAttempt(payflow.FlowEvent{
			Type:      payflow.EventSettlementAttempt,
			Timestamp: startTime,
			URL:       req.URL.String(),
			Network:   payment.Accepted.Network,
			Scheme:    payment.Accepted.Scheme,
			Amount:    selected.Amount,
			Asset:     selected.Asset,
			Recipient: selected.PayTo,
		})
	}

	paymentHeader, err := helpers.BuildPaymentHeader(payment)
	if err != nil {
		t.failure(req, err, time.Since(startTime))
		return nil, payflow.NewFlowError(payflow.CodeSigningFailed, "failed to build payment header", err)
	}

	reqRetry := req.Clone(req.Context())
	reqRetry.Header.Set(payflow.PaymentHeader, paymentHeader)

	respRetry, err := t.Base.RoundTrip(reqRetry)
	duration := time.Since(startTime)
	if err != nil {
		t.failure(req, err, duration)
		return nil, err
	}

	settlement := helpers.ParseSettlement(respRetry.Header.Get(payflow.PaymentResponseHeader))
	if settlement != nil && settlement.Success && t.OnPaymentSuccess != nil {
		event := payflow.FlowEvent{
			Type:        payflow.EventSettled,
			Timestamp:   time.Now(),
			URL:         req.URL.String(),
			Transaction: settlement.Transaction,
			Duration:    duration,
		}
		if selected != nil {
			event.Network = selected.Network
			event.Scheme = selected.Scheme
			event.Amount = selected.Amount
			event.Asset = selected.Asset
			event.Recipient = selected.PayTo
		}
		t.OnPaymentSuccess(event)
	}

	return respRetry, nil
}

func (t *PaymentTransport) failure(req *http.Request, err error, duration time.Duration) {
	if t.OnPaymentFailure == nil {
		return
	}
	t.OnPaymentFailure(payflow.FlowEvent{
		Type:      payflow.EventFailure,
		Timestamp: time.Now(),
		URL:       req.URL.String(),
		Error:     err,
		Duration:  duration,
	})
}
