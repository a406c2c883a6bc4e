// Package helpers provides internal HTTP utilities for x402 protocol
// handling.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/encoding"
)

// ErrNilSettlement is returned when settlement is nil in AddPaymentResponseHeader.
var ErrNilSettlement = errors.New("settlement is nil")

// ErrNilPayment is returned when payment is nil in BuildPaymentHeader.
var ErrNilPayment = errors.New("payment is nil")

// ParsePaymentHeader extracts and decodes a PaymentPayload from the
// X-PAYMENT header. Returns ErrMalformedHeader if the header is missing
// or invalid.
func ParsePaymentHeader(r *http.Request) (*payflow.PaymentPayload, error) {
	paymentHeader := r.Header.Get(payflow.PaymentHeader)
	if paymentHeader == "" {
		return nil, payflow.ErrMalformedHeader
	}

	payment, err := encoding.DecodePayment(paymentHeader)
	if err != nil {
		return nil, payflow.NewFlowError(payflow.CodeInvalidRequirements, "failed to decode payment header", err)
	}

	if payment.X402Version != payflow.X402Version {
		return nil, payflow.NewFlowError(payflow.CodeUnsupportedVersion, "unsupported x402 version", payflow.ErrUnsupportedVersion)
	}

	return &payment, nil
}

// SendPaymentRequired writes a 402 Payment Required response with the
// given requirements.
func SendPaymentRequired(w http.ResponseWriter, resource payflow.ResourceInfo, requirements []payflow.PaymentRequirements, errMsg string) error {
	response := payflow.PaymentRequired{
		X402Version: payflow.X402Version,
		Error:       errMsg,
		Resource:    &resource,
		Accepts:     requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}

// AddPaymentResponseHeader adds the X-PAYMENT-RESPONSE header with
// settlement information.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *payflow.SettleResponse) error {
	if settlement == nil {
		return fmt.Errorf("AddPaymentResponseHeader: %w", ErrNilSettlement)
	}
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return fmt.Errorf("AddPaymentResponseHeader: encode settlement: %w", err)
	}
	w.Header().Set(payflow.PaymentResponseHeader, encoded)
	return nil
}

// ParsePaymentRequirements extracts PaymentRequired from a 402 response
// body.
func ParsePaymentRequirements(resp *http.Response) (*payflow.PaymentRequired, error) {
	if resp == nil || resp.Body == nil {
		return nil, payflow.NewFlowError(payflow.CodeInvalidRequirements, "missing response or body", payflow.ErrInvalidRequirements)
	}

	var paymentReq payflow.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&paymentReq); err != nil {
		return nil, payflow.NewFlowError(payflow.CodeInvalidRequirements, "failed to decode payment requirements", err)
	}

	if len(paymentReq.Accepts) == 0 {
		return nil, payflow.NewFlowError(payflow.CodeInvalidRequirements, "no payment requirements in response", payflow.ErrInvalidRequirements)
	}

	return &paymentReq, nil
}

// ParseSettlement extracts settlement information from the
// X-PAYMENT-RESPONSE header. Returns nil if the header is empty or
// cannot be parsed.
func ParseSettlement(headerValue string) *payflow.SettleResponse {
	if headerValue == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil
	}
	return &settlement
}

// BuildPaymentHeader creates the X-PAYMENT header value from a
// PaymentPayload.
func BuildPaymentHeader(payment *payflow.PaymentPayload) (string, error) {
	if payment == nil {
		return "", fmt.Errorf("BuildPaymentHeader: %w", ErrNilPayment)
	}
	encoded, err := encoding.EncodePayment(*payment)
	if err != nil {
		return "", fmt.Errorf("BuildPaymentHeader: encode payment: %w", err)
	}
	return encoded, nil
}

// BuildResourceURL constructs the full URL for the protected resource
// from the request.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}
