// Package encoding converts payment protocol values to and from their
// header representation: JSON wrapped in standard base64.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nacorid/payflow"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON
// string for the X-PAYMENT header.
func EncodePayment(payment payflow.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a
// PaymentPayload.
func DecodePayment(encoded string) (payflow.PaymentPayload, error) {
	var payment payflow.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	return payment, nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON
// string for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement payflow.SettleResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to a
// SettleResponse.
func DecodeSettlement(encoded string) (payflow.SettleResponse, error) {
	var settlement payflow.SettleResponse

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}

// EncodeRequirements converts a PaymentRequired document to
// base64-encoded JSON.
func EncodeRequirements(requirements payflow.PaymentRequired) (string, error) {
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(reqJSON), nil
}

// DecodeRequirements converts base64-encoded JSON to a PaymentRequired
// document.
func DecodeRequirements(encoded string) (payflow.PaymentRequired, error) {
	var requirements payflow.PaymentRequired

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return requirements, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return requirements, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	return requirements, nil
}
