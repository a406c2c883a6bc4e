package http

import (
	"fmt"
	"net/http"

	"github.com/nacorid/payflow"
	"github.com/nacorid/payflow/http/internal/helpers"
)

// Client is an HTTP client that automatically pays x402 challenges.
// It wraps a standard http.Client and adds payment handling via
// PaymentTransport.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a payment-enabled HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithSigner adds a payment signer. Multiple signers can be added; the
// selector picks the appropriate one per challenge.
func WithSigner(signer payflow.Signer) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Signers = append(transport.Signers, signer)
		return nil
	}
}

// WithSelector sets a custom payment selector.
func WithSelector(selector payflow.PaymentSelector) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Selector = selector
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType payflow.FlowEventType, callback payflow.FlowCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		switch eventType {
		case payflow.EventSettlementAttempt:
			transport.OnPaymentAttempt = callback
		case payflow.EventSettled:
			transport.OnPaymentSuccess = callback
		case payflow.EventFailure:
			transport.OnPaymentFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once. Pass nil for
// any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure payflow.FlowCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		if onAttempt != nil {
			transport.OnPaymentAttempt = onAttempt
		}
		if onSuccess != nil {
			transport.OnPaymentSuccess = onSuccess
		}
		if onFailure != nil {
			transport.OnPaymentFailure = onFailure
		}
		return nil
	}
}

// getOrCreateTransport returns the client's PaymentTransport, wrapping
// the existing transport if needed.
func getOrCreateTransport(c *Client) *PaymentTransport {
	transport, ok := c.Transport.(*PaymentTransport)
	if !ok {
		transport = &PaymentTransport{
			Base:     c.Transport,
			Signers:  []payflow.Signer{},
			Selector: payflow.NewDefaultPaymentSelector(),
		}
		c.Transport = transport
	}
	return transport
}

// GetSettlement extracts settlement information from an HTTP response.
// Returns nil if no settlement header is present or parsing fails.
func GetSettlement(resp *http.Response) *payflow.SettleResponse {
	settlementHeader := resp.Header.Get(payflow.PaymentResponseHeader)
	if settlementHeader == "" {
		return nil
	}
	return helpers.ParseSettlement(settlementHeader)
}
