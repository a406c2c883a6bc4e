package evm

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/nacorid/payflow"
)

// testPrivateKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// testAddress is the address derived from testPrivateKey.
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func sepoliaUSDC() []payflow.TokenConfig {
	return []payflow.TokenConfig{
		{Address: payflow.BaseSepolia.USDCAddress, Symbol: "USDC", Decimals: 6},
	}
}

func TestNewSigner(t *testing.T) {
	signer, err := NewSigner(payflow.NetworkBaseSepolia, testPrivateKey, sepoliaUSDC())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	if signer.Network() != payflow.NetworkBaseSepolia {
		t.Errorf("Expected network %s, got %s", payflow.NetworkBaseSepolia, signer.Network())
	}
	if signer.Scheme() != "exact" {
		t.Errorf("Expected scheme 'exact', got %s", signer.Scheme())
	}
	if signer.Address().Hex() != testAddress {
		t.Errorf("Expected address %s, got %s", testAddress, signer.Address().Hex())
	}
}

func TestNewSigner_Validation(t *testing.T) {
	t.Run("accepts 0x-prefixed key", func(t *testing.T) {
		signer, err := NewSigner(payflow.NetworkBaseSepolia, "0x"+testPrivateKey, sepoliaUSDC())
		if err != nil {
			t.Fatalf("Failed to create signer: %v", err)
		}
		if signer.Address().Hex() != testAddress {
			t.Errorf("Expected address %s, got %s", testAddress, signer.Address().Hex())
		}
	})

	t.Run("rejects invalid key", func(t *testing.T) {
		if _, err := NewSigner(payflow.NetworkBaseSepolia, "not-a-key", sepoliaUSDC()); !errors.Is(err, payflow.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", err)
		}
	})

	t.Run("rejects unknown network", func(t *testing.T) {
		if _, err := NewSigner("eip155:999999", testPrivateKey, sepoliaUSDC()); !errors.Is(err, payflow.ErrInvalidNetwork) {
			t.Errorf("Expected ErrInvalidNetwork, got %v", err)
		}
	})
}

func TestCanSign(t *testing.T) {
	signer, err := NewSigner(payflow.NetworkBaseSepolia, testPrivateKey, sepoliaUSDC())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	tests := []struct {
		name         string
		requirements *payflow.PaymentRequirements
		expected     bool
	}{
		{
			name: "valid requirements",
			requirements: &payflow.PaymentRequirements{
				Scheme:            "exact",
				Network:           payflow.NetworkBaseSepolia,
				Asset:             payflow.BaseSepolia.USDCAddress,
				Amount:            "1000000",
				PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
				MaxTimeoutSeconds: 300,
			},
			expected: true,
		},
		{
			// Hex addresses are case-insensitive.
			name: "lowercased asset address",
			requirements: &payflow.PaymentRequirements{
				Scheme:            "exact",
				Network:           payflow.NetworkBaseSepolia,
				Asset:             strings.ToLower(payflow.BaseSepolia.USDCAddress),
				Amount:            "1000000",
				PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
				MaxTimeoutSeconds: 300,
			},
			expected: true,
		},
		{
			name: "wrong network",
			requirements: &payflow.PaymentRequirements{
				Scheme:            "exact",
				Network:           payflow.NetworkEthereum,
				Asset:             payflow.BaseSepolia.USDCAddress,
				Amount:            "1000000",
				MaxTimeoutSeconds: 300,
			},
			expected: false,
		},
		{
			name: "wrong scheme",
			requirements: &payflow.PaymentRequirements{
				Scheme:            "streaming",
				Network:           payflow.NetworkBaseSepolia,
				Asset:             payflow.BaseSepolia.USDCAddress,
				Amount:            "1000000",
				MaxTimeoutSeconds: 300,
			},
			expected: false,
		},
		{
			name: "wrong asset",
			requirements: &payflow.PaymentRequirements{
				Scheme:            "exact",
				Network:           payflow.NetworkBaseSepolia,
				Asset:             "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Amount:            "1000000",
				MaxTimeoutSeconds: 300,
			},
			expected: false,
		},
		{
			name:         "nil requirements",
			requirements: nil,
			expected:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := signer.CanSign(tt.requirements); result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestSign(t *testing.T) {
	signer, err := NewSigner(payflow.NetworkBaseSepolia, testPrivateKey, sepoliaUSDC())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	requirements := &payflow.PaymentRequirements{
		Scheme:            "exact",
		Network:           payflow.NetworkBaseSepolia,
		Asset:             payflow.BaseSepolia.USDCAddress,
		Amount:            "1000000",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Extra: map[string]interface{}{
			"name":    "USD Coin",
			"version": "2",
		},
	}

	payload, err := signer.Sign(requirements)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	if payload.X402Version != payflow.X402Version {
		t.Errorf("Expected x402 version %d, got %d", payflow.X402Version, payload.X402Version)
	}
	if payload.Accepted.Network != payflow.NetworkBaseSepolia {
		t.Errorf("Accepted network = %q", payload.Accepted.Network)
	}

	evmPayload, ok := payload.Payload.(payflow.EVMPayload)
	if !ok {
		t.Fatalf("Expected EVMPayload, got %T", payload.Payload)
	}
	if evmPayload.Signature == "" {
		t.Error("Expected non-empty signature")
	}
	if !strings.HasPrefix(evmPayload.Signature, "0x") {
		t.Error("Signature should have 0x prefix")
	}
	if evmPayload.Authorization.From != testAddress {
		t.Errorf("Authorization from = %q, want %q", evmPayload.Authorization.From, testAddress)
	}
	if evmPayload.Authorization.Value != "1000000" {
		t.Errorf("Authorization value = %q, want 1000000", evmPayload.Authorization.Value)
	}
	if evmPayload.Authorization.Nonce == "" {
		t.Error("Expected non-empty nonce")
	}
}

func TestSign_Validation(t *testing.T) {
	signer, err := NewSigner(
		payflow.NetworkBaseSepolia,
		testPrivateKey,
		sepoliaUSDC(),
		WithMaxAmount(new(big.Int).SetUint64(100000)),
	)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	base := payflow.PaymentRequirements{
		Scheme:            "exact",
		Network:           payflow.NetworkBaseSepolia,
		Asset:             payflow.BaseSepolia.USDCAddress,
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Extra: map[string]interface{}{
			"name":    "USD Coin",
			"version": "2",
		},
	}

	t.Run("amount exceeds max", func(t *testing.T) {
		req := base
		req.Amount = "2000000"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrAmountExceeded) {
			t.Errorf("Expected ErrAmountExceeded, got %v", err)
		}
	})

	t.Run("invalid amount format", func(t *testing.T) {
		req := base
		req.Amount = "not-a-number"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrInvalidAmount) {
			t.Errorf("Expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("network this signer cannot serve", func(t *testing.T) {
		req := base
		req.Network = payflow.NetworkEthereum
		req.Amount = "50000"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrNoValidSigner) {
			t.Errorf("Expected ErrNoValidSigner, got %v", err)
		}
	})

	t.Run("missing EIP-3009 params", func(t *testing.T) {
		req := base
		req.Amount = "50000"
		req.Extra = nil
		_, err := signer.Sign(&req)
		if err == nil || !strings.Contains(err.Error(), "EIP-3009") {
			t.Errorf("Expected EIP-3009 parameter error, got %v", err)
		}
	})

	t.Run("missing version param", func(t *testing.T) {
		req := base
		req.Amount = "50000"
		req.Extra = map[string]interface{}{"name": "USD Coin"}
		_, err := signer.Sign(&req)
		if err == nil || !strings.Contains(err.Error(), "version") {
			t.Errorf("Expected version parameter error, got %v", err)
		}
	})
}

func TestGetChainID(t *testing.T) {
	tests := []struct {
		network   string
		expected  int64
		expectErr bool
	}{
		{payflow.NetworkBase, 8453, false},
		{payflow.NetworkBaseSepolia, 84532, false},
		{payflow.NetworkEthereum, 1, false},
		{payflow.NetworkSepolia, 11155111, false},
		{"eip155:137", 137, false},
		{"eip155:80002", 80002, false},
		{"eip155:43114", 43114, false},
		{"eip155:43113", 43113, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			result, err := GetChainID(tt.network)
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, result)
			}
		})
	}
}
