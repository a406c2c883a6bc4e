package svm

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/nacorid/payflow"
	solutil "github.com/nacorid/payflow/internal/solana"
)

// newTestWallet generates a fresh Solana wallet so no private keys are
// hardcoded in the repository.
func newTestWallet() *solana.Wallet {
	return solana.NewWallet()
}

// mockRPCClient returns a deterministic blockhash without network calls.
type mockRPCClient struct {
	blockhash solana.Hash
	err       error
}

func newMockRPCClient() *mockRPCClient {
	return &mockRPCClient{
		blockhash: solana.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn"),
	}
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: 100000,
		},
	}, nil
}

func usdcTokens() []payflow.TokenConfig {
	return []payflow.TokenConfig{
		{Address: payflow.SolanaMainnet.USDCAddress, Symbol: "USDC", Decimals: 6},
	}
}

func TestNewSigner(t *testing.T) {
	testKeyBase58 := newTestWallet().PrivateKey.String()

	tests := []struct {
		name      string
		network   string
		key       string
		tokens    []payflow.TokenConfig
		opts      []Option
		wantErr   bool
		errTarget error
	}{
		{
			name:    "valid signer",
			network: payflow.NetworkSolanaMainnet,
			key:     testKeyBase58,
			tokens:  usdcTokens(),
		},
		{
			name:    "valid signer with options",
			network: payflow.NetworkSolanaMainnet,
			key:     testKeyBase58,
			tokens:  usdcTokens(),
			opts: []Option{
				WithPriority(5),
				WithMaxAmount(big.NewInt(1000000)),
			},
		},
		{
			name:    "valid devnet signer",
			network: payflow.NetworkSolanaDevnet,
			key:     testKeyBase58,
			tokens: []payflow.TokenConfig{
				{Address: payflow.SolanaDevnet.USDCAddress, Symbol: "USDC", Decimals: 6},
			},
		},
		{
			name:      "invalid private key",
			network:   payflow.NetworkSolanaMainnet,
			key:       "invalid",
			tokens:    usdcTokens(),
			wantErr:   true,
			errTarget: payflow.ErrInvalidKey,
		},
		{
			name:      "invalid network - EVM",
			network:   payflow.NetworkBaseSepolia,
			key:       testKeyBase58,
			tokens:    usdcTokens(),
			wantErr:   true,
			errTarget: payflow.ErrInvalidNetwork,
		},
		{
			name:      "invalid network - empty",
			network:   "",
			key:       testKeyBase58,
			tokens:    usdcTokens(),
			wantErr:   true,
			errTarget: payflow.ErrInvalidNetwork,
		},
		{
			name:      "no tokens",
			network:   payflow.NetworkSolanaMainnet,
			key:       testKeyBase58,
			tokens:    []payflow.TokenConfig{},
			wantErr:   true,
			errTarget: payflow.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.network, tt.key, tt.tokens, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errTarget != nil && !errors.Is(err, tt.errTarget) {
					t.Fatalf("expected error %v, got %v", tt.errTarget, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if signer == nil {
				t.Fatal("expected signer, got nil")
			}
		})
	}
}

func TestSignerInterface(t *testing.T) {
	signer, err := NewSigner(
		payflow.NetworkSolanaMainnet,
		newTestWallet().PrivateKey.String(),
		usdcTokens(),
		WithPriority(5),
		WithMaxAmount(big.NewInt(1000000)),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	if network := signer.Network(); network != payflow.NetworkSolanaMainnet {
		t.Errorf("expected network %q, got %q", payflow.NetworkSolanaMainnet, network)
	}
	if scheme := signer.Scheme(); scheme != "exact" {
		t.Errorf("expected scheme 'exact', got %q", scheme)
	}
	if priority := signer.GetPriority(); priority != 5 {
		t.Errorf("expected priority 5, got %d", priority)
	}

	gotTokens := signer.GetTokens()
	if len(gotTokens) != 1 || gotTokens[0].Symbol != "USDC" {
		t.Errorf("tokens = %+v", gotTokens)
	}

	maxAmount := signer.GetMaxAmount()
	if maxAmount == nil || maxAmount.Cmp(big.NewInt(1000000)) != 0 {
		t.Errorf("max amount = %v", maxAmount)
	}

	if signer.Address().IsZero() {
		t.Error("expected non-zero address")
	}
}

func TestCanSign(t *testing.T) {
	signer, err := NewSigner(payflow.NetworkSolanaMainnet, newTestWallet().PrivateKey.String(), usdcTokens())
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	tests := []struct {
		name         string
		requirements *payflow.PaymentRequirements
		want         bool
	}{
		{
			name: "matching network and token",
			requirements: &payflow.PaymentRequirements{
				Scheme:  "exact",
				Network: payflow.NetworkSolanaMainnet,
				Asset:   payflow.SolanaMainnet.USDCAddress,
				Amount:  "100000",
			},
			want: true,
		},
		{
			// Base58 is case-sensitive; a lowercased mint is a different key.
			name: "case mismatch in token address",
			requirements: &payflow.PaymentRequirements{
				Scheme:  "exact",
				Network: payflow.NetworkSolanaMainnet,
				Asset:   strings.ToLower(payflow.SolanaMainnet.USDCAddress),
				Amount:  "100000",
			},
			want: false,
		},
		{
			name: "wrong network",
			requirements: &payflow.PaymentRequirements{
				Scheme:  "exact",
				Network: payflow.NetworkBaseSepolia,
				Asset:   payflow.SolanaMainnet.USDCAddress,
				Amount:  "100000",
			},
			want: false,
		},
		{
			name: "wrong scheme",
			requirements: &payflow.PaymentRequirements{
				Scheme:  "streaming",
				Network: payflow.NetworkSolanaMainnet,
				Asset:   payflow.SolanaMainnet.USDCAddress,
				Amount:  "100000",
			},
			want: false,
		},
		{
			name: "wrong token",
			requirements: &payflow.PaymentRequirements{
				Scheme:  "exact",
				Network: payflow.NetworkSolanaMainnet,
				Asset:   "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
				Amount:  "100000",
			},
			want: false,
		},
		{
			name:         "nil requirements",
			requirements: nil,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signer.CanSign(tt.requirements); got != tt.want {
				t.Errorf("CanSign() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSign_Validation(t *testing.T) {
	signer, err := NewSigner(
		payflow.NetworkSolanaMainnet,
		newTestWallet().PrivateKey.String(),
		usdcTokens(),
		WithMaxAmount(big.NewInt(1000000)),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	base := payflow.PaymentRequirements{
		Scheme:            "exact",
		Network:           payflow.NetworkSolanaMainnet,
		Asset:             payflow.SolanaMainnet.USDCAddress,
		PayTo:             "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g",
		MaxTimeoutSeconds: 60,
		Extra: map[string]interface{}{
			"feePayer": "EwWqGE4ZFKLofuestmU4LDdK7XM1N4ALgdZccwYugwGd",
		},
	}

	t.Run("amount exceeds max", func(t *testing.T) {
		req := base
		req.Amount = "2000000"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrAmountExceeded) {
			t.Errorf("Sign() error = %v, want ErrAmountExceeded", err)
		}
	})

	t.Run("network this signer cannot serve", func(t *testing.T) {
		req := base
		req.Network = payflow.NetworkBaseSepolia
		req.Amount = "500000"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrNoValidSigner) {
			t.Errorf("Sign() error = %v, want ErrNoValidSigner", err)
		}
	})

	t.Run("invalid amount format", func(t *testing.T) {
		req := base
		req.Amount = "invalid"
		if _, err := signer.Sign(&req); !errors.Is(err, payflow.ErrInvalidAmount) {
			t.Errorf("Sign() error = %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("missing feePayer in extra", func(t *testing.T) {
		req := base
		req.Amount = "500000"
		req.Extra = map[string]interface{}{}
		_, err := signer.Sign(&req)
		if err == nil || !strings.Contains(err.Error(), "feePayer") {
			t.Errorf("Sign() error = %v, want feePayer complaint", err)
		}
	})

	t.Run("nil extra field", func(t *testing.T) {
		req := base
		req.Amount = "500000"
		req.Extra = nil
		_, err := signer.Sign(&req)
		if err == nil || !strings.Contains(err.Error(), "extra field") {
			t.Errorf("Sign() error = %v, want extra field complaint", err)
		}
	})
}

func TestSign_ValidPayment(t *testing.T) {
	signer, err := NewSigner(
		payflow.NetworkSolanaMainnet,
		newTestWallet().PrivateKey.String(),
		usdcTokens(),
		WithRPCClient(newMockRPCClient()),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	requirements := &payflow.PaymentRequirements{
		Scheme:            "exact",
		Network:           payflow.NetworkSolanaMainnet,
		Asset:             payflow.SolanaMainnet.USDCAddress,
		Amount:            "1000000",
		PayTo:             "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g",
		MaxTimeoutSeconds: 60,
		Extra: map[string]interface{}{
			"feePayer": "EwWqGE4ZFKLofuestmU4LDdK7XM1N4ALgdZccwYugwGd",
		},
	}

	payload, err := signer.Sign(requirements)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if payload.X402Version != payflow.X402Version {
		t.Errorf("expected x402Version %d, got %d", payflow.X402Version, payload.X402Version)
	}
	if payload.Accepted.Network != payflow.NetworkSolanaMainnet {
		t.Errorf("accepted network = %q", payload.Accepted.Network)
	}

	svmPayload, ok := payload.Payload.(payflow.SVMPayload)
	if !ok {
		t.Fatalf("expected SVMPayload type, got %T", payload.Payload)
	}
	if svmPayload.Transaction == "" {
		t.Fatal("expected non-empty transaction")
	}

	var tx solana.Transaction
	if err := tx.UnmarshalBase64(svmPayload.Transaction); err != nil {
		t.Fatalf("failed to unmarshal transaction: %v", err)
	}
}

func TestTransactionStructure(t *testing.T) {
	signer, err := NewSigner(
		payflow.NetworkSolanaMainnet,
		newTestWallet().PrivateKey.String(),
		usdcTokens(),
		WithRPCClient(newMockRPCClient()),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	requirements := &payflow.PaymentRequirements{
		Scheme:            "exact",
		Network:           payflow.NetworkSolanaMainnet,
		Asset:             payflow.SolanaMainnet.USDCAddress,
		Amount:            "1000000",
		PayTo:             "9B5XszUGdMaxCZ7uSQhPzdks5ZQSmWxrmzCSvtJ6Ns6g",
		MaxTimeoutSeconds: 60,
		Extra: map[string]interface{}{
			"feePayer": "EwWqGE4ZFKLofuestmU4LDdK7XM1N4ALgdZccwYugwGd",
		},
	}

	payload, err := signer.Sign(requirements)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	svmPayload := payload.Payload.(payflow.SVMPayload)

	var tx solana.Transaction
	if err := tx.UnmarshalBase64(svmPayload.Transaction); err != nil {
		t.Fatalf("failed to unmarshal transaction: %v", err)
	}

	// SetComputeUnitLimit, SetComputeUnitPrice, CreateIdempotent ATA,
	// TransferChecked.
	if len(tx.Message.Instructions) != 4 {
		t.Fatalf("expected 4 instructions, got %d", len(tx.Message.Instructions))
	}

	inst0 := tx.Message.Instructions[0]
	programID0, err := tx.Message.Program(inst0.ProgramIDIndex)
	if err != nil {
		t.Fatalf("program for instruction 0: %v", err)
	}
	if !programID0.Equals(solutil.ComputeBudgetProgramID) {
		t.Errorf("instruction 0: expected compute budget program, got %s", programID0)
	}
	if len(inst0.Data) != 5 || inst0.Data[0] != 2 {
		t.Errorf("instruction 0 data = %v", inst0.Data)
	}

	inst1 := tx.Message.Instructions[1]
	programID1, err := tx.Message.Program(inst1.ProgramIDIndex)
	if err != nil {
		t.Fatalf("program for instruction 1: %v", err)
	}
	if !programID1.Equals(solutil.ComputeBudgetProgramID) {
		t.Errorf("instruction 1: expected compute budget program, got %s", programID1)
	}
	if len(inst1.Data) != 9 || inst1.Data[0] != 3 {
		t.Errorf("instruction 1 data = %v", inst1.Data)
	}

	inst2 := tx.Message.Instructions[2]
	programID2, err := tx.Message.Program(inst2.ProgramIDIndex)
	if err != nil {
		t.Fatalf("program for instruction 2: %v", err)
	}
	if !programID2.Equals(solana.SPLAssociatedTokenAccountProgramID) {
		t.Errorf("instruction 2: expected associated token program, got %s", programID2)
	}
	if len(inst2.Data) != 1 || inst2.Data[0] != 1 {
		t.Errorf("instruction 2 data = %v, want [1] (CreateIdempotent)", inst2.Data)
	}
	if len(inst2.Accounts) != 6 {
		t.Errorf("instruction 2: expected 6 accounts, got %d", len(inst2.Accounts))
	}

	inst3 := tx.Message.Instructions[3]
	programID3, err := tx.Message.Program(inst3.ProgramIDIndex)
	if err != nil {
		t.Fatalf("program for instruction 3: %v", err)
	}
	if !programID3.Equals(solana.TokenProgramID) {
		t.Errorf("instruction 3: expected token program, got %s", programID3)
	}
	if len(inst3.Data) != 10 || inst3.Data[0] != 12 {
		t.Fatalf("instruction 3 data = %v, want TransferChecked", inst3.Data)
	}
	if inst3.Data[9] != 6 {
		t.Errorf("instruction 3: decimals = %d, want 6", inst3.Data[9])
	}
	amount := uint64(0)
	for i := 0; i < 8; i++ {
		amount |= uint64(inst3.Data[1+i]) << (8 * i)
	}
	if amount != 1000000 {
		t.Errorf("instruction 3: amount = %d, want 1000000", amount)
	}
	if len(inst3.Accounts) != 4 {
		t.Errorf("instruction 3: expected 4 accounts, got %d", len(inst3.Accounts))
	}
}

func TestNewSignerFromKeygenFile(t *testing.T) {
	tmpDir := t.TempDir()

	wallet := solana.NewWallet()
	validPath := filepath.Join(tmpDir, "valid.json")
	keyData, err := json.Marshal(wallet.PrivateKey)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.WriteFile(validPath, keyData, 0600); err != nil {
		t.Fatalf("failed to write keyfile: %v", err)
	}

	if _, err := NewSignerFromKeygenFile(payflow.NetworkSolanaMainnet, validPath, usdcTokens()); err != nil {
		t.Errorf("valid keygen file: %v", err)
	}
	if _, err := NewSignerFromKeygenFile(payflow.NetworkSolanaMainnet, filepath.Join(tmpDir, "missing.json"), usdcTokens()); !errors.Is(err, payflow.ErrInvalidKey) {
		t.Errorf("missing file: error = %v, want ErrInvalidKey", err)
	}

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalidPath, []byte("not valid json"), 0600); err != nil {
		t.Fatalf("failed to write invalid file: %v", err)
	}
	if _, err := NewSignerFromKeygenFile(payflow.NetworkSolanaMainnet, invalidPath, usdcTokens()); !errors.Is(err, payflow.ErrInvalidKey) {
		t.Errorf("invalid JSON: error = %v, want ErrInvalidKey", err)
	}

	shortPath := filepath.Join(tmpDir, "short.json")
	shortKey, _ := json.Marshal(make([]byte, 32))
	if err := os.WriteFile(shortPath, shortKey, 0600); err != nil {
		t.Fatalf("failed to write short keyfile: %v", err)
	}
	if _, err := NewSignerFromKeygenFile(payflow.NetworkSolanaMainnet, shortPath, usdcTokens()); !errors.Is(err, payflow.ErrInvalidKey) {
		t.Errorf("short key: error = %v, want ErrInvalidKey", err)
	}
}

func TestMultipleTokens(t *testing.T) {
	tokens := []payflow.TokenConfig{
		{Address: payflow.SolanaMainnet.USDCAddress, Symbol: "USDC", Decimals: 6, Priority: 1},
		{Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT", Decimals: 6, Priority: 2},
	}
	signer, err := NewSigner(payflow.NetworkSolanaMainnet, newTestWallet().PrivateKey.String(), tokens)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	if got := signer.GetTokens(); len(got) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(got))
	}

	for _, asset := range []string{tokens[0].Address, tokens[1].Address} {
		req := &payflow.PaymentRequirements{
			Scheme:  "exact",
			Network: payflow.NetworkSolanaMainnet,
			Asset:   asset,
			Amount:  "100000",
		}
		if !signer.CanSign(req) {
			t.Errorf("CanSign(%s) = false, want true", asset)
		}
	}
}
