package payflow

import (
	"errors"
	"testing"
)

func TestGetChainConfig(t *testing.T) {
	tests := []struct {
		name     string
		network  string
		wantUSDC string
		wantErr  bool
	}{
		{name: "solana mainnet", network: NetworkSolanaMainnet, wantUSDC: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
		{name: "solana devnet", network: NetworkSolanaDevnet, wantUSDC: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"},
		{name: "base", network: NetworkBase, wantUSDC: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
		{name: "base sepolia", network: NetworkBaseSepolia, wantUSDC: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
		{name: "unknown", network: "eip155:99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := GetChainConfig(tt.network)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("GetChainConfig() error = %v, want ErrInvalidNetwork", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetChainConfig() error = %v", err)
			}
			if cfg.USDCAddress != tt.wantUSDC {
				t.Errorf("USDCAddress = %s, want %s", cfg.USDCAddress, tt.wantUSDC)
			}
			if cfg.Decimals != 6 {
				t.Errorf("Decimals = %d, want 6", cfg.Decimals)
			}
		})
	}
}

func TestValidateNetwork(t *testing.T) {
	tests := []struct {
		name     string
		network  string
		wantType NetworkType
		wantErr  bool
	}{
		{name: "solana mainnet", network: NetworkSolanaMainnet, wantType: NetworkTypeSVM},
		{name: "base", network: NetworkBase, wantType: NetworkTypeEVM},
		{name: "arbitrary eip155", network: "eip155:42161", wantType: NetworkTypeEVM},
		{name: "non-numeric chain id", network: "eip155:mainnet", wantErr: true},
		{name: "short solana reference", network: "solana:abc", wantErr: true},
		{name: "missing reference", network: "eip155:", wantErr: true},
		{name: "no namespace", network: "8453", wantErr: true},
		{name: "unknown namespace", network: "cosmos:hub-4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateNetwork(tt.network)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("ValidateNetwork() error = %v, want ErrInvalidNetwork", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateNetwork() error = %v", err)
			}
			if got != tt.wantType {
				t.Errorf("ValidateNetwork() = %v, want %v", got, tt.wantType)
			}
		})
	}
}
