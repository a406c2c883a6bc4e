package payflow

import (
	"fmt"
	"strconv"
	"strings"
)

// NetworkType represents the blockchain virtual machine family.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

// CAIP-2 network identifiers for the networks the engine knows about.
const (
	// Solana networks (genesis hash reference per CAIP-2). The funded
	// ephemeral-flow path runs on these.
	NetworkSolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	NetworkSolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"

	// EVM networks, served by the direct-pay transport.
	NetworkBase        = "eip155:8453"
	NetworkBaseSepolia = "eip155:84532"
	NetworkEthereum    = "eip155:1"
	NetworkSepolia     = "eip155:11155111"
)

// ChainConfig holds per-network asset configuration.
type ChainConfig struct {
	// Network is the CAIP-2 network identifier.
	Network string

	// USDCAddress is the official Circle USDC contract or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-3009 domain parameter "name" (empty for
	// non-EVM chains).
	EIP3009Name string

	// EIP3009Version is the EIP-3009 domain parameter "version" (empty
	// for non-EVM chains).
	EIP3009Version string
}

// Predefined chain configurations.
var (
	// SolanaMainnet is the configuration for Solana mainnet-beta.
	SolanaMainnet = ChainConfig{
		Network:     NetworkSolanaMainnet,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}

	// SolanaDevnet is the configuration for Solana devnet.
	SolanaDevnet = ChainConfig{
		Network:     NetworkSolanaDevnet,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}

	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		Network:        NetworkBase,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// BaseSepolia is the configuration for the Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		Network:        NetworkBaseSepolia,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	// EthereumMainnet is the configuration for Ethereum mainnet.
	EthereumMainnet = ChainConfig{
		Network:        NetworkEthereum,
		USDCAddress:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

var chainConfigs = map[string]ChainConfig{
	NetworkSolanaMainnet: SolanaMainnet,
	NetworkSolanaDevnet:  SolanaDevnet,
	NetworkBase:          BaseMainnet,
	NetworkBaseSepolia:   BaseSepolia,
	NetworkEthereum:      EthereumMainnet,
}

// GetChainConfig returns the configuration for a CAIP-2 network
// identifier, or ErrInvalidNetwork when the network is unknown.
func GetChainConfig(network string) (ChainConfig, error) {
	cfg, ok := chainConfigs[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("unknown network %s: %w", network, ErrInvalidNetwork)
	}
	return cfg, nil
}

// networkType classifies a CAIP-2 identifier by namespace without
// validating the reference part.
func networkType(network string) NetworkType {
	switch {
	case strings.HasPrefix(network, "eip155:"):
		return NetworkTypeEVM
	case strings.HasPrefix(network, "solana:"):
		return NetworkTypeSVM
	default:
		return NetworkTypeUnknown
	}
}

// ValidateNetwork validates a CAIP-2 network identifier and returns its
// network type. EVM references must be decimal chain IDs; Solana
// references must be the truncated genesis hash.
func ValidateNetwork(network string) (NetworkType, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return NetworkTypeUnknown, fmt.Errorf("malformed CAIP-2 identifier %q: %w", network, ErrInvalidNetwork)
	}

	switch parts[0] {
	case "eip155":
		if _, err := strconv.ParseUint(parts[1], 10, 64); err != nil {
			return NetworkTypeUnknown, fmt.Errorf("eip155 reference must be a chain ID, got %q: %w", parts[1], ErrInvalidNetwork)
		}
		return NetworkTypeEVM, nil
	case "solana":
		// Genesis hash references are base58 and 32 characters once
		// truncated per CAIP-2.
		if len(parts[1]) != 32 {
			return NetworkTypeUnknown, fmt.Errorf("solana reference must be a 32-char genesis hash, got %q: %w", parts[1], ErrInvalidNetwork)
		}
		return NetworkTypeSVM, nil
	default:
		return NetworkTypeUnknown, fmt.Errorf("unknown namespace %q: %w", parts[0], ErrInvalidNetwork)
	}
}
