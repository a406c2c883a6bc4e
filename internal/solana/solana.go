// Package solana provides Solana instruction building and RPC endpoint
// utilities shared by the funding, settlement and sweep paths.
package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/nacorid/payflow"
)

// ComputeBudgetProgramID is the Solana Compute Budget program ID.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// DefaultComputeUnits is the default compute unit limit for transactions.
const DefaultComputeUnits uint32 = 200_000

// DefaultComputeUnitPrice is the default compute unit price in microlamports.
const DefaultComputeUnitPrice uint64 = 10_000

// BaseFeeLamports is the ledger's base fee per transaction signature.
const BaseFeeLamports uint64 = 5_000

// BuildTransferCheckedInstruction creates an SPL Token TransferChecked
// instruction.
func BuildTransferCheckedInstruction(
	source, mint, destination solana.PublicKey,
	owner solana.PublicKey,
	amount uint64,
	decimals uint8,
) solana.Instruction {
	return token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(source).
		SetDestinationAccount(destination).
		SetMintAccount(mint).
		SetOwnerAccount(owner).
		Build()
}

// BuildSystemTransferInstruction creates a System Program transfer of
// lamports between two wallet addresses.
func BuildSystemTransferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// BuildSetComputeUnitLimitInstruction creates a SetComputeUnitLimit
// instruction.
// Format: [2, units (u32 little-endian)]
// Instruction discriminator 2 = SetComputeUnitLimit
func BuildSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit discriminator
	data[1] = byte(units)
	data[2] = byte(units >> 8)
	data[3] = byte(units >> 16)
	data[4] = byte(units >> 24)

	return solana.NewInstruction(
		ComputeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// BuildSetComputeUnitPriceInstruction creates a SetComputeUnitPrice
// instruction.
// Format: [3, microlamports (u64 little-endian)]
// Instruction discriminator 3 = SetComputeUnitPrice
func BuildSetComputeUnitPriceInstruction(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice discriminator
	for i := 0; i < 8; i++ {
		data[i+1] = byte(microlamports >> (8 * i))
	}

	return solana.NewInstruction(
		ComputeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// DeriveAssociatedTokenAddress derives the Associated Token Account
// (ATA) address holding mint for owner.
func DeriveAssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ATA: %w", err)
	}
	return ata, nil
}

// BuildCreateIdempotentATAInstruction creates an idempotent Associated
// Token Account creation instruction. Unlike the standard Create
// instruction (index 0), CreateIdempotent (index 1) succeeds even if
// the account already exists, so it is safe in transactions where the
// ATA may or may not have been created yet.
//
// Accounts:
// [0] payer (signer, writable) - Funds the rent-exempt deposit if needed
// [1] associatedToken (writable) - The ATA to create
// [2] owner - The owner of the new ATA
// [3] mint - The SPL token mint
// [4] systemProgram - System program ID
// [5] tokenProgram - SPL Token program ID
func BuildCreateIdempotentATAInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
	}

	// Instruction data is just [1] for CreateIdempotent (instruction index 1)
	data := []byte{1}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		accounts,
		data,
	), nil
}

// BuildCloseAccountInstruction creates an SPL Token CloseAccount
// instruction. Closing an empty token account returns its rent-exempt
// deposit to the destination address.
//
// Accounts:
// [0] account (writable) - The token account to close; must hold zero tokens
// [1] destination (writable) - Receives the reclaimed rent lamports
// [2] owner (signer) - The token account's owner
//
// Instruction data is just [9] for CloseAccount (instruction index 9).
func BuildCloseAccountInstruction(account, destination, owner solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		{PublicKey: account, IsSigner: false, IsWritable: true},
		{PublicKey: destination, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: false},
	}

	data := []byte{9}

	return solana.NewInstruction(
		solana.TokenProgramID,
		accounts,
		data,
	)
}

// GetRPCURL returns the public RPC URL for a CAIP-2 Solana network.
func GetRPCURL(network string) (string, error) {
	switch network {
	case payflow.NetworkSolanaMainnet:
		return rpc.MainNetBeta_RPC, nil
	case payflow.NetworkSolanaDevnet:
		return rpc.DevNet_RPC, nil
	default:
		return "", fmt.Errorf("invalid network %s: %w", network, payflow.ErrInvalidNetwork)
	}
}
