// Package eip3009 builds and signs EIP-3009 transferWithAuthorization
// payloads for the direct-pay EVM path.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Authorization holds the transferWithAuthorization parameters.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// validAfterSkew backdates validAfter to tolerate clock drift between
// the client and the settling chain.
const validAfterSkew = 10 * time.Second

// NewAuthorization creates an authorization valid from now (less a small
// clock-drift allowance) until now plus timeout.
func NewAuthorization(from, to common.Address, value *big.Int, timeout time.Duration) (*Authorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now.Add(-validAfterSkew).Unix()),
		ValidBefore: big.NewInt(now.Add(timeout).Unix()),
		Nonce:       nonce,
	}, nil
}

// generateNonce returns 32 bytes of cryptographically secure randomness.
// The nonce is the replay guard for the authorization.
func generateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// Sign produces the EIP-712 signature over the authorization for the
// given token contract and chain, using the token's EIP-3009 domain
// name and version. Returns the 0x-prefixed hex signature with the
// legacy 27/28 recovery id the verifying contracts expect.
func Sign(privateKey *ecdsa.PrivateKey, tokenAddress common.Address, chainID *big.Int, auth *Authorization, name, version string) (string, error) {
	digest, err := authorizationDigest(tokenAddress, chainID, auth, name, version)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}

	// ecrecover in the token contracts expects v in {27, 28}.
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// authorizationDigest computes the EIP-712 digest the authorization is
// signed over.
func authorizationDigest(tokenAddress common.Address, chainID *big.Int, auth *Authorization, name, version string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct("TransferWithAuthorization", typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}
