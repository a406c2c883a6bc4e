package payflow

import (
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector selects the appropriate signer and creates a payment
// for one of the requirement options offered by the server.
type PaymentSelector interface {
	SelectAndSign(signers []Signer, requirements []PaymentRequirements) (*PaymentPayload, error)
}

// DefaultPaymentSelector implements the standard selection algorithm:
// satisfiability first (network, scheme and token match, within the
// per-call limit), then signer priority, then token priority, then
// configuration order for deterministic ties.
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(signers []Signer, requirements []PaymentRequirements) (*PaymentPayload, error) {
	if len(signers) == 0 {
		return nil, NewFlowError(CodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(requirements) == 0 {
		return nil, NewFlowError(CodeInvalidRequirements, "no payment requirements provided", ErrInvalidRequirements)
	}

	type candidate struct {
		requirement      *PaymentRequirements
		signer           Signer
		signerPriority   int
		tokenPriority    int
		signerIndex      int
		requirementIndex int
	}

	var candidates []candidate
	hasValidRequirement := false

	for i := range requirements {
		req := &requirements[i]

		requiredAmount := new(big.Int)
		if _, ok := requiredAmount.SetString(req.Amount, 10); !ok {
			continue
		}
		hasValidRequirement = true

		for signerIndex, signer := range signers {
			if !signer.CanSign(req) {
				continue
			}
			if max := signer.GetMaxAmount(); max != nil && requiredAmount.Cmp(max) > 0 {
				continue
			}

			tokenPriority := 0
			for _, token := range signer.GetTokens() {
				if strings.EqualFold(token.Address, req.Asset) {
					tokenPriority = token.Priority
					break
				}
			}

			candidates = append(candidates, candidate{
				requirement:      req,
				signer:           signer,
				signerPriority:   signer.GetPriority(),
				tokenPriority:    tokenPriority,
				signerIndex:      signerIndex,
				requirementIndex: i,
			})
		}
	}

	if !hasValidRequirement {
		return nil, NewFlowError(CodeInvalidRequirements, "invalid amount in requirements", ErrInvalidRequirements)
	}

	if len(candidates) == 0 {
		options := make([]string, 0, len(requirements))
		for _, req := range requirements {
			options = append(options, req.Network+":"+req.Asset)
		}
		return nil, NewFlowError(CodeNoValidSigner, "no signer can satisfy any payment requirement", ErrNoValidSigner).
			WithDetails("options", strings.Join(options, ", "))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		if candidates[i].tokenPriority != candidates[j].tokenPriority {
			return candidates[i].tokenPriority < candidates[j].tokenPriority
		}
		if candidates[i].signerIndex != candidates[j].signerIndex {
			return candidates[i].signerIndex < candidates[j].signerIndex
		}
		return candidates[i].requirementIndex < candidates[j].requirementIndex
	})

	selected := candidates[0]
	payment, err := selected.signer.Sign(selected.requirement)
	if err != nil {
		return nil, NewFlowError(CodeSigningFailed, "failed to sign payment", err)
	}
	return payment, nil
}

// FindAcceptedRequirement finds the requirement a payment was built
// against, matching on scheme and network. Used by servers verifying an
// incoming payment and by clients reporting the selected option.
func FindAcceptedRequirement(payment *PaymentPayload, requirements []PaymentRequirements) *PaymentRequirements {
	for i := range requirements {
		req := &requirements[i]
		if req.Network == payment.Accepted.Network && req.Scheme == payment.Accepted.Scheme {
			return req
		}
	}
	return nil
}
