// Package identity manages single-use ephemeral signing keypairs.
//
// An Ephemeral is owned by exactly one payment flow: created at flow
// start, never persisted, and destroyed (key bytes zeroed) on every
// exit path. Keeping the key in memory only contains the blast radius
// of a compromise to one flow's funding amount, at the accepted cost
// that a process crash between funding and sweep strands the funds.
package identity

import (
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/nacorid/payflow"
)

// Ephemeral is a freshly generated keypair and its derived address.
// The private key never leaves the struct; signing happens through
// SignTransaction so callers cannot retain key material past Destroy.
type Ephemeral struct {
	mu        sync.Mutex
	key       solana.PrivateKey
	pub       solana.PublicKey
	destroyed bool
}

// New generates an Ephemeral from the system's secure random source.
// An entropy failure is fatal and aborts flow creation before any funds
// move.
func New() (*Ephemeral, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, payflow.NewFlowError(payflow.CodeEntropyFailure, "failed to generate ephemeral keypair", payflow.ErrEntropyFailure).
			WithDetails("cause", err.Error())
	}
	return &Ephemeral{
		key: key,
		pub: key.PublicKey(),
	}, nil
}

// PublicKey returns the identity's public key. Valid after Destroy;
// recovery tooling still needs the address of a destroyed identity.
func (e *Ephemeral) PublicKey() solana.PublicKey {
	return e.pub
}

// Address returns the base58 address derived from the public key.
func (e *Ephemeral) Address() string {
	return e.pub.String()
}

// SignTransaction signs every signer slot of tx that belongs to this
// identity. Fails with ErrIdentityDestroyed once Destroy has run.
func (e *Ephemeral) SignTransaction(tx *solana.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return payflow.ErrIdentityDestroyed
	}

	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.pub) {
			return &e.key
		}
		return nil
	})
	if err != nil {
		return payflow.NewFlowError(payflow.CodeSigningFailed, "ephemeral signing failed", err)
	}
	return nil
}

// Destroy zeroes the private key material. Idempotent; a flow must call
// it on every exit path, success or failure.
func (e *Ephemeral) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	for i := range e.key {
		e.key[i] = 0
	}
	e.key = nil
	e.destroyed = true
}

// Destroyed reports whether the key material has been zeroed.
func (e *Ephemeral) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}
