package identity

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/nacorid/payflow"
)

func TestNewGeneratesDistinctIdentities(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.PublicKey().Equals(b.PublicKey()) {
		t.Error("two identities share a public key")
	}
	if a.Address() != a.PublicKey().String() {
		t.Errorf("Address() = %s, want %s", a.Address(), a.PublicKey())
	}
}

func TestSignTransaction(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer id.Destroy()

	tx := makeTransferTx(t, id.PublicKey())
	if err := id.SignTransaction(tx); err != nil {
		t.Fatalf("SignTransaction() error = %v", err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		t.Error("transaction was not signed")
	}
}

func TestDestroy(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pub := id.PublicKey()

	id.Destroy()
	if !id.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}

	// Address stays readable for recovery tooling.
	if !id.PublicKey().Equals(pub) {
		t.Error("PublicKey() changed after Destroy")
	}

	// Signing is refused once the key is gone.
	tx := makeTransferTx(t, pub)
	if err := id.SignTransaction(tx); !errors.Is(err, payflow.ErrIdentityDestroyed) {
		t.Errorf("SignTransaction() after Destroy = %v, want ErrIdentityDestroyed", err)
	}

	// Idempotent.
	id.Destroy()
	if !id.Destroyed() {
		t.Error("second Destroy() cleared destroyed state")
	}
}

func makeTransferTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	instr := system.NewTransferInstruction(1, payer, solana.SystemProgramID).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		t.Fatalf("NewTransaction() error = %v", err)
	}
	return tx
}
