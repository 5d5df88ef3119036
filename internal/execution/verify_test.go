package execution

import (
	"path/filepath"
	"testing"

	"coinfolio.mini/cfm/internal/identity"
	"coinfolio.mini/cfm/internal/types"
)

// Scenario E: for every kind, a signature by anyone but the required
// identity fails the admission filter.
func TestVerifyRequiresAttributableSignature(t *testing.T) {
	owner, other := newIdentity(t, "owner"), newIdentity(t, "other")

	cases := []types.Transaction{
		types.Transfer{From: owner.PublicKey(), To: other.PublicKey(), PortfolioID: 1, CurrencyID: 1, Amount: 1, Seed: 7},
		types.CurrencyIssue{PubKey: owner.PublicKey(), CurrencyID: 10, Amount: 500, Seed: 1},
		types.CreatePortfolio{PortfolioID: 1, PubKey: owner.PublicKey(), Pairs: [][]uint64{{10, 100}}},
	}

	for _, tx := range cases {
		good, err := owner.SignTransaction(tx)
		if err != nil {
			t.Fatalf("sign %s: %v", tx.Kind(), err)
		}
		if _, ok := Verify(good); !ok {
			t.Errorf("%s signed by its signer failed verification", tx.Kind())
		}

		forged, err := other.SignTransactionUnchecked(tx)
		if err != nil {
			t.Fatalf("sign %s: %v", tx.Kind(), err)
		}
		if _, ok := Verify(forged); ok {
			t.Errorf("%s signed by a different identity passed verification", tx.Kind())
		}
	}
}

// The receiver of a transfer cannot authorize it.
func TestVerifyTransferIgnoresReceiverSignature(t *testing.T) {
	from, to := newIdentity(t, "from"), newIdentity(t, "to")
	tx := types.Transfer{From: from.PublicKey(), To: to.PublicKey(), PortfolioID: 1}

	stx, err := to.SignTransactionUnchecked(tx)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := Verify(stx); ok {
		t.Fatalf("transfer signed by the receiver passed verification")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	id := newIdentity(t, "id")
	stx, err := id.SignTransaction(types.CurrencyIssue{PubKey: id.PublicKey(), CurrencyID: 1, Amount: 5})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered, err := types.EncodeEnvelope(types.CurrencyIssue{PubKey: id.PublicKey(), CurrencyID: 1, Amount: 5000})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stx.Tx = tampered
	if _, ok := Verify(stx); ok {
		t.Fatalf("tampered amount passed verification")
	}

	if _, ok := Verify(&types.SignedTransaction{Tx: []byte("not json"), Signature: []byte{1}}); ok {
		t.Fatalf("undecodable body passed verification")
	}
	if _, ok := Verify(nil); ok {
		t.Fatalf("nil transaction passed verification")
	}
}

func TestVerifyDilithium3Signer(t *testing.T) {
	pq, err := identity.LoadOrCreateDilithium3(filepath.Join(t.TempDir(), "pq.pem"))
	if err != nil {
		t.Fatalf("LoadOrCreateDilithium3: %v", err)
	}
	stx, err := pq.SignTransaction(types.CreatePortfolio{PortfolioID: 4, PubKey: pq.PublicKey()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, ok := Verify(stx); !ok {
		t.Fatalf("dilithium3-signed transaction failed verification")
	}
}
