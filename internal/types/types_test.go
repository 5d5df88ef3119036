// Package types tests exercise the transaction envelope encoding and the
// portfolio arithmetic. They ensure every transaction kind survives a
// sign-ready round trip and that malformed bodies are refused before they can
// reach execution.
package types

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return PublicKey(pub)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	k1, k2 := testKey(t), testKey(t)

	cases := []Transaction{
		Transfer{From: k1, To: k2, PortfolioID: 1, CurrencyID: 10, Amount: 5, Seed: 7},
		CurrencyIssue{PubKey: k1, CurrencyID: 10, Amount: 500, Seed: 1},
		CreatePortfolio{PortfolioID: 1, PubKey: k2, Pairs: [][]uint64{{10, 100}, {11, 0}}},
	}

	for _, tx := range cases {
		b, err := EncodeEnvelope(tx)
		if err != nil {
			t.Fatalf("EncodeEnvelope(%s): %v", tx.Kind(), err)
		}
		got, err := DecodeEnvelope(b)
		if err != nil {
			t.Fatalf("DecodeEnvelope(%s): %v", tx.Kind(), err)
		}
		if got.Kind() != tx.Kind() {
			t.Errorf("kind mismatch: got %s, want %s", got.Kind(), tx.Kind())
		}
		if !got.Signer().Equal(tx.Signer()) {
			t.Errorf("%s signer mismatch", tx.Kind())
		}
		again, err := EncodeEnvelope(got)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if string(again) != string(b) {
			t.Errorf("%s encoding is not stable:\n%s\n%s", tx.Kind(), b, again)
		}
	}
}

func TestSignerPerKind(t *testing.T) {
	from, to := testKey(t), testKey(t)
	if !(Transfer{From: from, To: to}).Signer().Equal(from) {
		t.Errorf("transfer must be signed by the sender")
	}
	if !(CurrencyIssue{PubKey: to}).Signer().Equal(to) {
		t.Errorf("currency issue must be signed by pub_key")
	}
	if !(CreatePortfolio{PubKey: from}).Signer().Equal(from) {
		t.Errorf("create portfolio must be signed by the owner")
	}
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	k := testKey(t)
	goodPayload, _ := json.Marshal(CurrencyIssue{PubKey: k, CurrencyID: 1, Amount: 1})

	cases := map[string]struct {
		body string
		want error
	}{
		"unknown kind": {
			body: `{"kind":"burn","payload":{}}`,
			want: ErrUnknownKind,
		},
		"short pair": {
			body: `{"kind":"create_portfolio","payload":{"portfolio_id":1,"pub_key":"` + k.Hex() + `","currency_amount_pairs":[[10]]}}`,
			want: ErrMalformedPair,
		},
		"bad key length": {
			body: `{"kind":"currency_issue","payload":{"pub_key":"abcd","currency_id":1,"amount":1,"seed":0}}`,
			want: ErrBadSigner,
		},
	}
	for name, tc := range cases {
		_, err := DecodeEnvelope([]byte(tc.body))
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", name, err, tc.want)
		}
	}

	extra := `{"kind":"currency_issue","payload":` + strings.TrimSuffix(string(goodPayload), "}") + `,"memo":"x"}}`
	if _, err := DecodeEnvelope([]byte(extra)); err == nil {
		t.Errorf("expected unknown payload field to be rejected")
	}
	if _, err := DecodeEnvelope([]byte(`{"kind":"currency_issue","payload":` + string(goodPayload) + `} {}`)); err == nil {
		t.Errorf("expected trailing data to be rejected")
	}
}

func TestSignedTransactionHashIsStable(t *testing.T) {
	s := &SignedTransaction{Tx: []byte(`{"kind":"transfer"}`), Signature: []byte{1, 2, 3}}
	h1 := s.Hash()
	b, _ := s.Encode()
	decoded, err := DecodeSignedTransaction(b)
	if err != nil {
		t.Fatalf("DecodeSignedTransaction: %v", err)
	}
	if h2 := decoded.Hash(); h1 != h2 {
		t.Fatalf("hash changed across decode: %s vs %s", h1, h2)
	}
}

// The same signed body wrapped differently must keep its id.
func TestTxIDIgnoresRecordEncoding(t *testing.T) {
	s := &SignedTransaction{Tx: []byte(`{"kind":"transfer"}`), Signature: []byte{1, 2, 3}}
	compact, _ := s.Encode()
	indented, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	reordered := []byte(`{"signature":"AQID","tx":"` + base64.StdEncoding.EncodeToString(s.Tx) + `"}`)

	want := s.Hash()
	for name, raw := range map[string][]byte{"compact": compact, "indented": indented, "reordered": reordered} {
		got, err := TxID(raw)
		if err != nil {
			t.Fatalf("%s: TxID: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: id = %s, want %s", name, got, want)
		}
	}

	if _, err := TxID([]byte("not json")); err == nil {
		t.Errorf("expected malformed record to fail")
	}
}

func TestPortfolioDebitCredit(t *testing.T) {
	p := Portfolio{ID: 1, Owner: testKey(t), Holdings: []Holding{{CurrencyID: 10, Amount: 100}}}

	if _, ok := p.Debit(10, 101); ok {
		t.Fatalf("debit above balance must fail")
	}
	if _, ok := p.Debit(99, 1); ok {
		t.Fatalf("debit of an unheld currency must fail")
	}

	d, ok := p.Debit(10, 40)
	if !ok || d.Balance(10) != 60 {
		t.Fatalf("debit: ok=%v balance=%d", ok, d.Balance(10))
	}
	if p.Balance(10) != 100 {
		t.Fatalf("debit mutated the original portfolio")
	}

	c, ok := d.Credit(11, 5)
	if !ok || c.Balance(11) != 5 || len(c.Holdings) != 2 {
		t.Fatalf("credit of new currency: ok=%v holdings=%v", ok, c.Holdings)
	}

	full := Portfolio{Holdings: []Holding{{CurrencyID: 1, Amount: ^uint64(0)}}}
	if _, ok := full.Credit(1, 1); ok {
		t.Fatalf("credit overflow must fail")
	}
}

func TestPublicKeyJSON(t *testing.T) {
	k := testKey(t)
	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got PublicKey
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(k) || got.Scheme() != SchemeEd25519 {
		t.Fatalf("round trip mismatch: %s", got.Hex())
	}
	if _, err := ParsePublicKey("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
}
