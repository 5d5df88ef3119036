package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"coinfolio.mini/cfm/internal/cidutil"
)

// Kind discriminates the closed set of ledger transactions.
type Kind string

const (
	KindTransfer        Kind = "transfer"
	KindCurrencyIssue   Kind = "currency_issue"
	KindCreatePortfolio Kind = "create_portfolio"
)

// Transaction is implemented by exactly Transfer, CurrencyIssue and
// CreatePortfolio. Code that handles transactions switches on the concrete type.
type Transaction interface {
	Kind() Kind
	// Signer is the identity the transaction's signature must be attributable to.
	Signer() PublicKey
	isTransaction()
}

// Transfer moves Amount of CurrencyID from the From identity's portfolio
// PortfolioID to the To identity's portfolio.
type Transfer struct {
	From        PublicKey `json:"from"`
	To          PublicKey `json:"to"`
	PortfolioID uint64    `json:"portfolio_id"`
	CurrencyID  uint64    `json:"currency_id"`
	Amount      uint64    `json:"amount"`
	Seed        uint64    `json:"seed"`
}

// CurrencyIssue mints Amount units of CurrencyID into the currency ledger.
type CurrencyIssue struct {
	PubKey     PublicKey `json:"pub_key"`
	CurrencyID uint64    `json:"currency_id"`
	Amount     uint64    `json:"amount"`
	Seed       uint64    `json:"seed"`
}

// CreatePortfolio registers the single portfolio of PubKey. Each pair is
// [currency id, amount].
type CreatePortfolio struct {
	PortfolioID uint64     `json:"portfolio_id"`
	PubKey      PublicKey  `json:"pub_key"`
	Pairs       [][]uint64 `json:"currency_amount_pairs"`
}

func (Transfer) Kind() Kind        { return KindTransfer }
func (CurrencyIssue) Kind() Kind   { return KindCurrencyIssue }
func (CreatePortfolio) Kind() Kind { return KindCreatePortfolio }

func (t Transfer) Signer() PublicKey        { return t.From }
func (t CurrencyIssue) Signer() PublicKey   { return t.PubKey }
func (t CreatePortfolio) Signer() PublicKey { return t.PubKey }

func (Transfer) isTransaction()        {}
func (CurrencyIssue) isTransaction()   {}
func (CreatePortfolio) isTransaction() {}

// Holdings converts the pairs into portfolio holdings, preserving order.
func (t CreatePortfolio) Holdings() []Holding {
	out := make([]Holding, 0, len(t.Pairs))
	for _, p := range t.Pairs {
		out = append(out, Holding{CurrencyID: p[0], Amount: p[1]})
	}
	return out
}

// Envelope is the signed body of a transaction: the kind discriminant and the
// JSON-encoded variant.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SignedTransaction is the record delivered by the consensus layer. Tx holds
// the encoded Envelope; Signature is computed over Tx by the key the variant
// names as its signer.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	Signature []byte `json:"signature"`
}

var (
	ErrUnknownKind   = errors.New("unknown transaction kind")
	ErrMalformedPair = errors.New("currency pair must hold exactly [currency, amount]")
	ErrBadSigner     = errors.New("signer public key has an unsupported length")

	errTrailingData = errors.New("trailing data after JSON value")
)

// EncodeEnvelope builds the bytes that get signed for tx.
func EncodeEnvelope(tx Transaction) ([]byte, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", tx.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: tx.Kind(), Payload: payload})
}

// DecodeEnvelope parses the signed body into its concrete variant. Unknown
// fields are rejected so that two different byte strings cannot decode to
// transactions that differ only in ignored data.
func DecodeEnvelope(b []byte) (Transaction, error) {
	var env Envelope
	if err := strictUnmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var tx Transaction
	switch env.Kind {
	case KindTransfer:
		var v Transfer
		if err := strictUnmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode transfer: %w", err)
		}
		tx = v
	case KindCurrencyIssue:
		var v CurrencyIssue
		if err := strictUnmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode currency issue: %w", err)
		}
		tx = v
	case KindCreatePortfolio:
		var v CreatePortfolio
		if err := strictUnmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode create portfolio: %w", err)
		}
		for _, p := range v.Pairs {
			if len(p) != 2 {
				return nil, ErrMalformedPair
			}
		}
		tx = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if tx.Signer().Scheme() == SchemeUnknown {
		return nil, ErrBadSigner
	}
	return tx, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

// Decode parses the signed body of s.
func (s *SignedTransaction) Decode() (Transaction, error) {
	return DecodeEnvelope(s.Tx)
}

// Encode returns the wire bytes handed to the consensus layer.
func (s *SignedTransaction) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Hash returns the transaction id of s: the content identifier of the signed
// body. The outer record encoding and the signature bytes do not take part,
// so re-wrapping a signed body never yields a new id.
func (s *SignedTransaction) Hash() string {
	return cidutil.String(s.Tx)
}

// TxID returns the transaction id of wire bytes delivered by the consensus
// layer.
func TxID(raw []byte) (string, error) {
	s, err := DecodeSignedTransaction(raw)
	if err != nil {
		return "", err
	}
	return s.Hash(), nil
}

// DecodeSignedTransaction parses wire bytes delivered by the consensus layer.
func DecodeSignedTransaction(b []byte) (*SignedTransaction, error) {
	var s SignedTransaction
	if err := strictUnmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode signed tx: %w", err)
	}
	return &s, nil
}
