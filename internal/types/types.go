// Package types defines the core domain models for coinfolio (cfm): the
// identities that own ledger entities, the portfolios and currency holdings
// they own, the audit timestamp entries, and the closed set of signed
// transactions that mutate them.
package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Version is the current version of cfm
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Scheme names the signature algorithm behind a public key.
type Scheme string

const (
	SchemeEd25519    Scheme = "ed25519"
	SchemeDilithium3 Scheme = "dilithium3"
	SchemeUnknown    Scheme = ""
)

// PublicKey identifies a wallet owner. It is the raw key; the scheme is
// implied by its length. In JSON it is hex-encoded.
type PublicKey []byte

// Scheme reports which signature algorithm the key belongs to.
func (k PublicKey) Scheme() Scheme {
	switch len(k) {
	case ed25519.PublicKeySize:
		return SchemeEd25519
	case mode3.PublicKeySize:
		return SchemeDilithium3
	default:
		return SchemeUnknown
	}
}

// Hex returns the canonical hex form, used as the key of owner-indexed entities.
func (k PublicKey) Hex() string { return hex.EncodeToString(k) }

func (k PublicKey) String() string {
	h := k.Hex()
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

// Equal reports whether k and o are the same identity.
func (k PublicKey) Equal(o PublicKey) bool { return k.Hex() == o.Hex() }

func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Hex())
}

func (k *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	*k = raw
	return nil
}

// ParsePublicKey decodes a hex public key and checks that its scheme is known.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	k := PublicKey(raw)
	if k.Scheme() == SchemeUnknown {
		return nil, fmt.Errorf("public key: unsupported length %d", len(raw))
	}
	return k, nil
}

// Holding is the amount of one currency held inside a portfolio.
type Holding struct {
	CurrencyID uint64 `json:"currency_id"`
	Amount     uint64 `json:"amount"`
}

// Portfolio is the collection of currency holdings owned by exactly one identity.
// Holdings keep the order they were created in; a currency credited for the
// first time is appended.
type Portfolio struct {
	ID       uint64    `json:"id"`
	Owner    PublicKey `json:"owner"`
	Holdings []Holding `json:"holdings"`
}

// Balance returns the amount of currency held. When a currency appears more
// than once only the first holding counts, matching Debit and Credit.
func (p Portfolio) Balance(currency uint64) uint64 {
	if i := p.holdingIndex(currency); i >= 0 {
		return p.Holdings[i].Amount
	}
	return 0
}

func (p Portfolio) holdingIndex(currency uint64) int {
	for i, h := range p.Holdings {
		if h.CurrencyID == currency {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate holdings without aliasing
// committed state.
func (p Portfolio) Clone() Portfolio {
	c := p
	c.Owner = append(PublicKey(nil), p.Owner...)
	c.Holdings = append([]Holding(nil), p.Holdings...)
	return c
}

// Debit returns a copy of p with amount removed from currency. ok is false when
// the balance is insufficient, in which case p is returned unchanged.
func (p Portfolio) Debit(currency, amount uint64) (Portfolio, bool) {
	if amount == 0 {
		return p.Clone(), true
	}
	i := p.holdingIndex(currency)
	if i < 0 || p.Holdings[i].Amount < amount {
		return p, false
	}
	c := p.Clone()
	c.Holdings[i].Amount -= amount
	return c, true
}

// Credit returns a copy of p with amount added to currency. ok is false when
// the resulting balance would not fit in a uint64.
func (p Portfolio) Credit(currency, amount uint64) (Portfolio, bool) {
	c := p.Clone()
	if amount == 0 {
		return c, true
	}
	i := c.holdingIndex(currency)
	if i < 0 {
		c.Holdings = append(c.Holdings, Holding{CurrencyID: currency, Amount: amount})
		return c, true
	}
	sum := c.Holdings[i].Amount + amount
	if sum < amount {
		return p, false
	}
	c.Holdings[i].Amount = sum
	return c, true
}

// TimestampEntry binds an accepted transaction's hash to the ledger time at
// which it committed. Entries are never mutated or removed.
type TimestampEntry struct {
	TxHash string    `json:"tx_hash"`
	Time   time.Time `json:"time"`
}
