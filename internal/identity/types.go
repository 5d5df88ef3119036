// Package identity manages wallet keypairs and signing utilities. A wallet is
// identified on the ledger by its public key; this package signs transactions
// on behalf of that key and verifies signatures attributed to one.
package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"coinfolio.mini/cfm/internal/types"
)

// Identity represents a wallet's cryptographic identity
type Identity struct {
	scheme    types.Scheme
	edKey     ed25519.PrivateKey
	dilKey    *mode3.PrivateKey
	publicKey types.PublicKey
}

// NewIdentity creates a new Identity from an ed25519 private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		scheme:    types.SchemeEd25519,
		edKey:     privKey,
		publicKey: types.PublicKey(pubKey),
	}
}

// NewDilithium3Identity creates a new Identity from a Dilithium3 private key
func NewDilithium3Identity(sk *mode3.PrivateKey) *Identity {
	pk := sk.Public().(*mode3.PublicKey)
	return &Identity{
		scheme:    types.SchemeDilithium3,
		dilKey:    sk,
		publicKey: types.PublicKey(pk.Bytes()),
	}
}

// Sign signs the provided message with the identity's private key
func (i *Identity) Sign(message []byte) []byte {
	switch i.scheme {
	case types.SchemeDilithium3:
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(i.dilKey, message, sig)
		return sig
	default:
		return ed25519.Sign(i.edKey, message)
	}
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return VerifySignature(i.publicKey, message, signature)
}

// SignTransaction encodes tx and signs the encoding. The identity must be the
// transaction's signer, otherwise the result would never pass admission.
func (i *Identity) SignTransaction(tx types.Transaction) (*types.SignedTransaction, error) {
	if !tx.Signer().Equal(i.publicKey) {
		return nil, fmt.Errorf("identity %s cannot sign for %s", i.publicKey, tx.Signer())
	}
	return i.SignTransactionUnchecked(tx)
}

// SignTransactionUnchecked signs tx without checking who its signer is.
// Tests use it to build transactions whose signature is not attributable to
// the required identity.
func (i *Identity) SignTransactionUnchecked(tx types.Transaction) (*types.SignedTransaction, error) {
	body, err := types.EncodeEnvelope(tx)
	if err != nil {
		return nil, err
	}
	return &types.SignedTransaction{Tx: body, Signature: i.Sign(body)}, nil
}

// Scheme returns the signature algorithm of the identity
func (i *Identity) Scheme() types.Scheme {
	return i.scheme
}

// PublicKey returns the wallet identity
func (i *Identity) PublicKey() types.PublicKey {
	return i.publicKey
}

// PublicKeyHex returns the hex-encoded public key string
// This is the canonical owner key of ledger entities
func (i *Identity) PublicKeyHex() string {
	return i.publicKey.Hex()
}
