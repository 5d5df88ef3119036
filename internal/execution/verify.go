package execution

import (
	"coinfolio.mini/cfm/internal/identity"
	"coinfolio.mini/cfm/internal/types"
)

// Verify decodes stx and checks that its signature is attributable to the
// identity its kind requires: the sender of a Transfer, the pub_key of a
// CurrencyIssue or CreatePortfolio. It returns the decoded transaction when
// the check passes.
func Verify(stx *types.SignedTransaction) (types.Transaction, bool) {
	if stx == nil {
		return nil, false
	}
	tx, err := stx.Decode()
	if err != nil {
		return nil, false
	}
	if !VerifyTransaction(tx, stx.Tx, stx.Signature) {
		return nil, false
	}
	return tx, true
}

// VerifyTransaction checks sig over body against tx's signer.
func VerifyTransaction(tx types.Transaction, body, sig []byte) bool {
	switch v := tx.(type) {
	case types.Transfer:
		return identity.VerifySignature(v.From, body, sig)
	case types.CurrencyIssue:
		return identity.VerifySignature(v.PubKey, body, sig)
	case types.CreatePortfolio:
		return identity.VerifySignature(v.PubKey, body, sig)
	default:
		return false
	}
}
