package identity

import (
	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"coinfolio.mini/cfm/internal/types"
)

// VerifySignature reports whether sig over msg was produced by the private
// half of pub. Keys of an unknown scheme never verify.
func VerifySignature(pub types.PublicKey, msg, sig []byte) bool {
	switch pub.Scheme() {
	case types.SchemeEd25519:
		if len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
	case types.SchemeDilithium3:
		if len(sig) != mode3.SignatureSize {
			return false
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false
		}
		return mode3.Verify(&pk, msg, sig)
	default:
		return false
	}
}
