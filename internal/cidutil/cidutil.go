// Package cidutil derives content identifiers for signed transaction records.
// A transaction's identifier is a CIDv1 using the "raw" multicodec over a
// sha2-256 multihash of the exact bytes delivered by the consensus layer, so
// every replica names the same transaction identically.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw + sha2-256) of data.
func Sum(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String returns the CIDv1 string form of data's identifier.
func String(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		// multihash.Sum only fails for unknown codes or bad lengths; SHA2_256
		// with the default length cannot hit either.
		return ""
	}
	return id.String()
}

// Parse decodes a transaction identifier and checks it uses the raw codec.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if id.Prefix().Codec != cid.Raw {
		return cid.Undef, ErrUnexpectedCodec
	}
	return id, nil
}
