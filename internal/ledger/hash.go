package ledger

import (
	"encoding/binary"
	"encoding/json"
	"hash"
	"math/bits"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"coinfolio.mini/cfm/internal/types"
)

// digest is an additive multiset hash over the committed entities: the sum
// modulo 2^256 of one sha3-256 leaf per portfolio, currency and timestamp
// entry. Limbs are big-endian, digest[3] is the least significant.
type digest [4]uint64

func leaf(tag byte, parts ...[]byte) digest {
	h := sha3.New256()
	h.Write([]byte{tag})
	for _, p := range parts {
		h.Write(p)
	}
	var sum [32]byte
	h.Sum(sum[:0])

	var d digest
	for i := range d {
		d[i] = binary.BigEndian.Uint64(sum[i*8:])
	}
	return d
}

func (d *digest) add(o digest) {
	var carry uint64
	for i := len(d) - 1; i >= 0; i-- {
		d[i], carry = bits.Add64(d[i], o[i], carry)
	}
}

func (d *digest) sub(o digest) {
	var borrow uint64
	for i := len(d) - 1; i >= 0; i-- {
		d[i], borrow = bits.Sub64(d[i], o[i], borrow)
	}
}

func (d digest) bytes() []byte {
	b := make([]byte, 0, 32)
	for _, v := range d {
		b = binary.BigEndian.AppendUint64(b, v)
	}
	return b
}

func portfolioLeaf(p types.Portfolio) digest {
	// Struct encodings are deterministic; an error here is a programming bug.
	b, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return leaf('p', b)
}

func currencyLeaf(id uint64, issued decimal.Decimal) digest {
	return leaf('c', binary.BigEndian.AppendUint64(nil, id), []byte(issued.String()))
}

func timestampLeaf(e types.TimestampEntry) digest {
	return leaf('t', []byte(e.TxHash), []byte{0}, binary.BigEndian.AppendUint64(nil, uint64(e.Time.UnixNano())))
}

// Hash returns the app hash of the committed ledger: the sha3-256 digest of
// the entity counts, the multiset sum and the ledger time. Height and the
// previous app hash are excluded. The sum is maintained as entities are
// merged, so Hash does not revisit the timestamp history.
func (s *State) Hash() []byte {
	h := sha3.New256()
	writeSection(h, "portfolios", len(s.portfolios))
	writeSection(h, "currencies", len(s.currencies))
	writeSection(h, "timestamps", len(s.timestamps))
	h.Write(s.sum.bytes())
	if s.time != nil {
		writeSection(h, "time", 1)
		writeUint(h, uint64(s.time.UnixNano()))
	}
	return h.Sum(nil)
}

func writeSection(h hash.Hash, name string, n int) {
	h.Write([]byte(name))
	writeUint(h, uint64(n))
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
