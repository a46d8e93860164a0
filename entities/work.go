package entities

import "github.com/holiman/uint256"

// Work is a 256-bit cumulative proof-of-work value, used as BTC and VBK
// chainWork. It wraps uint256.Int so addition never silently overflows
// the way a native uint64 accumulator would on a long-lived anchor chain.
type Work struct {
	v uint256.Int
}

// ZeroWork is the additive identity.
func ZeroWork() Work { return Work{} }

// WorkFromUint64 builds a Work from a single block's target-derived work.
func WorkFromUint64(w uint64) Work {
	var out Work
	out.v.SetUint64(w)
	return out
}

// Add returns w + o without mutating either operand.
func (w Work) Add(o Work) Work {
	var out Work
	out.v.Add(&w.v, &o.v)
	return out
}

// Cmp returns -1, 0 or +1 as w is less than, equal to, or greater than o.
func (w Work) Cmp(o Work) int {
	return w.v.Cmp(&o.v)
}

// GreaterThan reports whether w > o.
func (w Work) GreaterThan(o Work) bool {
	return w.Cmp(o) > 0
}

func (w Work) String() string {
	return w.v.Hex()
}

// Bytes returns the big-endian encoding of w, left-padded to 32 bytes.
func (w Work) Bytes() [32]byte {
	return w.v.Bytes32()
}

// WorkFromBytes decodes a big-endian 32-byte encoding produced by Bytes.
func WorkFromBytes(b [32]byte) Work {
	var out Work
	out.v.SetBytes(b[:])
	return out
}
