package entities

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// PayloadID identifies an ATV, VTB or VbkBlock payload independent of its
// wire encoding. The wire codec that actually produces these bytes is out
// of scope (spec section 1); ComputePayloadID is provided so tests and
// in-memory fixtures can derive a stable id from raw content without
// depending on that codec.
type PayloadID [32]byte

func (id PayloadID) String() string { return hex.EncodeToString(id[:]) }

func (id PayloadID) IsZero() bool {
	return id == PayloadID{}
}

// ComputePayloadID derives a PayloadID from arbitrary serialized payload
// bytes using blake2b-256, matching the pack's general preference for
// blake2 over ad hoc sha256 when a fixed-size content id is needed.
func ComputePayloadID(data []byte) PayloadID {
	sum := blake2b.Sum256(data)
	return PayloadID(sum)
}

// EndorsementID identifies a single endorsement record. It is derived
// from the endorsing payload's id plus the hash of the block that
// contains it, so that the same payload endorsing from two different
// containing blocks (a reorg re-including it) yields distinct
// endorsement ids, per spec's endorsement quadruple definition.
type EndorsementID [32]byte

func (id EndorsementID) String() string { return hex.EncodeToString(id[:]) }

// ComputeEndorsementID derives an EndorsementID from a payload id and the
// hash bytes of its containing block.
func ComputeEndorsementID(payload PayloadID, containingHash []byte) EndorsementID {
	h, _ := blake2b.New256(nil)
	h.Write(payload[:])
	h.Write(containingHash)
	var out EndorsementID
	copy(out[:], h.Sum(nil))
	return out
}
