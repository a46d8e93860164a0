package blocktree

import (
	"bytes"
	"encoding/hex"
)

// Hash identifies a block in any of the three trees. Chain-native byte
// order is preserved by callers; blocktree only ever compares and hashes
// the raw bytes.
type Hash [32]byte

// ZeroHash is the hash of no block; used as the parent hash of a genesis.
var ZeroHash Hash

// Less returns true if h sorts before o in big-endian byte order. Used as
// the hash tie-break when chain work (or PoP score) ties: the lower hash
// wins.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// HashFromHex decodes a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}
