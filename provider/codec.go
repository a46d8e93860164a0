package provider

import (
	"encoding/binary"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/cockroachdb/errors"
)

// This file implements the fixed-layout binary encoding KVProvider uses to
// persist payload bodies. The wire codec for payloads is explicitly out of
// scope (spec section 1): nothing here is the network encoding, it is only
// an on-disk record format private to this process, so it is built the same
// way the rest of this package treats opaque bytes — length-prefixed fields
// over a fixed field order, not a general-purpose serialization library.

func putHash(buf []byte, h blocktree.Hash) []byte { return append(buf, h[:]...) }

func takeHash(buf []byte) (blocktree.Hash, []byte, error) {
	if len(buf) < 32 {
		return blocktree.Hash{}, nil, errors.New("provider: codec: truncated hash")
	}
	var h blocktree.Hash
	copy(h[:], buf[:32])
	return h, buf[32:], nil
}

func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func takeUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, errors.New("provider: codec: truncated uint32")
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

func putInt32(buf []byte, v int32) []byte { return putUint32(buf, uint32(v)) }

func takeInt32(buf []byte) (int32, []byte, error) {
	v, rest, err := takeUint32(buf)
	return int32(v), rest, err
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func takeBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := takeUint32(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, errors.New("provider: codec: truncated byte field")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

func encodeVbkBlock(b entities.VbkBlock) []byte {
	buf := make([]byte, 0, 96+len(b.Raw))
	buf = putHash(buf, b.Hash)
	buf = putHash(buf, b.PrevHash)
	buf = putInt32(buf, b.Height)
	buf = putUint32(buf, b.Timestamp)
	buf = putUint32(buf, b.Difficulty)
	buf = putBytes(buf, b.Raw)
	return buf
}

func decodeVbkBlock(buf []byte) (entities.VbkBlock, error) {
	var b entities.VbkBlock
	var err error
	if b.Hash, buf, err = takeHash(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	if b.PrevHash, buf, err = takeHash(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	if b.Height, buf, err = takeInt32(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	if b.Timestamp, buf, err = takeUint32(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	if b.Difficulty, buf, err = takeUint32(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	if b.Raw, _, err = takeBytes(buf); err != nil {
		return entities.VbkBlock{}, err
	}
	return b, nil
}

func encodeBtcBlock(b entities.BtcBlock) []byte {
	buf := make([]byte, 0, 96+len(b.Raw))
	buf = putHash(buf, b.Hash)
	buf = putHash(buf, b.PrevHash)
	buf = putInt32(buf, b.Height)
	buf = putUint32(buf, b.Timestamp)
	buf = putUint32(buf, b.Bits)
	buf = putBytes(buf, b.Raw)
	return buf
}

func decodeBtcBlock(buf []byte) (entities.BtcBlock, []byte, error) {
	var b entities.BtcBlock
	var err error
	if b.Hash, buf, err = takeHash(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	if b.PrevHash, buf, err = takeHash(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	if b.Height, buf, err = takeInt32(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	if b.Timestamp, buf, err = takeUint32(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	if b.Bits, buf, err = takeUint32(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	if b.Raw, buf, err = takeBytes(buf); err != nil {
		return entities.BtcBlock{}, nil, err
	}
	return b, buf, nil
}

func encodeVTB(v entities.VTB) []byte {
	buf := make([]byte, 0, 128)
	buf = putBytes(buf, v.ID[:])
	buf = putHash(buf, v.ContainingBlock)
	buf = putHash(buf, v.EndorsedBlock)
	buf = append(buf, encodeBtcBlock(v.BlockOfProof)...)
	buf = putUint32(buf, uint32(len(v.Context)))
	for _, c := range v.Context {
		buf = append(buf, encodeBtcBlock(c)...)
	}
	return buf
}

func decodeVTB(buf []byte) (entities.VTB, error) {
	var v entities.VTB
	var err error
	var idBytes []byte
	if idBytes, buf, err = takeBytes(buf); err != nil {
		return entities.VTB{}, err
	}
	copy(v.ID[:], idBytes)
	if v.ContainingBlock, buf, err = takeHash(buf); err != nil {
		return entities.VTB{}, err
	}
	if v.EndorsedBlock, buf, err = takeHash(buf); err != nil {
		return entities.VTB{}, err
	}
	if v.BlockOfProof, buf, err = decodeBtcBlock(buf); err != nil {
		return entities.VTB{}, err
	}
	n, buf, err := takeUint32(buf)
	if err != nil {
		return entities.VTB{}, err
	}
	v.Context = make([]entities.BtcBlock, 0, n)
	for i := uint32(0); i < n; i++ {
		var c entities.BtcBlock
		c, buf, err = decodeBtcBlock(buf)
		if err != nil {
			return entities.VTB{}, err
		}
		v.Context = append(v.Context, c)
	}
	return v, nil
}

func encodeATV(a entities.ATV) []byte {
	buf := make([]byte, 0, 128)
	buf = putBytes(buf, a.ID[:])
	buf = putHash(buf, a.ContainingBlock)
	buf = putHash(buf, a.EndorsedBlock)
	buf = append(buf, encodeVbkBlock(a.BlockOfProof)...)
	return buf
}

func decodeATV(buf []byte) (entities.ATV, error) {
	var a entities.ATV
	var err error
	var idBytes []byte
	if idBytes, buf, err = takeBytes(buf); err != nil {
		return entities.ATV{}, err
	}
	copy(a.ID[:], idBytes)
	if a.ContainingBlock, buf, err = takeHash(buf); err != nil {
		return entities.ATV{}, err
	}
	if a.EndorsedBlock, buf, err = takeHash(buf); err != nil {
		return entities.ATV{}, err
	}
	if a.BlockOfProof, err = decodeVbkBlock(buf); err != nil {
		return entities.ATV{}, err
	}
	return a, nil
}
