package entities

import "github.com/altpop/popcore/blocktree"

// Endorsement is the abstracted (id, endorsedHash, containingHash,
// blockOfProof) quadruple from spec section 3: "block X is endorsed by
// containing block Y, with proof at block Z". A VTB carries a VBK->BTC
// endorsement; an ATV carries an ALT->VBK endorsement.
type Endorsement struct {
	ID             EndorsementID
	EndorsedHash   blocktree.Hash // hash of the block being endorsed
	ContainingHash blocktree.Hash // hash of the block carrying the payload
	BlockOfProof   blocktree.Hash // hash of the anchor block the proof is buried at
}

// VbkBlock is a VBK block header as carried inside a PopData context list
// or the VBK tree itself. Only the fields the core needs to validate
// contiguity and feed to BTC/endorsement bookkeeping are modeled; the
// remaining wire fields (merkle root, nonce, version) are out of scope
// per spec section 1 and are represented opaquely.
type VbkBlock struct {
	Hash       blocktree.Hash
	PrevHash   blocktree.Hash
	Height     int32
	Timestamp  uint32
	Difficulty uint32
	Raw        []byte // opaque wire bytes, codec out of scope
}

func (b VbkBlock) BlockHash() blocktree.Hash    { return b.Hash }
func (b VbkBlock) ParentHash() blocktree.Hash   { return b.PrevHash }
func (b VbkBlock) BlockHeight() int32           { return b.Height }

// BtcBlock is a BTC block header.
type BtcBlock struct {
	Hash       blocktree.Hash
	PrevHash   blocktree.Hash
	Height     int32
	Timestamp  uint32
	Bits       uint32 // compact PoW target
	Raw        []byte
}

func (b BtcBlock) BlockHash() blocktree.Hash   { return b.Hash }
func (b BtcBlock) ParentHash() blocktree.Hash  { return b.PrevHash }
func (b BtcBlock) BlockHeight() int32          { return b.Height }

// AltBlock is an ALT block header.
type AltBlock struct {
	Hash      blocktree.Hash
	PrevHash  blocktree.Hash
	Height    int32
	Timestamp uint32
	Raw       []byte
}

func (b AltBlock) BlockHash() blocktree.Hash   { return b.Hash }
func (b AltBlock) ParentHash() blocktree.Hash  { return b.PrevHash }
func (b AltBlock) BlockHeight() int32          { return b.Height }

// VTB proves a VBK block was published into a BTC block (VBK->BTC
// endorsement).
type VTB struct {
	ID              PayloadID
	ContainingBlock blocktree.Hash // VBK block carrying this VTB
	EndorsedBlock   blocktree.Hash // VBK block being endorsed (often == ContainingBlock's ancestor)
	BlockOfProof    BtcBlock       // BTC block the proof is buried at
	Context         []BtcBlock     // BTC context blocks needed to connect BlockOfProof
}

// ATV proves an ALT block header was published into a VBK block
// (ALT->VBK endorsement).
type ATV struct {
	ID              PayloadID
	ContainingBlock blocktree.Hash // ALT block carrying this ATV
	EndorsedBlock   blocktree.Hash // ALT block being endorsed (the publication header)
	BlockOfProof    VbkBlock       // VBK block the ATV is buried at
}

// PopData is the wire bundle carried inside an ALT block (spec section 3):
// an ordered VBK context, VTBs, and ATVs.
type PopData struct {
	Context []VbkBlock
	VTBs    []VTB
	ATVs    []ATV
}

// Empty reports whether the bundle carries nothing.
func (p PopData) Empty() bool {
	return len(p.Context) == 0 && len(p.VTBs) == 0 && len(p.ATVs) == 0
}
