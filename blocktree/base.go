package blocktree

// Header is the minimal native-chain header surface blocktree needs to
// bootstrap or insert a block: its own hash, its declared parent, and its
// height. BTC, VBK and ALT headers all satisfy this independently of their
// chain-specific fields (bits, merkle root, PoP payload commitments, ...).
type Header interface {
	BlockHash() Hash
	ParentHash() Hash
	BlockHeight() int32
}

// Indexed is satisfied by a per-chain block index type by embedding Base.
// The unexported methods can only be promoted through embedding Base
// itself, so Indexed can only ever be implemented by a type that reuses
// Base's bookkeeping rather than reimplementing it independently.
type Indexed interface {
	Hash() Hash
	ParentHash() Hash
	Height() int32
	HasParent() bool
	Status() StatusFlags
	SetStatus(StatusFlags)
	Children() []Hash
	ChildCount() int

	addChild(Hash)
	removeChild(Hash)
}

// Base holds the chain-agnostic bookkeeping every block index needs:
// identity, linkage, and validation status. Chain-specific addons (BTC's
// refCounter/chainWork, VBK's and ALT's endorsement bookkeeping) live in
// separate structs alongside an embedded Base, not in Base itself.
type Base struct {
	hash       Hash
	parentHash Hash
	hasParent  bool
	height     int32
	status     StatusFlags
	children   map[Hash]struct{}
}

// NewBase constructs the common fields of a block index from a header.
// hasParent is false only for a tree's genesis.
func NewBase(h Header, hasParent bool) Base {
	return Base{
		hash:       h.BlockHash(),
		parentHash: h.ParentHash(),
		hasParent:  hasParent,
		height:     h.BlockHeight(),
		children:   make(map[Hash]struct{}),
	}
}

func (b *Base) Hash() Hash             { return b.hash }
func (b *Base) ParentHash() Hash       { return b.parentHash }
func (b *Base) HasParent() bool        { return b.hasParent }
func (b *Base) Height() int32          { return b.height }
func (b *Base) Status() StatusFlags    { return b.status }
func (b *Base) SetStatus(s StatusFlags) { b.status = s }

// Children returns the hashes of every block that names this one as its
// parent. Order is unspecified.
func (b *Base) Children() []Hash {
	out := make([]Hash, 0, len(b.children))
	for h := range b.children {
		out = append(out, h)
	}
	return out
}

func (b *Base) addChild(h Hash) {
	if b.children == nil {
		b.children = make(map[Hash]struct{})
	}
	b.children[h] = struct{}{}
}

func (b *Base) removeChild(h Hash) {
	delete(b.children, h)
}

func (b *Base) childCount() int { return len(b.children) }

// ChildCount returns the number of blocks naming this one as parent.
func (b *Base) ChildCount() int { return len(b.children) }
