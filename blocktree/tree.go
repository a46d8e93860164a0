// Package blocktree implements the generic tree of block indices shared by
// the BTC, VBK and ALT trees: identity by hash, parent/child linkage, tip
// tracking, ancestry queries and subtree invalidation. Chain-specific
// acceptance rules, PoP scoring and payload application live one layer up,
// in the btc, vbk and alt packages, which embed Base into their own index
// types and drive a Tree[T] instance.
package blocktree

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// Tree is a generic block tree keyed by hash. T is a concrete per-chain
// index type that embeds Base (and so satisfies Indexed through Base's
// promoted methods). Tree owns no chain-specific validation: it only
// maintains parent/child edges, tip membership and status propagation.
type Tree[T Indexed] struct {
	mu sync.RWMutex

	indices map[Hash]T
	tips    map[Hash]struct{}

	genesisHash Hash
	hasGenesis  bool

	bestTipHash Hash
	hasBestTip  bool
}

// NewTree constructs an empty tree. Bootstrap must be called before any
// other method.
func NewTree[T Indexed]() *Tree[T] {
	return &Tree[T]{
		indices: make(map[Hash]T),
		tips:    make(map[Hash]struct{}),
	}
}

// Bootstrap seeds the tree with its genesis index. It is an error to call
// Bootstrap twice.
func (t *Tree[T]) Bootstrap(genesis T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasGenesis {
		return errors.New("blocktree: already bootstrapped")
	}
	h := genesis.Hash()
	t.indices[h] = genesis
	t.tips[h] = struct{}{}
	t.genesisHash = h
	t.hasGenesis = true
	t.bestTipHash = h
	t.hasBestTip = true
	return nil
}

// GetBlockIndex looks up the index for hash.
func (t *Tree[T]) GetBlockIndex(hash Hash) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.indices[hash]
	return v, ok
}

// Contains reports whether hash is known to the tree.
func (t *Tree[T]) Contains(hash Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.indices[hash]
	return ok
}

// All returns a snapshot of every index currently held by the tree.
// Used for diagnostics and payload-index rebuilding; callers must not
// assume the result stays in sync with later mutations.
func (t *Tree[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.indices))
	for _, idx := range t.indices {
		out = append(out, idx)
	}
	return out
}

// GenesisHash returns the tree's bootstrap hash.
func (t *Tree[T]) GenesisHash() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.genesisHash
}

// Insert links index into the tree under its declared parent. The parent
// must already be known. If the parent is failed, index is inserted with
// StatusFailedChild set rather than being rejected outright: blocktree
// itself does not decide whether a block is valid, only whether its
// ancestry makes validity possible.
func (t *Tree[T]) Insert(index T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := index.Hash()
	if _, exists := t.indices[h]; exists {
		return errors.Newf("blocktree: duplicate block %s", h)
	}

	parentHash := index.ParentHash()
	if index.HasParent() {
		parent, ok := t.indices[parentHash]
		if !ok {
			return errors.Newf("blocktree: unknown parent %s for block %s", parentHash, h)
		}
		if parent.Status().IsFailed() {
			index.SetStatus(index.Status().Set(StatusFailedChild))
		}
		parent.addChild(h)
		delete(t.tips, parentHash)
	}

	t.indices[h] = index
	t.tips[h] = struct{}{}
	return nil
}

// Tips returns the hash of every block with no children.
func (t *Tree[T]) Tips() []Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Hash, 0, len(t.tips))
	for h := range t.tips {
		out = append(out, h)
	}
	return out
}

// IsAncestor reports whether ancestor is a strict or non-strict ancestor
// of descendant (a block is its own ancestor).
func (t *Tree[T]) IsAncestor(ancestor, descendant Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur := descendant
	for {
		if cur == ancestor {
			return true
		}
		idx, ok := t.indices[cur]
		if !ok || !idx.HasParent() {
			return false
		}
		cur = idx.ParentHash()
	}
}

// LCA returns the lowest common ancestor of a and b, walking parent links.
// ok is false only if either hash is unknown.
func (t *Tree[T]) LCA(a, b Hash) (Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	depth := func(h Hash) (int, bool) {
		d := 0
		cur := h
		for {
			idx, ok := t.indices[cur]
			if !ok {
				return 0, false
			}
			if !idx.HasParent() {
				return d, true
			}
			d++
			cur = idx.ParentHash()
		}
	}

	da, ok := depth(a)
	if !ok {
		return Hash{}, false
	}
	db, ok := depth(b)
	if !ok {
		return Hash{}, false
	}

	for da > db {
		idx := t.indices[a]
		a = idx.ParentHash()
		da--
	}
	for db > da {
		idx := t.indices[b]
		b = idx.ParentHash()
		db--
	}
	for a != b {
		idx := t.indices[a]
		a = idx.ParentHash()
		idx = t.indices[b]
		b = idx.ParentHash()
	}
	return a, true
}

// InvalidateSubtree marks hash with reason (StatusFailedBlock or
// StatusFailedPoP) and sets StatusFailedChild on every descendant.
func (t *Tree[T]) InvalidateSubtree(hash Hash, reason StatusFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.indices[hash]
	if !ok {
		return
	}
	root.SetStatus(root.Status().Set(reason))
	t.indices[hash] = root

	queue := root.Children()
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		idx, ok := t.indices[h]
		if !ok {
			continue
		}
		idx.SetStatus(idx.Status().Set(StatusFailedChild))
		t.indices[h] = idx
		queue = append(queue, idx.Children()...)
	}
}

// RevalidateSubtree clears reason from hash, and clears StatusFailedChild
// from every descendant whose ancestry (excluding hash's own remaining
// flags) no longer contains a failed block.
func (t *Tree[T]) RevalidateSubtree(hash Hash, reason StatusFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.indices[hash]
	if !ok {
		return
	}
	root.SetStatus(root.Status().Clear(reason))
	t.indices[hash] = root
	if root.Status().IsFailed() {
		// Root itself still carries another failure bit; descendants stay
		// FailedChild.
		return
	}

	queue := root.Children()
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		idx, ok := t.indices[h]
		if !ok {
			continue
		}
		if idx.Status().Has(StatusFailedBlock) || idx.Status().Has(StatusFailedPoP) {
			// This branch has its own independent failure; stop here.
			continue
		}
		idx.SetStatus(idx.Status().Clear(StatusFailedChild))
		t.indices[h] = idx
		queue = append(queue, idx.Children()...)
	}
}

// RemoveSubtree deletes hash and every descendant from the tree in
// post-order, invoking onRemove on each index as it is detached so the
// caller can release chain-specific resources (refCounter decrements,
// endorsement un-registration).
func (t *Tree[T]) RemoveSubtree(hash Hash, onRemove func(T)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.indices[hash]
	if !ok {
		return
	}

	var walk func(h Hash)
	walk = func(h Hash) {
		idx, ok := t.indices[h]
		if !ok {
			return
		}
		for _, c := range idx.Children() {
			walk(c)
		}
		delete(t.indices, h)
		delete(t.tips, h)
		if onRemove != nil {
			onRemove(idx)
		}
	}
	walk(hash)

	if root.HasParent() {
		if parent, ok := t.indices[root.ParentHash()]; ok {
			parent.removeChild(hash)
			if parent.ChildCount() == 0 {
				t.tips[root.ParentHash()] = struct{}{}
			}
		}
	}
}

// ActiveTip returns the hash most recently set by OverrideTip, or the
// genesis hash if none has been set yet. The caller (btc/vbk/alt) is
// responsible for actually deciding which tip is "best"; Tree only
// remembers the last decision so repeated reads don't require recompute.
func (t *Tree[T]) ActiveTip() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bestTipHash
}

// OverrideTip records hash as the active tip. hash must already be known
// to the tree.
func (t *Tree[T]) OverrideTip(hash Hash) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.indices[hash]; !ok {
		return errors.Newf("blocktree: cannot set active tip to unknown block %s", hash)
	}
	t.bestTipHash = hash
	t.hasBestTip = true
	return nil
}
