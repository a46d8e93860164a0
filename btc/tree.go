package btc

import (
	"github.com/cockroachdb/errors"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/metrics"
	"github.com/altpop/popcore/poperr"
)

// StatelessValidator checks a BTC header's proof-of-work and merkle root.
// Cryptographic verification is out of scope (spec section 1); Tree only
// calls this predicate at the point spec section 4.1 names.
type StatelessValidator interface {
	ValidateHeader(header entities.BtcBlock, parent *Index) error
	// BlockWork returns the individual work contribution of header,
	// derived from its compact PoW target (bits).
	BlockWork(header entities.BtcBlock) (entities.Work, error)
}

// Tree is the BTC anchor tree: heaviest-chainWork fork choice, no
// payloads, refCounter pinning driven by the VBK tree above it.
type Tree struct {
	tree      *blocktree.Tree[*Index]
	validator StatelessValidator
	metrics   *metrics.Registry
}

// NewTree constructs an empty, unbootstrapped BTC tree.
func NewTree(validator StatelessValidator) *Tree {
	return &Tree{
		tree:      blocktree.NewTree[*Index](),
		validator: validator,
	}
}

// SetMetrics wires a metrics registry for this tree's block-accepted,
// block-rejected, and active-tip gauges. Optional; nil-safe if never
// called.
func (t *Tree) SetMetrics(reg *metrics.Registry) { t.metrics = reg }

// Bootstrap seeds the tree with a genesis header, or a checkpoint height
// plus starting chainWork (spec 4.1: "a single genesis header or a
// contiguous suffix with an explicit starting height"). The genesis index
// is marked StatusApplied.
func (t *Tree) Bootstrap(genesis entities.BtcBlock, startWork entities.Work) error {
	idx := NewGenesisIndex(genesis, startWork)
	idx.SetStatus(idx.Status().Set(blocktree.StatusApplied))
	return t.tree.Bootstrap(idx)
}

// GetBlockIndex looks up a BTC index by hash.
func (t *Tree) GetBlockIndex(hash blocktree.Hash) (*Index, bool) {
	return t.tree.GetBlockIndex(hash)
}

// Underlying exposes the generic block tree for popcompare's HeightSource
// adapter.
func (t *Tree) Underlying() *blocktree.Tree[*Index] { return t.tree }

// Tips returns the tree's current tip hashes.
func (t *Tree) Tips() []blocktree.Hash { return t.tree.Tips() }

// ActiveTip returns the hash of the current heaviest-work tip.
func (t *Tree) ActiveTip() blocktree.Hash { return t.tree.ActiveTip() }

// AcceptBlock validates and inserts a BTC header (spec section 4.1's
// acceptBlock, specialized to BTC: no payload processing).
func (t *Tree) AcceptBlock(header entities.BtcBlock) (*Index, error) {
	parent, ok := t.tree.GetBlockIndex(header.ParentHash())
	if !ok {
		t.rejected("unknown-parent")
		return nil, poperr.NewInvalid(poperr.KindUnknownParent, "btc: unknown parent %s for block %s", header.ParentHash(), header.BlockHash())
	}
	if parent.Status().IsFailed() {
		t.rejected("marked-invalid")
		return nil, poperr.NewInvalid(poperr.KindMarkedInvalid, "btc: parent %s is marked invalid", header.ParentHash())
	}
	if err := t.validator.ValidateHeader(header, parent); err != nil {
		t.rejected("bad-pow")
		return nil, poperr.WrapInvalid(poperr.KindBadPoW, err, "btc: stateless validation failed")
	}
	work, err := t.validator.BlockWork(header)
	if err != nil {
		t.rejected("bad-pow")
		return nil, poperr.WrapInvalid(poperr.KindBadPoW, err, "btc: could not derive block work")
	}

	idx := NewIndex(header, parent.Addon.ChainWork, work)
	if err := t.tree.Insert(idx); err != nil {
		t.rejected("duplicate")
		return nil, poperr.WrapInvalid(poperr.KindDuplicateBlock, err, "btc: insert failed")
	}
	if t.metrics != nil {
		t.metrics.BlocksAccepted.WithLabelValues("btc").Inc()
	}

	t.determineBestChain(idx)
	return idx, nil
}

func (t *Tree) rejected(reason string) {
	if t.metrics != nil {
		t.metrics.BlocksRejected.WithLabelValues("btc", reason).Inc()
	}
}

// determineBestChain implements spec 4.2: if candidate.chainWork exceeds
// the active tip's, switch to it. Ties break by lexicographically lower
// hash, per spec 4.1's tie-break rule.
func (t *Tree) determineBestChain(candidate *Index) {
	activeHash := t.tree.ActiveTip()
	active, ok := t.tree.GetBlockIndex(activeHash)
	if !ok {
		_ = t.tree.OverrideTip(candidate.Hash())
		return
	}
	if candidate.Status().IsFailed() {
		return
	}
	cmp := candidate.Addon.ChainWork.Cmp(active.Addon.ChainWork)
	if cmp > 0 || (cmp == 0 && candidate.Hash().Less(active.Hash())) {
		_ = t.tree.OverrideTip(candidate.Hash())
		if t.metrics != nil {
			t.metrics.ReorgsTotal.WithLabelValues("btc").Inc()
			t.metrics.ActiveChainTip.WithLabelValues("btc").Set(float64(candidate.Height()))
		}
	}
}

// IncRef increments the pin count on the block at hash, called by the
// VBK tree when a VTB's blockOfProof lands here.
func (t *Tree) IncRef(hash blocktree.Hash) error {
	idx, ok := t.tree.GetBlockIndex(hash)
	if !ok {
		return errors.Newf("btc: IncRef on unknown block %s", hash)
	}
	idx.Addon.RefCounter++
	return nil
}

// DecRef decrements the pin count on the block at hash. It is an
// assertion-class violation (spec section 7) for this to underflow.
func (t *Tree) DecRef(hash blocktree.Hash) error {
	idx, ok := t.tree.GetBlockIndex(hash)
	if !ok {
		return errors.Newf("btc: DecRef on unknown block %s", hash)
	}
	poperr.Assert(idx.Addon.RefCounter > 0, "btc: refCounter underflow at %s", hash)
	idx.Addon.RefCounter--
	return nil
}

// RemoveSubtree deletes hash and its descendants. If hash or any
// descendant is still pinned by a refCounter it deletes nothing and
// returns an error. Applied status is not consulted.
func (t *Tree) RemoveSubtree(hash blocktree.Hash) error {
	if _, ok := t.tree.GetBlockIndex(hash); !ok {
		return nil
	}
	stack := []blocktree.Hash{hash}
	for len(stack) > 0 {
		cur, ok := t.tree.GetBlockIndex(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		if !ok {
			continue
		}
		if cur.Addon.RefCounter > 0 {
			return errors.Newf("btc: cannot prune %s: refCounter=%d", cur.Hash(), cur.Addon.RefCounter)
		}
		stack = append(stack, cur.Children()...)
	}
	t.tree.RemoveSubtree(hash, nil)
	return nil
}

// InvalidateSubtree marks hash FAILED_BLOCK and propagates FAILED_CHILD.
func (t *Tree) InvalidateSubtree(hash blocktree.Hash) {
	t.tree.InvalidateSubtree(hash, blocktree.StatusFailedBlock)
}

// IsAncestor reports whether ancestor precedes descendant on the tree.
func (t *Tree) IsAncestor(ancestor, descendant blocktree.Hash) bool {
	return t.tree.IsAncestor(ancestor, descendant)
}
