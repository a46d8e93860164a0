// Package popcompare implements the PoP-aware fork-resolution comparator
// (spec section 4.6): a non-transitive pairwise ordering between two tips
// of a protected tree, scored by projecting their endorsements into the
// protecting tree's active state. The exact same implementation serves
// both the VBK-over-BTC relationship and the ALT-over-VBK relationship;
// only the type parameters and the endorsement accessor differ.
package popcompare

import (
	"sort"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/popstate"
)

// ProtectedIndex is the surface popcompare needs from a protected-tree
// index: blocktree identity/status, chainWork for the final tie-break,
// and its own directly-contained endorsements.
type ProtectedIndex interface {
	popstate.BlockIndex
	ChainWork() entities.Work
	Endorsements() []entities.Endorsement
}

// HeightSource answers height queries against the protecting tree. A
// TreeHeightSource adapts a *blocktree.Tree[G] to this interface.
type HeightSource interface {
	GetHeight(hash blocktree.Hash) (int32, bool)
	TipHeight() int32
}

// TreeHeightSource adapts any blocktree.Tree[G] to HeightSource.
type TreeHeightSource[G blocktree.Indexed] struct {
	Tree *blocktree.Tree[G]
}

func (s TreeHeightSource[G]) GetHeight(hash blocktree.Hash) (int32, bool) {
	idx, ok := s.Tree.GetBlockIndex(hash)
	if !ok {
		var zero int32
		return zero, false
	}
	return idx.Height(), true
}

func (s TreeHeightSource[G]) TipHeight() int32 {
	idx, ok := s.Tree.GetBlockIndex(s.Tree.ActiveTip())
	if !ok {
		return 0
	}
	return idx.Height()
}

// keypoint is a single (endorsedHeight, proofDepth) pair, per spec 4.6
// step 6's definition of keypoints(X).
type keypoint struct {
	endorsedHeight int32
	proofDepth     int32
}

// less implements the (endorsedHeight asc, proofDepth desc) pair order.
func (a keypoint) less(b keypoint) bool {
	if a.endorsedHeight != b.endorsedHeight {
		return a.endorsedHeight < b.endorsedHeight
	}
	return a.proofDepth > b.proofDepth
}

// Comparator implements spec 4.6. T is the protected tree's index type
// (e.g. vbk.Index when comparing VBK tips with BTC as the protecting
// tree, or alt.Index when comparing ALT tips with VBK protecting).
type Comparator[T ProtectedIndex] struct {
	tree       *blocktree.Tree[T]
	machine    *popstate.Machine[T]
	protecting HeightSource

	// currentHash is the protected-tree hash whose payload effects are
	// currently reflected in the protecting tree's state. This is
	// deliberately exposed (not hidden) per spec section 9's design note
	// that callers must understand compare mutates shared state.
	currentHash blocktree.Hash
	hasCurrent  bool
}

// NewComparator constructs a Comparator. machine must share tree.
func NewComparator[T ProtectedIndex](tree *blocktree.Tree[T], machine *popstate.Machine[T], protecting HeightSource) *Comparator[T] {
	return &Comparator[T]{tree: tree, machine: machine, protecting: protecting}
}

// CurrentlyProjected returns the hash currently reflected in the
// protecting tree, and whether one has been established yet.
func (c *Comparator[T]) CurrentlyProjected() (blocktree.Hash, bool) {
	return c.currentHash, c.hasCurrent
}

// SyncCurrent records that the protected tree's state has already been
// brought to hash by a caller outside Compare (e.g. addPayloads applying
// a direct extension of the active chain before fork choice runs), so
// the next project call doesn't try to replay an apply that already
// happened.
func (c *Comparator[T]) SyncCurrent(hash blocktree.Hash) {
	c.currentHash = hash
	c.hasCurrent = true
}

// project switches the protecting tree's reflected state to candidate
// `to`. When the comparator's protected payloads take effect eagerly and
// unconditionally (spec 4.3's VTB bookkeeping: BTC context/refCounter
// changes happen at addPayloads time, not gated on VBK's active chain),
// Comparator is constructed with a nil machine and project is a no-op:
// keypoints are read directly off each candidate's ancestor chain with
// no projection needed. When payloads are gated on the protected tree's
// active chain (spec 4.4 step 5's ALT/ATV case), machine drives the
// apply/unapply that step 4 describes.
func (c *Comparator[T]) project(to blocktree.Hash) error {
	if c.machine == nil {
		c.currentHash = to
		c.hasCurrent = true
		return nil
	}
	if !c.hasCurrent {
		c.currentHash = c.tree.ActiveTip()
		c.hasCurrent = true
	}
	if c.currentHash == to {
		return nil
	}
	if err := c.machine.SetState(c.currentHash, to); err != nil {
		return err
	}
	c.currentHash = to
	return nil
}

// keypoints walks hash's ancestor chain, gathering a (endorsedHeight,
// proofDepth) pair for every endorsement found along the way whose
// blockOfProof is known to the protecting tree.
func (c *Comparator[T]) keypoints(hash blocktree.Hash) []keypoint {
	tipHeight := c.protecting.TipHeight()
	var out []keypoint
	cur := hash
	for {
		idx, ok := c.tree.GetBlockIndex(cur)
		if !ok {
			break
		}
		for _, e := range idx.Endorsements() {
			proofHeight, ok := c.protecting.GetHeight(e.BlockOfProof)
			if !ok {
				continue
			}
			out = append(out, keypoint{
				endorsedHeight: idx.Height(),
				proofDepth:     tipHeight - proofHeight,
			})
		}
		if !idx.HasParent() {
			break
		}
		cur = idx.ParentHash()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// compareKeypoints implements the lexicographic comparison of spec 4.6
// step 6: earliest-endorsed-first, ties broken deepest-proof-first.
// Returns -1, 0, +1 expressed as a-vs-b; a wins (positive) at the first
// differing pair where a is the earlier-endorsed/deeper-proof side.
func compareKeypoints(a, b []keypoint) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		if a[i].less(b[i]) {
			return 1
		}
		return -1
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Compare implements spec 4.6's compare(A,B). It has the documented side
// effect of leaving the protecting tree's reflected state applied to
// whichever of A or B wins.
func (c *Comparator[T]) Compare(a, b blocktree.Hash) (int, error) {
	if a == b {
		return 0, nil
	}

	cur, other := a, b
	if c.hasCurrent && c.currentHash == b {
		cur, other = b, a
	}
	if err := c.project(cur); err != nil {
		return 0, err
	}

	curIdx, _ := c.tree.GetBlockIndex(cur)
	curKeys := c.keypoints(cur)

	if err := c.project(other); err != nil {
		// other's payloads are invalid against the protecting tree state;
		// spec 4.6 step 4: cur wins.
		if cur == a {
			return 1, nil
		}
		return -1, nil
	}
	otherIdx, _ := c.tree.GetBlockIndex(other)
	otherKeys := c.keypoints(other)

	result := compareKeypoints(curKeys, otherKeys)
	if result == 0 {
		result = curIdx.ChainWork().Cmp(otherIdx.ChainWork())
	}
	if result == 0 {
		switch {
		case cur.Less(other):
			result = 1
		case other.Less(cur):
			result = -1
		}
	}

	// result is expressed as cur-vs-other; leave state applied to the
	// winner and translate to an a-vs-b answer.
	winner := cur
	if result < 0 {
		winner = other
	}
	if err := c.project(winner); err != nil {
		return 0, err
	}

	if cur == a {
		return result, nil
	}
	return -result, nil
}
