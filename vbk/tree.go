package vbk

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/cockroachdb/errors"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/metrics"
	"github.com/altpop/popcore/poperr"
	"github.com/altpop/popcore/popcompare"
	"github.com/altpop/popcore/popstate"
)

// StatelessValidator checks a VBK header's proof-of-work and contiguity.
type StatelessValidator interface {
	ValidateHeader(header entities.VbkBlock, parent *Index) error
	BlockWork(header entities.VbkBlock) (entities.Work, error)
}

// VTBSource loads VTB bodies by id (spec section 6's getVTBs).
type VTBSource interface {
	GetVTBs(ids []entities.PayloadID) ([]entities.VTB, error)
}

// SettlementInterval bounds how many blocks back an endorsement's
// containing block may be re-included from before it is considered a
// duplicate of one already settled on the active chain.
type Params struct {
	SettlementInterval int32
}

// Tree is the VBK block tree: BTC-anchored VTB endorsements, fork choice
// delegated to popcompare with BTC as the protecting tree.
type Tree struct {
	tree      *blocktree.Tree[*Index]
	btc       *btc.Tree
	validator StatelessValidator
	provider  VTBSource
	params    Params

	// dedupCache bounds memory for the "is this endorsement already
	// settled on the active chain" check (spec 4.3's duplicate VTB
	// filter) across large settlement windows; keyed by endorsement id.
	dedupCache *fastcache.Cache

	comparator *popcompare.Comparator[*Index]
	metrics    *metrics.Registry
}

// SetMetrics wires a metrics registry for this tree's block-accepted,
// block-rejected, payload, and active-tip counters. Optional; nil-safe
// if never called.
func (t *Tree) SetMetrics(reg *metrics.Registry) { t.metrics = reg }

// NewTree constructs an empty, unbootstrapped VBK tree anchored to btcTree.
func NewTree(btcTree *btc.Tree, validator StatelessValidator, provider VTBSource, params Params) *Tree {
	t := &Tree{
		tree:       blocktree.NewTree[*Index](),
		btc:        btcTree,
		validator:  validator,
		provider:   provider,
		params:     params,
		dedupCache: fastcache.New(8 * 1024 * 1024),
	}
	heightSource := popcompare.TreeHeightSource[*btc.Index]{Tree: btcTree.Underlying()}
	// VTB effects are eager/unconditional (spec 4.3); no apply/unapply
	// gating is needed to project state, so the comparator is built with
	// a nil machine (see popcompare.Comparator.project).
	t.comparator = popcompare.NewComparator[*Index](t.tree, nil, heightSource)
	return t
}

// Underlying exposes the generic block tree for types that need to treat
// vbk.Index generically (popcompare's HeightSource adapter).
func (t *Tree) Underlying() *blocktree.Tree[*Index] { return t.tree }

func (t *Tree) Bootstrap(genesis entities.VbkBlock) error {
	idx := NewGenesisIndex(genesis)
	idx.SetStatus(idx.Status().Set(blocktree.StatusApplied))
	return t.tree.Bootstrap(idx)
}

func (t *Tree) GetBlockIndex(hash blocktree.Hash) (*Index, bool) {
	return t.tree.GetBlockIndex(hash)
}

func (t *Tree) ActiveTip() blocktree.Hash { return t.tree.ActiveTip() }
func (t *Tree) Tips() []blocktree.Hash    { return t.tree.Tips() }

// AcceptBlock validates and inserts a VBK header (spec 4.1's acceptBlock).
func (t *Tree) AcceptBlock(header entities.VbkBlock) (*Index, error) {
	if existing, ok := t.tree.GetBlockIndex(header.BlockHash()); ok {
		return existing, nil
	}
	parent, ok := t.tree.GetBlockIndex(header.ParentHash())
	if !ok {
		t.rejected("unknown-parent")
		return nil, poperr.NewInvalid(poperr.KindUnknownParent, "vbk: unknown parent %s for block %s", header.ParentHash(), header.BlockHash())
	}
	if parent.Status().IsFailed() {
		t.rejected("marked-invalid")
		return nil, poperr.NewInvalid(poperr.KindMarkedInvalid, "vbk: parent %s is marked invalid", header.ParentHash())
	}
	if header.BlockHeight() != parent.Height()+1 {
		t.rejected("non-contiguous")
		return nil, poperr.NewInvalid(poperr.KindVbkBlockInvalid, "invalid-vbk-block: blocks are not contiguous at %s", header.BlockHash())
	}
	if err := t.validator.ValidateHeader(header, parent); err != nil {
		t.rejected("bad-header")
		return nil, poperr.WrapInvalid(poperr.KindVbkBlockInvalid, err, "vbk: stateless validation failed")
	}
	work, err := t.validator.BlockWork(header)
	if err != nil {
		t.rejected("bad-header")
		return nil, poperr.WrapInvalid(poperr.KindVbkBlockInvalid, err, "vbk: could not derive block work")
	}

	idx := NewIndex(header, parent.Addon.ChainWork, work)
	if err := t.tree.Insert(idx); err != nil {
		t.rejected("duplicate")
		return nil, poperr.WrapInvalid(poperr.KindDuplicateBlock, err, "vbk: insert failed")
	}
	if t.metrics != nil {
		t.metrics.BlocksAccepted.WithLabelValues("vbk").Inc()
	}
	t.determineBestChain(idx)
	return idx, nil
}

func (t *Tree) rejected(reason string) {
	if t.metrics != nil {
		t.metrics.BlocksRejected.WithLabelValues("vbk", reason).Inc()
	}
}

// determineBestChain forwards to popcompare with BTC as the protecting
// tree (spec 4.3).
func (t *Tree) determineBestChain(candidate *Index) {
	if candidate.Status().IsFailed() {
		return
	}
	activeHash := t.tree.ActiveTip()
	if activeHash == candidate.Hash() {
		return
	}
	result, err := t.comparator.Compare(candidate.Hash(), activeHash)
	if err != nil {
		return
	}
	if result > 0 {
		_ = t.tree.OverrideTip(candidate.Hash())
		if t.metrics != nil {
			t.metrics.ReorgsTotal.WithLabelValues("vbk").Inc()
			t.metrics.ActiveChainTip.WithLabelValues("vbk").Set(float64(candidate.Height()))
		}
	}
}

func settlementKey(endorsementID entities.EndorsementID) []byte {
	return endorsementID[:]
}

// isDuplicate reports whether an endorsement with this id already exists
// within the settlement window on the VBK active chain ending at tip.
func (t *Tree) isDuplicate(id entities.EndorsementID, tip *Index) bool {
	if t.dedupCache.Has(settlementKey(id)) {
		return true
	}
	lowHeight := tip.Height() - t.params.SettlementInterval
	genesisHeight := t.genesisHeight()
	if lowHeight < genesisHeight {
		lowHeight = genesisHeight
	}
	cur := tip
	for cur.Height() >= lowHeight {
		if _, ok := cur.Addon.ContainingEndorsements[id]; ok {
			return true
		}
		if !cur.HasParent() {
			break
		}
		parent, ok := t.tree.GetBlockIndex(cur.ParentHash())
		if !ok {
			break
		}
		cur = parent
	}
	return false
}

// IsDuplicateEndorsement reports whether an endorsement with this id
// already appears within the settlement window on the active chain
// ending at containingHash. Exposed for the mempool's getPop trial
// (spec 4.8 step 4), which must decide this without mutating the tree.
func (t *Tree) IsDuplicateEndorsement(containingHash blocktree.Hash, endorsementID entities.EndorsementID) bool {
	idx, ok := t.tree.GetBlockIndex(containingHash)
	if !ok {
		return false
	}
	return t.isDuplicate(endorsementID, idx)
}

func (t *Tree) genesisHeight() int32 {
	genesis, ok := t.tree.GetBlockIndex(t.tree.GenesisHash())
	if !ok {
		return 0
	}
	return genesis.Height()
}

// AddPayloads implements spec 4.3's addPayloads: atomic, duplicate
// VTBs silently dropped, remaining VTBs appended to vbkHash's payload
// list with their BTC anchors added and refCounter incremented. On any
// contextual failure the call restores the pre-call state.
func (t *Tree) AddPayloads(vbkHash blocktree.Hash, vtbs []entities.VTB) error {
	idx, ok := t.tree.GetBlockIndex(vbkHash)
	if !ok {
		return poperr.NewInvalid(poperr.KindUnknownParent, "vbk: addPayloads on unknown block %s", vbkHash)
	}
	if idx.Status().IsFailed() {
		return poperr.NewInvalid(poperr.KindMarkedInvalid, "vbk: addPayloads on failed block %s", vbkHash)
	}

	startIDs := len(idx.Addon.VTBIDs)
	var executed []entities.CommandGroup
	var executedKeys [][]byte
	for _, vtb := range vtbs {
		endorsementID := entities.ComputeEndorsementID(vtb.ID, vbkHash[:])
		if t.isDuplicate(endorsementID, idx) {
			continue
		}

		group := t.buildVTBGroup(idx, vtb, endorsementID)
		if err := group.Execute(); err != nil {
			for i := len(executed) - 1; i >= 0; i-- {
				_ = executed[i].Unexecute()
			}
			for _, k := range executedKeys {
				t.dedupCache.Del(k)
			}
			idx.Addon.VTBIDs = idx.Addon.VTBIDs[:startIDs]
			if t.metrics != nil {
				t.metrics.PayloadsInvalid.WithLabelValues("vtb").Inc()
			}
			return poperr.WrapInvalid(poperr.KindVtbStatelesslyInvalid, err, "vbk: addPayloads failed")
		}
		executed = append(executed, group)
		idx.Addon.VTBIDs = append(idx.Addon.VTBIDs, vtb.ID)
		t.dedupCache.Set(settlementKey(endorsementID), nil)
		executedKeys = append(executedKeys, settlementKey(endorsementID))
		if t.metrics != nil {
			t.metrics.PayloadsApplied.WithLabelValues("vtb").Inc()
		}
	}

	t.determineBestChain(idx)
	return nil
}

// RemovePayloads is the inverse of AddPayloads. Per spec 4.3, callers
// must pass ids in reverse addition order; violating this corrupts
// refCounter.
func (t *Tree) RemovePayloads(vbkHash blocktree.Hash, vtbs []entities.VTB) error {
	idx, ok := t.tree.GetBlockIndex(vbkHash)
	if !ok {
		return poperr.NewInvalid(poperr.KindNotFound, "vbk: removePayloads on unknown block %s", vbkHash)
	}
	for _, vtb := range vtbs {
		endorsementID := entities.ComputeEndorsementID(vtb.ID, vbkHash[:])
		group := t.buildVTBGroup(idx, vtb, endorsementID)
		if err := group.Unexecute(); err != nil {
			return poperr.NewFault(err, "vbk: removePayloads unexecute failed")
		}
		idx.DropPayloadID(vtb.ID)
		t.dedupCache.Del(settlementKey(endorsementID))
	}
	return nil
}

// buildVTBGroup constructs the CommandGroup realizing one VTB's effects:
// context blocks, the blockOfProof itself, its refCounter increment, and
// the endorsement record.
func (t *Tree) buildVTBGroup(containing *Index, vtb entities.VTB, endorsementID entities.EndorsementID) entities.CommandGroup {
	var cmds []entities.Command
	for _, ctx := range vtb.Context {
		cmds = append(cmds, &addBtcContextCommand{btcTree: t.btc, header: ctx})
	}
	cmds = append(cmds, &addBtcContextCommand{btcTree: t.btc, header: vtb.BlockOfProof})
	cmds = append(cmds, &incRefBtcCommand{btcTree: t.btc, hash: vtb.BlockOfProof.BlockHash()})
	cmds = append(cmds, &addVtbEndorsementCommand{
		tree:           t.tree,
		containingHash: containing.Hash(),
		endorsement: entities.Endorsement{
			ID:             endorsementID,
			EndorsedHash:   vtb.EndorsedBlock,
			ContainingHash: containing.Hash(),
			BlockOfProof:   vtb.BlockOfProof.BlockHash(),
		},
	})
	return entities.CommandGroup{PayloadID: vtb.ID, Commands: cmds}
}

// GetCommands implements popstate.CommandProvider[*Index] for the cases
// (e.g. a future ALT-driven recomputation) that need to rebuild a VBK
// block's command groups from its stored VTB ids.
func (t *Tree) GetCommands(idx *Index) ([]entities.CommandGroup, error) {
	if len(idx.Addon.VTBIDs) == 0 {
		return nil, nil
	}
	vtbs, err := t.provider.GetVTBs(idx.Addon.VTBIDs)
	if err != nil {
		return nil, errors.Wrap(err, "vbk: loading VTBs")
	}
	groups := make([]entities.CommandGroup, 0, len(vtbs))
	containingHash := idx.Hash()
	for _, vtb := range vtbs {
		endorsementID := entities.ComputeEndorsementID(vtb.ID, containingHash[:])
		groups = append(groups, t.buildVTBGroup(idx, vtb, endorsementID))
	}
	return groups, nil
}

// IncRef increments the pin count on the VBK block at hash, called by the
// ALT tree when an ATV's blockOfProof lands here.
func (t *Tree) IncRef(hash blocktree.Hash) error {
	idx, ok := t.tree.GetBlockIndex(hash)
	if !ok {
		return errors.Newf("vbk: IncRef on unknown block %s", hash)
	}
	idx.Addon.RefCounter++
	return nil
}

// DecRef decrements the pin count on the VBK block at hash.
func (t *Tree) DecRef(hash blocktree.Hash) error {
	idx, ok := t.tree.GetBlockIndex(hash)
	if !ok {
		return errors.Newf("vbk: DecRef on unknown block %s", hash)
	}
	poperr.Assert(idx.Addon.RefCounter > 0, "vbk: refCounter underflow at %s", hash)
	idx.Addon.RefCounter--
	return nil
}

// RemoveSubtree deletes hash and its descendants. If hash or any
// descendant is still pinned by a refCounter it deletes nothing and
// returns an error.
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
			return errors.Newf("vbk: cannot prune %s: refCounter=%d", cur.Hash(), cur.Addon.RefCounter)
		}
		stack = append(stack, cur.Children()...)
	}
	t.tree.RemoveSubtree(hash, nil)
	return nil
}

// AllPayloadIDs implements payloadindex.Reindexer.
func (t *Tree) AllPayloadIDs() map[blocktree.Hash][]entities.PayloadID {
	out := make(map[blocktree.Hash][]entities.PayloadID)
	for _, idx := range t.tree.All() {
		if len(idx.Addon.VTBIDs) > 0 {
			out[idx.Hash()] = idx.Addon.VTBIDs
		}
	}
	return out
}

// ComparatorWithBTC exposes the VBK-over-BTC comparator for direct reuse.
// No package in this module calls it.
func (t *Tree) ComparatorWithBTC() *popcompare.Comparator[*Index] { return t.comparator }
