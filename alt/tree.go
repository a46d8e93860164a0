package alt

import (
	"github.com/cockroachdb/errors"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/metrics"
	"github.com/altpop/popcore/poperr"
	"github.com/altpop/popcore/popcompare"
	"github.com/altpop/popcore/popstate"
	"github.com/altpop/popcore/vbk"
)

// StatelessValidator checks an ALT header's block time against the
// median of the preceding window and other chain-specific rules. PoW and
// merkle-root checks don't apply to ALT per spec (ALT is the protected,
// non-mining chain).
type StatelessValidator interface {
	ValidateHeader(header entities.AltBlock, parent *Index, medianTimePast uint32) error
	// ValidateATV checks an ATV's merkle path and chain identifier against
	// the submitted block, independent of any tree state. AddPayloads runs
	// this on every ATV in a PopData before committing; a failure rolls
	// back any Context/VTBs already accepted in the same call.
	ValidateATV(a entities.ATV) error
}

// ATVSource loads ATV bodies by id.
type ATVSource interface {
	GetATVs(ids []entities.PayloadID) ([]entities.ATV, error)
}

// Params mirrors spec section 6's recognized `alt` options.
type Params struct {
	NetworkID            uint32
	SettlementInterval   int32
	PayoutDelay          int32
	PayoutWindowSize     int32
	MaxPopDataPerBlock   int
	MaxBlockTimeDrift    uint32
	MedianTimePastBlocks int32
}

// Tree is the ALT block tree: ATV/VTB/VBK-payload-carrying, fork choice
// delegated to popcompare with VBK as the protecting tree.
type Tree struct {
	tree      *blocktree.Tree[*Index]
	vbk       *vbk.Tree
	validator StatelessValidator
	provider  ATVSource
	params    Params

	machine    *popstate.Machine[*Index]
	comparator *popcompare.Comparator[*Index]
	metrics    *metrics.Registry
}

// SetMetrics wires a metrics registry for this tree's block-accepted,
// block-rejected, payload, and active-tip counters. Optional; nil-safe
// if never called.
func (t *Tree) SetMetrics(reg *metrics.Registry) { t.metrics = reg }

// NewTree constructs an empty, unbootstrapped ALT tree anchored to vbkTree.
func NewTree(vbkTree *vbk.Tree, validator StatelessValidator, provider ATVSource, validity popstate.ValidityRecorder, params Params) *Tree {
	t := &Tree{
		tree:      blocktree.NewTree[*Index](),
		vbk:       vbkTree,
		validator: validator,
		provider:  provider,
		params:    params,
	}
	t.machine = &popstate.Machine[*Index]{Tree: t.tree, Provider: t, Validity: validity, ShouldCanApply: true}
	heightSource := popcompare.TreeHeightSource[*vbk.Index]{Tree: vbkTree.Underlying()}
	t.comparator = popcompare.NewComparator[*Index](t.tree, t.machine, heightSource)
	return t
}

func (t *Tree) Bootstrap(genesis entities.AltBlock) error {
	idx := NewGenesisIndex(genesis)
	idx.SetStatus(idx.Status().Set(blocktree.StatusApplied).Set(blocktree.StatusCanBeApplied))
	return t.tree.Bootstrap(idx)
}

func (t *Tree) GetBlockIndex(hash blocktree.Hash) (*Index, bool) { return t.tree.GetBlockIndex(hash) }
func (t *Tree) ActiveTip() blocktree.Hash                        { return t.tree.ActiveTip() }
func (t *Tree) Tips() []blocktree.Hash                           { return t.tree.Tips() }

func (t *Tree) medianTimePast(parent *Index) uint32 {
	var times []uint32
	cur := parent
	for i := int32(0); i < t.params.MedianTimePastBlocks; i++ {
		times = append(times, cur.Header.Timestamp)
		if !cur.HasParent() {
			break
		}
		next, ok := t.tree.GetBlockIndex(cur.ParentHash())
		if !ok {
			break
		}
		cur = next
	}
	// insertion sort; MedianTimePastBlocks is small (typically 11).
	for i := 1; i < len(times); i++ {
		v := times[i]
		j := i - 1
		for j >= 0 && times[j] > v {
			times[j+1] = times[j]
			j--
		}
		times[j+1] = v
	}
	if len(times) == 0 {
		return 0
	}
	return times[len(times)/2]
}

// AcceptBlock implements spec 4.4's acceptBlock: validates block time
// against the median of the preceding window and parent presence. Does
// not require payloads yet.
func (t *Tree) AcceptBlock(header entities.AltBlock) (*Index, error) {
	if existing, ok := t.tree.GetBlockIndex(header.BlockHash()); ok {
		return existing, nil
	}
	parent, ok := t.tree.GetBlockIndex(header.ParentHash())
	if !ok {
		t.rejected("unknown-parent")
		return nil, poperr.NewInvalid(poperr.KindUnknownParent, "alt: unknown parent %s for block %s", header.ParentHash(), header.BlockHash())
	}
	if parent.Status().IsFailed() {
		t.rejected("marked-invalid")
		return nil, poperr.NewInvalid(poperr.KindMarkedInvalid, "alt: parent %s is marked invalid", header.ParentHash())
	}
	mtp := t.medianTimePast(parent)
	if err := t.validator.ValidateHeader(header, parent, mtp); err != nil {
		t.rejected("bad-header")
		return nil, poperr.WrapInvalid(poperr.KindAltBlockInvalid, err, "alt: stateless validation failed")
	}

	idx := NewIndex(header)
	if err := t.tree.Insert(idx); err != nil {
		t.rejected("duplicate")
		return nil, poperr.WrapInvalid(poperr.KindDuplicateBlock, err, "alt: insert failed")
	}
	if t.metrics != nil {
		t.metrics.BlocksAccepted.WithLabelValues("alt").Inc()
	}
	return idx, nil
}

func (t *Tree) rejected(reason string) {
	if t.metrics != nil {
		t.metrics.BlocksRejected.WithLabelValues("alt", reason).Inc()
	}
}

// AddPayloads implements spec 4.4's addPayloads.
func (t *Tree) AddPayloads(altHash blocktree.Hash, data entities.PopData) error {
	idx, ok := t.tree.GetBlockIndex(altHash)
	if !ok {
		return poperr.NewInvalid(poperr.KindUnknownParent, "alt: addPayloads on unknown block %s", altHash)
	}
	if idx.Status().IsFailed() {
		return poperr.NewInvalid(poperr.KindMarkedInvalid, "alt: addPayloads on failed block %s", altHash)
	}
	if idx.Addon.HasPayloads {
		return poperr.NewInvalid(poperr.KindAlreadyHasPayloads, "alt: block %s already has payloads", altHash)
	}

	newlyInsertedVBK := make([]blocktree.Hash, 0, len(data.Context))
	for _, vbkHeader := range data.Context {
		if _, alreadyKnown := t.vbk.GetBlockIndex(vbkHeader.BlockHash()); !alreadyKnown {
			newlyInsertedVBK = append(newlyInsertedVBK, vbkHeader.BlockHash())
		}
		if _, err := t.vbk.AcceptBlock(vbkHeader); err != nil {
			return poperr.Tag(err, "alt: addPayloads VBK context")
		}
		idx.Addon.VBKIDs = append(idx.Addon.VBKIDs, entities.ComputePayloadID(vbkHeader.Raw))
	}
	for _, v := range data.VTBs {
		if err := t.vbk.AddPayloads(v.ContainingBlock, []entities.VTB{v}); err != nil {
			return poperr.Tag(err, "alt: addPayloads VTB")
		}
		idx.Addon.VTBIDs = append(idx.Addon.VTBIDs, v.ID)
	}
	for _, a := range data.ATVs {
		if err := t.validator.ValidateATV(a); err != nil {
			// Roll back whatever Context/VTBs this call already committed;
			// none of data.ATVs has been applied yet (ATV effects are
			// gated on the active chain and realized later by the
			// machine), so only Context/VTBs need unwinding here. Only
			// VBK context blocks this call itself inserted are removed;
			// ones that already existed are left alone.
			for j := len(data.VTBs) - 1; j >= 0; j-- {
				v := data.VTBs[j]
				_ = t.vbk.RemovePayloads(v.ContainingBlock, []entities.VTB{v})
			}
			for j := len(newlyInsertedVBK) - 1; j >= 0; j-- {
				_ = t.vbk.RemoveSubtree(newlyInsertedVBK[j])
			}
			idx.Addon.VBKIDs = nil
			idx.Addon.VTBIDs = nil
			idx.Addon.ATVIDs = nil
			if t.metrics != nil {
				t.metrics.PayloadsInvalid.WithLabelValues("atv").Inc()
			}
			return poperr.WrapInvalid(poperr.KindAtvStatelesslyInvalid, err, "alt: ATV "+a.ID.String()+" statelessly invalid")
		}
		idx.Addon.ATVIDs = append(idx.Addon.ATVIDs, a.ID)
		if t.metrics != nil {
			t.metrics.PayloadsApplied.WithLabelValues("atv").Inc()
		}
	}
	idx.Addon.HasPayloads = true

	if t.tree.IsAncestor(idx.Hash(), t.tree.ActiveTip()) || idx.Hash() == t.tree.ActiveTip() {
		// Already on the active chain (e.g. re-running payloads on the
		// current tip); nothing further to apply here.
	} else if t.onActiveChain(idx) {
		if err := t.machine.ApplyBlock(idx); err != nil {
			return err
		}
		t.comparator.SyncCurrent(idx.Hash())
	}

	t.determineBestChain(idx)
	return nil
}

// onActiveChain reports whether idx's parent is the current active tip,
// i.e. idx is a direct extension of the currently applied chain.
func (t *Tree) onActiveChain(idx *Index) bool {
	return idx.HasParent() && idx.ParentHash() == t.tree.ActiveTip()
}

// RemovePayloads implements spec 4.4's removePayloads: removes ALT
// endorsements and delegates VTB/VBK removal to the VBK tree in reverse
// order.
func (t *Tree) RemovePayloads(altHash blocktree.Hash, data entities.PopData) error {
	idx, ok := t.tree.GetBlockIndex(altHash)
	if !ok {
		return poperr.NewInvalid(poperr.KindNotFound, "alt: removePayloads on unknown block %s", altHash)
	}
	if idx.Status().Has(blocktree.StatusApplied) {
		if err := t.machine.UnapplyBlock(idx); err != nil {
			return err
		}
		if idx.HasParent() {
			t.comparator.SyncCurrent(idx.ParentHash())
		}
	}
	for i := len(data.VTBs) - 1; i >= 0; i-- {
		v := data.VTBs[i]
		if err := t.vbk.RemovePayloads(v.ContainingBlock, []entities.VTB{v}); err != nil {
			return err
		}
	}
	idx.Addon.ATVIDs = nil
	idx.Addon.VTBIDs = nil
	idx.Addon.VBKIDs = nil
	idx.Addon.HasPayloads = false
	return nil
}

// determineBestChain implements spec 4.4 step 6: ComparePopScore against
// the current active tip.
func (t *Tree) determineBestChain(candidate *Index) {
	if candidate.Status().IsFailed() {
		return
	}
	active := t.tree.ActiveTip()
	if active == candidate.Hash() {
		return
	}
	result, err := t.ComparePopScore(candidate.Hash(), active)
	if err != nil {
		return
	}
	if result > 0 {
		_ = t.tree.OverrideTip(candidate.Hash())
		if t.metrics != nil {
			t.metrics.ReorgsTotal.WithLabelValues("alt").Inc()
			t.metrics.ActiveChainTip.WithLabelValues("alt").Set(float64(candidate.Height()))
		}
	}
}

// ComparePopScore implements spec 4.4's comparePopScore: NOT transitive;
// always leaves the tree's active tip (and VBK's reflected state) at
// whichever side won.
func (t *Tree) ComparePopScore(hLeft, hRight blocktree.Hash) (int, error) {
	return t.comparator.Compare(hLeft, hRight)
}

// GetCommands implements popstate.CommandProvider[*Index]: rebuilds the
// command groups realizing this ALT block's ATVs from its stored ids.
func (t *Tree) GetCommands(idx *Index) ([]entities.CommandGroup, error) {
	if len(idx.Addon.ATVIDs) == 0 {
		return nil, nil
	}
	atvs, err := t.provider.GetATVs(idx.Addon.ATVIDs)
	if err != nil {
		return nil, errors.Wrap(err, "alt: loading ATVs")
	}
	containingHash := idx.Hash()
	groups := make([]entities.CommandGroup, 0, len(atvs))
	for _, a := range atvs {
		endorsementID := entities.ComputeEndorsementID(a.ID, containingHash[:])
		groups = append(groups, entities.CommandGroup{
			PayloadID: a.ID,
			Commands: []entities.Command{
				&addVbkContextCommand{vbkTree: t.vbk, header: a.BlockOfProof},
				&incRefVbkCommand{vbkTree: t.vbk, hash: a.BlockOfProof.BlockHash()},
				&addAtvEndorsementCommand{
					tree:           t.tree,
					containingHash: containingHash,
					endorsement: entities.Endorsement{
						ID:             endorsementID,
						EndorsedHash:   a.EndorsedBlock,
						ContainingHash: containingHash,
						BlockOfProof:   a.BlockOfProof.BlockHash(),
					},
				},
			},
		})
	}
	return groups, nil
}

// RemoveBlock deletes a single leaf block from the tree. The mempool uses
// it to discard the hypothetical trial block built by getPop once trial
// application is complete (spec 4.8 step 5).
func (t *Tree) RemoveBlock(hash blocktree.Hash) {
	t.tree.RemoveSubtree(hash, nil)
}

// AllPayloadIDs implements payloadindex.Reindexer for the ATV side.
func (t *Tree) AllPayloadIDs() map[blocktree.Hash][]entities.PayloadID {
	out := make(map[blocktree.Hash][]entities.PayloadID)
	for _, idx := range t.tree.All() {
		if len(idx.Addon.ATVIDs) > 0 {
			out[idx.Hash()] = idx.Addon.ATVIDs
		}
	}
	return out
}
