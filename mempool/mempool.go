// Package mempool implements the PoP-data assembler (spec section 4.8):
// a holding area for ATVs, VTBs and VBK context blocks that have not yet
// been included in an ALT block, and the getPop logic that assembles the
// next ALT block's PopData by trial-applying candidates against a
// hypothetical extension of the active chain.
package mempool

import (
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/altpop/popcore/alt"
	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/metrics"
	"github.com/altpop/popcore/poperr"
	"github.com/altpop/popcore/provider"
	"github.com/altpop/popcore/vbk"
)

// StatelessChecker validates a submitted entity before it enters the
// mempool: signatures, merkle paths, and PoW on any embedded context
// blocks. The concrete checks are network-specific.
type StatelessChecker interface {
	CheckATV(a entities.ATV) error
	CheckVTB(v entities.VTB) error
	CheckVbkBlock(b entities.VbkBlock) error
}

type (
	// OnAcceptedATV fires once an ATV passes submit's stateless checks.
	OnAcceptedATV func(entities.ATV)
	// OnAcceptedVTB fires once a VTB passes submit's stateless checks.
	OnAcceptedVTB func(entities.VTB)
	// OnAcceptedVbkBlock fires once a VBK context block passes submit's checks.
	OnAcceptedVbkBlock func(entities.VbkBlock)
)

// relation groups the ATVs and VTBs endorsing into one VBK block, keyed
// by that block's hash (spec 4.8's "relations map"). An ATV relates to
// its blockOfProof (the VBK block it endorses into); a VTB relates to its
// containingBlock (the VBK block carrying it, which endorses into BTC).
type relation struct {
	vbkHash blocktree.Hash
	atvs    []entities.PayloadID
	vtbs    []entities.PayloadID
}

// Mempool buffers not-yet-included payloads and assembles PopData for the
// next ALT block. It is not internally synchronized, matching spec
// section 5's single-threaded core contract.
type Mempool struct {
	alt     *alt.Tree
	vbk     *vbk.Tree
	store   *provider.MemoryProvider
	checker StatelessChecker

	maxPopDataPerBlock int

	atvs       map[entities.PayloadID]entities.ATV
	vtbs       map[entities.PayloadID]entities.VTB
	vbksByHash map[blocktree.Hash]entities.VbkBlock
	relations  map[blocktree.Hash]*relation

	onATV OnAcceptedATV
	onVTB OnAcceptedVTB
	onVbk OnAcceptedVbkBlock

	metrics *metrics.Registry
}

// SetMetrics wires a metrics registry for this mempool's size gauges.
// Optional; nil-safe if never called.
func (m *Mempool) SetMetrics(reg *metrics.Registry) { m.metrics = reg }

func (m *Mempool) reportSize() {
	if m.metrics == nil {
		return
	}
	m.metrics.MempoolSize.WithLabelValues("atv").Set(float64(len(m.atvs)))
	m.metrics.MempoolSize.WithLabelValues("vtb").Set(float64(len(m.vtbs)))
	m.metrics.MempoolSize.WithLabelValues("vbk").Set(float64(len(m.vbksByHash)))
}

// New constructs an empty Mempool. store is shared with the command
// providers that GetCommands calls load payload bodies from, so accepted
// entities become visible to the trees the moment submit succeeds.
func New(altTree *alt.Tree, vbkTree *vbk.Tree, store *provider.MemoryProvider, checker StatelessChecker, maxPopDataPerBlock int) *Mempool {
	return &Mempool{
		alt:                altTree,
		vbk:                vbkTree,
		store:              store,
		checker:            checker,
		maxPopDataPerBlock: maxPopDataPerBlock,
		atvs:               make(map[entities.PayloadID]entities.ATV),
		vtbs:               make(map[entities.PayloadID]entities.VTB),
		vbksByHash:         make(map[blocktree.Hash]entities.VbkBlock),
		relations:          make(map[blocktree.Hash]*relation),
	}
}

func (m *Mempool) OnAcceptedATV(f OnAcceptedATV)           { m.onATV = f }
func (m *Mempool) OnAcceptedVTB(f OnAcceptedVTB)           { m.onVTB = f }
func (m *Mempool) OnAcceptedVbkBlock(f OnAcceptedVbkBlock) { m.onVbk = f }

func (m *Mempool) relationFor(vbkHash blocktree.Hash) *relation {
	r, ok := m.relations[vbkHash]
	if !ok {
		r = &relation{vbkHash: vbkHash}
		m.relations[vbkHash] = r
	}
	return r
}

// SubmitATV implements spec 4.8's submit for an ATV.
func (m *Mempool) SubmitATV(a entities.ATV) error {
	if _, exists := m.atvs[a.ID]; exists {
		return poperr.NewInvalid(poperr.KindMempoolAddDuplicate, "mempool: ATV %s already known", a.ID)
	}
	if err := m.checker.CheckATV(a); err != nil {
		return poperr.WrapInvalid(poperr.KindMempoolAddStatelessInvalid, err, "mempool: ATV stateless check failed")
	}
	m.atvs[a.ID] = a
	m.store.PutATV(a)
	rel := m.relationFor(a.BlockOfProof.BlockHash())
	rel.atvs = append(rel.atvs, a.ID)
	m.reportSize()
	if m.onATV != nil {
		m.onATV(a)
	}
	return nil
}

// SubmitVTB implements spec 4.8's submit for a VTB.
func (m *Mempool) SubmitVTB(v entities.VTB) error {
	if _, exists := m.vtbs[v.ID]; exists {
		return poperr.NewInvalid(poperr.KindMempoolAddDuplicate, "mempool: VTB %s already known", v.ID)
	}
	if err := m.checker.CheckVTB(v); err != nil {
		return poperr.WrapInvalid(poperr.KindMempoolAddStatelessInvalid, err, "mempool: VTB stateless check failed")
	}
	m.vtbs[v.ID] = v
	m.store.PutVTB(v)
	rel := m.relationFor(v.ContainingBlock)
	rel.vtbs = append(rel.vtbs, v.ID)
	m.reportSize()
	if m.onVTB != nil {
		m.onVTB(v)
	}
	return nil
}

// SubmitVbkBlock implements spec 4.8's submit for a VBK context block.
func (m *Mempool) SubmitVbkBlock(b entities.VbkBlock) error {
	hash := b.BlockHash()
	if _, exists := m.vbksByHash[hash]; exists {
		return poperr.NewInvalid(poperr.KindMempoolAddDuplicate, "mempool: VBK block %s already known", hash)
	}
	if err := m.checker.CheckVbkBlock(b); err != nil {
		return poperr.WrapInvalid(poperr.KindMempoolAddStatelessInvalid, err, "mempool: VBK block stateless check failed")
	}
	m.vbksByHash[hash] = b
	m.store.PutVBK(b)
	m.relationFor(hash)
	m.reportSize()
	if m.onVbk != nil {
		m.onVbk(b)
	}
	return nil
}

// trialHash derives a scratch hash for getPop's hypothetical ALT block,
// distinct from any real block hash by construction (it hashes a fixed
// domain tag alongside the parent).
func trialHash(parent blocktree.Hash) blocktree.Hash {
	return blocktree.Hash(blake2b.Sum256(append([]byte("popcore-mempool-trial:"), parent[:]...)))
}

// reconstructContext walks head's ancestry through other mempool-known
// VBK blocks until it reaches one already present in the VBK tree,
// returning the missing prefix in insertion order (spec 4.8 step 3). ok
// is false if the chain can't be completed from what the mempool holds.
func (m *Mempool) reconstructContext(head entities.VbkBlock) (chain []entities.VbkBlock, ok bool) {
	var reverse []entities.VbkBlock
	cur := head
	for {
		if _, found := m.vbk.GetBlockIndex(cur.BlockHash()); found {
			break
		}
		reverse = append(reverse, cur)
		if _, found := m.vbk.GetBlockIndex(cur.ParentHash()); found {
			break
		}
		next, found := m.vbksByHash[cur.ParentHash()]
		if !found {
			return nil, false
		}
		cur = next
	}
	chain = make([]entities.VbkBlock, len(reverse))
	for i, b := range reverse {
		chain[len(reverse)-1-i] = b
	}
	return chain, true
}

// relationHeight returns the height to sort a relation by: the mempool's
// own copy of the VBK block's header if it has one, else the height
// already recorded in the VBK tree (a VTB can relate to a block that's
// already on-chain with only its containing id known).
func (m *Mempool) relationHeight(hash blocktree.Hash) int32 {
	if b, ok := m.vbksByHash[hash]; ok {
		return b.Height
	}
	if idx, ok := m.vbk.GetBlockIndex(hash); ok {
		return idx.Height()
	}
	return 0
}

// GetPop implements spec 4.8's getPop: assembles PopData for the next ALT
// block by trial-applying candidate VBK relations against a hypothetical
// extension of the active chain.
func (m *Mempool) GetPop() (entities.PopData, error) {
	tip := m.alt.ActiveTip()
	tipIdx, ok := m.alt.GetBlockIndex(tip)
	if !ok {
		return entities.PopData{}, poperr.NewFault(nil, "mempool: active ALT tip missing from tree")
	}

	tmpHash := trialHash(tip)
	tmpHeader := entities.AltBlock{
		Hash:      tmpHash,
		PrevHash:  tip,
		Height:    tipIdx.Height() + 1,
		Timestamp: tipIdx.Header.Timestamp + 1,
	}
	if _, err := m.alt.AcceptBlock(tmpHeader); err != nil {
		return entities.PopData{}, poperr.Tag(err, "mempool: constructing trial block")
	}
	defer m.alt.RemoveBlock(tmpHash)

	hashes := make([]blocktree.Hash, 0, len(m.relations))
	for h := range m.relations {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return m.relationHeight(hashes[i]) < m.relationHeight(hashes[j])
	})

	var result entities.PopData
	for _, vbkHash := range hashes {
		if m.maxPopDataPerBlock > 0 && len(result.ATVs) >= m.maxPopDataPerBlock {
			break
		}
		rel := m.relations[vbkHash]
		head, ok := m.vbksByHash[vbkHash]
		if !ok {
			// The mempool only has payloads relating to a block the VBK
			// tree already knows (on any fork); no context reconstruction
			// is needed.
			if _, onChain := m.vbk.GetBlockIndex(vbkHash); !onChain {
				continue
			}
			head = entities.VbkBlock{Hash: vbkHash}
		}

		ctx, ok := m.reconstructContext(head)
		if !ok {
			continue
		}

		var inserted []blocktree.Hash
		failed := false
		for _, c := range ctx {
			if _, err := m.vbk.AcceptBlock(c); err != nil {
				failed = true
				break
			}
			inserted = append(inserted, c.BlockHash())
		}

		var candidateVTBs []entities.VTB
		if !failed {
			for _, vtbID := range rel.vtbs {
				vtb, ok := m.vtbs[vtbID]
				if !ok {
					continue
				}
				endorsementID := entities.ComputeEndorsementID(vtb.ID, vtb.ContainingBlock[:])
				if m.vbk.IsDuplicateEndorsement(vtb.ContainingBlock, endorsementID) {
					continue
				}
				candidateVTBs = append(candidateVTBs, vtb)
			}
		}

		for i := len(inserted) - 1; i >= 0; i-- {
			if err := m.vbk.RemoveSubtree(inserted[i]); err != nil {
				return entities.PopData{}, poperr.NewFault(err, "mempool: unwinding trial VBK context")
			}
		}
		if failed {
			continue
		}

		var candidateATVs []entities.ATV
		for _, id := range rel.atvs {
			if a, ok := m.atvs[id]; ok {
				candidateATVs = append(candidateATVs, a)
			}
		}
		if len(candidateATVs) == 0 && len(candidateVTBs) == 0 {
			continue
		}

		result.Context = append(result.Context, ctx...)
		result.VTBs = append(result.VTBs, candidateVTBs...)
		result.ATVs = append(result.ATVs, candidateATVs...)
	}

	return result, nil
}

// RemovePayloads implements spec 4.8's removePayloads: drops included ids
// from the mempool's maps and relations once their containing ALT block
// has been accepted elsewhere.
func (m *Mempool) RemovePayloads(data entities.PopData) {
	for _, b := range data.Context {
		hash := b.BlockHash()
		delete(m.vbksByHash, hash)
		delete(m.relations, hash)
	}
	for _, v := range data.VTBs {
		delete(m.vtbs, v.ID)
		if rel, ok := m.relations[v.ContainingBlock]; ok {
			rel.vtbs = removeID(rel.vtbs, v.ID)
		}
	}
	for _, a := range data.ATVs {
		delete(m.atvs, a.ID)
		vbkHash := a.BlockOfProof.BlockHash()
		if rel, ok := m.relations[vbkHash]; ok {
			rel.atvs = removeID(rel.atvs, a.ID)
		}
	}
	m.reportSize()
}

func removeID(ids []entities.PayloadID, target entities.PayloadID) []entities.PayloadID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
