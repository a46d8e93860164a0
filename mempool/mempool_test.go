package mempool

import (
	"testing"

	"github.com/altpop/popcore/alt"
	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/payloadindex"
	"github.com/altpop/popcore/provider"
	"github.com/altpop/popcore/vbk"
)

func h(b byte) blocktree.Hash {
	var x blocktree.Hash
	x[31] = b
	return x
}

type btcValidator struct{}

func (btcValidator) ValidateHeader(entities.BtcBlock, *btc.Index) error { return nil }
func (btcValidator) BlockWork(entities.BtcBlock) (entities.Work, error) {
	return entities.WorkFromUint64(1), nil
}

type vbkValidator struct{}

func (vbkValidator) ValidateHeader(entities.VbkBlock, *vbk.Index) error { return nil }
func (vbkValidator) BlockWork(entities.VbkBlock) (entities.Work, error) {
	return entities.WorkFromUint64(1), nil
}

type altValidator struct{}

func (altValidator) ValidateHeader(entities.AltBlock, *alt.Index, uint32) error { return nil }
func (altValidator) ValidateATV(entities.ATV) error                            { return nil }

type acceptAllChecker struct{}

func (acceptAllChecker) CheckATV(entities.ATV) error           { return nil }
func (acceptAllChecker) CheckVTB(entities.VTB) error            { return nil }
func (acceptAllChecker) CheckVbkBlock(entities.VbkBlock) error { return nil }

func setup(t *testing.T) (*vbk.Tree, *alt.Tree, *provider.MemoryProvider) {
	t.Helper()
	bt := btc.NewTree(btcValidator{})
	if err := bt.Bootstrap(entities.BtcBlock{Hash: h(0)}, entities.ZeroWork()); err != nil {
		t.Fatalf("btc bootstrap: %v", err)
	}
	store := provider.NewMemoryProvider()
	vt := vbk.NewTree(bt, vbkValidator{}, store, vbk.Params{SettlementInterval: 100})
	if err := vt.Bootstrap(entities.VbkBlock{Hash: h(0)}); err != nil {
		t.Fatalf("vbk bootstrap: %v", err)
	}
	pidx := payloadindex.New()
	at := alt.NewTree(vt, altValidator{}, store, pidx, alt.Params{
		SettlementInterval: 100,
		MaxPopDataPerBlock: 10,
	})
	if err := at.Bootstrap(entities.AltBlock{Hash: h(0)}); err != nil {
		t.Fatalf("alt bootstrap: %v", err)
	}
	return vt, at, store
}

func TestGetPopIncludesSubmittedATVRelatingToOnChainVBK(t *testing.T) {
	vt, at, store := setup(t)
	mp := New(at, vt, store, acceptAllChecker{}, 10)

	atv := entities.ATV{
		ID:             mustID(1),
		ContainingBlock: h(0),
		EndorsedBlock:  h(0),
		BlockOfProof:   entities.VbkBlock{Hash: h(0)},
	}
	if err := mp.SubmitATV(atv); err != nil {
		t.Fatalf("submit ATV: %v", err)
	}

	pop, err := mp.GetPop()
	if err != nil {
		t.Fatalf("getPop: %v", err)
	}
	if len(pop.ATVs) != 1 || pop.ATVs[0].ID != atv.ID {
		t.Fatalf("expected assembled ATV, got %+v", pop)
	}
	if len(pop.Context) != 0 {
		t.Fatalf("expected no context reconstruction for an already-on-chain VBK block, got %d", len(pop.Context))
	}
}

func TestGetPopTrialBlockIsCleanedUp(t *testing.T) {
	vt, at, store := setup(t)
	mp := New(at, vt, store, acceptAllChecker{}, 10)

	tip := at.ActiveTip()
	expectedTrial := trialHash(tip)

	if _, err := mp.GetPop(); err != nil {
		t.Fatalf("getPop: %v", err)
	}

	if _, stillThere := at.GetBlockIndex(expectedTrial); stillThere {
		t.Fatal("expected trial block to be removed after getPop")
	}
	if at.ActiveTip() != tip {
		t.Fatalf("trial block must not become active tip")
	}
}

func mustID(b byte) entities.PayloadID {
	var id entities.PayloadID
	id[0] = b
	return id
}

// TestGetPopFiltersDuplicateEndorsementAcrossRelations covers spec section
// 8 scenario 6: a VTB endorsement already recorded on-chain under one VBK
// relation must not be re-counted when it resurfaces in the mempool, while
// a genuinely fresh VTB under a different relation is still assembled.
// Removing the assembled PopData must leave the filtered-out relation's
// own bookkeeping untouched.
func TestGetPopFiltersDuplicateEndorsementAcrossRelations(t *testing.T) {
	vt, at, store := setup(t)
	mp := New(at, vt, store, acceptAllChecker{}, 10)

	v1, err := vt.AcceptBlock(entities.VbkBlock{Hash: h(1), PrevHash: h(0), Height: 1})
	if err != nil {
		t.Fatalf("accept v1: %v", err)
	}
	v2, err := vt.AcceptBlock(entities.VbkBlock{Hash: h(2), PrevHash: h(1), Height: 2})
	if err != nil {
		t.Fatalf("accept v2: %v", err)
	}

	alreadyApplied := entities.VTB{
		ID:              mustID(1),
		ContainingBlock: v1.Hash(),
		EndorsedBlock:   h(0),
		BlockOfProof:    entities.BtcBlock{Hash: h(10), PrevHash: h(0), Height: 1},
	}
	if err := vt.AddPayloads(v1.Hash(), []entities.VTB{alreadyApplied}); err != nil {
		t.Fatalf("applying vtb directly: %v", err)
	}

	// The same endorsement resurfaces in the mempool under its relation
	// (e.g. rebroadcast), and a distinct, fresh VTB arrives under another.
	if err := mp.SubmitVTB(alreadyApplied); err != nil {
		t.Fatalf("submit duplicate vtb: %v", err)
	}
	fresh := entities.VTB{
		ID:              mustID(2),
		ContainingBlock: v2.Hash(),
		EndorsedBlock:   h(0),
		BlockOfProof:    entities.BtcBlock{Hash: h(11), PrevHash: h(0), Height: 1},
	}
	if err := mp.SubmitVTB(fresh); err != nil {
		t.Fatalf("submit fresh vtb: %v", err)
	}

	pop, err := mp.GetPop()
	if err != nil {
		t.Fatalf("getPop: %v", err)
	}
	if len(pop.VTBs) != 1 || pop.VTBs[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh VTB assembled, got %+v", pop.VTBs)
	}

	mp.RemovePayloads(pop)

	if _, stillKnown := mp.vtbs[alreadyApplied.ID]; !stillKnown {
		t.Fatal("expected the filtered-out relation's VTB to remain in the mempool")
	}
	rel, ok := mp.relations[v1.Hash()]
	if !ok || len(rel.vtbs) != 1 || rel.vtbs[0] != alreadyApplied.ID {
		t.Fatalf("expected the other relation to stay intact, got %+v", rel)
	}
	if _, stillKnown := mp.vtbs[fresh.ID]; stillKnown {
		t.Fatal("expected the assembled VTB to be removed from the mempool")
	}
}
