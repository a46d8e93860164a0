package vbk

import (
	"testing"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
)

func h(b byte) blocktree.Hash {
	var x blocktree.Hash
	x[31] = b
	return x
}

type btcValidator struct{}

func (btcValidator) ValidateHeader(entities.BtcBlock, *btc.Index) error { return nil }
func (btcValidator) BlockWork(h entities.BtcBlock) (entities.Work, error) {
	return entities.WorkFromUint64(1), nil
}

type vbkValidator struct{}

func (vbkValidator) ValidateHeader(entities.VbkBlock, *Index) error { return nil }
func (vbkValidator) BlockWork(entities.VbkBlock) (entities.Work, error) {
	return entities.WorkFromUint64(1), nil
}

type fakeVTBSource struct {
	byID map[entities.PayloadID]entities.VTB
}

func (f *fakeVTBSource) GetVTBs(ids []entities.PayloadID) ([]entities.VTB, error) {
	out := make([]entities.VTB, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.byID[id])
	}
	return out, nil
}

func setup(t *testing.T) (*btc.Tree, *Tree) {
	t.Helper()
	bt := btc.NewTree(btcValidator{})
	if err := bt.Bootstrap(entities.BtcBlock{Hash: h(0)}, entities.ZeroWork()); err != nil {
		t.Fatalf("btc bootstrap: %v", err)
	}
	vt := NewTree(bt, vbkValidator{}, &fakeVTBSource{byID: map[entities.PayloadID]entities.VTB{}}, Params{SettlementInterval: 100})
	if err := vt.Bootstrap(entities.VbkBlock{Hash: h(0)}); err != nil {
		t.Fatalf("vbk bootstrap: %v", err)
	}
	return bt, vt
}

func vbkBlock(hash, parent blocktree.Hash, height int32) entities.VbkBlock {
	return entities.VbkBlock{Hash: hash, PrevHash: parent, Height: height}
}

func TestAcceptBlockContiguity(t *testing.T) {
	_, vt := setup(t)
	if _, err := vt.AcceptBlock(vbkBlock(h(1), h(0), 1)); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := vt.AcceptBlock(vbkBlock(h(2), h(1), 3)); err == nil {
		t.Fatal("expected contiguity error for height gap")
	}
}

func TestAddAndRemovePayloadsRoundTrip(t *testing.T) {
	bt, vt := setup(t)
	idx, err := vt.AcceptBlock(vbkBlock(h(1), h(0), 1))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	btcProof := entities.BtcBlock{Hash: h(50), PrevHash: h(0), Height: 1}
	vtb := entities.VTB{
		ID:              entities.PayloadID{7},
		ContainingBlock: h(1),
		EndorsedBlock:   h(1),
		BlockOfProof:    btcProof,
	}

	if err := vt.AddPayloads(h(1), []entities.VTB{vtb}); err != nil {
		t.Fatalf("addPayloads: %v", err)
	}
	if len(idx.Addon.VTBIDs) != 1 {
		t.Fatalf("expected 1 VTB id recorded, got %d", len(idx.Addon.VTBIDs))
	}
	proofIdx, ok := bt.GetBlockIndex(h(50))
	if !ok {
		t.Fatal("expected BTC proof block to be inserted")
	}
	if proofIdx.Addon.RefCounter != 1 {
		t.Fatalf("expected refCounter=1, got %d", proofIdx.Addon.RefCounter)
	}

	if err := vt.RemovePayloads(h(1), []entities.VTB{vtb}); err != nil {
		t.Fatalf("removePayloads: %v", err)
	}
	if len(idx.Addon.VTBIDs) != 0 {
		t.Fatalf("expected VTB ids cleared, got %v", idx.Addon.VTBIDs)
	}
	if proofIdx.Addon.RefCounter != 0 {
		t.Fatalf("expected refCounter=0 after removal, got %d", proofIdx.Addon.RefCounter)
	}
}

func TestDuplicateVTBDropped(t *testing.T) {
	_, vt := setup(t)
	_, _ = vt.AcceptBlock(vbkBlock(h(1), h(0), 1))

	vtb := entities.VTB{
		ID:              entities.PayloadID{9},
		ContainingBlock: h(1),
		EndorsedBlock:   h(1),
		BlockOfProof:    entities.BtcBlock{Hash: h(60), PrevHash: h(0), Height: 1},
	}
	if err := vt.AddPayloads(h(1), []entities.VTB{vtb}); err != nil {
		t.Fatalf("addPayloads: %v", err)
	}
	if err := vt.AddPayloads(h(1), []entities.VTB{vtb}); err != nil {
		t.Fatalf("addPayloads (duplicate submit): %v", err)
	}
	idx, _ := vt.GetBlockIndex(h(1))
	if len(idx.Addon.VTBIDs) != 1 {
		t.Fatalf("expected duplicate VTB to be dropped, got %d entries", len(idx.Addon.VTBIDs))
	}
}
