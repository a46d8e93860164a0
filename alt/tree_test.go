package alt

import (
	"testing"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/payloadindex"
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

func (altValidator) ValidateHeader(entities.AltBlock, *Index, uint32) error { return nil }
func (altValidator) ValidateATV(entities.ATV) error                        { return nil }

type noopATVSource struct{}

func (noopATVSource) GetATVs(ids []entities.PayloadID) ([]entities.ATV, error) {
	return nil, nil
}

func setup(t *testing.T) (*btc.Tree, *vbk.Tree, *Tree) {
	t.Helper()
	bt := btc.NewTree(btcValidator{})
	if err := bt.Bootstrap(entities.BtcBlock{Hash: h(0)}, entities.ZeroWork()); err != nil {
		t.Fatalf("btc bootstrap: %v", err)
	}
	vt := vbk.NewTree(bt, vbkValidator{}, nil, vbk.Params{SettlementInterval: 100})
	if err := vt.Bootstrap(entities.VbkBlock{Hash: h(0)}); err != nil {
		t.Fatalf("vbk bootstrap: %v", err)
	}
	pidx := payloadindex.New()
	at := NewTree(vt, altValidator{}, noopATVSource{}, pidx, Params{
		SettlementInterval:   100,
		PayoutDelay:          50,
		PayoutWindowSize:     20,
		MaxPopDataPerBlock:   1,
		MedianTimePastBlocks: 11,
	})
	if err := at.Bootstrap(entities.AltBlock{Hash: h(0)}); err != nil {
		t.Fatalf("alt bootstrap: %v", err)
	}
	return bt, vt, at
}

func altBlock(hash, parent blocktree.Hash, height int32, ts uint32) entities.AltBlock {
	return entities.AltBlock{Hash: hash, PrevHash: parent, Height: height, Timestamp: ts}
}

func TestPlainExtensionNoPayloads(t *testing.T) {
	_, _, at := setup(t)
	a1, err := at.AcceptBlock(altBlock(h(1), h(0), 1, 100))
	if err != nil {
		t.Fatalf("accept a1: %v", err)
	}
	if err := at.AddPayloads(a1.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("addPayloads empty: %v", err)
	}
	a2, err := at.AcceptBlock(altBlock(h(2), h(1), 2, 101))
	if err != nil {
		t.Fatalf("accept a2: %v", err)
	}
	if err := at.AddPayloads(a2.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("addPayloads empty a2: %v", err)
	}

	if at.ActiveTip() != a2.Hash() {
		t.Fatalf("expected active tip at a2, got %s", at.ActiveTip())
	}
	if !a1.Status().Has(blocktree.StatusApplied) || !a2.Status().Has(blocktree.StatusApplied) {
		t.Fatal("expected both blocks applied on the active chain")
	}
}

func TestAddPayloadsTwiceRejected(t *testing.T) {
	_, _, at := setup(t)
	a1, _ := at.AcceptBlock(altBlock(h(1), h(0), 1, 100))
	if err := at.AddPayloads(a1.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("first addPayloads: %v", err)
	}
	if err := at.AddPayloads(a1.Hash(), entities.PopData{}); err == nil {
		t.Fatal("expected error adding payloads twice")
	}
}
