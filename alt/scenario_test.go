package alt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/metrics"
	"github.com/altpop/popcore/payloadindex"
	"github.com/altpop/popcore/poperr"
	"github.com/altpop/popcore/vbk"
)

func mustID(b byte) entities.PayloadID {
	var id entities.PayloadID
	id[0] = b
	return id
}

// fakeATVSource serves a fixed set of ATVs by id, standing in for a
// provider.PayloadsProvider backed by submitted payload bodies.
type fakeATVSource struct {
	byID map[entities.PayloadID]entities.ATV
}

func (s fakeATVSource) GetATVs(ids []entities.PayloadID) ([]entities.ATV, error) {
	out := make([]entities.ATV, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// setupWithATVSource mirrors setup() but lets the test supply the ATV
// source, since setup() is wired to a no-op one.
func setupWithATVSource(t *testing.T, source ATVSource) (*btc.Tree, *vbk.Tree, *Tree) {
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
	at := NewTree(vt, altValidator{}, source, pidx, Params{
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

// TestEndorsementFlipsForkChoice exercises spec section 8 scenario 3: a
// two-block fork with no payloads outweighs a one-block fork on chainWork
// alone, but an ATV endorsement on the shorter fork flips the comparison in
// its favor regardless of the longer fork's extra height, because
// popcompare.compareKeypoints always favors a non-empty keypoint list over
// an empty one ahead of the chainWork tie-break.
func TestEndorsementFlipsForkChoice(t *testing.T) {
	var atvID entities.PayloadID
	atvID[0] = 0xAA
	proof := entities.VbkBlock{Hash: h(0x20), PrevHash: h(0), Height: 1}

	atvSource := fakeATVSource{byID: map[entities.PayloadID]entities.ATV{}}
	_, vt, at := setupWithATVSource(t, atvSource)

	l1, err := at.AcceptBlock(altBlock(h(1), h(0), 1, 100))
	if err != nil {
		t.Fatalf("accept l1: %v", err)
	}
	if err := at.AddPayloads(l1.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("addPayloads l1: %v", err)
	}
	l2, err := at.AcceptBlock(altBlock(h(2), h(1), 2, 101))
	if err != nil {
		t.Fatalf("accept l2: %v", err)
	}
	if err := at.AddPayloads(l2.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("addPayloads l2: %v", err)
	}
	if at.ActiveTip() != l2.Hash() {
		t.Fatalf("expected l2 active before r1 exists, got %s", at.ActiveTip())
	}

	r1, err := at.AcceptBlock(altBlock(h(3), h(0), 1, 100))
	if err != nil {
		t.Fatalf("accept r1: %v", err)
	}

	atv := entities.ATV{
		ID:              atvID,
		ContainingBlock: r1.Hash(),
		EndorsedBlock:   r1.Hash(),
		BlockOfProof:    proof,
	}
	atvSource.byID[atvID] = atv

	if err := at.AddPayloads(r1.Hash(), entities.PopData{ATVs: []entities.ATV{atv}}); err != nil {
		t.Fatalf("addPayloads r1 with endorsement: %v", err)
	}

	if at.ActiveTip() != r1.Hash() {
		t.Fatalf("expected endorsed r1 to win fork choice over taller unendorsed l2, active tip is %s", at.ActiveTip())
	}
	if _, ok := vt.GetBlockIndex(proof.BlockHash()); !ok {
		t.Fatal("expected the ATV's blockOfProof to be inserted into the VBK tree")
	}
}

// TestMetricsWiringCountsAcceptedBlocksAndReorgs confirms AcceptBlock and
// determineBestChain report through a wired metrics.Registry instead of
// silently no-opping, across all three trees.
func TestMetricsWiringCountsAcceptedBlocksAndReorgs(t *testing.T) {
	bt, vt, at := setup(t)
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	bt.SetMetrics(reg)
	vt.SetMetrics(reg)
	at.SetMetrics(reg)

	if _, err := bt.AcceptBlock(entities.BtcBlock{Hash: h(1), PrevHash: h(0), Height: 1}); err != nil {
		t.Fatalf("accept btc block: %v", err)
	}
	if _, err := vt.AcceptBlock(entities.VbkBlock{Hash: h(1), PrevHash: h(0), Height: 1}); err != nil {
		t.Fatalf("accept vbk block: %v", err)
	}
	a1, err := at.AcceptBlock(altBlock(h(1), h(0), 1, 100))
	if err != nil {
		t.Fatalf("accept alt block: %v", err)
	}
	if err := at.AddPayloads(a1.Hash(), entities.PopData{}); err != nil {
		t.Fatalf("addPayloads a1: %v", err)
	}

	var metric dto.Metric
	if err := reg.BlocksAccepted.WithLabelValues("btc").Write(&metric); err != nil {
		t.Fatalf("write btc counter: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected btc blocks_accepted = 1, got %v", got)
	}
	if err := reg.BlocksAccepted.WithLabelValues("vbk").Write(&metric); err != nil {
		t.Fatalf("write vbk counter: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected vbk blocks_accepted = 1, got %v", got)
	}
	if err := reg.BlocksAccepted.WithLabelValues("alt").Write(&metric); err != nil {
		t.Fatalf("write alt counter: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected alt blocks_accepted = 1, got %v", got)
	}
	if err := reg.ActiveChainTip.WithLabelValues("alt").Write(&metric); err != nil {
		t.Fatalf("write alt tip gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected alt active_tip_height = 1, got %v", got)
	}

	if _, err := bt.AcceptBlock(entities.BtcBlock{Hash: h(0xFF), PrevHash: h(0x42), Height: 1}); err == nil {
		t.Fatal("expected a block with an unknown parent to be rejected")
	}
	if err := reg.BlocksRejected.WithLabelValues("btc", "unknown-parent").Write(&metric); err != nil {
		t.Fatalf("write btc rejected counter: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected btc blocks_rejected{unknown-parent} = 1, got %v", got)
	}
}

// TestGenesisOnlyBootstrap covers spec section 8 scenario 1: a fresh
// BTC/VBK/ALT stack with only genesis blocks bootstrapped sits with every
// tree's active tip at its own genesis hash.
func TestGenesisOnlyBootstrap(t *testing.T) {
	bt, vt, at := setup(t)

	if bt.ActiveTip() != h(0) {
		t.Fatalf("expected btc tip at genesis, got %s", bt.ActiveTip())
	}
	if vt.ActiveTip() != h(0) {
		t.Fatalf("expected vbk tip at genesis, got %s", vt.ActiveTip())
	}
	if at.ActiveTip() != h(0) {
		t.Fatalf("expected alt tip at genesis, got %s", at.ActiveTip())
	}

	btIdx, ok := bt.GetBlockIndex(h(0))
	if !ok || !btIdx.Status().Has(blocktree.StatusApplied) {
		t.Fatal("expected btc genesis applied")
	}
	vtIdx, ok := vt.GetBlockIndex(h(0))
	if !ok || !vtIdx.Status().Has(blocktree.StatusApplied) {
		t.Fatal("expected vbk genesis applied")
	}
	atIdx, ok := at.GetBlockIndex(h(0))
	if !ok || !atIdx.Status().Has(blocktree.StatusApplied) {
		t.Fatal("expected alt genesis applied")
	}
}

// rejectingATVValidator fails ValidateATV for one specific payload id,
// standing in for a bad merkle path check.
type rejectingATVValidator struct {
	bad entities.PayloadID
}

func (rejectingATVValidator) ValidateHeader(entities.AltBlock, *Index, uint32) error { return nil }
func (v rejectingATVValidator) ValidateATV(a entities.ATV) error {
	if a.ID == v.bad {
		return errTestBadMerklePath
	}
	return nil
}

var errTestBadMerklePath = &atvMerkleError{}

type atvMerkleError struct{}

func (*atvMerkleError) Error() string { return "bad merkle path" }

// TestInvalidATVRollsBackPartialPayloads covers spec section 8 scenario 5:
// a PopData whose last ATV fails stateless validation must be rejected
// wholesale, leaving no trace of the Context/VTBs it carried alongside
// the bad ATV, and leaving the block retryable (HasPayloads still false).
func TestInvalidATVRollsBackPartialPayloads(t *testing.T) {
	badID := mustID(0xBB)
	goodID := mustID(0xAA)

	bt := btc.NewTree(btcValidator{})
	if err := bt.Bootstrap(entities.BtcBlock{Hash: h(0)}, entities.ZeroWork()); err != nil {
		t.Fatalf("btc bootstrap: %v", err)
	}
	vt := vbk.NewTree(bt, vbkValidator{}, nil, vbk.Params{SettlementInterval: 100})
	if err := vt.Bootstrap(entities.VbkBlock{Hash: h(0)}); err != nil {
		t.Fatalf("vbk bootstrap: %v", err)
	}
	pidx := payloadindex.New()
	at := NewTree(vt, rejectingATVValidator{bad: badID}, noopATVSource{}, pidx, Params{
		SettlementInterval:   100,
		PayoutDelay:          50,
		PayoutWindowSize:     20,
		MaxPopDataPerBlock:   10,
		MedianTimePastBlocks: 11,
	})
	if err := at.Bootstrap(entities.AltBlock{Hash: h(0)}); err != nil {
		t.Fatalf("alt bootstrap: %v", err)
	}

	a2, err := at.AcceptBlock(altBlock(h(1), h(0), 1, 100))
	if err != nil {
		t.Fatalf("accept a2: %v", err)
	}

	vbkCtx := entities.VbkBlock{Hash: h(5), PrevHash: h(0), Height: 1}
	vtb := entities.VTB{
		ID:              mustID(1),
		ContainingBlock: vbkCtx.Hash(),
		EndorsedBlock:   h(0),
		BlockOfProof:    entities.BtcBlock{Hash: h(6), PrevHash: h(0), Height: 1},
	}
	data := entities.PopData{
		Context: []entities.VbkBlock{vbkCtx},
		VTBs:    []entities.VTB{vtb},
		ATVs: []entities.ATV{
			{ID: goodID, ContainingBlock: a2.Hash(), EndorsedBlock: a2.Hash(), BlockOfProof: entities.VbkBlock{Hash: h(7)}},
			{ID: badID, ContainingBlock: a2.Hash(), EndorsedBlock: a2.Hash(), BlockOfProof: entities.VbkBlock{Hash: h(8)}},
		},
	}

	err = at.AddPayloads(a2.Hash(), data)
	if err == nil {
		t.Fatal("expected addPayloads to reject the bad ATV")
	}
	if !poperr.IsInvalid(err) {
		t.Fatalf("expected an Invalid error, got %v", err)
	}
	if kind, ok := poperr.KindOf(err); !ok || kind != poperr.KindAtvStatelesslyInvalid {
		t.Fatalf("expected kind %s, got %v (ok=%v)", poperr.KindAtvStatelesslyInvalid, kind, ok)
	}

	if a2.Addon.HasPayloads {
		t.Fatal("expected HasPayloads to remain false after a rejected call")
	}
	if len(a2.Addon.VTBIDs) != 0 || len(a2.Addon.ATVIDs) != 0 {
		t.Fatalf("expected no payload ids retained on the block, got vtbs=%v atvs=%v", a2.Addon.VTBIDs, a2.Addon.ATVIDs)
	}

	if _, ok := vt.GetBlockIndex(vtb.ContainingBlock); ok {
		t.Fatal("expected the VBK context block introduced by the failed call to be removed")
	}

	btcIdx, ok := bt.GetBlockIndex(vtb.BlockOfProof.BlockHash())
	if ok && btcIdx.Addon.RefCounter != 0 {
		t.Fatalf("expected the VTB's BTC refCounter restored to 0, got %d", btcIdx.Addon.RefCounter)
	}
}
