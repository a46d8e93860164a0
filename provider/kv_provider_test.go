package provider

import (
	"testing"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/storage/kv"
)

func TestKVProviderRoundTrip(t *testing.T) {
	db := kv.NewMemoryRepository()
	p := NewKVProvider(db)

	var id entities.PayloadID
	id[0] = 9
	atv := entities.ATV{
		ID:              id,
		ContainingBlock: blocktree.Hash{1},
		EndorsedBlock:   blocktree.Hash{2},
		BlockOfProof:    entities.VbkBlock{Hash: blocktree.Hash{3}, Raw: []byte("vbk-body")},
	}
	if err := p.PutATV(atv); err != nil {
		t.Fatalf("PutATV: %v", err)
	}

	got, err := p.GetATVs([]entities.PayloadID{id})
	if err != nil {
		t.Fatalf("GetATVs: %v", err)
	}
	if len(got) != 1 || got[0].ID != atv.ID || got[0].BlockOfProof.Hash != atv.BlockOfProof.Hash {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, atv)
	}

	vtb := entities.VTB{
		ID:              id,
		ContainingBlock: blocktree.Hash{4},
		EndorsedBlock:   blocktree.Hash{5},
		BlockOfProof:    entities.BtcBlock{Hash: blocktree.Hash{6}, Raw: []byte("btc-body")},
		Context: []entities.BtcBlock{
			{Hash: blocktree.Hash{7}, Raw: []byte("ctx-1")},
		},
	}
	if err := p.PutVTB(vtb); err != nil {
		t.Fatalf("PutVTB: %v", err)
	}
	gotVTBs, err := p.GetVTBs([]entities.PayloadID{id})
	if err != nil {
		t.Fatalf("GetVTBs: %v", err)
	}
	if len(gotVTBs) != 1 || len(gotVTBs[0].Context) != 1 || gotVTBs[0].Context[0].Hash != vtb.Context[0].Hash {
		t.Fatalf("VTB round trip mismatch: got %+v, want %+v", gotVTBs, vtb)
	}
}

func TestKVProviderMissingIsInvalid(t *testing.T) {
	db := kv.NewMemoryRepository()
	p := NewKVProvider(db)
	var missing entities.PayloadID
	missing[0] = 1
	if _, err := p.GetVBKs([]entities.PayloadID{missing}); err == nil {
		t.Fatal("expected not-found error")
	}
}
