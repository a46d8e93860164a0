package provider

import (
	"testing"

	"github.com/altpop/popcore/entities"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider()
	vbkBlock := entities.VbkBlock{Raw: []byte("vbk-1")}
	p.PutVBK(vbkBlock)
	id := entities.ComputePayloadID(vbkBlock.Raw)

	got, err := p.GetVBKs([]entities.PayloadID{id})
	if err != nil {
		t.Fatalf("GetVBKs: %v", err)
	}
	if len(got) != 1 || got[0].Raw == nil {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestMemoryProviderMissingIsInvalid(t *testing.T) {
	p := NewMemoryProvider()
	var missing entities.PayloadID
	missing[0] = 1
	if _, err := p.GetATVs([]entities.PayloadID{missing}); err == nil {
		t.Fatal("expected not-found error")
	}
}
