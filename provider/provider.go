// Package provider implements the inbound payloads provider surface (spec
// section 6): the synchronous getATVs/getVTBs/getVBKs contract that the
// VBK and ALT trees use to resolve the payload ids they store on each
// index back into full bodies, plus the in-memory default implementation
// used by the mempool and by embedders that don't front the provider with
// a durable store.
package provider

import (
	"sync"

	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/poperr"
)

// PayloadsProvider is the inbound interface named in spec section 6.
// vbk.Tree depends on the GetVTBs method (as vbk.VTBSource) and alt.Tree
// on GetATVs (as alt.ATVSource); a single implementation satisfies both,
// plus GetVBKs for VBK bodies, which no package in this module calls.
type PayloadsProvider interface {
	GetATVs(ids []entities.PayloadID) ([]entities.ATV, error)
	GetVTBs(ids []entities.PayloadID) ([]entities.VTB, error)
	GetVBKs(ids []entities.PayloadID) ([]entities.VbkBlock, error)
}

// MemoryProvider is a map-backed PayloadsProvider: the default for tests
// and for embedders whose durable store is fronted by the mempool (which
// already holds every payload it has seen keyed by id). Safe for
// concurrent use despite the core's single-threaded contract, since a
// provider may be shared with an embedder's own ingestion goroutine.
type MemoryProvider struct {
	mu   sync.RWMutex
	atvs map[entities.PayloadID]entities.ATV
	vtbs map[entities.PayloadID]entities.VTB
	vbks map[entities.PayloadID]entities.VbkBlock
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		atvs: make(map[entities.PayloadID]entities.ATV),
		vtbs: make(map[entities.PayloadID]entities.VTB),
		vbks: make(map[entities.PayloadID]entities.VbkBlock),
	}
}

func (p *MemoryProvider) PutATV(a entities.ATV)       { p.mu.Lock(); p.atvs[a.ID] = a; p.mu.Unlock() }
func (p *MemoryProvider) PutVTB(v entities.VTB)        { p.mu.Lock(); p.vtbs[v.ID] = v; p.mu.Unlock() }
func (p *MemoryProvider) PutVBK(b entities.VbkBlock) {
	id := entities.ComputePayloadID(b.Raw)
	p.mu.Lock()
	p.vbks[id] = b
	p.mu.Unlock()
}

func (p *MemoryProvider) GetATVs(ids []entities.PayloadID) ([]entities.ATV, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]entities.ATV, 0, len(ids))
	for _, id := range ids {
		a, ok := p.atvs[id]
		if !ok {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: ATV %s not found", id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *MemoryProvider) GetVTBs(ids []entities.PayloadID) ([]entities.VTB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]entities.VTB, 0, len(ids))
	for _, id := range ids {
		v, ok := p.vtbs[id]
		if !ok {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: VTB %s not found", id)
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *MemoryProvider) GetVBKs(ids []entities.PayloadID) ([]entities.VbkBlock, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]entities.VbkBlock, 0, len(ids))
	for _, id := range ids {
		b, ok := p.vbks[id]
		if !ok {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: VBK block %s not found", id)
		}
		out = append(out, b)
	}
	return out, nil
}
