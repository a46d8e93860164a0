package provider

import (
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/poperr"
	"github.com/altpop/popcore/storage/kv"
)

// KVProvider is a PayloadsProvider backed by storage/kv, for embedders that
// want submitted payload bodies to survive a restart instead of living only
// in the mempool's in-memory maps. It keeps one ColumnFamily per payload
// kind over a single shared Repository, so a pebble-backed Repository gives
// ATVs, VTBs and VBK blocks one physical database file.
type KVProvider struct {
	atvs kv.Repository
	vtbs kv.Repository
	vbks kv.Repository
}

// NewKVProvider scopes three column families ("atv", "vtb", "vbk") off db.
func NewKVProvider(db kv.Repository) *KVProvider {
	return &KVProvider{
		atvs: kv.NewColumnFamily(db, "atv"),
		vtbs: kv.NewColumnFamily(db, "vtb"),
		vbks: kv.NewColumnFamily(db, "vbk"),
	}
}

func (p *KVProvider) PutATV(a entities.ATV) error {
	return p.atvs.Put(a.ID[:], encodeATV(a))
}

func (p *KVProvider) PutVTB(v entities.VTB) error {
	return p.vtbs.Put(v.ID[:], encodeVTB(v))
}

func (p *KVProvider) PutVBK(b entities.VbkBlock) error {
	id := entities.ComputePayloadID(b.Raw)
	return p.vbks.Put(id[:], encodeVbkBlock(b))
}

func (p *KVProvider) GetATVs(ids []entities.PayloadID) ([]entities.ATV, error) {
	out := make([]entities.ATV, 0, len(ids))
	for _, id := range ids {
		raw, err := p.atvs.Get(id[:])
		if err != nil {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: ATV %s not found", id)
		}
		a, err := decodeATV(raw)
		if err != nil {
			return nil, poperr.NewFault(err, "provider: decode ATV "+id.String())
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *KVProvider) GetVTBs(ids []entities.PayloadID) ([]entities.VTB, error) {
	out := make([]entities.VTB, 0, len(ids))
	for _, id := range ids {
		raw, err := p.vtbs.Get(id[:])
		if err != nil {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: VTB %s not found", id)
		}
		v, err := decodeVTB(raw)
		if err != nil {
			return nil, poperr.NewFault(err, "provider: decode VTB "+id.String())
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *KVProvider) GetVBKs(ids []entities.PayloadID) ([]entities.VbkBlock, error) {
	out := make([]entities.VbkBlock, 0, len(ids))
	for _, id := range ids {
		raw, err := p.vbks.Get(id[:])
		if err != nil {
			return nil, poperr.NewInvalid(poperr.KindNotFound, "provider: VBK block %s not found", id)
		}
		b, err := decodeVbkBlock(raw)
		if err != nil {
			return nil, poperr.NewFault(err, "provider: decode VBK block "+id.String())
		}
		out = append(out, b)
	}
	return out, nil
}
