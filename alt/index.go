// Package alt implements the protected alt-chain tree (spec section 4.4):
// block tree plus ATV/VTB/VBK payloads endorsing ALT blocks into VBK,
// fork choice delegated to popcompare using VBK as the protecting tree,
// and the PoP payout calculation.
package alt

import (
	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
)

// Addon carries the ALT-specific per-index fields from spec section 3.
// ALT indices carry no chainWork/refCounter of their own (spec's data
// model lists those only for BTC and VBK); ChainWork below is a
// height-based surrogate used purely as popcompare's final tie-break,
// documented in DESIGN.md.
type Addon struct {
	ContainingEndorsements map[entities.EndorsementID]entities.Endorsement
	EndorsedBy             map[entities.EndorsementID]entities.Endorsement

	ATVIDs []entities.PayloadID
	VTBIDs []entities.PayloadID
	VBKIDs []entities.PayloadID

	// HasPayloads is set once addPayloads has run for this block, so a
	// second call can be rejected per spec 4.4 step 1.
	HasPayloads bool
}

func newAddon() Addon {
	return Addon{
		ContainingEndorsements: make(map[entities.EndorsementID]entities.Endorsement),
		EndorsedBy:             make(map[entities.EndorsementID]entities.Endorsement),
	}
}

type Index struct {
	blocktree.Base
	Header entities.AltBlock
	Addon  Addon
}

func NewGenesisIndex(header entities.AltBlock) *Index {
	return &Index{Base: blocktree.NewBase(header, false), Header: header, Addon: newAddon()}
}

func NewIndex(header entities.AltBlock) *Index {
	return &Index{Base: blocktree.NewBase(header, true), Header: header, Addon: newAddon()}
}

// ChainWork implements popcompare.ProtectedIndex as a height-based
// surrogate: ALT has no native proof-of-work, so popcompare's final
// tie-break (after the PoP keypoint comparison) falls back to "more
// blocks wins", matching spec 4.1's general tie-break intent.
func (idx *Index) ChainWork() entities.Work {
	return entities.WorkFromUint64(uint64(idx.Height()))
}

// Endorsements implements popcompare.ProtectedIndex.
func (idx *Index) Endorsements() []entities.Endorsement {
	out := make([]entities.Endorsement, 0, len(idx.Addon.ContainingEndorsements))
	for _, e := range idx.Addon.ContainingEndorsements {
		out = append(out, e)
	}
	return out
}

// DropPayloadID implements popstate.BlockIndex.
func (idx *Index) DropPayloadID(id entities.PayloadID) {
	drop := func(ids []entities.PayloadID) []entities.PayloadID {
		out := ids[:0]
		for _, existing := range ids {
			if existing != id {
				out = append(out, existing)
			}
		}
		return out
	}
	idx.Addon.ATVIDs = drop(idx.Addon.ATVIDs)
	idx.Addon.VTBIDs = drop(idx.Addon.VTBIDs)
	idx.Addon.VBKIDs = drop(idx.Addon.VBKIDs)
}

type View struct {
	Height      int32                 `json:"height"`
	Hash        string                `json:"hash"`
	Status      blocktree.StatusFlags `json:"status"`
	EndorsedBy  []string              `json:"endorsedBy"`
	ATVIDs      []string              `json:"atvIds"`
	VTBIDs      []string              `json:"vtbIds"`
	VBKIDs      []string              `json:"vbkIds"`
}

func (idx *Index) View() View {
	v := View{Height: idx.Height(), Hash: idx.Hash().String(), Status: idx.Status()}
	for id := range idx.Addon.EndorsedBy {
		v.EndorsedBy = append(v.EndorsedBy, id.String())
	}
	for _, id := range idx.Addon.ATVIDs {
		v.ATVIDs = append(v.ATVIDs, id.String())
	}
	for _, id := range idx.Addon.VTBIDs {
		v.VTBIDs = append(v.VTBIDs, id.String())
	}
	for _, id := range idx.Addon.VBKIDs {
		v.VBKIDs = append(v.VBKIDs, id.String())
	}
	return v
}
