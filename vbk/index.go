// Package vbk implements the intermediate-chain tree (spec section 4.3):
// a block tree carrying VTB payloads that endorse VBK blocks into BTC,
// with fork choice delegated to popcompare using BTC as the protecting
// tree.
package vbk

import (
	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
)

// Addon carries the VBK-specific per-index fields from spec section 3:
// chainWork, refCounter (pinned by ALT's ATV blockOfProof references),
// containingEndorsements/endorsedBy, and the ordered VTB id list.
type Addon struct {
	ChainWork  entities.Work
	RefCounter uint32

	// ContainingEndorsements is keyed by endorsement id: the endorsements
	// this block itself carries (its VTBs), each pointing at an ancestor
	// VBK block being endorsed into BTC.
	ContainingEndorsements map[entities.EndorsementID]entities.Endorsement
	// EndorsedBy holds endorsements whose EndorsedHash is this block,
	// carried by some other (usually descendant) VBK block.
	EndorsedBy map[entities.EndorsementID]entities.Endorsement

	VTBIDs []entities.PayloadID
}

func newAddon() Addon {
	return Addon{
		ContainingEndorsements: make(map[entities.EndorsementID]entities.Endorsement),
		EndorsedBy:             make(map[entities.EndorsementID]entities.Endorsement),
	}
}

// Index is a single VBK block index.
type Index struct {
	blocktree.Base
	Header entities.VbkBlock
	Addon  Addon
}

func NewGenesisIndex(header entities.VbkBlock) *Index {
	return &Index{Base: blocktree.NewBase(header, false), Header: header, Addon: newAddon()}
}

func NewIndex(header entities.VbkBlock, parentWork entities.Work, work entities.Work) *Index {
	return &Index{
		Base:   blocktree.NewBase(header, true),
		Header: header,
		Addon:  func() Addon { a := newAddon(); a.ChainWork = parentWork.Add(work); return a }(),
	}
}

// ChainWork implements popcompare.ProtectedIndex.
func (idx *Index) ChainWork() entities.Work { return idx.Addon.ChainWork }

// Endorsements implements popcompare.ProtectedIndex: the endorsements
// this block itself carries (its VTBs into BTC).
func (idx *Index) Endorsements() []entities.Endorsement {
	out := make([]entities.Endorsement, 0, len(idx.Addon.ContainingEndorsements))
	for _, e := range idx.Addon.ContainingEndorsements {
		out = append(out, e)
	}
	return out
}

// DropPayloadID implements popstate.BlockIndex: removes id from the
// block's VTB list (used when continueOnInvalid drops a rejected VTB).
func (idx *Index) DropPayloadID(id entities.PayloadID) {
	out := idx.Addon.VTBIDs[:0]
	for _, existing := range idx.Addon.VTBIDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	idx.Addon.VTBIDs = out
}

type View struct {
	Height     int32                 `json:"height"`
	Hash       string                `json:"hash"`
	Status     blocktree.StatusFlags `json:"status"`
	ChainWork  string                `json:"chainWork"`
	RefCounter uint32                `json:"refCounter"`
	EndorsedBy []string              `json:"endorsedBy"`
	VTBIDs     []string              `json:"vtbIds"`
}

func (idx *Index) View() View {
	v := View{
		Height:     idx.Height(),
		Hash:       idx.Hash().String(),
		Status:     idx.Status(),
		ChainWork:  idx.Addon.ChainWork.String(),
		RefCounter: idx.Addon.RefCounter,
	}
	for id := range idx.Addon.EndorsedBy {
		v.EndorsedBy = append(v.EndorsedBy, id.String())
	}
	for _, id := range idx.Addon.VTBIDs {
		v.VTBIDs = append(v.VTBIDs, id.String())
	}
	return v
}
