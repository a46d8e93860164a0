// Package btc implements the anchor proof-of-work tree (spec section
// 4.2): a pure heaviest-work tree of BTC block indices with no payloads
// of its own. Higher layers (vbk) pin BTC blocks via refCounter through
// IncRef/DecRef.
package btc

import (
	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
)

// Addon carries the BTC-specific per-index fields named in spec section 3:
// cumulative chainWork and the refCounter pinning this block against
// pruning while a higher-level endorsement anchors here.
type Addon struct {
	ChainWork  entities.Work
	RefCounter uint32
}

// Index is a single BTC block index: the chain-agnostic bookkeeping from
// blocktree.Base, plus the BTC addon. Index embeds Base by value so that
// *Index satisfies blocktree.Indexed through Base's promoted methods.
type Index struct {
	blocktree.Base
	Header entities.BtcBlock
	Addon  Addon
}

// NewGenesisIndex builds the root index of a BTC tree from its genesis
// header and starting chainWork (non-zero when bootstrapping from a
// checkpoint rather than height 0, per spec section 4.1's "contiguous
// suffix with an explicit starting height").
func NewGenesisIndex(header entities.BtcBlock, startWork entities.Work) *Index {
	return &Index{
		Base:   blocktree.NewBase(header, false),
		Header: header,
		Addon:  Addon{ChainWork: startWork},
	}
}

// NewIndex builds a non-genesis index. work is the new block's own
// contribution; ChainWork is set to parentWork + work, with the parent's
// ChainWork supplied by the caller (Tree.AcceptBlock).
func NewIndex(header entities.BtcBlock, parentWork entities.Work, work entities.Work) *Index {
	return &Index{
		Base:   blocktree.NewBase(header, true),
		Header: header,
		Addon:  Addon{ChainWork: parentWork.Add(work)},
	}
}

// View is the JSON-observability projection of an Index (spec section 6 /
// SPEC_FULL.md section 4).
type View struct {
	Height     int32              `json:"height"`
	Hash       string             `json:"hash"`
	Status     blocktree.StatusFlags `json:"status"`
	ChainWork  string             `json:"chainWork"`
	RefCounter uint32             `json:"refCounter"`
}

func (idx *Index) View() View {
	return View{
		Height:     idx.Height(),
		Hash:       idx.Hash().String(),
		Status:     idx.Status(),
		ChainWork:  idx.Addon.ChainWork.String(),
		RefCounter: idx.Addon.RefCounter,
	}
}
