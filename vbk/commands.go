package vbk

import (
	"github.com/cockroachdb/errors"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/btc"
	"github.com/altpop/popcore/entities"
)

// addBtcContextCommand inserts a BTC header if not already present. It is
// idempotent on Execute (a shared ancestor block already known to BTC is
// left untouched) and only removes what it actually inserted on
// Unexecute, so two VTBs sharing BTC context don't fight over ownership.
type addBtcContextCommand struct {
	btcTree  *btc.Tree
	header   entities.BtcBlock
	inserted bool
}

func (c *addBtcContextCommand) Execute() error {
	if _, ok := c.btcTree.GetBlockIndex(c.header.BlockHash()); ok {
		c.inserted = false
		return nil
	}
	if _, err := c.btcTree.AcceptBlock(c.header); err != nil {
		return errors.Wrap(err, "vbk: adding BTC context block")
	}
	c.inserted = true
	return nil
}

func (c *addBtcContextCommand) Unexecute() error {
	if !c.inserted {
		return nil
	}
	return c.btcTree.RemoveSubtree(c.header.BlockHash())
}

func (c *addBtcContextCommand) Name() string { return "vbk.addBtcContext" }

// incRefBtcCommand pins a BTC block on Execute and unpins it on
// Unexecute.
type incRefBtcCommand struct {
	btcTree *btc.Tree
	hash    blocktree.Hash
}

func (c *incRefBtcCommand) Execute() error   { return c.btcTree.IncRef(c.hash) }
func (c *incRefBtcCommand) Unexecute() error { return c.btcTree.DecRef(c.hash) }
func (c *incRefBtcCommand) Name() string     { return "vbk.incRefBtc" }

// addVtbEndorsementCommand registers the endorsement on both the
// containing block (ContainingEndorsements) and the endorsed block
// (EndorsedBy).
type addVtbEndorsementCommand struct {
	tree           *blocktree.Tree[*Index]
	containingHash blocktree.Hash
	endorsement    entities.Endorsement
}

func (c *addVtbEndorsementCommand) Execute() error {
	containing, ok := c.tree.GetBlockIndex(c.containingHash)
	if !ok {
		return errors.Newf("vbk: containing block %s not found", c.containingHash)
	}
	containing.Addon.ContainingEndorsements[c.endorsement.ID] = c.endorsement
	if endorsed, ok := c.tree.GetBlockIndex(c.endorsement.EndorsedHash); ok {
		endorsed.Addon.EndorsedBy[c.endorsement.ID] = c.endorsement
	}
	return nil
}

func (c *addVtbEndorsementCommand) Unexecute() error {
	if containing, ok := c.tree.GetBlockIndex(c.containingHash); ok {
		delete(containing.Addon.ContainingEndorsements, c.endorsement.ID)
	}
	if endorsed, ok := c.tree.GetBlockIndex(c.endorsement.EndorsedHash); ok {
		delete(endorsed.Addon.EndorsedBy, c.endorsement.ID)
	}
	return nil
}

func (c *addVtbEndorsementCommand) Name() string { return "vbk.addEndorsement" }
