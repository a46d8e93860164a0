package alt

import (
	"github.com/cockroachdb/errors"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/vbk"
)

// addVbkContextCommand inserts a VBK header into the VBK tree if not
// already present, mirroring vbk's own addBtcContextCommand.
type addVbkContextCommand struct {
	vbkTree  *vbk.Tree
	header   entities.VbkBlock
	inserted bool
}

func (c *addVbkContextCommand) Execute() error {
	if _, ok := c.vbkTree.GetBlockIndex(c.header.BlockHash()); ok {
		c.inserted = false
		return nil
	}
	if _, err := c.vbkTree.AcceptBlock(c.header); err != nil {
		return errors.Wrap(err, "alt: adding VBK context block")
	}
	c.inserted = true
	return nil
}

func (c *addVbkContextCommand) Unexecute() error {
	if !c.inserted {
		return nil
	}
	return c.vbkTree.RemoveSubtree(c.header.BlockHash())
}

func (c *addVbkContextCommand) Name() string { return "alt.addVbkContext" }

// incRefVbkCommand pins a VBK block (the ATV's blockOfProof) on Execute.
type incRefVbkCommand struct {
	vbkTree *vbk.Tree
	hash    blocktree.Hash
}

func (c *incRefVbkCommand) Execute() error   { return c.vbkTree.IncRef(c.hash) }
func (c *incRefVbkCommand) Unexecute() error { return c.vbkTree.DecRef(c.hash) }
func (c *incRefVbkCommand) Name() string     { return "alt.incRefVbk" }

// addAtvEndorsementCommand registers the ATV's endorsement on both the
// containing ALT block and the ALT block it endorses.
type addAtvEndorsementCommand struct {
	tree           *blocktree.Tree[*Index]
	containingHash blocktree.Hash
	endorsement    entities.Endorsement
}

func (c *addAtvEndorsementCommand) Execute() error {
	containing, ok := c.tree.GetBlockIndex(c.containingHash)
	if !ok {
		return errors.Newf("alt: containing block %s not found", c.containingHash)
	}
	containing.Addon.ContainingEndorsements[c.endorsement.ID] = c.endorsement
	if endorsed, ok := c.tree.GetBlockIndex(c.endorsement.EndorsedHash); ok {
		endorsed.Addon.EndorsedBy[c.endorsement.ID] = c.endorsement
	}
	return nil
}

func (c *addAtvEndorsementCommand) Unexecute() error {
	if containing, ok := c.tree.GetBlockIndex(c.containingHash); ok {
		delete(containing.Addon.ContainingEndorsements, c.endorsement.ID)
	}
	if endorsed, ok := c.tree.GetBlockIndex(c.endorsement.EndorsedHash); ok {
		delete(endorsed.Addon.EndorsedBy, c.endorsement.ID)
	}
	return nil
}

func (c *addAtvEndorsementCommand) Name() string { return "alt.addEndorsement" }
