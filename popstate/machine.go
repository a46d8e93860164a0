// Package popstate implements the PoP state machine (spec section 4.5):
// atomic apply/unapply of payload-derived command groups along chain
// segments, and setState(from, to) driving both. Machine is generic over
// the index type; in this module only the ALT tree (protected by VBK)
// drives one. The VBK tree executes its VTB command groups directly in
// AddPayloads.
package popstate

import (
	"sort"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
	"github.com/altpop/popcore/poperr"
)

// BlockIndex is the surface popstate needs from a per-chain index beyond
// blocktree.Indexed: the ability to drop a payload id from the block's
// own payload list when that payload is rejected under continueOnInvalid
// (spec 4.5 step 2's "drop that payload id from the index").
type BlockIndex interface {
	blocktree.Indexed
	DropPayloadID(id entities.PayloadID)
}

// CommandProvider loads the command groups that realize a block's
// payloads against the protecting tree. Implementations compose the
// provider.PayloadsProvider (spec section 6).
type CommandProvider[T BlockIndex] interface {
	GetCommands(index T) ([]entities.CommandGroup, error)
}

// ValidityRecorder is the payload-validity cache (payloadindex.Index)
// that popstate reports each command group's outcome into.
type ValidityRecorder interface {
	SetValid(containingHash blocktree.Hash, payloadID entities.PayloadID, valid bool)
}

// Machine drives apply/unapply for a single protected tree. It does not
// own the tree; Tree must be the same instance the caller inserts blocks
// into.
type Machine[T BlockIndex] struct {
	Tree              *blocktree.Tree[T]
	Provider          CommandProvider[T]
	Validity          ValidityRecorder
	ShouldCanApply    bool // whether applyBlock also sets CAN_BE_APPLIED
	ContinueOnInvalid bool
}

// applyPreconditions checks spec 4.5's preconditions before applying b.
func (m *Machine[T]) applyPreconditions(b T) error {
	if b.Status().Has(blocktree.StatusApplied) {
		return poperr.NewInvalid(poperr.KindBadCommand, "popstate: block %s already applied", b.Hash())
	}
	if b.Status().Has(blocktree.StatusFailedBlock) || b.Status().Has(blocktree.StatusFailedChild) {
		return poperr.NewInvalid(poperr.KindMarkedInvalid, "popstate: block %s is marked invalid", b.Hash())
	}
	if b.HasParent() {
		parent, ok := m.Tree.GetBlockIndex(b.ParentHash())
		if !ok {
			return poperr.NewInvalid(poperr.KindUnknownParent, "popstate: parent %s of %s not found", b.ParentHash(), b.Hash())
		}
		poperr.Assert(parent.Status().Has(blocktree.StatusApplied), "popstate: parent %s of %s is not applied", b.ParentHash(), b.Hash())
		if m.ShouldCanApply {
			poperr.Assert(parent.Status().Has(blocktree.StatusCanBeApplied), "popstate: parent %s of %s cannot be applied", b.ParentHash(), b.Hash())
		}
	}
	for _, c := range b.Children() {
		child, ok := m.Tree.GetBlockIndex(c)
		if ok {
			poperr.Assert(!child.Status().Has(blocktree.StatusApplied), "popstate: descendant %s of %s is applied", c, b.Hash())
		}
	}
	return nil
}

// ApplyBlock applies b's command groups in order (spec 4.5 applyBlock).
func (m *Machine[T]) ApplyBlock(b T) error {
	if err := m.applyPreconditions(b); err != nil {
		return err
	}

	groups, err := m.Provider.GetCommands(b)
	if err != nil {
		return poperr.NewFault(err, "popstate: loading commands for "+b.Hash().String())
	}

	executed := make([]entities.CommandGroup, 0, len(groups))
	for _, g := range groups {
		if err := g.Execute(); err != nil {
			if m.ContinueOnInvalid {
				if m.Validity != nil {
					m.Validity.SetValid(b.Hash(), g.PayloadID, false)
				}
				b.DropPayloadID(g.PayloadID)
				continue
			}
			for i := len(executed) - 1; i >= 0; i-- {
				_ = executed[i].Unexecute()
			}
			m.Tree.InvalidateSubtree(b.Hash(), blocktree.StatusFailedPoP)
			return poperr.WrapInvalid(poperr.KindBadCommand, err, "popstate: applying payload "+g.PayloadID.String())
		}
		if m.Validity != nil {
			m.Validity.SetValid(b.Hash(), g.PayloadID, true)
		}
		executed = append(executed, g)
	}

	b.SetStatus(b.Status().Clear(blocktree.StatusFailedPoP).Set(blocktree.StatusApplied))
	if m.ShouldCanApply {
		b.SetStatus(b.Status().Set(blocktree.StatusCanBeApplied))
	}
	return nil
}

// UnapplyBlock reverses b's command groups and clears StatusApplied (spec
// 4.5 unapplyBlock). Only a provider Fault is expected to fail this call.
func (m *Machine[T]) UnapplyBlock(b T) error {
	poperr.Assert(b.Status().Has(blocktree.StatusApplied), "popstate: unapplying non-applied block %s", b.Hash())

	groups, err := m.Provider.GetCommands(b)
	if err != nil {
		return poperr.NewFault(err, "popstate: loading commands for "+b.Hash().String())
	}
	for i := len(groups) - 1; i >= 0; i-- {
		if err := groups[i].Unexecute(); err != nil {
			return poperr.NewFault(err, "popstate: unexecuting payload "+groups[i].PayloadID.String())
		}
	}
	b.SetStatus(b.Status().Clear(blocktree.StatusApplied))
	return nil
}

// segment returns the indices strictly between from (exclusive) and to
// (inclusive), in ascending height order. from must be an ancestor of to.
func (m *Machine[T]) segment(from, to blocktree.Hash) ([]T, error) {
	var out []T
	cur := to
	for cur != from {
		idx, ok := m.Tree.GetBlockIndex(cur)
		if !ok {
			return nil, poperr.NewFault(nil, "popstate: broken ancestry walking to "+to.String())
		}
		out = append(out, idx)
		if !idx.HasParent() {
			return nil, poperr.NewFault(nil, "popstate: "+from.String()+" is not an ancestor of "+to.String())
		}
		cur = idx.ParentHash()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height() < out[j].Height() })
	return out, nil
}

// Apply applies every block in the half-open segment (from, to] in
// height order (spec 4.5 apply). from must be an ancestor of to.
func (m *Machine[T]) Apply(from, to blocktree.Hash) error {
	if from == to {
		return nil
	}
	seg, err := m.segment(from, to)
	if err != nil {
		return err
	}

	applied := make([]T, 0, len(seg))
	for _, b := range seg {
		if err := m.ApplyBlock(b); err != nil {
			for i := len(applied) - 1; i >= 0; i-- {
				_ = m.UnapplyBlock(applied[i])
			}
			return err
		}
		applied = append(applied, b)
	}
	return nil
}

// Unapply unapplies the half-open segment (to, from] in reverse height
// order (spec 4.5 unapply). to must be an ancestor of from.
func (m *Machine[T]) Unapply(from, to blocktree.Hash) error {
	if from == to {
		return nil
	}
	seg, err := m.segment(to, from)
	if err != nil {
		return err
	}
	for i := len(seg) - 1; i >= 0; i-- {
		if err := m.UnapplyBlock(seg[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetState switches the active state from `from` to `to` (spec 4.5
// setState). It is atomic: callers observe either the pre- or post-state,
// except when a provider Fault forces a rollback the caller must treat as
// fatal, per spec section 5.
func (m *Machine[T]) SetState(from, to blocktree.Hash) error {
	if from == to {
		return nil
	}
	if m.Tree.IsAncestor(from, to) {
		if err := m.Apply(from, to); err != nil {
			return err
		}
		return m.Tree.OverrideTip(to)
	}

	lca, ok := m.Tree.LCA(from, to)
	if !ok {
		return poperr.NewFault(nil, "popstate: no common ancestor of "+from.String()+" and "+to.String())
	}
	if err := m.Unapply(from, lca); err != nil {
		return err
	}
	if err := m.Apply(lca, to); err != nil {
		// Guaranteed to succeed per spec 4.5: we just unapplied this path.
		if rerr := m.Apply(lca, from); rerr != nil {
			return poperr.NewFault(rerr, "popstate: failed to restore original state after failed setState")
		}
		return err
	}
	return m.Tree.OverrideTip(to)
}
