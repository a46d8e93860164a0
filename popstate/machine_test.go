package popstate

import (
	"testing"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
)

type fakeHeader struct {
	hash, parent blocktree.Hash
	height       int32
}

func (h fakeHeader) BlockHash() blocktree.Hash  { return h.hash }
func (h fakeHeader) ParentHash() blocktree.Hash { return h.parent }
func (h fakeHeader) BlockHeight() int32         { return h.height }

type fakeIndex struct {
	blocktree.Base
	droppedIDs []entities.PayloadID
}

func (f *fakeIndex) DropPayloadID(id entities.PayloadID) {
	f.droppedIDs = append(f.droppedIDs, id)
}

func newFakeIndex(hash, parent blocktree.Hash, height int32, hasParent bool) *fakeIndex {
	return &fakeIndex{Base: blocktree.NewBase(fakeHeader{hash, parent, height}, hasParent)}
}

func h(b byte) blocktree.Hash {
	var x blocktree.Hash
	x[31] = b
	return x
}

// fakeCommand records whether it was executed/unexecuted and can be made
// to fail on Execute.
type fakeCommand struct {
	name     string
	fail     bool
	executed *bool
}

func (c fakeCommand) Execute() error {
	if c.fail {
		return errTest
	}
	*c.executed = true
	return nil
}

func (c fakeCommand) Unexecute() error {
	*c.executed = false
	return nil
}

func (c fakeCommand) Name() string { return c.name }

type errString string

func (e errString) Error() string { return string(e) }

const errTest = errString("boom")

type fakeProvider struct {
	groups map[blocktree.Hash][]entities.CommandGroup
}

func (p *fakeProvider) GetCommands(idx *fakeIndex) ([]entities.CommandGroup, error) {
	return p.groups[idx.Hash()], nil
}

type fakeValidity struct {
	calls []string
}

func (v *fakeValidity) SetValid(containing blocktree.Hash, id entities.PayloadID, valid bool) {
	v.calls = append(v.calls, containing.String())
}

func buildTree(t *testing.T) (*blocktree.Tree[*fakeIndex], *fakeIndex, *fakeIndex) {
	tr := blocktree.NewTree[*fakeIndex]()
	genesis := newFakeIndex(h(0), blocktree.ZeroHash, 0, false)
	genesis.SetStatus(genesis.Status().Set(blocktree.StatusApplied))
	if err := tr.Bootstrap(genesis); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	b1 := newFakeIndex(h(1), h(0), 1, true)
	if err := tr.Insert(b1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return tr, genesis, b1
}

func TestApplyBlockSuccess(t *testing.T) {
	tr, _, b1 := buildTree(t)
	executed := false
	provider := &fakeProvider{groups: map[blocktree.Hash][]entities.CommandGroup{
		h(1): {{PayloadID: entities.PayloadID{1}, Commands: []entities.Command{fakeCommand{name: "addBlock", executed: &executed}}}},
	}}
	m := &Machine[*fakeIndex]{Tree: tr, Provider: provider, Validity: &fakeValidity{}}

	if err := m.ApplyBlock(b1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !executed {
		t.Fatal("expected command to have executed")
	}
	if !b1.Status().Has(blocktree.StatusApplied) {
		t.Fatal("expected StatusApplied set")
	}
}

func TestApplyBlockRollsBackOnFailure(t *testing.T) {
	tr, _, b1 := buildTree(t)
	executed1 := false
	provider := &fakeProvider{groups: map[blocktree.Hash][]entities.CommandGroup{
		h(1): {
			{PayloadID: entities.PayloadID{1}, Commands: []entities.Command{fakeCommand{name: "ok", executed: &executed1}}},
			{PayloadID: entities.PayloadID{2}, Commands: []entities.Command{fakeCommand{name: "bad", fail: true, executed: new(bool)}}},
		},
	}}
	m := &Machine[*fakeIndex]{Tree: tr, Provider: provider, Validity: &fakeValidity{}}

	err := m.ApplyBlock(b1)
	if err == nil {
		t.Fatal("expected error")
	}
	if executed1 {
		t.Fatal("expected first command group to be rolled back")
	}
	if !b1.Status().Has(blocktree.StatusFailedPoP) {
		t.Fatal("expected StatusFailedPoP after rollback")
	}
}

func TestSetStateAcrossFork(t *testing.T) {
	tr := blocktree.NewTree[*fakeIndex]()
	genesis := newFakeIndex(h(0), blocktree.ZeroHash, 0, false)
	genesis.SetStatus(genesis.Status().Set(blocktree.StatusApplied))
	_ = tr.Bootstrap(genesis)

	left := newFakeIndex(h(1), h(0), 1, true)
	right := newFakeIndex(h(2), h(0), 1, true)
	_ = tr.Insert(left)
	_ = tr.Insert(right)

	provider := &fakeProvider{groups: map[blocktree.Hash][]entities.CommandGroup{}}
	m := &Machine[*fakeIndex]{Tree: tr, Provider: provider, Validity: &fakeValidity{}}

	if err := m.SetState(h(0), h(1)); err != nil {
		t.Fatalf("setState to left: %v", err)
	}
	if !left.Status().Has(blocktree.StatusApplied) {
		t.Fatal("left should be applied")
	}

	if err := m.SetState(h(1), h(2)); err != nil {
		t.Fatalf("setState to right: %v", err)
	}
	if left.Status().Has(blocktree.StatusApplied) {
		t.Fatal("left should be unapplied after switching to right")
	}
	if !right.Status().Has(blocktree.StatusApplied) {
		t.Fatal("right should be applied")
	}
	if tr.ActiveTip() != h(2) {
		t.Fatal("active tip should be right")
	}
}
