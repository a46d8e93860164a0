package entities

import "github.com/cockroachdb/errors"

// Command is one step of an endorsement's side effects on a tree: adding
// a context block, or registering an endorsement. Concrete commands
// (addBlock, addEndorsement) are constructed by the btc/vbk/alt packages,
// which close over the specific tree instance they mutate; entities only
// defines the shape every command must have and the atomic-group
// semantics around it.
type Command interface {
	// Execute applies the command's forward effect.
	Execute() error
	// Unexecute applies the strict inverse of Execute. It must succeed
	// whenever it is called on a command whose Execute previously
	// succeeded; a provider/database Fault aside, Unexecute is not
	// expected to fail.
	Unexecute() error
	// Name identifies the command for logging and error context tags.
	Name() string
}

// CommandGroup is an ordered, atomically-applied list of commands
// representing one endorsement's side effects (spec section 3).
type CommandGroup struct {
	// PayloadID is the id of the payload (ATV or VTB) whose acceptance
	// produced this group, used to key the payload-validity cache.
	PayloadID PayloadID
	Commands  []Command
}

// Execute runs every command in order. If any command fails, every
// previously executed command in this group is unexecuted in reverse
// order before the error is returned, so a partially-applied group never
// remains visible to the caller.
func (g CommandGroup) Execute() error {
	for i, cmd := range g.Commands {
		if err := cmd.Execute(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if uerr := g.Commands[j].Unexecute(); uerr != nil {
					return errors.Wrapf(uerr, "command group rollback failed after %q failed: %v", cmd.Name(), err)
				}
			}
			return errors.Wrapf(err, "command %q failed", cmd.Name())
		}
	}
	return nil
}

// Unexecute reverts every command in reverse order. Used both to undo a
// successfully-applied group (unapplyBlock) and, internally, as the
// rollback path of Execute.
func (g CommandGroup) Unexecute() error {
	for i := len(g.Commands) - 1; i >= 0; i-- {
		if err := g.Commands[i].Unexecute(); err != nil {
			return errors.Wrapf(err, "command %q unexecute failed", g.Commands[i].Name())
		}
	}
	return nil
}
