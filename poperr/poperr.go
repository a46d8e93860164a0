// Package poperr defines the two disjoint failure modes used throughout
// popcore: Invalid (a stateless or stateful validation rejection, from
// which the tree returns to a consistent pre-call state) and Fault (an
// internal fault — provider I/O failure, database inconsistency — which
// the core cannot recover from; the caller must tear the tree down).
//
// Both wrap github.com/cockroachdb/errors so that context tags accumulate
// as the failure bubbles up through command -> group -> block -> segment
// -> setState, without losing the original error for %+v / Cause() use.
package poperr

import "github.com/cockroachdb/errors"

// Kind identifies a specific validation rejection, matching the error
// kind vocabulary named in the specification (section 7).
type Kind string

const (
	KindBadPoW                   Kind = "btc-bad-pow"
	KindBtcBlockInvalid          Kind = "invalid-btc-block"
	KindVbkBlockInvalid          Kind = "invalid-vbk-block"
	KindAltBlockInvalid          Kind = "invalid-alt-block"
	KindMarkedInvalid            Kind = "marked-invalid"
	KindBadCommand                Kind = "bad-command"
	KindAtvBadIdentifier          Kind = "atv-bad-identifier"
	KindAtvStatelesslyInvalid     Kind = "pop-atv-statelessly-invalid"
	KindVtbStatelesslyInvalid     Kind = "pop-vtb-statelessly-invalid"
	KindUnknownParent             Kind = "unknown-parent"
	KindDuplicateBlock            Kind = "duplicate-block"
	KindAlreadyHasPayloads        Kind = "already-has-payloads"
	KindMempoolAddDuplicate       Kind = "mempool-add-duplicate"
	KindMempoolAddStatelessInvalid Kind = "mempool-add-stateless-invalid"
	KindNotFound                  Kind = "not-found"
)

// Invalid is a recoverable validation rejection. The tree is guaranteed to
// be left in the consistent state it was in before the call that produced
// this error.
type Invalid struct {
	Kind Kind
	err  error
}

func (i *Invalid) Error() string { return string(i.Kind) + ": " + i.err.Error() }
func (i *Invalid) Unwrap() error { return i.err }

// NewInvalid builds an Invalid of the given kind with a formatted message.
func NewInvalid(kind Kind, format string, args ...any) error {
	return &Invalid{Kind: kind, err: errors.Newf(format, args...)}
}

// WrapInvalid tags err as Invalid under kind, preserving it as the cause.
func WrapInvalid(kind Kind, err error, context string) error {
	if err == nil {
		return nil
	}
	return &Invalid{Kind: kind, err: errors.Wrap(err, context)}
}

// Fault is a non-recoverable internal error: provider I/O failure or a
// database inconsistency discovered during recovery. Every layer above
// the one that produced it must short-circuit without attempting any
// compensating action.
type Fault struct {
	err error
}

func (f *Fault) Error() string { return "fault: " + f.err.Error() }
func (f *Fault) Unwrap() error { return f.err }

// NewFault wraps err (typically from a PayloadsProvider or Repository) as
// a non-recoverable Fault.
func NewFault(err error, context string) error {
	if err == nil {
		return nil
	}
	return &Fault{err: errors.Wrap(err, context)}
}

// Tag prefixes err's message with a context tag as it bubbles up a layer
// (command -> group -> block -> segment -> setState), preserving whichever
// of Invalid/Fault it already is.
func Tag(err error, context string) error {
	if err == nil {
		return nil
	}
	var inv *Invalid
	if errors.As(err, &inv) {
		return &Invalid{Kind: inv.Kind, err: errors.Wrap(err, context)}
	}
	var flt *Fault
	if errors.As(err, &flt) {
		return &Fault{err: errors.Wrap(err, context)}
	}
	return errors.Wrap(err, context)
}

// IsInvalid reports whether err (or something it wraps) is an Invalid.
func IsInvalid(err error) bool {
	var inv *Invalid
	return errors.As(err, &inv)
}

// IsFault reports whether err (or something it wraps) is a Fault.
func IsFault(err error) bool {
	var flt *Fault
	return errors.As(err, &flt)
}

// KindOf returns the Kind of err if it is an Invalid, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var inv *Invalid
	if errors.As(err, &inv) {
		return inv.Kind, true
	}
	return "", false
}

// Assert panics if cond is false. Per the specification's error handling
// design, violations like applying a block whose parent is not applied, a
// negative refCounter, or unapplying a non-applied block are bugs, not
// errors: they abort the process rather than return a value the caller
// might try to recover from.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}
