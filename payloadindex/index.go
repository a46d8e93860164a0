// Package payloadindex implements the reverse payload index and
// per-(block,payload) validity cache from spec section 4.7: purely
// in-memory. The state machine records validity through SetValid. The
// trees do not call AddAltBlock/AddVbkBlock or their Remove counterparts;
// the reverse maps change only through those calls made by an embedder,
// or through ReindexAlt/ReindexVbk.
package payloadindex

import (
	"sync"

	"github.com/altpop/popcore/blocktree"
	"github.com/altpop/popcore/entities"
)

type validityKey struct {
	block   blocktree.Hash
	payload entities.PayloadID
}

// Index is the payload reverse index. Construct it with New; the zero
// value has nil maps and panics on the first write.
type Index struct {
	mu sync.RWMutex

	altBlocks map[entities.PayloadID]map[blocktree.Hash]struct{}
	vbkBlocks map[entities.PayloadID]map[blocktree.Hash]struct{}
	validity  map[validityKey]bool
}

// New constructs an empty payload index.
func New() *Index {
	return &Index{
		altBlocks: make(map[entities.PayloadID]map[blocktree.Hash]struct{}),
		vbkBlocks: make(map[entities.PayloadID]map[blocktree.Hash]struct{}),
		validity:  make(map[validityKey]bool),
	}
}

// AddAltBlock records that altHash contains payloadID (an ATV, VTB, or
// VBK context block reference carried in that ALT block's PopData).
func (idx *Index) AddAltBlock(payloadID entities.PayloadID, altHash blocktree.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.altBlocks[payloadID]
	if !ok {
		set = make(map[blocktree.Hash]struct{})
		idx.altBlocks[payloadID] = set
	}
	set[altHash] = struct{}{}
}

// RemoveAltBlock undoes AddAltBlock.
func (idx *Index) RemoveAltBlock(payloadID entities.PayloadID, altHash blocktree.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if set, ok := idx.altBlocks[payloadID]; ok {
		delete(set, altHash)
		if len(set) == 0 {
			delete(idx.altBlocks, payloadID)
		}
	}
}

// AddVbkBlock records that vbkHash contains payloadID (a VTB).
func (idx *Index) AddVbkBlock(payloadID entities.PayloadID, vbkHash blocktree.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.vbkBlocks[payloadID]
	if !ok {
		set = make(map[blocktree.Hash]struct{})
		idx.vbkBlocks[payloadID] = set
	}
	set[vbkHash] = struct{}{}
}

// RemoveVbkBlock undoes AddVbkBlock.
func (idx *Index) RemoveVbkBlock(payloadID entities.PayloadID, vbkHash blocktree.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if set, ok := idx.vbkBlocks[payloadID]; ok {
		delete(set, vbkHash)
		if len(set) == 0 {
			delete(idx.vbkBlocks, payloadID)
		}
	}
}

// ContainingAltBlocks returns every ALT block hash known to carry
// payloadID.
func (idx *Index) ContainingAltBlocks(payloadID entities.PayloadID) []blocktree.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return hashSetToSlice(idx.altBlocks[payloadID])
}

// ContainingVbkBlocks returns every VBK block hash known to carry
// payloadID.
func (idx *Index) ContainingVbkBlocks(payloadID entities.PayloadID) []blocktree.Hash {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return hashSetToSlice(idx.vbkBlocks[payloadID])
}

func hashSetToSlice(set map[blocktree.Hash]struct{}) []blocktree.Hash {
	out := make([]blocktree.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// SetValid records whether payloadID is valid inside containingHash.
// Implements popstate.ValidityRecorder.
func (idx *Index) SetValid(containingHash blocktree.Hash, payloadID entities.PayloadID, valid bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := validityKey{block: containingHash, payload: payloadID}
	if valid {
		// Missing means valid (spec 4.7); no need to store the common case.
		delete(idx.validity, key)
		return
	}
	idx.validity[key] = false
}

// Validity reports whether payloadID is valid inside containingHash.
// Absence from the cache means valid, per spec section 4.7.
func (idx *Index) Validity(containingHash blocktree.Hash, payloadID entities.PayloadID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.validity[validityKey{block: containingHash, payload: payloadID}]
	if !ok {
		return true
	}
	return v
}

// Reindexer is implemented by a tree that can enumerate every index it
// holds, so ReindexAlt/ReindexVbk can rebuild the reverse map from scratch.
type Reindexer interface {
	AllPayloadIDs() map[blocktree.Hash][]entities.PayloadID
}

// ReindexAlt rebuilds the ALT-block side of the reverse index by walking
// every ALT index's payload-id list (spec 4.7's reindex(altTree)).
func (idx *Index) ReindexAlt(tree Reindexer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.altBlocks = make(map[entities.PayloadID]map[blocktree.Hash]struct{})
	for hash, ids := range tree.AllPayloadIDs() {
		for _, id := range ids {
			set, ok := idx.altBlocks[id]
			if !ok {
				set = make(map[blocktree.Hash]struct{})
				idx.altBlocks[id] = set
			}
			set[hash] = struct{}{}
		}
	}
}

// ReindexVbk rebuilds the VBK-block side of the reverse index.
func (idx *Index) ReindexVbk(tree Reindexer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vbkBlocks = make(map[entities.PayloadID]map[blocktree.Hash]struct{})
	for hash, ids := range tree.AllPayloadIDs() {
		for _, id := range ids {
			set, ok := idx.vbkBlocks[id]
			if !ok {
				set = make(map[blocktree.Hash]struct{})
				idx.vbkBlocks[id] = set
			}
			set[hash] = struct{}{}
		}
	}
}
