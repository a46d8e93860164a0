package alt

import (
	"sort"

	"github.com/altpop/popcore/blocktree"
)

// DifficultyCurve computes a PoP reward for one endorsement. GetPopPayout
// passes the difficulty of the endorsing VBK block (the blockOfProof) and
// a relative score equal to the endorsed ALT block's position in the
// payout window, (height - windowStart + 1) / PayoutWindowSize. The
// concrete curve is a network parameter (spec section 6's
// "difficulty-ratio curve").
type DifficultyCurve func(endorsedDifficulty uint32, relativeScore float64) uint64

// PayoutEntry is one endorser's contribution to a payout round, kept
// around for the tie-break rule (score desc, vbkHash asc) before being
// folded into the returned script->amount map.
type PayoutEntry struct {
	VbkHash blocktree.Hash
	Score   float64
	Amount  uint64
}

// GetPopPayout implements spec 4.4's getPopPayout: walks back from tip by
// the payout delay, and within the payout window sums each endorser's
// reward. Pure on a fixed active chain. The payout script identity is
// modeled as the endorsing VBK block's hash hex, since the wire format
// that would resolve an ATV to an actual output script is out of scope.
func (t *Tree) GetPopPayout(tip blocktree.Hash, curve DifficultyCurve) (map[string]uint64, error) {
	tipIdx, ok := t.tree.GetBlockIndex(tip)
	if !ok {
		return nil, errNotFound(tip)
	}

	windowEnd := tipIdx.Height() - t.params.PayoutDelay
	windowStart := windowEnd - t.params.PayoutWindowSize + 1
	if windowStart < 0 {
		windowStart = 0
	}
	if windowEnd < 0 {
		return map[string]uint64{}, nil
	}

	var entries []PayoutEntry
	cur := tipIdx
	for {
		if cur.Height() <= windowEnd && cur.Height() >= windowStart {
			for _, e := range cur.Addon.EndorsedBy {
				proofIdx, ok := t.vbk.GetBlockIndex(e.BlockOfProof)
				if !ok {
					continue
				}
				relativeScore := 1.0
				if t.params.PayoutWindowSize > 0 {
					relativeScore = float64(cur.Height()-windowStart+1) / float64(t.params.PayoutWindowSize)
				}
				// ALT has no difficulty field of its own (DESIGN Q7); use
				// the endorsing VBK block's difficulty in its place rather
				// than the ALT block's timestamp.
				amount := curve(proofIdx.Header.Difficulty, relativeScore)
				entries = append(entries, PayoutEntry{
					VbkHash: proofIdx.Hash(),
					Score:   relativeScore,
					Amount:  amount,
				})
			}
		}
		if cur.Height() <= windowStart || !cur.HasParent() {
			break
		}
		parent, ok := t.tree.GetBlockIndex(cur.ParentHash())
		if !ok {
			break
		}
		cur = parent
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].VbkHash.Less(entries[j].VbkHash)
	})

	out := make(map[string]uint64)
	for _, e := range entries {
		out[e.VbkHash.String()] += e.Amount
	}
	return out, nil
}

type errNotFoundHash blocktree.Hash

func (e errNotFoundHash) Error() string { return "alt: block not found for payout: " + blocktree.Hash(e).String() }

func errNotFound(h blocktree.Hash) error { return errNotFoundHash(h) }
