// Package picker implements piece selection for a torrent session:
// rarest-first with random tie-breaking, a uniformly-random choice
// for the first four pieces, an optional sequential mode, and an endgame
// mode once few blocks remain.
package picker

import (
	"math/rand"
	"sync"

	"github.com/willf/bitset"

	"github.com/gosh-dl/gosh/utils/heap"
)

// Picker selects which pieces to request next from a given peer, keeping
// availability bookkeeping separate from the selection policy.
type Picker struct {
	mu sync.Mutex

	numPieces  int
	sequential bool

	have     *bitset.BitSet // pieces this session already has
	picked   *bitset.BitSet // pieces already assigned to some peer and not yet picked again
	rarity   []int          // number of known peers per piece
	randomN  int            // remaining count of pieces picked uniformly at random (first 4)
}

// New creates a Picker for a torrent with numPieces pieces. If sequential is
// true, NextMissing-in-order is used instead of rarest-first.
func New(numPieces int, sequential bool) *Picker {
	return &Picker{
		numPieces:  numPieces,
		sequential: sequential,
		have:       bitset.New(uint(numPieces)),
		picked:     bitset.New(uint(numPieces)),
		rarity:     make([]int, numPieces),
		randomN:    4,
	}
}

// MarkHave records that the local session now has piece i complete, so it
// is never selected again.
func (p *Picker) MarkHave(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.have.Set(uint(i))
}

// RestoreBitfield seeds the have-set from a persisted bitfield, e.g. on
// resume.
func (p *Picker) RestoreBitfield(b *bitset.BitSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.have = b.Clone()
}

// SetPeerHas increments the known-peer count for every piece set in peer's
// bitfield, feeding the rarest-first ranking.
func (p *Picker) SetPeerHas(peerBitfield *bitset.BitSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ok := peerBitfield.NextSet(0); ok; i, ok = peerBitfield.NextSet(i + 1) {
		if int(i) < len(p.rarity) {
			p.rarity[i]++
		}
	}
}

// ClearPeerHas decrements the known-peer count for a disconnecting peer's
// bitfield, keeping rarity accurate.
func (p *Picker) ClearPeerHas(peerBitfield *bitset.BitSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ok := peerBitfield.NextSet(0); ok; i, ok = peerBitfield.NextSet(i + 1) {
		if int(i) < len(p.rarity) && p.rarity[i] > 0 {
			p.rarity[i]--
		}
	}
}

// Release returns a previously-picked piece to the candidate pool, e.g.
// after a peer disconnects mid-request or a hash mismatch reverts it to
// Missing.
func (p *Picker) Release(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.picked.Clear(uint(i))
}

// Pick selects up to limit pieces the peer (described by peerBitfield) has
// that this session doesn't, and haven't already been picked, marking them
// picked. Candidates already in-flight elsewhere are skipped unless
// allowDuplicates is set (endgame mode).
func (p *Picker) Pick(peerBitfield *bitset.BitSet, limit int, allowDuplicates bool) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := p.candidateSet(peerBitfield, allowDuplicates)

	var pieces []int
	if p.randomN > 0 {
		pieces = p.pickRandom(candidates, limit)
	} else if p.sequential {
		pieces = p.pickSequential(candidates, limit)
	} else {
		pieces = p.pickRarestFirst(candidates, limit)
	}

	for _, i := range pieces {
		p.picked.Set(uint(i))
		if p.randomN > 0 {
			p.randomN--
		}
	}
	return pieces
}

// Interesting reports whether peerBitfield contains any piece this session
// doesn't already have, the condition for sending an `interested` message,
// without consuming a pick the way Pick would.
func (p *Picker) Interesting(peerBitfield *bitset.BitSet) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerBitfield.Difference(p.have).Any()
}

func (p *Picker) candidateSet(peerBitfield *bitset.BitSet, allowDuplicates bool) *bitset.BitSet {
	candidates := peerBitfield.Difference(p.have)
	if !allowDuplicates {
		candidates = candidates.Difference(p.picked)
	}
	return candidates
}

func (p *Picker) pickRandom(candidates *bitset.BitSet, limit int) []int {
	var all []int
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		all = append(all, int(i))
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (p *Picker) pickSequential(candidates *bitset.BitSet, limit int) []int {
	var pieces []int
	for i, ok := candidates.NextSet(0); ok && len(pieces) < limit; i, ok = candidates.NextSet(i + 1) {
		pieces = append(pieces, int(i))
	}
	return pieces
}

func (p *Picker) pickRarestFirst(candidates *bitset.BitSet, limit int) []int {
	var all []int
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		all = append(all, int(i))
	}
	// Pushing in random order breaks ties between equally rare pieces randomly.
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	q := heap.NewPriorityQueue()
	for _, i := range all {
		q.Push(&heap.Item{Value: i, Priority: p.rarity[i]})
	}

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && q.Len() > 0 {
		item, err := q.Pop()
		if err != nil {
			break
		}
		pieces = append(pieces, item.Value.(int))
	}
	return pieces
}

// EndgameThreshold reports whether the number of outstanding (not-yet-have)
// blocks across the torrent has dropped low enough to enter endgame mode,
// where every copy of an outstanding block is requested from every peer
// that has it.
func EndgameThreshold(outstandingBlocks, threshold int) bool {
	return outstandingBlocks > 0 && outstandingBlocks < threshold
}
