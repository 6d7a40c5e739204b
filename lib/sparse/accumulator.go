// Package sparse provides a counting set over a dense integer domain with
// constant-time insert, increment and clear. The classic three-array scheme
// keeps member values in insertion order and never scans storage on reset,
// which makes one allocation reusable across many accumulation rounds.
package sparse

import "iter"

// Accumulator counts occurrences of values from the domain [0, capacity).
// Clear deactivates all members in O(1) without touching their counts, so the
// backing arrays may hold stale garbage at any time; membership checks rely on
// the sparse/dense cross-reference only. Not safe for concurrent use.
type Accumulator struct {
	sparse  []uint32 // value -> position in dense, meaningful only for members
	dense   []uint32 // member values in insertion order
	counts  []uint32 // counts parallel to dense
	members int
}

// New creates an Accumulator for values in [0, capacity).
func New(capacity int) *Accumulator {
	return &Accumulator{
		sparse: make([]uint32, capacity),
		dense:  make([]uint32, capacity),
		counts: make([]uint32, capacity),
	}
}

// Capacity returns the size of the value domain.
func (a *Accumulator) Capacity() int { return len(a.sparse) }

// Len returns the number of active members.
func (a *Accumulator) Len() int { return a.members }

// Clear deactivates all members. Runs in constant time, counts of former
// members are abandoned in place.
func (a *Accumulator) Clear() { a.members = 0 }

// Add increases the count of v by n, activating v with count n if it is not a
// member yet. Adding zero activates the member with a zero count. Panics when
// v is outside the domain, that is a caller bug.
func (a *Accumulator) Add(v, n uint32) {
	if i := a.sparse[v]; i < uint32(a.members) && a.dense[i] == v {
		a.counts[i] += n
		return
	}
	a.sparse[v] = uint32(a.members)
	a.dense[a.members] = v
	a.counts[a.members] = n
	a.members++
}

// Contains reports whether v is an active member.
func (a *Accumulator) Contains(v uint32) bool {
	i := a.sparse[v]
	return i < uint32(a.members) && a.dense[i] == v
}

// Count returns the accumulated count of v and whether v is a member.
func (a *Accumulator) Count(v uint32) (count uint32, ok bool) {
	if i := a.sparse[v]; i < uint32(a.members) && a.dense[i] == v {
		return a.counts[i], true
	}
	return 0, false
}

// All iterates over (value, count) pairs of active members in insertion order.
func (a *Accumulator) All() iter.Seq2[uint32, uint32] {
	return func(yield func(uint32, uint32) bool) {
		for i := 0; i < a.members; i++ {
			if !yield(a.dense[i], a.counts[i]) {
				return
			}
		}
	}
}
