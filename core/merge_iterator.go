// Component D: Merge iterator.
//
// Given a chain of deltas from root to some head, provides an ordered view
// of the logical keyspace honoring later-wins semantics and tombstones
// (spec §4.D). Re-expressed from the C++ reference's
// boost::multi_index_container-of-cursors (revision-descending order) as a
// Go min-heap over one cursor per delta in the chain.
package core

import (
	"container/heap"
	"sort"
	"sync/atomic"
)

// MergeIterator walks the merged, later-wins view of every delta from a
// head down to the root. It is invalidated by any write to the underlying
// chain; Valid() reports false once the chain's generation has moved on
// (spec §9: "document this and detect invalidation... rather than allowing
// silent use-after-invalidation").
type MergeIterator struct {
	space      ObjectSpace
	chain      []*StateDelta // ordered root..head
	generation uint64
	owner      *chainGeneration

	cursors []*deltaCursor
	pq      cursorHeap
	curKey  string
	curVal  []byte
	atEnd   bool
}

// chainGeneration is a shared invalidation token for a delta chain; bumped
// whenever any delta in the chain is mutated after an iterator over it was
// constructed. Every delta descended from the same root shares one
// instance, so a write anywhere in the chain invalidates iterators built
// over any prefix of it.
type chainGeneration struct {
	gen atomic.Uint64
}

func (c *chainGeneration) bump() { c.gen.Add(1) }
func (c *chainGeneration) snapshot() uint64 { return c.gen.Load() }

// deltaCursor exposes a sorted view of one delta's own write-set, used as a
// sub-iterator input to the merge heap. For a backend (root) delta the
// cursor holds the backend's keys within the iterated space, read in sorted
// order when the iterator is built.
type deltaCursor struct {
	revision uint64
	keys     []string
	values   map[string]writeEntry
	pos      int
}

func (c *deltaCursor) valid() bool { return c.pos < len(c.keys) }
func (c *deltaCursor) key() string { return c.keys[c.pos] }
func (c *deltaCursor) advance()    { c.pos++ }

// cursorHeap orders active cursors by (key ascending, revision descending),
// i.e. for equal keys the most recent delta sorts first — mirroring
// merge_iterator.hpp's composite ordering key.
type cursorHeap []*deltaCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].key() != h[j].key() {
		return h[i].key() < h[j].key()
	}
	return h[i].revision > h[j].revision
}
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*deltaCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a merge view of space across chain (root-first
// order expected, i.e. chain[len-1] is the head).
func NewMergeIterator(space ObjectSpace, chain []*StateDelta) *MergeIterator {
	mi := &MergeIterator{space: space, chain: chain}
	if len(chain) > 0 {
		head := chain[len(chain)-1]
		mi.owner = head.gen
		mi.generation = head.gen.snapshot()
	}
	prefix := space.key(nil)
	for _, d := range chain {
		if d.Backend != nil {
			// the backend contributes a cursor over its sorted keys in space
			it, err := d.Backend.LowerBound(prefix)
			if err == nil {
				c := &deltaCursor{revision: d.Revision, values: make(map[string]writeEntry)}
				for ; it.Valid() && bytesHavePrefix(it.Key(), prefix); it.Next() {
					v, _ := it.Value()
					k := string(it.Key())
					c.keys = append(c.keys, k)
					c.values[k] = writeEntry{value: v}
				}
				it.Close()
				mi.cursors = append(mi.cursors, c)
			}
			continue
		}
		d.mu.RLock()
		keys := make([]string, 0, len(d.writes))
		vals := make(map[string]writeEntry, len(d.writes))
		for k, v := range d.writes {
			if bytesHavePrefix([]byte(k), prefix) {
				keys = append(keys, k)
				vals[k] = v
			}
		}
		d.mu.RUnlock()
		sort.Strings(keys)
		mi.cursors = append(mi.cursors, &deltaCursor{revision: d.Revision, keys: keys, values: vals})
	}
	mi.pq = make(cursorHeap, 0, len(mi.cursors))
	for _, c := range mi.cursors {
		if c.valid() {
			mi.pq = append(mi.pq, c)
		}
	}
	heap.Init(&mi.pq)
	mi.advance()
	return mi
}

// Valid reports whether the iterator currently points at a live key and the
// underlying chain has not been mutated since construction.
func (mi *MergeIterator) Valid() bool {
	if mi.owner != nil && mi.owner.snapshot() != mi.generation {
		return false
	}
	return !mi.atEnd
}

// Invalidated reports whether the chain was mutated after this iterator was
// built, independent of atEnd, for callers that want to distinguish
// exhaustion from invalidation.
func (mi *MergeIterator) Invalidated() bool {
	return mi.owner != nil && mi.owner.snapshot() != mi.generation
}

// Key/Value return the current position's key and resolved value. The key
// is the full spaced key (space prefix included, not stripped); callers
// operate on opaque spaced keys.
func (mi *MergeIterator) Key() string   { return mi.curKey }
func (mi *MergeIterator) Value() []byte { return mi.curVal }

// Next advances to the next key that is the minimum across all per-delta
// sub-iterators and not shadowed by a tombstone or later write (spec §4.D).
func (mi *MergeIterator) Next() {
	if mi.atEnd {
		return
	}
	// drop every cursor entry still sitting on curKey (shadowed duplicates)
	for mi.pq.Len() > 0 && mi.pq[0].key() == mi.curKey {
		c := heap.Pop(&mi.pq).(*deltaCursor)
		c.advance()
		if c.valid() {
			heap.Push(&mi.pq, c)
		}
	}
	mi.advance()
}

// advance positions the iterator at the next visible (non-tombstoned) key.
func (mi *MergeIterator) advance() {
	for mi.pq.Len() > 0 {
		top := mi.pq[0]
		key := top.key()
		entry := top.values[key]
		// the highest-revision cursor at this key (heap head) determines
		// visibility; cursors still on this key are shadowed duplicates that
		// stay in the heap until Next skips them.
		if entry.isErase {
			// tombstoned: consume this key across all cursors and continue.
			for mi.pq.Len() > 0 && mi.pq[0].key() == key {
				c := heap.Pop(&mi.pq).(*deltaCursor)
				c.advance()
				if c.valid() {
					heap.Push(&mi.pq, c)
				}
			}
			continue
		}
		mi.curKey = key
		mi.curVal = entry.value
		mi.atEnd = false
		return
	}
	mi.atEnd = true
	mi.curKey = ""
	mi.curVal = nil
}

// Find seeks the iterator to the smallest visible key >= target (spec
// §4.D's lower_bound contract), rebuilding cursor positions as needed.
func (mi *MergeIterator) Find(target string) {
	for _, c := range mi.cursors {
		c.pos = sort.SearchStrings(c.keys, target)
	}
	mi.pq = mi.pq[:0]
	for _, c := range mi.cursors {
		if c.valid() {
			mi.pq = append(mi.pq, c)
		}
	}
	heap.Init(&mi.pq)
	mi.advance()
}
