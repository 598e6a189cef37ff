// Component B: State delta.
//
// An immutable-once-finalized in-memory overlay over a parent delta or the
// backend store (spec §4.B). Records puts/erases, tracks a dirty-key set
// for merge-iterator conflict detection, and computes a merkle root once per
// finalized delta.
package core

import (
	"sort"
	"sync"
)

// tombstone is the value hashed into a merkle leaf for an erased key.
// Erased entries themselves are flagged by writeEntry.isErase, since a real
// value may be an empty slice.
var tombstone = []byte{0xff, 'T', 'O', 'M', 'B'}

type writeEntry struct {
	value     []byte
	isErase   bool
}

// StateDelta is either a root delta (backend-backed, Parent == nil) or a
// child delta holding an overlay of writes against Parent.
type StateDelta struct {
	mu sync.RWMutex

	Parent      *StateDelta
	Backend     *BackendStore // only set on the root delta
	ID          Multihash
	ParentID    Multihash
	Revision    uint64
	Header      *BlockHeader // optional, set for block-carrying deltas

	writes    map[string]writeEntry
	dirtyKeys map[string]struct{}

	finalized bool
	merkleRoot Multihash
	rootComputed bool

	// gen is the invalidation counter shared by every delta descended from
	// the same root; MergeIterator snapshots it at construction and
	// compares on every Valid() call (spec §9: detect, rather than
	// silently tolerate, use-after-mutation of an iterated chain).
	gen *chainGeneration
}

// NewRootDelta wraps a backend store as the root delta (revision 0).
func NewRootDelta(backend *BackendStore, id Multihash) *StateDelta {
	return &StateDelta{
		Backend:  backend,
		ID:       id,
		ParentID: ZeroMultihash,
		Revision: 0,
		finalized: true,
		gen:      &chainGeneration{},
	}
}

// NewChildDelta creates a writable child overlay. Invariant (i): revision
// equals parent's + 1 (spec §3).
func NewChildDelta(parent *StateDelta, id Multihash, header *BlockHeader) *StateDelta {
	return &StateDelta{
		Parent:    parent,
		ID:        id,
		ParentID:  parent.ID,
		Revision:  parent.Revision + 1,
		Header:    header,
		writes:    make(map[string]writeEntry),
		dirtyKeys: make(map[string]struct{}),
		gen:       parent.gen,
	}
}

func (d *StateDelta) spacedKey(space ObjectSpace, key []byte) string {
	return string(space.key(key))
}

// Put records a write. Fails with node_finalized if called post-finalization.
func (d *StateDelta) Put(space ObjectSpace, key, value []byte) error {
	if d.Backend != nil {
		d.gen.bump()
		return d.Backend.SpacedPut(space, key, value)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		return ErrNodeFinalized()
	}
	k := d.spacedKey(space, key)
	d.writes[k] = writeEntry{value: append([]byte(nil), value...)}
	d.dirtyKeys[k] = struct{}{}
	d.gen.bump()
	return nil
}

// Erase records a tombstone for key.
func (d *StateDelta) Erase(space ObjectSpace, key []byte) error {
	if d.Backend != nil {
		d.gen.bump()
		return d.Backend.SpacedErase(space, key)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		return ErrNodeFinalized()
	}
	k := d.spacedKey(space, key)
	d.writes[k] = writeEntry{isErase: true}
	d.dirtyKeys[k] = struct{}{}
	d.gen.bump()
	return nil
}

// Find returns the nearest overlay entry for key, walking up to the parent
// chain and finally the backend. The bool return is false if the key does
// not exist anywhere in the chain (including being tombstoned).
func (d *StateDelta) Find(space ObjectSpace, key []byte) ([]byte, bool, error) {
	if d.Backend != nil {
		return d.Backend.SpacedGet(space, key)
	}
	k := d.spacedKey(space, key)
	d.mu.RLock()
	entry, ok := d.writes[k]
	d.mu.RUnlock()
	if ok {
		if entry.isErase {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	return d.Parent.Find(space, key)
}

// IsModified reports whether this delta (not an ancestor) writes key.
func (d *StateDelta) IsModified(space ObjectSpace, key []byte) bool {
	if d.Backend != nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.writes[d.spacedKey(space, key)]
	return ok
}

// DirtyKeys returns the set of spaced keys written in this delta alone,
// sorted for deterministic merkle computation.
func (d *StateDelta) DirtyKeys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.dirtyKeys))
	for k := range d.dirtyKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// finalize marks the delta immutable. Idempotent.
func (d *StateDelta) finalize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalized = true
}

// IsFinalized reports whether the delta accepts no further mutation.
func (d *StateDelta) IsFinalized() bool {
	if d.Backend != nil {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.finalized
}

// MerkleRoot computes, and then memoizes, the delta's merkle root: a hash of
// the parent's root together with the ordered list of (key, value-or-
// tombstone) pairs written in this delta (spec §4.B, invariant 1 in §8). For
// the root delta, the backend retains the last computed root.
func (d *StateDelta) MerkleRoot() (Multihash, error) {
	if d.Backend != nil {
		raw, ok, err := d.Backend.GetMetadata(MetaKeyMerkleRoot)
		if err != nil {
			return Multihash{}, err
		}
		if !ok {
			return ZeroMultihash, nil
		}
		return Multihash{Algo: AlgoSHA256, Digest: raw}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rootComputed {
		return d.merkleRoot, nil
	}
	parentRoot, err := d.Parent.MerkleRoot()
	if err != nil {
		return Multihash{}, err
	}
	leaves := [][]byte{parentRoot.Bytes()}
	keys := make([]string, 0, len(d.writes))
	for k := range d.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := d.writes[k]
		if e.isErase {
			leaves = append(leaves, canonicalSerialize([]byte(k), tombstone))
		} else {
			leaves = append(leaves, canonicalSerialize([]byte(k), e.value))
		}
	}
	tree, err := BuildMerkleTree(leaves)
	if err != nil {
		return Multihash{}, err
	}
	root := tree[len(tree)-1][0]
	d.merkleRoot = Multihash{Algo: AlgoSHA256, Digest: append([]byte(nil), root[:]...)}
	d.rootComputed = true
	return d.merkleRoot, nil
}

// squash merges this delta's writes down into its parent (the parent
// absorbs the child's overlay); the Parent link is left in place. Used by commit() to
// flatten a prefix of the ancestor chain into the backend.
func (d *StateDelta) squash() error {
	if d.Parent == nil {
		return ErrInternalConsistency("cannot squash the root delta")
	}
	d.mu.RLock()
	writes := make(map[string]writeEntry, len(d.writes))
	for k, v := range d.writes {
		writes[k] = v
	}
	d.mu.RUnlock()

	for k, e := range writes {
		if e.isErase {
			if err := d.Parent.rawErase(k); err != nil {
				return err
			}
		} else {
			if err := d.Parent.rawPut(k, e.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *StateDelta) rawPut(spacedKey string, value []byte) error {
	if d.Backend != nil {
		return d.Backend.Put([]byte(spacedKey), value)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[spacedKey] = writeEntry{value: value}
	d.dirtyKeys[spacedKey] = struct{}{}
	return nil
}

func (d *StateDelta) rawErase(spacedKey string) error {
	if d.Backend != nil {
		return d.Backend.Erase([]byte(spacedKey))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes[spacedKey] = writeEntry{isErase: true}
	d.dirtyKeys[spacedKey] = struct{}{}
	return nil
}

// commit writes the delta chain's accumulated state down to the root, then
// the root flushes (spec §4.B). Called bottom-up by fork_db.commit_node.
func (d *StateDelta) commit() error {
	if d.Parent == nil {
		if d.Backend != nil {
			root, err := d.MerkleRoot()
			if err == nil {
				_ = d.Backend.SetMetadata(MetaKeyMerkleRoot, root.Digest)
			}
			return d.Backend.Flush()
		}
		return nil
	}
	root, err := d.MerkleRoot()
	if err != nil {
		return err
	}
	if err := d.squash(); err != nil {
		return err
	}
	if d.Parent.Backend != nil {
		_ = d.Parent.Backend.SetMetadata(MetaKeyMerkleRoot, root.Digest)
		_ = d.Parent.Backend.SetMetadata(MetaKeyRevision, u64b(d.Revision))
		_ = d.Parent.Backend.SetMetadata(MetaKeyID, d.ID.Bytes())
		return d.Parent.Backend.Flush()
	}
	return d.Parent.commit()
}
