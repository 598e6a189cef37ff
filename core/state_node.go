// Component C (node half): State node handle.
//
// A state node is a thin, non-owning handle onto a StateDelta held by the
// ForkDB (spec §9: "cyclic state-node <-> database references... modeled by
// storing nodes in an owned collection inside the fork DB and handing out
// non-owning handles"). Writable, finalized and anonymous nodes share this
// single type rather than a class hierarchy (spec §9's trait
// re-architecture note); IsAnonymous distinguishes the speculative kind.
package core

// StateNode is the handle exposed to execution contexts and RPC read paths.
type StateNode struct {
	delta     *StateDelta
	forkDB    *ForkDB // nil for anonymous nodes detached from a ForkDB
	anonymous bool
}

func (n *StateNode) ID() Multihash       { return n.delta.ID }
func (n *StateNode) ParentID() Multihash { return n.delta.ParentID }
func (n *StateNode) Revision() uint64    { return n.delta.Revision }
func (n *StateNode) IsFinalized() bool   { return n.delta.IsFinalized() }
func (n *StateNode) IsAnonymous() bool   { return n.anonymous }
func (n *StateNode) Header() *BlockHeader { return n.delta.Header }

func (n *StateNode) MerkleRoot() (Multihash, error) { return n.delta.MerkleRoot() }

func (n *StateNode) Get(space ObjectSpace, key []byte) ([]byte, bool, error) {
	return n.delta.Find(space, key)
}

func (n *StateNode) Put(space ObjectSpace, key, value []byte) error {
	return n.delta.Put(space, key, value)
}

func (n *StateNode) Remove(space ObjectSpace, key []byte) error {
	return n.delta.Erase(space, key)
}

// Chain returns the ancestor chain from root to this node inclusive, used
// to build a MergeIterator or to walk parent_timestamp/parent_height during
// apply-block validation (spec §4.I step 5).
func (n *StateNode) Chain() []*StateDelta {
	var rev []*StateDelta
	for d := n.delta; d != nil; d = d.Parent {
		rev = append(rev, d)
		if d.Backend != nil {
			break
		}
	}
	out := make([]*StateDelta, len(rev))
	for i, d := range rev {
		out[len(rev)-1-i] = d
	}
	return out
}

// Next/Prev provide ordered iteration over a single space, honoring the
// merge-iterator's later-wins semantics across this node's ancestor chain.
func (n *StateNode) Next(space ObjectSpace, after []byte) (key []byte, value []byte, ok bool, err error) {
	it := NewMergeIterator(space, n.Chain())
	target := string(space.key(after))
	it.Find(target)
	for it.Valid() && it.Key() <= target {
		it.Next()
	}
	if !it.Valid() {
		return nil, nil, false, nil
	}
	return []byte(it.Key()), it.Value(), true, nil
}

// AnonymousChild creates a throwaway writable child for speculative
// execution (spec §3): supports Commit to squash into parent, or Reset to
// abandon. Used by read_contract and by per-transaction rollback within
// apply_block (spec §4.I step 7).
func (n *StateNode) AnonymousChild(id Multihash) *StateNode {
	child := NewChildDelta(n.delta, id, nil)
	return &StateNode{delta: child, forkDB: nil, anonymous: true}
}

// Commit squashes an anonymous node's writes into its parent. Only valid on
// anonymous nodes.
func (n *StateNode) Commit() error {
	if !n.anonymous {
		return ErrInternalConsistency("commit called on non-anonymous node")
	}
	return n.delta.squash()
}

// Reset abandons an anonymous node's writes; a no-op since the overlay is
// simply discarded with the handle (no parent mutation occurred).
func (n *StateNode) Reset() {
	// nothing to undo: writes only ever materialized in n.delta's own map.
}
