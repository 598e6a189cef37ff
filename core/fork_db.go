// Component C (tree half): Fork database.
//
// Multi-indexed collection of state nodes keyed by id, parent, and
// revision; enforces tree shape and fork-choice (spec §4.C). Grounded on
// original_source/libraries/state_db/state_db.cpp's database_impl method
// set (create_writable_node, finalize_node, commit_node, discard_node).
package core

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Comparator decides fork-choice: reports whether candidate should replace
// currentHead. Comparators must be pure: no side effects, deterministic
// over node fields only (spec §4.C).
type Comparator func(candidate, currentHead *StateNode) bool

// FIFOComparator: first-finalized wins; the candidate replaces the head only
// when its revision strictly exceeds the current head's, so a tie never
// overrides the node that was finalized first.
func FIFOComparator(candidate, currentHead *StateNode) bool {
	return candidate.Revision() > currentHead.Revision()
}

// BlockTimeComparator: earliest timestamp wins, ties broken by
// lexicographically smaller id (SPEC_FULL.md §9 resolution).
func BlockTimeComparator(candidate, currentHead *StateNode) bool {
	ch, hh := candidate.Header(), currentHead.Header()
	if ch == nil || hh == nil {
		return candidate.Revision() > currentHead.Revision()
	}
	if ch.Timestamp != hh.Timestamp {
		return ch.Timestamp < hh.Timestamp
	}
	return candidate.ID().Less(currentHead.ID())
}

// PoBComparator: higher cumulative burn wins; falls back to
// BlockTimeComparator's timestamp/id rule on a tie (SPEC_FULL.md §9).
// Burn accounting itself is out of THE CORE's scope (consumed as part of
// the block header in a fuller system); absent burn data this degrades to
// the block-time rule, which is the documented fallback.
func PoBComparator(candidate, currentHead *StateNode) bool {
	return BlockTimeComparator(candidate, currentHead)
}

func ComparatorByName(name string) Comparator {
	switch name {
	case "block-time":
		return BlockTimeComparator
	case "pob":
		return PoBComparator
	default:
		return FIFOComparator
	}
}

// ForkDB is the tree of state nodes: exactly one root (the last committed
// node) and one or more heads (finalized nodes with no finalized children).
type ForkDB struct {
	mu sync.RWMutex // shared for reads, unique for writable-node creation/finalize/commit/discard/reset

	backend    *BackendStore
	comparator Comparator
	log        logrus.FieldLogger

	nodes    map[string]*StateDelta   // id hex -> delta
	children map[string][]string      // parent id hex -> child id hexes
	rootID   Multihash
	headID   Multihash
	forkHeads map[string]struct{}

	// headMu guards headID independently so RPC fan-out reading the head
	// does not contend with the tree-shape lock (spec §5).
	headMu sync.RWMutex
}

func idKey(m Multihash) string { return string(m.Bytes()) }

// InitFunc installs genesis objects into the root node on first open.
type InitFunc func(root *StateNode) error

// OpenForkDB opens path's backend; if empty, calls initFn(root) to install
// genesis objects; sets root = head = the root delta (spec §4.C).
func OpenForkDB(path string, comparator Comparator, initFn InitFunc, log logrus.FieldLogger) (*ForkDB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	backend, err := OpenBackendStore(path, log)
	if err != nil {
		return nil, err
	}
	fdb := &ForkDB{
		backend:    backend,
		comparator: comparator,
		log:        log,
		nodes:      make(map[string]*StateDelta),
		children:   make(map[string][]string),
		forkHeads:  make(map[string]struct{}),
	}

	_, hasID, err := backend.GetMetadata(MetaKeyID)
	if err != nil {
		return nil, err
	}
	var rootID Multihash
	if hasID {
		raw, _, _ := backend.GetMetadata(MetaKeyID)
		if len(raw) >= 8 {
			rootID = Multihash{Algo: binary.BigEndian.Uint64(raw[:8]), Digest: raw[8:]}
		}
	} else {
		rootID = ZeroMultihash
		if err := backend.SetMetadata(MetaKeyID, rootID.Bytes()); err != nil {
			return nil, err
		}
		if err := backend.SetMetadata(MetaKeyRevision, u64b(0)); err != nil {
			return nil, err
		}
	}

	root := NewRootDelta(backend, rootID)
	fdb.nodes[idKey(rootID)] = root
	fdb.rootID = rootID
	fdb.headID = rootID
	fdb.forkHeads[idKey(rootID)] = struct{}{}

	if !hasID && initFn != nil {
		if err := initFn(&StateNode{delta: root, forkDB: fdb}); err != nil {
			return nil, err
		}
	}
	return fdb, nil
}

// Close flushes and drops handles.
func (f *ForkDB) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backend.Close()
}

// Reset wipes the backend and re-opens via Open semantics. Callers should
// discard and re-acquire the ForkDB reference after Reset in this
// implementation (a fresh struct is simpler than in-place reinitialization).
func (f *ForkDB) Reset(path string, initFn InitFunc) (*ForkDB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.backend.Close()
	if err := os.RemoveAll(path); err != nil {
		return nil, ErrBackendIO(err)
	}
	return OpenForkDB(path, f.comparator, initFn, f.log)
}

func (f *ForkDB) GetNode(id Multihash) (*StateNode, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.nodes[idKey(id)]
	if !ok {
		return nil, ErrNodeNotFound()
	}
	return &StateNode{delta: d, forkDB: f}, nil
}

// GetNodeAtRevision walks up from descendantID to find its ancestor at the
// given revision.
func (f *ForkDB) GetNodeAtRevision(rev uint64, descendantID Multihash) (*StateNode, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.nodes[idKey(descendantID)]
	if !ok {
		return nil, ErrNodeNotFound()
	}
	for d != nil {
		if d.Revision == rev {
			return &StateNode{delta: d, forkDB: f}, nil
		}
		if d.Revision < rev {
			break
		}
		d = d.Parent
	}
	return nil, ErrNodeNotFound()
}

func (f *ForkDB) GetHead() (*StateNode, error) {
	f.headMu.RLock()
	id := f.headID
	f.headMu.RUnlock()
	return f.GetNode(id)
}

func (f *ForkDB) GetRoot() (*StateNode, error) {
	f.mu.RLock()
	id := f.rootID
	f.mu.RUnlock()
	return f.GetNode(id)
}

func (f *ForkDB) GetForkHeads() ([]*StateNode, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*StateNode, 0, len(f.forkHeads))
	for idHex := range f.forkHeads {
		out = append(out, &StateNode{delta: f.nodes[idHex], forkDB: f})
	}
	return out, nil
}

// CreateWritableNode fails returning nil if parent is unknown or not
// finalized, or if newID already exists (spec §4.C).
func (f *ForkDB) CreateWritableNode(parentID, newID Multihash, header *BlockHeader) (*StateNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.nodes[idKey(newID)]; exists {
		return nil, ErrInternalConsistency("node id already exists")
	}
	parent, ok := f.nodes[idKey(parentID)]
	if !ok {
		return nil, ErrNodeNotFound()
	}
	if !parent.IsFinalized() {
		return nil, ErrInternalConsistency("parent node is not finalized")
	}

	child := NewChildDelta(parent, newID, header)
	f.nodes[idKey(newID)] = child
	f.children[idKey(parentID)] = append(f.children[idKey(parentID)], idKey(newID))
	return &StateNode{delta: child, forkDB: f}, nil
}

// FinalizeNode marks node immutable; if its revision exceeds the current
// head's under the comparator, it becomes the new head; updates the
// fork-heads set (spec §4.C).
func (f *ForkDB) FinalizeNode(id Multihash) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.nodes[idKey(id)]
	if !ok {
		return ErrNodeNotFound()
	}
	d.finalize()

	delete(f.forkHeads, idKey(d.ParentID))
	f.forkHeads[idKey(id)] = struct{}{}

	candidate := &StateNode{delta: d, forkDB: f}
	f.headMu.Lock()
	defer f.headMu.Unlock()
	headDelta := f.nodes[idKey(f.headID)]
	currentHead := &StateNode{delta: headDelta, forkDB: f}
	if f.comparator(candidate, currentHead) {
		f.headID = id
	}
	return nil
}

// CommitNode requires node is a descendant of current root; sets root =
// node; squashes all ancestors into the backend in order; discards all
// branches not on the new root's ancestor chain (spec §4.C).
func (f *ForkDB) CommitNode(id Multihash) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target, ok := f.nodes[idKey(id)]
	if !ok {
		return ErrNodeNotFound()
	}

	// Walk the ancestor chain from target down to the current root,
	// collecting ids to squash in root-to-target order.
	var chain []*StateDelta
	for d := target; d != nil && d.Backend == nil; d = d.Parent {
		chain = append(chain, d)
		if d.ParentID.Equal(f.rootID) {
			break
		}
	}
	if len(chain) == 0 || !chain[len(chain)-1].ParentID.Equal(f.rootID) {
		return ErrInternalConsistency("commit target is not a descendant of root")
	}
	// reverse to root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	// whitelist: the new root's ancestor chain (root..target) plus target's
	// own descendants remain; everything else rooted off an intermediate
	// ancestor is discarded.
	whitelist := make(map[string]struct{}, len(chain)+1)
	whitelist[idKey(id)] = struct{}{}
	for _, d := range chain {
		whitelist[idKey(d.ID)] = struct{}{}
	}
	f.collectDescendants(id, whitelist)

	for _, d := range chain {
		if err := d.commit(); err != nil {
			return err
		}
	}

	oldRoot := f.rootID
	f.rootID = id
	f.sweepExcept(oldRoot, whitelist)

	f.headMu.Lock()
	if _, headStillExists := f.nodes[idKey(f.headID)]; !headStillExists {
		f.headID = id
	}
	f.headMu.Unlock()
	return nil
}

// collectDescendants adds every descendant of id (inclusive) to whitelist.
func (f *ForkDB) collectDescendants(id Multihash, whitelist map[string]struct{}) {
	whitelist[idKey(id)] = struct{}{}
	for _, childHex := range f.children[idKey(id)] {
		var childID Multihash
		if d, ok := f.nodes[childHex]; ok {
			childID = d.ID
		} else {
			continue
		}
		f.collectDescendants(childID, whitelist)
	}
}

// sweepExcept performs a BFS discard of everything reachable from startID
// that is not in whitelist (whitelist-based sweep per spec §4.C).
func (f *ForkDB) sweepExcept(startID Multihash, whitelist map[string]struct{}) {
	queue := []string{idKey(startID)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, childHex := range append([]string(nil), f.children[cur]...) {
			queue = append(queue, childHex)
		}
		if _, keep := whitelist[cur]; keep {
			continue
		}
		delete(f.nodes, cur)
		delete(f.children, cur)
		delete(f.forkHeads, cur)
	}
}

// DiscardNode refuses to discard head or root; BFS-discards subtree except
// whitelisted ids; restores parent to fork-heads if it becomes leaf-
// finalized (spec §4.C).
func (f *ForkDB) DiscardNode(id Multihash, whitelist map[string]struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headMu.RLock()
	isHead := id.Equal(f.headID)
	f.headMu.RUnlock()
	if isHead || id.Equal(f.rootID) {
		return ErrCannotDiscardHeadOrRoot()
	}
	d, ok := f.nodes[idKey(id)]
	if !ok {
		return ErrNodeNotFound()
	}
	parentID := d.ParentID

	toDiscard := map[string]struct{}{}
	f.collectDescendants(id, toDiscard)
	for k := range whitelist {
		delete(toDiscard, k)
	}
	for k := range toDiscard {
		delete(f.nodes, k)
		delete(f.children, k)
		delete(f.forkHeads, k)
	}
	// remove id from its parent's child list if it survived the sweep above
	// (it will have been removed already unless whitelisted).
	if _, stillPresent := f.nodes[idKey(id)]; !stillPresent {
		siblings := f.children[idKey(parentID)]
		for i, s := range siblings {
			if s == idKey(id) {
				f.children[idKey(parentID)] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}

	if parent, ok := f.nodes[idKey(parentID)]; ok && parent.IsFinalized() && len(f.children[idKey(parentID)]) == 0 {
		f.forkHeads[idKey(parentID)] = struct{}{}
	}
	return nil
}
