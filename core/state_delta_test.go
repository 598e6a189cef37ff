package core

import (
	"path/filepath"
	"testing"
)

func newTestBackend(t *testing.T) *BackendStore {
	t.Helper()
	backend, err := OpenBackendStore(filepath.Join(t.TempDir(), "backend"), nil)
	if err != nil {
		t.Fatalf("OpenBackendStore: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestStateDeltaPutFindWalksParentChain(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	child := NewChildDelta(root, HashMultihash([]byte("child")), nil)
	grandchild := NewChildDelta(child, HashMultihash([]byte("grandchild")), nil)

	space := ObjectSpace{System: false, ID: 1}
	if err := child.Put(space, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, ok, err := grandchild.Find(space, []byte("k"))
	if err != nil || !ok {
		t.Fatalf("expected to find k via parent chain, ok=%v err=%v", ok, err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected v1, got %q", val)
	}

	if grandchild.IsModified(space, []byte("k")) {
		t.Fatalf("grandchild did not write k itself")
	}
	if !child.IsModified(space, []byte("k")) {
		t.Fatalf("child should report k as its own write")
	}
}

func TestStateDeltaEraseShadowsParent(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	child := NewChildDelta(root, HashMultihash([]byte("child")), nil)
	grandchild := NewChildDelta(child, HashMultihash([]byte("grandchild")), nil)

	space := ObjectSpace{ID: 1}
	if err := child.Put(space, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := grandchild.Erase(space, []byte("k")); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	_, ok, err := grandchild.Find(space, []byte("k"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatalf("expected k to read as absent after erase")
	}
}

func TestStateDeltaPutAfterFinalizeFails(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	child := NewChildDelta(root, HashMultihash([]byte("child")), nil)
	child.finalize()

	err := child.Put(ObjectSpace{ID: 1}, []byte("k"), []byte("v"))
	if KindOf(err) != KindForkTree {
		t.Fatalf("expected a fork-tree kind error for a write to a finalized delta, got %v", err)
	}
}

func TestStateDeltaMerkleRootChangesWithWrites(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	a := NewChildDelta(root, HashMultihash([]byte("a")), nil)
	b := NewChildDelta(root, HashMultihash([]byte("b")), nil)

	if err := a.Put(ObjectSpace{ID: 1}, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Put(ObjectSpace{ID: 1}, []byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rootA, err := a.MerkleRoot()
	if err != nil {
		t.Fatalf("MerkleRoot a: %v", err)
	}
	rootB, err := b.MerkleRoot()
	if err != nil {
		t.Fatalf("MerkleRoot b: %v", err)
	}
	if rootA.Equal(rootB) {
		t.Fatalf("siblings with different writes must have different merkle roots")
	}

	// memoized: calling again must return the identical value.
	again, err := a.MerkleRoot()
	if err != nil || !again.Equal(rootA) {
		t.Fatalf("MerkleRoot must be memoized")
	}
}

func TestStateDeltaSquashMergesIntoParent(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	child := NewChildDelta(root, HashMultihash([]byte("child")), nil)

	space := ObjectSpace{ID: 1}
	if err := child.Put(space, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := child.squash(); err != nil {
		t.Fatalf("squash: %v", err)
	}

	val, ok, err := backend.SpacedGet(space, []byte("k"))
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("expected squash to push the write into the backend-backed root, ok=%v val=%q err=%v", ok, val, err)
	}
}
