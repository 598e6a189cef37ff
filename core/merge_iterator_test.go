package core

import "testing"

func TestMergeIteratorLaterWinsAcrossChain(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	a := NewChildDelta(root, HashMultihash([]byte("a")), nil)
	b := NewChildDelta(a, HashMultihash([]byte("b")), nil)

	space := ObjectSpace{ID: 1}
	if err := a.Put(space, []byte("k1"), []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Put(space, []byte("k1"), []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := a.Put(space, []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mi := NewMergeIterator(space, []*StateDelta{root, a, b})
	got := map[string]string{}
	for mi.Valid() {
		got[mi.Key()] = string(mi.Value())
		mi.Next()
	}

	k1 := string(space.key([]byte("k1")))
	k2 := string(space.key([]byte("k2")))
	if got[k1] != "new" {
		t.Fatalf("expected later write to win for k1, got %q", got[k1])
	}
	if got[k2] != "v2" {
		t.Fatalf("expected k2 visible from the ancestor, got %q", got[k2])
	}
}

func TestMergeIteratorTombstoneShadowsParent(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	a := NewChildDelta(root, HashMultihash([]byte("a")), nil)
	b := NewChildDelta(a, HashMultihash([]byte("b")), nil)

	space := ObjectSpace{ID: 1}
	if err := a.Put(space, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Erase(space, []byte("k")); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	mi := NewMergeIterator(space, []*StateDelta{root, a, b})
	for mi.Valid() {
		if mi.Key() == string(space.key([]byte("k"))) {
			t.Fatalf("tombstoned key must not surface in the merged view")
		}
		mi.Next()
	}
}

func TestMergeIteratorInvalidatedByLaterWrite(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	a := NewChildDelta(root, HashMultihash([]byte("a")), nil)

	space := ObjectSpace{ID: 1}
	if err := a.Put(space, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mi := NewMergeIterator(space, []*StateDelta{root, a})
	if mi.Invalidated() {
		t.Fatalf("freshly built iterator must not be invalidated")
	}

	if err := a.Put(space, []byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !mi.Invalidated() {
		t.Fatalf("expected a write on the chain to invalidate the iterator")
	}
	if mi.Valid() {
		t.Fatalf("Valid must report false once invalidated")
	}
}

func TestMergeIteratorFindSeeksLowerBound(t *testing.T) {
	backend := newTestBackend(t)
	root := NewRootDelta(backend, ZeroMultihash)
	a := NewChildDelta(root, HashMultihash([]byte("a")), nil)

	space := ObjectSpace{ID: 1}
	for _, k := range []string{"a", "b", "c"} {
		if err := a.Put(space, []byte(k), []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	mi := NewMergeIterator(space, []*StateDelta{root, a})
	mi.Find(string(space.key([]byte("b"))))
	if !mi.Valid() {
		t.Fatalf("expected a valid position at or after b")
	}
	if mi.Value() == nil || string(mi.Value()) != "b" {
		t.Fatalf("expected to land on b, got %q", mi.Value())
	}
}
