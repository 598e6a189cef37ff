package core

import (
	"path/filepath"
	"testing"
)

func newTestForkDB(t *testing.T) *ForkDB {
	t.Helper()
	fdb, err := OpenForkDB(filepath.Join(t.TempDir(), "forkdb"), FIFOComparator, nil, nil)
	if err != nil {
		t.Fatalf("OpenForkDB: %v", err)
	}
	t.Cleanup(func() { _ = fdb.Close() })
	return fdb
}

func TestOpenForkDBRunsInitFnOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkdb")
	calls := 0
	initFn := func(root *StateNode) error {
		calls++
		return root.Put(ObjectSpace{System: true}, []byte("genesis"), []byte("yes"))
	}

	fdb, err := OpenForkDB(path, FIFOComparator, initFn, nil)
	if err != nil {
		t.Fatalf("OpenForkDB: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected initFn to run exactly once on first open, ran %d times", calls)
	}
	root, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	val, ok, err := root.Get(ObjectSpace{System: true}, []byte("genesis"))
	if err != nil || !ok || string(val) != "yes" {
		t.Fatalf("expected genesis write to be visible, ok=%v val=%q err=%v", ok, val, err)
	}
	_ = fdb.Close()

	fdb2, err := OpenForkDB(path, FIFOComparator, initFn, nil)
	if err != nil {
		t.Fatalf("re-open OpenForkDB: %v", err)
	}
	defer fdb2.Close()
	if calls != 1 {
		t.Fatalf("initFn must not rerun on a re-open of an existing backend, ran %d times", calls)
	}
}

func TestCreateWritableNodeRejectsUnfinalizedParent(t *testing.T) {
	fdb := newTestForkDB(t)
	root, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}

	childID := HashMultihash([]byte("child"))
	if _, err := fdb.CreateWritableNode(root.ID(), childID, nil); err != nil {
		t.Fatalf("CreateWritableNode against the (finalized) root: %v", err)
	}

	grandchildID := HashMultihash([]byte("grandchild"))
	if _, err := fdb.CreateWritableNode(childID, grandchildID, nil); err == nil {
		t.Fatalf("expected an error creating a node against an unfinalized parent")
	}
}

func TestFinalizeNodeAdvancesHeadOnHigherRevision(t *testing.T) {
	fdb := newTestForkDB(t)
	root, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}

	childID := HashMultihash([]byte("child"))
	if _, err := fdb.CreateWritableNode(root.ID(), childID, nil); err != nil {
		t.Fatalf("CreateWritableNode: %v", err)
	}
	if err := fdb.FinalizeNode(childID); err != nil {
		t.Fatalf("FinalizeNode: %v", err)
	}

	head, err := fdb.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if !head.ID().Equal(childID) {
		t.Fatalf("expected head to advance to the finalized child")
	}
}

func TestCommitNodeSweepsUncommittedSiblings(t *testing.T) {
	fdb := newTestForkDB(t)
	root, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}

	keepID := HashMultihash([]byte("keep"))
	dropID := HashMultihash([]byte("drop"))
	if _, err := fdb.CreateWritableNode(root.ID(), keepID, nil); err != nil {
		t.Fatalf("CreateWritableNode keep: %v", err)
	}
	if _, err := fdb.CreateWritableNode(root.ID(), dropID, nil); err != nil {
		t.Fatalf("CreateWritableNode drop: %v", err)
	}
	if err := fdb.FinalizeNode(keepID); err != nil {
		t.Fatalf("FinalizeNode keep: %v", err)
	}
	if err := fdb.FinalizeNode(dropID); err != nil {
		t.Fatalf("FinalizeNode drop: %v", err)
	}

	if err := fdb.CommitNode(keepID); err != nil {
		t.Fatalf("CommitNode: %v", err)
	}

	if _, err := fdb.GetNode(dropID); err == nil {
		t.Fatalf("expected the sibling fork to be swept on commit")
	}
	newRoot, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot after commit: %v", err)
	}
	if !newRoot.ID().Equal(keepID) {
		t.Fatalf("expected root to advance to the committed node")
	}
}

func TestDiscardNodeRefusesHeadAndRoot(t *testing.T) {
	fdb := newTestForkDB(t)
	root, err := fdb.GetRoot()
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if err := fdb.DiscardNode(root.ID(), nil); err == nil {
		t.Fatalf("expected discarding the root to fail")
	}

	head, err := fdb.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if err := fdb.DiscardNode(head.ID(), nil); err == nil {
		t.Fatalf("expected discarding the head to fail")
	}
}
