package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

var registerApplyBlockThunkOnce sync.Once

// newTestController builds a Controller over a fresh ForkDB with the native
// apply_block/apply_transaction thunks installed. The thunk dispatcher is a
// package-wide singleton (thunk_dispatcher.go), so the registration runs at
// most once per test binary.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	fdb := newTestForkDB(t)
	hostAPI := NewHostAPI(nil)
	cfg := ControllerConfig{
		BlockComputeBudget:   1_000_000,
		BlockDiskBudget:      1_000_000,
		BlockNetworkBudget:   1_000_000,
		SystemCallBufferSize: 1 << 20,
	}
	c := NewController(fdb, hostAPI, nil, nil, nil, nil, cfg, nil)
	registerApplyBlockThunkOnce.Do(c.RegisterApplyBlockThunk)
	return c
}

func TestSubmitBlockPersistsHeaderAndReceiptReadableAfterFinalize(t *testing.T) {
	c := newTestController(t)

	header := BlockHeader{Previous: ZeroMultihash, Height: 1, Timestamp: 1000}
	b := &Block{Header: header}
	b.ID = ComputeBlockID(b)

	receipt, err := c.SubmitBlock(context.Background(), b, time.UnixMilli(1000), IntentBlockApplication)
	if err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
	if receipt == nil || !receipt.ID.Equal(b.ID) {
		t.Fatalf("expected a receipt for %v, got %+v", b.ID, receipt)
	}

	gotHeader, err := c.GetBlockHeader(b.ID)
	if err != nil {
		t.Fatalf("GetBlockHeader: %v", err)
	}
	if gotHeader.Height != header.Height || gotHeader.Timestamp != header.Timestamp {
		t.Fatalf("GetBlockHeader mismatch: got %+v, want %+v", gotHeader, header)
	}

	gotReceipt, err := c.GetBlockReceipt(b.ID)
	if err != nil {
		t.Fatalf("GetBlockReceipt: %v", err)
	}
	if gotReceipt.Height != header.Height {
		t.Fatalf("GetBlockReceipt height mismatch: got %d, want %d", gotReceipt.Height, header.Height)
	}

	if _, err := c.GetBlockHeader(HashMultihash([]byte("unknown"))); err == nil {
		t.Fatalf("expected an error for an unknown block id")
	}
}

func TestSubmitTransactionPersistsReceiptReadableAfterCommit(t *testing.T) {
	c := newTestController(t)

	genesis := BlockHeader{Previous: ZeroMultihash, Height: 1, Timestamp: 1000}
	b := &Block{Header: genesis}
	b.ID = ComputeBlockID(b)
	if _, err := c.SubmitBlock(context.Background(), b, time.UnixMilli(1000), IntentBlockApplication); err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}

	tx := &Transaction{Header: TransactionHeader{Nonce: 1, RCLimit: 10_000}}
	tx.ID = ComputeTransactionID(tx)

	receipt, err := c.SubmitTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if receipt.Failed {
		t.Fatalf("expected a successful receipt, got %+v", receipt)
	}

	got, err := c.GetTransactionReceipt(tx.ID)
	if err != nil {
		t.Fatalf("GetTransactionReceipt: %v", err)
	}
	if got.RCLimit != tx.Header.RCLimit {
		t.Fatalf("GetTransactionReceipt mismatch: got %+v, want RCLimit=%d", got, tx.Header.RCLimit)
	}

	if _, err := c.GetTransactionReceipt(HashMultihash([]byte("unknown"))); err == nil {
		t.Fatalf("expected an error for an unknown transaction id")
	}
}
