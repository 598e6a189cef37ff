package core

import "testing"

func TestMultihashEqualAndLess(t *testing.T) {
	a := Multihash{Algo: AlgoKeccak256, Digest: []byte{0x01, 0x02}}
	b := Multihash{Algo: AlgoKeccak256, Digest: []byte{0x01, 0x02}}
	c := Multihash{Algo: AlgoKeccak256, Digest: []byte{0x01, 0x03}}

	if !a.Equal(b) {
		t.Fatalf("expected a == b")
	}
	if a.Equal(c) {
		t.Fatalf("expected a != c")
	}
	if !a.Less(c) {
		t.Fatalf("expected a < c")
	}
	if ZeroMultihash.IsZero() != true {
		t.Fatalf("expected ZeroMultihash.IsZero()")
	}
	if a.IsZero() {
		t.Fatalf("a must not be zero")
	}
}

func TestComputeBlockIDDeterministic(t *testing.T) {
	b := &Block{
		Header: BlockHeader{Previous: ZeroMultihash, Height: 1, Timestamp: 1000},
	}
	id1 := ComputeBlockID(b)
	id2 := ComputeBlockID(b)
	if !id1.Equal(id2) {
		t.Fatalf("ComputeBlockID must be deterministic")
	}

	other := &Block{Header: BlockHeader{Previous: ZeroMultihash, Height: 2, Timestamp: 1000}}
	if id1.Equal(ComputeBlockID(other)) {
		t.Fatalf("distinct headers must hash differently")
	}
}

func TestComputeTransactionIDIncludesOperations(t *testing.T) {
	tx1 := &Transaction{
		Header:     TransactionHeader{Nonce: 1},
		Operations: []Operation{{CallID: CallPutObject, Args: []byte("a")}},
	}
	tx2 := &Transaction{
		Header:     TransactionHeader{Nonce: 1},
		Operations: []Operation{{CallID: CallPutObject, Args: []byte("b")}},
	}
	if ComputeTransactionID(tx1).Equal(ComputeTransactionID(tx2)) {
		t.Fatalf("distinct operation args must hash differently")
	}
}

func TestSerializeBlockHeaderRoundTrips(t *testing.T) {
	h := BlockHeader{
		Previous:                Multihash{Algo: AlgoKeccak256, Digest: []byte{1, 2, 3}},
		Height:                  7,
		Timestamp:               1_700_000_000_000,
		PreviousStateMerkleRoot: Multihash{Algo: AlgoSHA256, Digest: []byte{4, 5}},
		TransactionMerkleRoot:   Multihash{Algo: AlgoSHA256, Digest: []byte{6, 7}},
	}
	got, err := DeserializeBlockHeader(SerializeBlockHeader(h))
	if err != nil {
		t.Fatalf("DeserializeBlockHeader: %v", err)
	}
	if got.Height != h.Height || got.Timestamp != h.Timestamp {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
	if !got.Previous.Equal(h.Previous) || !got.TransactionMerkleRoot.Equal(h.TransactionMerkleRoot) {
		t.Fatalf("round trip lost multihash fields: got %+v, want %+v", got, h)
	}
}

func TestSerializeBlockReceiptRoundTrips(t *testing.T) {
	r := &BlockReceipt{
		ID:                       Multihash{Algo: AlgoKeccak256, Digest: []byte{9}},
		Height:                   3,
		RCUsed:                   100,
		StateMerkleRoot:          Multihash{Algo: AlgoSHA256, Digest: []byte{1}},
		FailedTransactionIndices: []uint64{0, 2},
		Logs:                     []string{"line one"},
	}
	got, err := DeserializeBlockReceipt(SerializeBlockReceipt(r))
	if err != nil {
		t.Fatalf("DeserializeBlockReceipt: %v", err)
	}
	if got.Height != r.Height || got.RCUsed != r.RCUsed {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if len(got.FailedTransactionIndices) != 2 || got.FailedTransactionIndices[1] != 2 {
		t.Fatalf("failed transaction indices lost in round trip: %v", got.FailedTransactionIndices)
	}
}

func TestSerializeTransactionReceiptRoundTrips(t *testing.T) {
	r := &TransactionReceipt{
		ID:      Multihash{Algo: AlgoKeccak256, Digest: []byte{1}},
		RCUsed:  10,
		RCLimit: 20,
		Failed:  true,
		Error:   "compute exhausted",
	}
	got, err := DeserializeTransactionReceipt(SerializeTransactionReceipt(r))
	if err != nil {
		t.Fatalf("DeserializeTransactionReceipt: %v", err)
	}
	if got.Failed != r.Failed || got.Error != r.Error || got.RCUsed != r.RCUsed {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestObjectSpaceKeyDistinguishesSystemAndZone(t *testing.T) {
	s1 := ObjectSpace{System: true, ID: 1}
	s2 := ObjectSpace{System: false, ID: 1}
	s3 := ObjectSpace{System: true, ID: 1, Zone: []byte("zone")}

	k1, k2, k3 := s1.key([]byte("k")), s2.key([]byte("k")), s3.key([]byte("k"))
	if string(k1) == string(k2) {
		t.Fatalf("system flag must affect the spaced key")
	}
	if string(k1) == string(k3) {
		t.Fatalf("zone must affect the spaced key")
	}
}
