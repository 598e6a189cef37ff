package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Address identifies an account or contract. Contract addresses are derived
// deterministically from creator + code (see DeriveContractAddress in
// contract_registry.go); 20 bytes, go-ethereum's address shape.
type Address = common.Address

// Multihash identifies blocks, transactions, state nodes and contracts. It
// is an algorithm tag followed by the digest bytes, per spec §3. The zero
// value (empty Algo, nil Digest) is the sentinel parent of the genesis
// state node.
type Multihash struct {
	Algo   uint64
	Digest []byte
}

// ZeroMultihash is the sentinel parent id of the genesis state node.
var ZeroMultihash = Multihash{}

const AlgoKeccak256 uint64 = 0x1b // Keccak256 digest algorithm tag
const AlgoSHA256 uint64 = 0x12    // SHA-256 digest algorithm tag, per multihash's table

// HashMultihash produces a Multihash over arbitrary canonical-serialized
// bytes using the chain's default hashing algorithm.
func HashMultihash(data []byte) Multihash {
	return Multihash{Algo: AlgoKeccak256, Digest: crypto.Keccak256(data)}
}

func (m Multihash) IsZero() bool { return len(m.Digest) == 0 }

func (m Multihash) Equal(o Multihash) bool {
	return m.Algo == o.Algo && bytes.Equal(m.Digest, o.Digest)
}

// Less implements the lexicographic tie-break used by the block-time and
// pob fork-choice comparators (SPEC_FULL.md §9).
func (m Multihash) Less(o Multihash) bool {
	return bytes.Compare(m.Digest, o.Digest) < 0
}

func (m Multihash) String() string {
	if m.IsZero() {
		return "<zero>"
	}
	return fmt.Sprintf("%02x:%x", m.Algo, m.Digest)
}

func (m Multihash) Bytes() []byte {
	out := make([]byte, 8+len(m.Digest))
	binary.BigEndian.PutUint64(out[:8], m.Algo)
	copy(out[8:], m.Digest)
	return out
}

// ObjectSpace partitions the keyspace (spec §3). System spaces hold chain
// metadata, the override table, and contract bytecode/storage.
type ObjectSpace struct {
	System bool
	Zone   []byte
	ID     uint32
}

func (s ObjectSpace) key(objKey []byte) []byte {
	var buf bytes.Buffer
	if s.System {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var idb [4]byte
	binary.BigEndian.PutUint32(idb[:], s.ID)
	buf.Write(idb[:])
	buf.WriteByte(byte(len(s.Zone)))
	buf.Write(s.Zone)
	buf.Write(objKey)
	return buf.Bytes()
}

// Reserved system object spaces.
var (
	SpaceMetadata = ObjectSpace{System: true, Zone: nil, ID: 0}
	SpaceOverride = ObjectSpace{System: true, Zone: nil, ID: 1}
	SpaceContract = ObjectSpace{System: true, Zone: nil, ID: 2}
)

// ContractStorageSpace returns the per-contract storage object space (§6).
func ContractStorageSpace(contract Address) ObjectSpace {
	return ObjectSpace{System: false, Zone: contract.Bytes(), ID: 0}
}

// Reserved metadata keys within SpaceMetadata.
const (
	MetaKeySize               = "size"
	MetaKeyRevision           = "revision"
	MetaKeyID                 = "id"
	MetaKeyMerkleRoot         = "merkle_root"
	MetaKeyBlockHeader        = "block_header"
	MetaKeyBlockReceipt       = "block_receipt"
	MetaKeyTransactionReceipt = "transaction_receipt"
	MetaKeyChainID            = "chain_id"
	MetaKeyGenesisPub         = "genesis_public_key"
)

// CallID is the numeric system-call identifier exposed to contracts.
type CallID uint32

// System-call ids (SPEC_FULL.md §9 Open Question resolution).
// CallReadContract has no registered thunk.
const (
	CallApplyBlock CallID = iota + 1
	CallApplyTransaction
	CallGetAccountNonce
	CallGetAccountRC
	CallPutObject
	CallGetObject
	CallSetSystemCall
	CallReadContract
	CallGetLastIrreversibleBlock
)

// Privilege distinguishes kernel-only operations from user contract code.
type Privilege int

const (
	PrivilegeUser Privilege = iota
	PrivilegeKernel
)

// Intent governs error-handling and side-effect persistence policy for an
// execution context (spec §9 glossary).
type Intent int

const (
	IntentBlockApplication Intent = iota
	IntentBlockProposal
	IntentTransactionApplication
	IntentReadOnly
)

// BlockHeader and Block (spec §3).
type BlockHeader struct {
	Previous                Multihash
	Height                  uint64
	Timestamp               int64 // unix millis
	PreviousStateMerkleRoot Multihash
	TransactionMerkleRoot   Multihash
}

type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Signature    []byte
	ID           Multihash
}

type TransactionHeader struct {
	Payer               Address
	Payee               Address
	Nonce               uint64
	RCLimit             uint64
	OperationMerkleRoot Multihash
}

type Operation struct {
	CallID CallID
	Args   []byte
}

type Transaction struct {
	Header     TransactionHeader
	Operations []Operation
	Signatures [][]byte
	ID         Multihash
}

// StackFrame (spec §3).
type StackFrame struct {
	ContractID   Address
	Privilege    Privilege
	EntryPoint   string
	CallArgs     []byte
	ReturnBuffer []byte
}

// Event is a chronicler entry (spec §3).
type Event struct {
	Source            string
	Name              string
	ImpactedAccounts  []Address
	Data              []byte
	TransactionID     *Multihash
}

// LogLine is a chronicler log entry.
type LogLine struct {
	TransactionID *Multihash
	Message       string
}

// TransactionReceipt (spec §3).
type TransactionReceipt struct {
	ID      Multihash
	RCUsed  uint64
	RCLimit uint64
	Logs    []string
	Events  []Event
	Failed  bool
	Error   string
}

// BlockReceipt (spec §3).
type BlockReceipt struct {
	ID                       Multihash
	Height                   uint64
	RCUsed                   uint64
	DiskStorageUsed          uint64
	NetworkBandwidthUsed     uint64
	ComputeUsed              uint64
	StateMerkleRoot          Multihash
	TransactionReceipts      []TransactionReceipt
	FailedTransactionIndices []uint64
	Logs                     []string
	Events                   []Event
}

// canonicalSerialize is the big-endian length-prefixed concatenation used for
// merkle leaves and syscall argument/override blobs (spec §4.F/§4.G):
// these are internal framing formats, not the chain's wire format, so they
// stay off rlp.
func canonicalSerialize(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		var lb [8]byte
		binary.BigEndian.PutUint64(lb[:], uint64(len(p)))
		buf.Write(lb[:])
		buf.Write(p)
	}
	return buf.Bytes()
}

func u64b(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// rlpBlockContent and rlpTransactionContent are the rlp encoding of a block
// or transaction's content-addressed fields, in the chain's canonical wire
// format (spec §3: "ids are content hashes, verified on ingress").
type rlpBlockContent struct {
	Header BlockHeader
	TxIDs  []Multihash
}

type rlpTransactionContent struct {
	Header     TransactionHeader
	Operations []Operation
}

// ComputeBlockID recomputes B's id from its header and transaction list; the
// caller compares it with B.ID (ingress verification, spec §3/§6).
func ComputeBlockID(b *Block) Multihash {
	txIDs := make([]Multihash, len(b.Transactions))
	for i, tx := range b.Transactions {
		txIDs[i] = tx.ID
	}
	data, _ := rlp.EncodeToBytes(rlpBlockContent{Header: b.Header, TxIDs: txIDs})
	return HashMultihash(data)
}

// ComputeTransactionID recomputes tx's id from its header and operations.
func ComputeTransactionID(tx *Transaction) Multihash {
	data, _ := rlp.EncodeToBytes(rlpTransactionContent{Header: tx.Header, Operations: tx.Operations})
	return HashMultihash(data)
}

// SerializeBlockHeader/DeserializeBlockHeader are the wire format block
// headers are persisted and gossiped in (rlp).
func SerializeBlockHeader(h BlockHeader) []byte {
	data, _ := rlp.EncodeToBytes(h)
	return data
}

func DeserializeBlockHeader(data []byte) (BlockHeader, error) {
	var h BlockHeader
	err := rlp.DecodeBytes(data, &h)
	return h, err
}

// SerializeBlockReceipt/DeserializeBlockReceipt and
// SerializeTransactionReceipt/DeserializeTransactionReceipt are the wire
// format receipts are persisted in (spec §3).
func SerializeBlockReceipt(r *BlockReceipt) []byte {
	data, _ := rlp.EncodeToBytes(r)
	return data
}

func DeserializeBlockReceipt(data []byte) (*BlockReceipt, error) {
	r := new(BlockReceipt)
	if err := rlp.DecodeBytes(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

func SerializeTransactionReceipt(r *TransactionReceipt) []byte {
	data, _ := rlp.EncodeToBytes(r)
	return data
}

func DeserializeTransactionReceipt(data []byte) (*TransactionReceipt, error) {
	r := new(TransactionReceipt)
	if err := rlp.DecodeBytes(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
