// Component I: Controller.
//
// Orchestrates block/transaction validation, drives execution, updates the
// fork tree, publishes events, and serves read RPCs (spec §4.I). Grounded
// on original_source/libraries/chain/controller.cpp's controller_impl
// method set, including its state-db mutex discipline and its
// independently-caught, best-effort broadcast sequence.
package core

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const blockTimestampToleranceMillis = 5_000 // SPEC_FULL.md §9: literal +5s per spec.md

// ControllerConfig bundles the controller's runtime options (spec §6's CLI/env set,
// the parts the controller itself consumes).
type ControllerConfig struct {
	RejectPartialBlocks       bool
	ReadComputeBandwidthLimit uint64
	BlockComputeBudget        uint64
	BlockDiskBudget           uint64
	BlockNetworkBudget        uint64
	SystemCallBufferSize      int
	RPCDeadline               time.Duration
}

// Controller is THE CORE's orchestrator (spec §4.I).
type Controller struct {
	stateMu sync.Mutex // original_source's _state_db_mutex: serializes block application

	forkDB   *ForkDB
	hostAPI  *HostAPI
	registry *ContractRegistry
	bus      *MessageBus
	cfg      ControllerConfig
	log      logrus.FieldLogger

	blockStore *RPCClient
	mempool    *RPCClient

	chainIDOnce sync.Once
	chainID     Multihash
}

// NewController wires together a previously-opened ForkDB with the host API,
// contract registry, message bus, and outbound service clients.
func NewController(forkDB *ForkDB, hostAPI *HostAPI, registry *ContractRegistry, bus *MessageBus,
	blockStore, mempool *RPCClient, cfg ControllerConfig, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		forkDB: forkDB, hostAPI: hostAPI, registry: registry, bus: bus,
		blockStore: blockStore, mempool: mempool, cfg: cfg, log: log,
	}
}

// GetChainID returns the cached chain id, computing and caching it from the
// root node's genesis entry on first call (SPEC_FULL.md supplemented
// features: cached per controller_impl::get_chain_id).
func (c *Controller) GetChainID() (Multihash, error) {
	var err error
	c.chainIDOnce.Do(func() {
		root, e := c.forkDB.GetRoot()
		if e != nil {
			err = e
			return
		}
		raw, ok, e := root.Get(SpaceMetadata, []byte(MetaKeyChainID))
		if e != nil {
			err = e
			return
		}
		if ok && len(raw) >= 8 {
			c.chainID = Multihash{Algo: binary.BigEndian.Uint64(raw[:8]), Digest: raw[8:]}
		}
	})
	return c.chainID, err
}

// HeadInfo is the response shape for get_head_info.
type HeadInfo struct {
	ID                  Multihash
	Height              uint64
	LastIrreversibleID  Multihash
	LastIrreversibleRev uint64
}

func (c *Controller) GetHeadInfo() (HeadInfo, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return HeadInfo{}, err
	}
	root, err := c.forkDB.GetRoot()
	if err != nil {
		return HeadInfo{}, err
	}
	return HeadInfo{ID: head.ID(), Height: head.Revision(), LastIrreversibleID: root.ID(), LastIrreversibleRev: root.Revision()}, nil
}

// ForkData is the response shape for get_fork_data (supplemented from
// original_source's controller_impl::get_fork_data).
type ForkData struct {
	Head HeadInfo
	LastIrreversibleID Multihash
}

func (c *Controller) GetForkData() (ForkData, error) {
	hi, err := c.GetHeadInfo()
	if err != nil {
		return ForkData{}, err
	}
	return ForkData{Head: hi, LastIrreversibleID: hi.LastIrreversibleID}, nil
}

func (c *Controller) GetForkHeads() ([]Multihash, error) {
	heads, err := c.forkDB.GetForkHeads()
	if err != nil {
		return nil, err
	}
	out := make([]Multihash, len(heads))
	for i, h := range heads {
		out[i] = h.ID()
	}
	return out, nil
}

// GetBlockReceipt returns the finalized receipt for blockID as persisted by
// SubmitBlock, read back through the head node's ancestor chain (spec §3).
func (c *Controller) GetBlockReceipt(blockID Multihash) (*BlockReceipt, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return nil, err
	}
	raw, ok, err := head.Get(SpaceMetadata, blockReceiptMetaKey(blockID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNodeNotFound()
	}
	return DeserializeBlockReceipt(raw)
}

// GetBlockHeader returns the finalized header for blockID, persisted
// alongside its receipt (spec §3).
func (c *Controller) GetBlockHeader(blockID Multihash) (BlockHeader, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return BlockHeader{}, err
	}
	raw, ok, err := head.Get(SpaceMetadata, blockHeaderMetaKey(blockID))
	if err != nil {
		return BlockHeader{}, err
	}
	if !ok {
		return BlockHeader{}, ErrNodeNotFound()
	}
	return DeserializeBlockHeader(raw)
}

// GetTransactionReceipt returns a previously-applied transaction's receipt as
// persisted by SubmitTransaction (spec §3).
func (c *Controller) GetTransactionReceipt(txID Multihash) (*TransactionReceipt, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return nil, err
	}
	raw, ok, err := head.Get(SpaceMetadata, transactionReceiptMetaKey(txID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNodeNotFound()
	}
	return DeserializeTransactionReceipt(raw)
}

// SubmitBlock applies B against the fork tree and, on success, advances the
// head/LIB and broadcasts (spec §4.I).
func (c *Controller) SubmitBlock(ctx context.Context, b *Block, now time.Time, intent Intent) (*BlockReceipt, error) {
	if b.ID.IsZero() {
		return nil, ErrMissingField("block id")
	}
	if !ComputeBlockID(b).Equal(b.ID) {
		return nil, ErrMalformedID("block id does not match content hash")
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if existing, err := c.forkDB.GetNode(b.ID); err == nil && existing != nil {
		return nil, nil // no-op success: already known
	}

	root, err := c.forkDB.GetRoot()
	if err != nil {
		return nil, err
	}
	parent, err := c.forkDB.GetNode(b.Header.Previous)
	if err != nil {
		if b.Header.Height < root.Revision() {
			return nil, ErrPreIrreversibility()
		}
		if b.ID.Equal(root.ID()) {
			return nil, nil
		}
		return nil, ErrUnknownPreviousBlock()
	}

	node, err := c.forkDB.CreateWritableNode(parent.ID(), b.ID, &b.Header)
	if err != nil {
		return nil, err
	}

	parentHeight := parent.Revision()
	var parentTimestamp int64
	if ph := parent.Header(); ph != nil {
		parentTimestamp = ph.Timestamp
	}

	switch {
	case parent.ID().IsZero() != (b.Header.Height == 1):
		return nil, ErrUnexpectedHeight()
	case b.Header.Height != parentHeight+1:
		return nil, ErrUnexpectedHeight()
	case b.Header.Timestamp > now.UnixMilli()+blockTimestampToleranceMillis:
		return nil, ErrTimestampOutOfBounds()
	case b.Header.Timestamp <= parentTimestamp && b.Header.Height != 1:
		return nil, ErrTimestampOutOfBounds()
	}
	if parentRoot, err := parent.MerkleRoot(); err == nil && !parentRoot.Equal(b.Header.PreviousStateMerkleRoot) {
		return nil, ErrStateMerkleMismatch()
	}

	meter := NewResourceMeter(c.cfg.BlockDiskBudget, c.cfg.BlockNetworkBudget, c.cfg.BlockComputeBudget)
	execCtx := NewExecutionContext(node, intent, meter)
	execCtx.Block = b
	if err := execCtx.PushFrame(StackFrame{ContractID: Address{}, Privilege: PrivilegeKernel, EntryPoint: "apply_block"}); err != nil {
		return nil, err
	}

	receipt := execCtx.EnsureBlockReceipt(b.ID, b.Header.Height)
	status, _, err := c.hostAPI.InvokeSystemCall(execCtx, c.registry, CallApplyBlock, 0, nil)
	if err != nil {
		return nil, err
	}
	if status == KindFailure {
		return nil, ErrContractFailure("apply_block failed")
	}

	root2, err := node.MerkleRoot()
	if err != nil {
		return nil, err
	}
	receipt.StateMerkleRoot = root2
	receipt.ComputeUsed = meter.ComputeUsed()
	receipt.DiskStorageUsed = meter.DiskUsed()
	receipt.NetworkBandwidthUsed = meter.NetworkUsed()

	events, logs := execCtx.Chronicler.Drain()
	for _, l := range logs {
		receipt.Logs = append(receipt.Logs, l.Message)
	}
	receipt.Events = events

	// Persisted before finalize_node: a finalized delta rejects further
	// writes (spec §4.B, node_finalized).
	if err := node.Put(SpaceMetadata, blockHeaderMetaKey(b.ID), SerializeBlockHeader(b.Header)); err != nil {
		return nil, err
	}
	if err := node.Put(SpaceMetadata, blockReceiptMetaKey(b.ID), SerializeBlockReceipt(receipt)); err != nil {
		return nil, err
	}

	if err := c.forkDB.FinalizeNode(b.ID); err != nil {
		return nil, err
	}

	libID, err := c.advanceLastIrreversibleBlock(execCtx, b.ID)
	if err != nil {
		return nil, err
	}

	c.broadcastBlockSuccess(b, receipt, libID)

	return receipt, nil
}

// blockHeaderMetaKey/blockReceiptMetaKey namespace a finalized block's header
// and receipt under SpaceMetadata, keyed by block id so every committed
// ancestor's wire-format bytes remain addressable after finalization.
func blockHeaderMetaKey(id Multihash) []byte {
	return append([]byte(MetaKeyBlockHeader+":"), id.Bytes()...)
}

func blockReceiptMetaKey(id Multihash) []byte {
	return append([]byte(MetaKeyBlockReceipt+":"), id.Bytes()...)
}

func transactionReceiptMetaKey(id Multihash) []byte {
	return append([]byte(MetaKeyTransactionReceipt+":"), id.Bytes()...)
}

// advanceLastIrreversibleBlock asks get_last_irreversible_block (itself an
// overridable system call, routed through the same override table as any
// other) for the height it currently considers irreversible and, if that
// height exceeds the current root's revision, commits the deepest ancestor
// of descendantID at that revision into the backend (spec §4.I step 8:
// "advance LIB by calling commit_node on the deepest ancestor with
// revision ≤ reported last_irreversible_block"). Returns the id of the
// fork-tree root after the call, whether or not it advanced.
func (c *Controller) advanceLastIrreversibleBlock(execCtx *ExecutionContext, descendantID Multihash) (Multihash, error) {
	root, err := c.forkDB.GetRoot()
	if err != nil {
		return Multihash{}, err
	}

	status, out, err := c.hostAPI.InvokeSystemCall(execCtx, c.registry, CallGetLastIrreversibleBlock, 8, nil)
	if err != nil {
		return Multihash{}, err
	}
	if status == KindReversion || status == KindFailure || len(out) != 8 {
		return root.ID(), nil
	}
	lib := binary.BigEndian.Uint64(out)
	if lib <= root.Revision() {
		return root.ID(), nil
	}

	ancestor, err := c.forkDB.GetNodeAtRevision(lib, descendantID)
	if err != nil {
		// no node recorded at that revision on this chain yet; nothing to commit.
		return root.ID(), nil
	}
	if err := c.forkDB.CommitNode(ancestor.ID()); err != nil {
		return Multihash{}, err
	}
	return ancestor.ID(), nil
}

// broadcastBlockSuccess publishes every subject independently, matching
// controller.cpp's per-broadcast try/catch (spec §4.I step 9). libID is
// the fork-tree root after advanceLastIrreversibleBlock, not necessarily b.
func (c *Controller) broadcastBlockSuccess(b *Block, receipt *BlockReceipt, libID Multihash) {
	if c.bus == nil {
		return
	}
	c.bus.PublishBestEffort(SubjectBlockAccept, b.ID.Bytes())
	c.bus.PublishBestEffort(SubjectBlockIrreversible, libID.Bytes())
	c.bus.PublishBestEffort(SubjectBlockForks, b.ID.Bytes())
	for _, e := range receipt.Events {
		c.bus.PublishBestEffort(EventSubject(e.Source, e.Name), e.Data)
	}
}

// SubmitTransaction mirrors apply-block using an anonymous child of head
// (spec §4.I).
func (c *Controller) SubmitTransaction(ctx context.Context, tx *Transaction) (*TransactionReceipt, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return nil, err
	}
	anon := head.AnonymousChild(HashMultihash(tx.ID.Bytes()))

	meter := NewResourceMeter(c.cfg.BlockDiskBudget, c.cfg.BlockNetworkBudget, c.cfg.BlockComputeBudget)
	execCtx := NewExecutionContext(anon, IntentTransactionApplication, meter)
	execCtx.Transaction = tx
	if err := execCtx.PushFrame(StackFrame{Privilege: PrivilegeKernel, EntryPoint: "apply_transaction"}); err != nil {
		return nil, err
	}
	receipt := execCtx.EnsureTransactionReceipt(tx.ID, tx.Header.RCLimit)

	status, _, err := c.hostAPI.InvokeSystemCall(execCtx, c.registry, CallApplyTransaction, 0, nil)
	if err != nil {
		anon.Reset()
		switch KindOf(err) {
		case KindResource, KindValidation, KindExecution:
			// rejected by the thunk itself (e.g. compute_exhaustion), not a
			// system/integration fault: still a failed transaction, spec §8 S4.
			receipt.Failed = true
			receipt.Error = err.Error()
			if c.bus != nil {
				c.bus.PublishBestEffort(SubjectTransactionFail, tx.ID.Bytes())
			}
			return receipt, err
		default:
			return nil, err
		}
	}
	if status == KindFailure {
		anon.Reset()
		receipt.Failed = true
		if c.bus != nil {
			c.bus.PublishBestEffort(SubjectTransactionFail, tx.ID.Bytes())
		}
		return receipt, ErrContractFailure("apply_transaction failed")
	}

	receipt.RCUsed = meter.ComputeUsed()
	events, logs := execCtx.Chronicler.Drain()
	for _, l := range logs {
		receipt.Logs = append(receipt.Logs, l.Message)
	}
	receipt.Events = events

	if err := anon.Put(SpaceMetadata, transactionReceiptMetaKey(tx.ID), SerializeTransactionReceipt(receipt)); err != nil {
		return nil, err
	}
	if err := anon.Commit(); err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.PublishBestEffort(SubjectTransactionAccept, tx.ID.Bytes())
	}
	return receipt, nil
}

// ReadContract creates an anonymous child of head, kernel frame in user
// privilege, capped compute budget, invokes the contract; returns the
// result and drained logs (spec §4.I).
func (c *Controller) ReadContract(ctx context.Context, contract Address, entryPoint string, args []byte) ([]byte, []string, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return nil, nil, err
	}
	anon := head.AnonymousChild(HashMultihash(append(contract.Bytes(), []byte(entryPoint)...)))

	meter := NewReadOnlyResourceMeter(c.cfg.ReadComputeBandwidthLimit)
	execCtx := NewExecutionContext(anon, IntentReadOnly, meter)
	execCtx.SetReadOnly()
	if err := execCtx.PushFrame(StackFrame{ContractID: contract, Privilege: PrivilegeUser, EntryPoint: entryPoint, CallArgs: args}); err != nil {
		return nil, nil, err
	}

	out, err := c.registry.Invoke(execCtx, contract, entryPoint, args)
	_, logs := execCtx.Chronicler.Drain()
	lines := make([]string, len(logs))
	for i, l := range logs {
		lines[i] = l.Message
	}
	if err != nil {
		return nil, lines, err
	}
	return out, lines, nil
}

// ReadOnlyThunk serves a direct thunk call against the current head with a
// read-only, compute-only resource meter (spec §4.K get_account_nonce,
// get_account_rc, invoke_system_call; spec §4.E read-only contexts use a
// separate compute-only budget). Unlike ReadContract this does not invoke a
// contract entry point: it calls HostAPI.InvokeSystemCall for id, so an
// installed override for id still takes precedence over the native thunk.
func (c *Controller) ReadOnlyThunk(ctx context.Context, id CallID, argBuf []byte) ([]byte, error) {
	head, err := c.forkDB.GetHead()
	if err != nil {
		return nil, err
	}
	anon := head.AnonymousChild(HashMultihash(argBuf))

	meter := NewReadOnlyResourceMeter(c.cfg.ReadComputeBandwidthLimit)
	execCtx := NewExecutionContext(anon, IntentReadOnly, meter)
	execCtx.SetReadOnly()
	if err := execCtx.PushFrame(StackFrame{Privilege: PrivilegeKernel, EntryPoint: "read_only_thunk"}); err != nil {
		return nil, err
	}

	bufSize := c.cfg.SystemCallBufferSize
	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	status, out, err := c.hostAPI.InvokeSystemCall(execCtx, c.registry, id, bufSize, argBuf)
	if err != nil {
		return nil, err
	}
	if status == KindReversion || status == KindFailure {
		return nil, ErrContractFailure(string(status))
	}
	return out, nil
}

// ResourceLimits reports the controller's configured per-block resource
// budgets (spec §4.K get_resource_limits).
func (c *Controller) ResourceLimits() (disk, network, compute uint64) {
	return c.cfg.BlockDiskBudget, c.cfg.BlockNetworkBudget, c.cfg.BlockComputeBudget
}

// RegisterApplyBlockThunk installs the native apply_block implementation,
// iterating transactions and invoking apply_transaction per item. Failures
// are rolled back via an anonymous child node that is reset; the failure is
// recorded in the block receipt's failed_transaction_indices (spec §4.I
// step 7). In block_proposal intent any failure aborts the block entirely;
// in block_application intent individual failure is accepted unless
// RejectPartialBlocks is configured.
func (c *Controller) RegisterApplyBlockThunk() {
	RegisterThunk(CallApplyBlock, true, func(ctx *ExecutionContext, _ []byte) ([]byte, error) {
		b := ctx.Block
		if b == nil {
			return nil, ErrInternalConsistency("apply_block invoked without a bound block")
		}
		receipt := ctx.EnsureBlockReceipt(b.ID, b.Header.Height)
		node := ctx.StateNode()

		for i, tx := range b.Transactions {
			txNode := node.AnonymousChild(tx.ID)
			txMeter := NewResourceMeter(c.cfg.BlockDiskBudget, c.cfg.BlockNetworkBudget, c.cfg.BlockComputeBudget)
			txCtx := NewExecutionContext(txNode, ctx.Intent, txMeter)
			txCtx.Transaction = tx
			_ = txCtx.PushFrame(StackFrame{Privilege: PrivilegeKernel, EntryPoint: "apply_transaction"})

			status, _, err := c.hostAPI.InvokeSystemCall(txCtx, c.registry, CallApplyTransaction, 0, nil)
			failed := err != nil || status == KindFailure
			if failed {
				txNode.Reset()
				receipt.FailedTransactionIndices = append(receipt.FailedTransactionIndices, uint64(i))
				if ctx.Intent == IntentBlockProposal || c.cfg.RejectPartialBlocks {
					return nil, ErrContractFailure("transaction failed during block proposal")
				}
				continue
			}
			if err := txNode.Commit(); err != nil {
				return nil, err
			}
			events, logs := txCtx.Chronicler.Drain()
			receipt.Events = append(receipt.Events, events...)
			for _, l := range logs {
				receipt.Logs = append(receipt.Logs, l.Message)
			}
		}
		return nil, nil
	})

	RegisterThunk(CallApplyTransaction, true, func(ctx *ExecutionContext, _ []byte) ([]byte, error) {
		tx := ctx.Transaction
		if tx == nil {
			return nil, ErrInternalConsistency("apply_transaction invoked without a bound transaction")
		}
		var used uint64
		for _, op := range tx.Operations {
			status, _, err := c.hostAPI.InvokeSystemCall(ctx, c.registry, op.CallID, 0, op.Args)
			if err != nil {
				return nil, err
			}
			if status == KindFailure {
				return nil, ErrContractFailure("operation failed")
			}
			used += ComputeCost(op.CallID)
			if used > tx.Header.RCLimit {
				return nil, ErrComputeExhaustion()
			}
		}
		return nil, nil
	})
}
