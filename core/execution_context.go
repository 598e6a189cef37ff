// Component E: Execution context.
//
// The per-invocation environment threading a state node, a call stack, a
// resource meter, a chronicler, and a privilege mode through contract
// execution (spec §4.E).
package core

const defaultMaxStackDepth = 256

// ResourceMeter tracks disk/network/compute budgets and usage (spec §4.E).
// Read-only contexts receive a separate compute-only budget (no disk or
// network quota applies, since reads never mutate the backend).
type ResourceMeter struct {
	diskBudget, diskUsed       uint64
	networkBudget, networkUsed uint64
	computeBudget, computeUsed uint64
	readOnly                   bool
}

// NewResourceMeter builds a meter with the three named budgets.
func NewResourceMeter(disk, network, compute uint64) *ResourceMeter {
	return &ResourceMeter{diskBudget: disk, networkBudget: network, computeBudget: compute}
}

// NewReadOnlyResourceMeter builds a compute-only meter (spec §4.E).
func NewReadOnlyResourceMeter(compute uint64) *ResourceMeter {
	return &ResourceMeter{computeBudget: compute, readOnly: true}
}

func (m *ResourceMeter) UseDisk(n uint64) error {
	if m.readOnly {
		return ErrReadOnlyViolation()
	}
	if m.diskUsed+n > m.diskBudget {
		return ErrDiskExhaustion()
	}
	m.diskUsed += n
	return nil
}

func (m *ResourceMeter) UseNetwork(n uint64) error {
	if m.readOnly {
		return ErrReadOnlyViolation()
	}
	if m.networkUsed+n > m.networkBudget {
		return ErrNetworkExhaustion()
	}
	m.networkUsed += n
	return nil
}

func (m *ResourceMeter) UseCompute(n uint64) error {
	if m.computeUsed+n > m.computeBudget {
		return ErrComputeExhaustion()
	}
	m.computeUsed += n
	return nil
}

func (m *ResourceMeter) DiskUsed() uint64    { return m.diskUsed }
func (m *ResourceMeter) NetworkUsed() uint64 { return m.networkUsed }
func (m *ResourceMeter) ComputeUsed() uint64 { return m.computeUsed }

// ExecutionContext holds everything threaded through a single apply-block,
// apply-transaction, or read-contract invocation (spec §4.E).
type ExecutionContext struct {
	node   *StateNode
	stack  []StackFrame
	maxDepth int

	Meter      *ResourceMeter
	Chronicler *Chronicler

	blockReceipt       *BlockReceipt
	transactionReceipt *TransactionReceipt

	Block       *Block
	Transaction *Transaction
	MempoolNonce uint64

	Intent Intent

	readOnly bool
}

// NewExecutionContext builds a context bound to node with the given intent.
func NewExecutionContext(node *StateNode, intent Intent, meter *ResourceMeter) *ExecutionContext {
	return &ExecutionContext{
		node:       node,
		maxDepth:   defaultMaxStackDepth,
		Meter:      meter,
		Chronicler: NewChronicler(),
		Intent:     intent,
		readOnly:   intent == IntentReadOnly,
	}
}

// PushFrame pushes a new stack frame; fails with stack_overflow if the
// configured maximum depth would be exceeded (spec §4.E, §8 invariant 5).
func (c *ExecutionContext) PushFrame(f StackFrame) error {
	if len(c.stack) >= c.maxDepth {
		return ErrStackOverflow()
	}
	c.stack = append(c.stack, f)
	return nil
}

// PopFrame removes the top frame.
func (c *ExecutionContext) PopFrame() {
	if len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}
}

// GetCaller returns the parent frame's contract id and privilege; fails if
// the stack has fewer than 2 frames (spec §4.E).
func (c *ExecutionContext) GetCaller() (Address, Privilege, error) {
	if len(c.stack) < 2 {
		return Address{}, 0, ErrInternalConsistency("get_caller with fewer than 2 frames")
	}
	parent := c.stack[len(c.stack)-2]
	return parent.ContractID, parent.Privilege, nil
}

// CurrentFrame returns the top of stack, if any.
func (c *ExecutionContext) CurrentFrame() (StackFrame, bool) {
	if len(c.stack) == 0 {
		return StackFrame{}, false
	}
	return c.stack[len(c.stack)-1], true
}

// StackDepth reports the current frame count.
func (c *ExecutionContext) StackDepth() int { return len(c.stack) }

// SetStateNode rebinds the context to a different node, invalidating any
// in-context caches (ResetCache, spec §4.E).
func (c *ExecutionContext) SetStateNode(n *StateNode) {
	c.node = n
	c.ResetCache()
}

func (c *ExecutionContext) ClearStateNode() { c.node = nil }

func (c *ExecutionContext) StateNode() *StateNode { return c.node }

// ResetCache invalidates any in-context caches on state-node change. This
// execution context carries none of its own beyond the node pointer; the
// method exists as a hook for future per-context caching.
func (c *ExecutionContext) ResetCache() {}

// SetReadOnly marks the context so future writes fail (spec §4.E).
func (c *ExecutionContext) SetReadOnly() {
	c.readOnly = true
	c.Meter.readOnly = true
}

func (c *ExecutionContext) IsReadOnly() bool { return c.readOnly }

// Privilege returns the privilege of the current top-of-stack frame, or
// PrivilegeUser if the stack is empty.
func (c *ExecutionContext) Privilege() Privilege {
	if f, ok := c.CurrentFrame(); ok {
		return f.Privilege
	}
	return PrivilegeUser
}

// BlockReceipt / TransactionReceipt accessors (spec §4.E).
func (c *ExecutionContext) EnsureBlockReceipt(id Multihash, height uint64) *BlockReceipt {
	if c.blockReceipt == nil {
		c.blockReceipt = &BlockReceipt{ID: id, Height: height}
	}
	return c.blockReceipt
}

func (c *ExecutionContext) BlockReceipt() *BlockReceipt { return c.blockReceipt }

func (c *ExecutionContext) EnsureTransactionReceipt(id Multihash, rcLimit uint64) *TransactionReceipt {
	if c.transactionReceipt == nil {
		c.transactionReceipt = &TransactionReceipt{ID: id, RCLimit: rcLimit}
	}
	return c.transactionReceipt
}

func (c *ExecutionContext) TransactionReceipt() *TransactionReceipt { return c.transactionReceipt }
