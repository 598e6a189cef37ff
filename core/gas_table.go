// Compute cost schedule for system calls.
//
// Charged against a resource meter's compute budget (core/execution_context.go)
// before a thunk's native function runs (spec §4.F). Unknown call ids fall
// back to DefaultComputeCost, with a warning logged on every lookup.
package core

import "github.com/sirupsen/logrus"

// DefaultComputeCost is charged for any call id that has slipped through the
// cracks. Deliberately punitive to discourage un-priced thunks in production.
const DefaultComputeCost uint64 = 100_000

// DeserializePerByteCost is charged against compute for parsing a thunk's
// argument blob, per spec §4.F: "charged against compute at
// deserialize_per_byte × arg_len".
const DeserializePerByteCost uint64 = 4

var computeCostTable = map[CallID]uint64{
	CallApplyBlock:               50_000,
	CallApplyTransaction:         20_000,
	CallGetAccountNonce:          1_000,
	CallGetAccountRC:             1_000,
	CallPutObject:                5_000,
	CallGetObject:                2_000,
	CallSetSystemCall:            10_000,
	CallReadContract:             1_000,
	CallGetLastIrreversibleBlock: 1_000,
}

// ComputeCost returns the base compute cost for a single system call.
// Lock-free, safe for concurrent use by every RPC worker thread.
func ComputeCost(id CallID) uint64 {
	if cost, ok := computeCostTable[id]; ok {
		return cost
	}
	logrus.WithField("call_id", id).Warn("gas_table: missing compute cost, charging default")
	return DefaultComputeCost
}

// RegisterComputeCost installs or overrides the compute cost for a call id.
// Used when registering override contracts' own synthetic call ids.
func RegisterComputeCost(id CallID, cost uint64) {
	computeCostTable[id] = cost
}
