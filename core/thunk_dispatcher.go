// Component F: Thunk dispatcher.
//
// A registry id -> (arg_parser, return_serializer, native_fn), sealed at
// startup (spec §9: "process-wide singleton... sealed before the
// controller accepts its first request"). A package-global map guarded by
// sync.RWMutex with panic-on-duplicate-registration, carrying a typed
// thunk contract. Status-code mapping (reversion/failure) follows
// original_source's thunk_dispatcher.hpp chain_reversion/chain_failure
// split.
package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// NativeFn is a registered thunk's implementation: it receives the
// execution context and the raw (already compute-charged) argument blob,
// and returns the serialized return value or an error.
type NativeFn func(ctx *ExecutionContext, argBuf []byte) ([]byte, error)

type thunkEntry struct {
	fn      NativeFn
	genesis bool
}

var (
	dispatcherMu sync.RWMutex
	thunkTable   = make(map[CallID]thunkEntry)
	sealed       bool
)

// RegisterThunk installs id -> fn. Thunk IDs are immutable for the lifetime
// of the chain (spec §4.F): re-registering an id is a programmer error and
// panics via logrus.Panicf on duplicate registration.
// genesis marks the thunk callable from genesis state, before any
// override exists.
func RegisterThunk(id CallID, genesis bool, fn NativeFn) {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	if sealed {
		logrus.Fatalf("thunk_dispatcher: RegisterThunk(%d) called after the dispatcher was sealed", id)
	}
	if _, exists := thunkTable[id]; exists {
		logrus.Panicf("thunk_dispatcher: duplicate registration for call id %d", id)
	}
	thunkTable[id] = thunkEntry{fn: fn, genesis: genesis}
}

// Seal freezes the dispatcher; called once at startup before the controller
// accepts its first request (spec §9).
func Seal() {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	sealed = true
}

// ThunkExists reports whether id has a registered native implementation.
func ThunkExists(id CallID) bool {
	dispatcherMu.RLock()
	defer dispatcherMu.RUnlock()
	_, ok := thunkTable[id]
	return ok
}

// ThunkIsGenesis reports whether id is callable from genesis state.
func ThunkIsGenesis(id CallID) bool {
	dispatcherMu.RLock()
	defer dispatcherMu.RUnlock()
	e, ok := thunkTable[id]
	return ok && e.genesis
}

// CallThunk is the dispatcher's public entry (spec §4.F):
//
//	call_thunk(id, ctx, ret_buf, ret_len, arg_buf, arg_len) -> (status_code, bytes_written)
//
// argBuf is charged against compute at DeserializePerByteCost * len(argBuf)
// before the native function runs. If the serialized return exceeds
// maxReturnLen, fails with insufficient_return_buffer. Two status codes are
// surfaced to user code (reversion, failure); system-level errors (stack
// overflow, read-only violation, unknown thunk) are not catchable by user
// code and propagate as plain Go errors instead of a status code.
func CallThunk(id CallID, ctx *ExecutionContext, maxReturnLen int, argBuf []byte) (status Kind, ret []byte, err error) {
	dispatcherMu.RLock()
	entry, ok := thunkTable[id]
	dispatcherMu.RUnlock()
	if !ok {
		return "", nil, ErrUnknownThunk(id)
	}

	if err := ctx.Meter.UseCompute(DeserializePerByteCost * uint64(len(argBuf))); err != nil {
		return "", nil, err
	}
	if err := ctx.Meter.UseCompute(ComputeCost(id)); err != nil {
		return "", nil, err
	}

	out, callErr := entry.fn(ctx, argBuf)
	if callErr != nil {
		switch KindOf(callErr) {
		case KindReversion:
			return KindReversion, nil, nil
		case KindFailure:
			return KindFailure, nil, nil
		default:
			return "", nil, callErr // system-level error, not user-catchable
		}
	}

	if len(out) > maxReturnLen {
		return "", nil, ErrInsufficientReturnBuffer()
	}
	return "", out, nil
}

// RegisteredThunkIDs returns every currently registered call id, in no
// particular order. Used by cmd/thunklint to check for accidental
// duplicate registration across init() call ordering.
func RegisteredThunkIDs() []CallID {
	dispatcherMu.RLock()
	defer dispatcherMu.RUnlock()
	ids := make([]CallID, 0, len(thunkTable))
	for id := range thunkTable {
		ids = append(ids, id)
	}
	return ids
}

// RequireKernel fails with insufficient_privilege unless ctx's current
// frame runs at kernel privilege. Thunks that declare "kernel only" call
// this first (spec §4.G).
func RequireKernel(ctx *ExecutionContext) error {
	if ctx.Privilege() != PrivilegeKernel {
		return ErrInsufficientPrivilege()
	}
	return nil
}
