// Native thunk implementations for the genesis-callable call ids
// (SPEC_FULL.md §9 resolution: apply_block, apply_transaction,
// get_account_nonce, get_account_rc, put_object, get_object,
// set_system_call and get_last_irreversible_block are callable before any
// override exists). apply_block/apply_transaction are
// registered by Controller.RegisterApplyBlockThunk since they need a
// controller reference; the rest are self-contained and registered here.
package core

import (
	"encoding/binary"
)

func init() {
	RegisterThunk(CallPutObject, true, thunkPutObject)
	RegisterThunk(CallGetObject, true, thunkGetObject)
	RegisterThunk(CallGetAccountNonce, true, thunkGetAccountNonce)
	RegisterThunk(CallGetAccountRC, true, thunkGetAccountRC)
	RegisterThunk(CallSetSystemCall, true, thunkSetSystemCall)
	RegisterThunk(CallGetLastIrreversibleBlock, true, thunkGetLastIrreversibleBlock)
}

// decodeLenPrefixed splits buf into its canonicalSerialize-encoded parts.
func decodeLenPrefixed(buf []byte, n int) ([][]byte, error) {
	parts := make([][]byte, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		if off+8 > len(buf) {
			return nil, ErrMalformedID("argument blob")
		}
		l := int(binary.BigEndian.Uint64(buf[off : off+8]))
		off += 8
		if off+l > len(buf) {
			return nil, ErrMalformedID("argument blob")
		}
		parts = append(parts, buf[off:off+l])
		off += l
	}
	return parts, nil
}

func decodeObjectSpace(raw []byte) ObjectSpace {
	if len(raw) < 5 {
		return ObjectSpace{}
	}
	return ObjectSpace{System: raw[0] != 0, ID: binary.BigEndian.Uint32(raw[1:5]), Zone: raw[5:]}
}

func encodeObjectSpace(s ObjectSpace) []byte {
	out := make([]byte, 5+len(s.Zone))
	if s.System {
		out[0] = 1
	}
	binary.BigEndian.PutUint32(out[1:5], s.ID)
	copy(out[5:], s.Zone)
	return out
}

// thunkPutObject: args = canonicalSerialize(space, key, value). Writes to a
// system object space require kernel privilege; other spaces do not.
func thunkPutObject(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
	parts, err := decodeLenPrefixed(argBuf, 3)
	if err != nil {
		return nil, err
	}
	space, key, value := decodeObjectSpace(parts[0]), parts[1], parts[2]
	if space.System {
		if err := RequireKernel(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Meter.UseDisk(uint64(len(key) + len(value))); err != nil {
		return nil, err
	}
	if err := ctx.StateNode().Put(space, key, value); err != nil {
		return nil, err
	}
	return nil, nil
}

// thunkGetObject: args = canonicalSerialize(space, key); returns value or
// an empty slice if absent.
func thunkGetObject(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
	parts, err := decodeLenPrefixed(argBuf, 2)
	if err != nil {
		return nil, err
	}
	space, key := decodeObjectSpace(parts[0]), parts[1]
	value, ok, err := ctx.StateNode().Get(space, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return value, nil
}

func accountNonceKey(addr Address) []byte { return append([]byte("account:nonce:"), addr.Bytes()...) }
func accountRCKey(addr Address) []byte    { return append([]byte("account:rc:"), addr.Bytes()...) }

// thunkGetAccountNonce: args = address bytes; returns the 8-byte big-endian
// nonce (defaulting to 0).
func thunkGetAccountNonce(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
	if len(argBuf) != 20 {
		return nil, ErrMalformedID("account address")
	}
	var addr Address
	copy(addr[:], argBuf)
	raw, ok, err := ctx.StateNode().Get(SpaceMetadata, accountNonceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return u64b(0), nil
	}
	return raw, nil
}

// thunkGetAccountRC: args = address bytes; returns the 8-byte big-endian
// resource-credit balance (defaulting to 0).
func thunkGetAccountRC(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
	if len(argBuf) != 20 {
		return nil, ErrMalformedID("account address")
	}
	var addr Address
	copy(addr[:], argBuf)
	raw, ok, err := ctx.StateNode().Get(SpaceMetadata, accountRCKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return u64b(0), nil
	}
	return raw, nil
}

// thunkSetSystemCall installs a syscall override (spec §4.G, §4.H); it
// has no removal path. Requires kernel-mode privilege; refuses non-overridable ids
// (enforced inside SetOverride).
func thunkSetSystemCall(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
	if err := RequireKernel(ctx); err != nil {
		return nil, err
	}
	parts, err := decodeLenPrefixed(argBuf, 3)
	if err != nil {
		return nil, err
	}
	id := CallID(binary.BigEndian.Uint32(parts[0]))
	var contract Address
	copy(contract[:], parts[1])
	entryPoint := string(parts[2])
	return nil, SetOverride(ctx.StateNode(), id, OverrideTarget{ContractID: contract, EntryPoint: entryPoint})
}

// defaultIrreversibilityDepth is the confirmation depth
// get_last_irreversible_block reports absent a consensus-plugin override
// (spec §4.I step 8 treats last_irreversible_block as a reported,
// overridable value; the consensus algorithm that would normally drive it
// is out of scope per spec.md's Non-goals).
const defaultIrreversibilityDepth = 10

// thunkGetLastIrreversibleBlock: no args; returns the 8-byte big-endian
// height this call considers irreversible, defaultIrreversibilityDepth
// blocks behind the bound state node's revision (floored at 0).
func thunkGetLastIrreversibleBlock(ctx *ExecutionContext, _ []byte) ([]byte, error) {
	height := ctx.StateNode().Revision()
	if height > defaultIrreversibilityDepth {
		height -= defaultIrreversibilityDepth
	} else {
		height = 0
	}
	return u64b(height), nil
}

// EncodePutObjectArgs/EncodeGetObjectArgs build the argument blob for the
// corresponding thunks; exposed for callers constructing operations
// (transaction builders, tests).
func EncodePutObjectArgs(space ObjectSpace, key, value []byte) []byte {
	return canonicalSerialize(encodeObjectSpace(space), key, value)
}

func EncodeGetObjectArgs(space ObjectSpace, key []byte) []byte {
	return canonicalSerialize(encodeObjectSpace(space), key)
}

func EncodeSetSystemCallArgs(id CallID, target OverrideTarget) []byte {
	var idb [4]byte
	binary.BigEndian.PutUint32(idb[:], uint32(id))
	return canonicalSerialize(idb[:], target.ContractID.Bytes(), []byte(target.EntryPoint))
}
