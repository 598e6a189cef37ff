// Component H: System-call override table.
//
// Per-call mapping of call ID to (contract id, entry point), persisted in
// state under SpaceOverride (spec §4.H). Installation takes effect for
// subsequent calls within the same block and all future blocks built on
// that node, since it is simply a state write like any other.
package core

import (
	"encoding/binary"
)

// OverrideTarget names the contract and entry point serving a call id once
// overridden (spec §4.H).
type OverrideTarget struct {
	ContractID Address
	EntryPoint string
}

// nonOverridableCalls lists call ids the override table refuses to accept
// an entry for (spec §4.G: "certain call IDs are marked non-overridable").
// set_system_call itself must remain native so an override can never take
// over the call that installs overrides.
var nonOverridableCalls = map[CallID]struct{}{
	CallSetSystemCall: {},
}

func overrideKey(id CallID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

func encodeOverrideTarget(t OverrideTarget) []byte {
	return canonicalSerialize(t.ContractID.Bytes(), []byte(t.EntryPoint))
}

func decodeOverrideTarget(raw []byte) (OverrideTarget, error) {
	var t OverrideTarget
	if len(raw) < 8 {
		return t, ErrInternalConsistency("malformed override table entry")
	}
	addrLen := binary.BigEndian.Uint64(raw[0:8])
	if uint64(len(raw)) < 8+addrLen+8 {
		return t, ErrInternalConsistency("malformed override table entry")
	}
	copy(t.ContractID[:], raw[8:8+addrLen])
	off := 8 + addrLen
	epLen := binary.BigEndian.Uint64(raw[off : off+8])
	t.EntryPoint = string(raw[off+8 : off+8+epLen])
	return t, nil
}

// GetOverride looks up id in node's override table.
func GetOverride(node *StateNode, id CallID) (OverrideTarget, bool, error) {
	raw, ok, err := node.Get(SpaceOverride, overrideKey(id))
	if err != nil || !ok {
		return OverrideTarget{}, false, err
	}
	t, err := decodeOverrideTarget(raw)
	return t, err == nil, err
}

// SetOverride installs target for id. Rejects non-overridable ids (spec
// §4.G/§4.H).
func SetOverride(node *StateNode, id CallID, target OverrideTarget) error {
	if _, blocked := nonOverridableCalls[id]; blocked {
		return ErrInsufficientPrivilege()
	}
	return node.Put(SpaceOverride, overrideKey(id), encodeOverrideTarget(target))
}

// RemoveOverride deletes id's override, restoring thunk dispatch (spec
// §8 invariant 7).
func RemoveOverride(node *StateNode, id CallID) error {
	return node.Remove(SpaceOverride, overrideKey(id))
}
