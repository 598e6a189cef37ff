package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the taxonomy used for RPC responses and
// host-call status mapping. Kinds are coarse groupings, not individual
// error identities.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindForkTree    Kind = "fork_tree"
	KindExecution   Kind = "execution"
	KindResource    Kind = "resource"
	KindIntegration Kind = "integration"
	KindReversion   Kind = "reversion"
	KindFailure     Kind = "failure"
)

// CoreError is the concrete error type carried through the system. RPC
// responses surface {code, message, details} derived from it.
type CoreError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, msg string, cause error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// Validation errors.
func ErrMissingField(field string) error {
	return newErr(KindValidation, "missing_field", "missing required field: "+field, nil)
}
func ErrMalformedID(what string) error {
	return newErr(KindValidation, "malformed_id", "malformed id: "+what, nil)
}
func ErrTimestampOutOfBounds() error {
	return newErr(KindValidation, "timestamp_out_of_bounds", "block timestamp out of bounds", nil)
}
func ErrUnexpectedHeight() error {
	return newErr(KindValidation, "unexpected_height", "block height does not match parent+1", nil)
}
func ErrStateMerkleMismatch() error {
	return newErr(KindValidation, "state_merkle_mismatch", "previous_state_merkle_root mismatch", nil)
}
func ErrInvalidSignature() error {
	return newErr(KindValidation, "invalid_signature", "invalid signature", nil)
}
func ErrInvalidNonce() error {
	return newErr(KindValidation, "invalid_nonce", "invalid nonce", nil)
}
func ErrInsufficientRC() error {
	return newErr(KindValidation, "insufficient_rc", "insufficient resource credits", nil)
}

// Fork-tree errors.
func ErrUnknownPreviousBlock() error {
	return newErr(KindForkTree, "unknown_previous_block", "previous block not in fork tree", nil)
}
func ErrPreIrreversibility() error {
	return newErr(KindForkTree, "pre_irreversibility", "block height precedes root revision", nil)
}
func ErrNodeFinalized() error {
	return newErr(KindForkTree, "node_finalized", "mutating operation on finalized node", nil)
}
func ErrCannotDiscardHeadOrRoot() error {
	return newErr(KindForkTree, "cannot_discard_head_or_root", "cannot discard head or root node", nil)
}
func ErrInternalConsistency(detail string) error {
	return newErr(KindForkTree, "internal_consistency", "fork-tree invariant broken: "+detail, nil)
}
func ErrNodeNotFound() error {
	return newErr(KindForkTree, "node_not_found", "state node not found", nil)
}

// Execution errors.
func ErrStackOverflow() error {
	return newErr(KindExecution, "stack_overflow", "call stack depth exceeded", nil)
}
func ErrInsufficientPrivilege() error {
	return newErr(KindExecution, "insufficient_privilege", "operation requires kernel privilege", nil)
}
func ErrReadOnlyViolation() error {
	return newErr(KindExecution, "read_only_violation", "mutating call in read-only context", nil)
}
func ErrUnknownSystemCall(id CallID) error {
	return newErr(KindExecution, "unknown_system_call", fmt.Sprintf("unknown system call %d", id), nil)
}
func ErrUnknownThunk(id CallID) error {
	return newErr(KindExecution, "unknown_thunk", fmt.Sprintf("unknown thunk %d", id), nil)
}
func ErrAssertionFailure(detail string) error {
	return newErr(KindExecution, "assertion_failure", detail, nil)
}

// Resource errors.
func ErrComputeExhaustion() error {
	return newErr(KindResource, "compute_exhaustion", "compute budget exhausted", nil)
}
func ErrDiskExhaustion() error {
	return newErr(KindResource, "disk_exhaustion", "disk budget exhausted", nil)
}
func ErrNetworkExhaustion() error {
	return newErr(KindResource, "network_exhaustion", "network budget exhausted", nil)
}
func ErrInsufficientReturnBuffer() error {
	return newErr(KindResource, "insufficient_return_buffer", "serialized return exceeds caller buffer", nil)
}

// Integration errors.
func ErrRPCTimeout(service string) error {
	return newErr(KindIntegration, "rpc_failure", "rpc timeout calling "+service, nil)
}
func ErrRPCPeerError(service string, cause error) error {
	return newErr(KindIntegration, "rpc_failure", "rpc peer error calling "+service, cause)
}
func ErrBackendIO(cause error) error {
	return newErr(KindIntegration, "backend_io_error", "backend store i/o error", cause)
}

// User-catchable status, returned across the host-call ABI rather than as a
// Go error from CallThunk's outer signature in most call sites.
func ErrReversion(msg string) error {
	return newErr(KindReversion, "reversion", msg, nil)
}
func ErrContractFailure(msg string) error {
	return newErr(KindFailure, "failure", msg, nil)
}

// KindOf extracts the Kind from err, or "" if err is not a *CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
