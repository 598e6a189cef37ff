package core

import "testing"

// testCallID is a call id not used by any registered thunk elsewhere in the
// package, so registering it here cannot collide with the init()-time
// registrations in thunks_native.go or with RegisterApplyBlockThunk in
// controller.go.
const testCallID CallID = 0x7ffffff1

func TestCallThunkUnknownIDFails(t *testing.T) {
	ec := newTestExecutionContext()
	if _, _, err := CallThunk(CallID(0x7ffffff0), ec, 1024, nil); err == nil {
		t.Fatalf("expected an error calling an unregistered thunk id")
	}
}

func TestRegisterThunkPanicsOnDuplicate(t *testing.T) {
	RegisterThunk(testCallID, false, func(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
		return []byte("ok"), nil
	})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected RegisterThunk to panic on a duplicate id")
		}
	}()
	RegisterThunk(testCallID, false, func(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
		return nil, nil
	})
}

func TestCallThunkSurfacesReversionAndFailureAsStatus(t *testing.T) {
	const reversionID CallID = 0x7ffffff2
	const failureID CallID = 0x7ffffff3
	RegisterThunk(reversionID, false, func(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
		return nil, ErrReversion("reverted")
	})
	RegisterThunk(failureID, false, func(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
		return nil, ErrContractFailure("failed")
	})

	ec := newTestExecutionContext()
	status, _, err := CallThunk(reversionID, ec, 1024, nil)
	if err != nil {
		t.Fatalf("a user-level reversion must not surface as a Go error: %v", err)
	}
	if status != KindReversion {
		t.Fatalf("expected status %q, got %q", KindReversion, status)
	}

	status, _, err = CallThunk(failureID, ec, 1024, nil)
	if err != nil {
		t.Fatalf("a user-level failure must not surface as a Go error: %v", err)
	}
	if status != KindFailure {
		t.Fatalf("expected status %q, got %q", KindFailure, status)
	}
}

func TestCallThunkEnforcesReturnBufferSize(t *testing.T) {
	const bigReturnID CallID = 0x7ffffff4
	RegisterThunk(bigReturnID, false, func(ctx *ExecutionContext, argBuf []byte) ([]byte, error) {
		return make([]byte, 64), nil
	})

	ec := newTestExecutionContext()
	if _, _, err := CallThunk(bigReturnID, ec, 8, nil); err == nil {
		t.Fatalf("expected insufficient_return_buffer when the thunk's output exceeds maxReturnLen")
	}
}

func TestRequireKernelRejectsUserPrivilege(t *testing.T) {
	ec := newTestExecutionContext()
	if err := ec.PushFrame(StackFrame{Privilege: PrivilegeUser}); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if err := RequireKernel(ec); err == nil {
		t.Fatalf("expected insufficient_privilege for a user-privilege frame")
	}

	ec2 := newTestExecutionContext()
	if err := ec2.PushFrame(StackFrame{Privilege: PrivilegeKernel}); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if err := RequireKernel(ec2); err != nil {
		t.Fatalf("expected RequireKernel to pass for a kernel-privilege frame: %v", err)
	}
}
