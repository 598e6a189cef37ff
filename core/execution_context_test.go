package core

import "testing"

func newTestExecutionContext() *ExecutionContext {
	meter := NewResourceMeter(100, 100, 100)
	return NewExecutionContext(nil, IntentBlockApplication, meter)
}

func TestResourceMeterExhaustion(t *testing.T) {
	m := NewResourceMeter(10, 10, 10)
	if err := m.UseDisk(5); err != nil {
		t.Fatalf("UseDisk within budget: %v", err)
	}
	if err := m.UseDisk(6); err == nil {
		t.Fatalf("expected disk exhaustion past budget")
	}
	if m.DiskUsed() != 5 {
		t.Fatalf("a failed UseDisk must not charge partial usage, got %d", m.DiskUsed())
	}
}

func TestReadOnlyResourceMeterRejectsDiskAndNetwork(t *testing.T) {
	m := NewReadOnlyResourceMeter(50)
	if err := m.UseCompute(10); err != nil {
		t.Fatalf("compute is allowed read-only: %v", err)
	}
	if err := m.UseDisk(1); err == nil {
		t.Fatalf("expected disk use to fail in a read-only meter")
	}
	if err := m.UseNetwork(1); err == nil {
		t.Fatalf("expected network use to fail in a read-only meter")
	}
}

func TestExecutionContextStackOverflow(t *testing.T) {
	ec := newTestExecutionContext()
	for i := 0; i < defaultMaxStackDepth; i++ {
		if err := ec.PushFrame(StackFrame{EntryPoint: "f"}); err != nil {
			t.Fatalf("PushFrame %d: %v", i, err)
		}
	}
	if err := ec.PushFrame(StackFrame{EntryPoint: "overflow"}); err == nil {
		t.Fatalf("expected stack_overflow past the maximum depth")
	}
	if ec.StackDepth() != defaultMaxStackDepth {
		t.Fatalf("expected depth to stay at the cap, got %d", ec.StackDepth())
	}
}

func TestExecutionContextGetCallerRequiresTwoFrames(t *testing.T) {
	ec := newTestExecutionContext()
	if _, _, err := ec.GetCaller(); err == nil {
		t.Fatalf("expected an error with an empty stack")
	}
	if err := ec.PushFrame(StackFrame{EntryPoint: "root"}); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if _, _, err := ec.GetCaller(); err == nil {
		t.Fatalf("expected an error with a single frame")
	}

	callerAddr := Address{0x01}
	if err := ec.PushFrame(StackFrame{ContractID: callerAddr, Privilege: PrivilegeKernel, EntryPoint: "root"}); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	if err := ec.PushFrame(StackFrame{EntryPoint: "callee"}); err != nil {
		t.Fatalf("PushFrame: %v", err)
	}
	addr, priv, err := ec.GetCaller()
	if err != nil {
		t.Fatalf("GetCaller: %v", err)
	}
	if addr != callerAddr || priv != PrivilegeKernel {
		t.Fatalf("expected caller to be the second-from-top frame, got %v/%v", addr, priv)
	}
}

func TestExecutionContextSetReadOnlyPropagatesToMeter(t *testing.T) {
	ec := newTestExecutionContext()
	ec.SetReadOnly()
	if !ec.IsReadOnly() {
		t.Fatalf("expected IsReadOnly to report true")
	}
	if err := ec.Meter.UseDisk(1); err == nil {
		t.Fatalf("expected the meter to reject disk use once marked read-only")
	}
}
