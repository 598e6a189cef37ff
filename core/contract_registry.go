// Contract registry backing the override table's invocation path (spec
// §4.H/§4.G step 1). A WASM-first compile/deploy/invoke pipeline
// (CompileWASM, Deploy, Invoke), routed through HostAPI/ExecutionContext.
package core

import (
	"crypto/sha256"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// SmartContract is a deployed contract's bytecode and metadata.
type SmartContract struct {
	Address   Address
	CodeHash  [32]byte
	Bytecode  []byte
	GasLimit  uint64
	CreatedAt time.Time
}

// ContractRegistry is the process-wide singleton mapping contract addresses
// to their deployed bytecode, backed by per-contract storage in the fork
// DB's current node.
type ContractRegistry struct {
	mu     sync.RWMutex
	byAddr map[Address]*SmartContract
	vm     VM
}

var (
	contractOnce sync.Once
	registry     *ContractRegistry
)

// InitContractRegistry seals the singleton registry, bound to vm.
func InitContractRegistry(vm VM) {
	contractOnce.Do(func() {
		registry = &ContractRegistry{byAddr: make(map[Address]*SmartContract), vm: vm}
	})
}

// GetContractRegistry exposes the singleton instance for other packages.
func GetContractRegistry() *ContractRegistry { return registry }

// CompileWASM compiles a .wat source to a WASM byte-blob via wat2wasm, or
// reads a precompiled .wasm directly, and hashes the result.
func CompileWASM(srcPath, outDir string) ([]byte, [32]byte, error) {
	ext := filepath.Ext(srcPath)
	if ext != ".wat" && ext != ".wasm" {
		return nil, [32]byte{}, ErrMalformedID("contract source must be .wat or .wasm")
	}
	var wasm []byte
	if ext == ".wasm" {
		b, err := os.ReadFile(srcPath)
		if err != nil {
			return nil, [32]byte{}, ErrBackendIO(err)
		}
		wasm = b
	} else {
		out := filepath.Join(outDir, filepath.Base(srcPath)+".wasm")
		if err := exec.Command("wat2wasm", "-o", out, srcPath).Run(); err != nil {
			return nil, [32]byte{}, ErrContractFailure("wat2wasm: " + err.Error())
		}
		b, err := os.ReadFile(out)
		if err != nil {
			return nil, [32]byte{}, ErrBackendIO(err)
		}
		wasm = b
	}
	return wasm, sha256.Sum256(wasm), nil
}

// Deploy registers a new smart contract and stores its code in the given
// node's contract-bytecode object space (spec §6).
func (cr *ContractRegistry) Deploy(node *StateNode, addr Address, code []byte, gas uint64) error {
	if len(code) == 0 {
		return ErrMissingField("bytecode")
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if _, exists := cr.byAddr[addr]; exists {
		return ErrInternalConsistency("contract already deployed at this address")
	}
	sc := &SmartContract{
		Address:   addr,
		CodeHash:  sha256.Sum256(code),
		Bytecode:  code,
		GasLimit:  gas,
		CreatedAt: time.Now().UTC(),
	}
	cr.byAddr[addr] = sc
	return node.Put(SpaceContract, addr.Bytes(), code)
}

// Invoke routes execution of a deployed contract's entry point through the
// registry's VM, in the caller's execution context (spec §4.G step 1).
func (cr *ContractRegistry) Invoke(ctx *ExecutionContext, addr Address, entryPoint string, args []byte) ([]byte, error) {
	cr.mu.RLock()
	sc, ok := cr.byAddr[addr]
	cr.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSystemCall(0)
	}

	var caller Address
	if f, ok := ctx.CurrentFrame(); ok {
		caller = f.ContractID
	}
	gasLimit := sc.GasLimit
	vctx := &VMContext{
		Caller:   caller,
		Origin:   addr,
		TxHash:   ZeroMultihash,
		Code:     sc.Bytecode,
		GasLimit: gasLimit,
		Exec:     ctx,
		Meter:    NewGasMeter(ctx),
	}
	return cr.vm.Execute(sc.Bytecode, vctx)
}

// All returns a snapshot of every deployed contract.
func (cr *ContractRegistry) All() map[Address]*SmartContract {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	out := make(map[Address]*SmartContract, len(cr.byAddr))
	for a, c := range cr.byAddr {
		out[a] = c
	}
	return out
}

// DeriveContractAddress deterministically derives the contract address from
// creator and code.
func DeriveContractAddress(creator Address, code []byte) Address {
	pre := append(creator.Bytes(), code...)
	h := sha256.Sum256(pre)
	var out Address
	copy(out[:], h[:20])
	return out
}
