package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// notFound is the sentinel ns_get returns to the payload for a missing key.
const notFound = 0xFFFFFFFF

type ctxKey int

const (
	namespaceKey ctxKey = 1
	ledgerKey    ctxKey = 2
)

// Wasm executes payloads as WebAssembly modules. The only imports a payload
// is offered are the sqlchain host functions, which operate on the namespace
// bound to the execution context, so a module cannot observe or mutate
// anything outside its own account's storage.
type Wasm struct {
	runtime wazero.Runtime
}

// NewWasm constructs the sandboxed runtime and registers the host module.
func NewWasm(ctx context.Context) (*Wasm, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))

	_, err := runtime.NewHostModuleBuilder("sqlchain").
		NewFunctionBuilder().WithFunc(nsGet).Export("ns_get").
		NewFunctionBuilder().WithFunc(nsPut).Export("ns_put").
		NewFunctionBuilder().WithFunc(nsDelete).Export("ns_delete").
		NewFunctionBuilder().WithFunc(transfer).Export("transfer").
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiating host module: %w", err)
	}

	return &Wasm{runtime: runtime}, nil
}

// Close releases the runtime.
func (w *Wasm) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// Execute compiles and runs the payload module, calling its exported run
// function. The namespace and ledger travel in the context so the host
// functions can reach them without any shared mutable state between accounts.
func (w *Wasm) Execute(ctx context.Context, accountID string, ns Namespace, ledger Ledger, payload []byte) error {
	ctx = context.WithValue(ctx, namespaceKey, ns)
	ctx = context.WithValue(ctx, ledgerKey, ledger)

	config := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	module, err := w.runtime.InstantiateWithConfig(ctx, payload, config)
	if err != nil {
		return fmt.Errorf("instantiating payload: %w", err)
	}
	defer module.Close(ctx)

	run := module.ExportedFunction("run")
	if run == nil {
		return errors.New("payload does not export a run function")
	}

	if _, err := run.Call(ctx); err != nil {
		return fmt.Errorf("payload execution: %w", err)
	}

	return nil
}

// =============================================================================

func contextNamespace(ctx context.Context) Namespace {
	ns, _ := ctx.Value(namespaceKey).(Namespace)
	return ns
}

func contextLedger(ctx context.Context) Ledger {
	ledger, _ := ctx.Value(ledgerKey).(Ledger)
	return ledger
}

// nsGet copies the value for a key into the module's memory and returns the
// value length, or the notFound sentinel.
func nsGet(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valCap uint32) uint32 {
	ns := contextNamespace(ctx)
	if ns == nil {
		return notFound
	}

	key, ok := m.Memory().Read(keyPtr, keyLen)
	if !ok {
		return notFound
	}

	value, err := ns.Get(key)
	if err != nil {
		return notFound
	}

	n := uint32(len(value))
	if n > valCap {
		n = valCap
	}
	if !m.Memory().Write(valPtr, value[:n]) {
		return notFound
	}

	return uint32(len(value))
}

// nsPut writes a key/value pair from the module's memory. Returns 0 on
// success, 1 on failure.
func nsPut(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
	ns := contextNamespace(ctx)
	if ns == nil {
		return 1
	}

	key, ok := m.Memory().Read(keyPtr, keyLen)
	if !ok {
		return 1
	}

	value, ok := m.Memory().Read(valPtr, valLen)
	if !ok {
		return 1
	}

	if err := ns.Put(append([]byte(nil), key...), append([]byte(nil), value...)); err != nil {
		return 1
	}

	return 0
}

// transfer moves credits from the executing account to the recipient whose
// compressed public key sits in the module's memory. Returns 0 on success,
// 1 on failure.
func transfer(ctx context.Context, m api.Module, pubPtr, pubLen uint32, amount uint64) uint32 {
	ledger := contextLedger(ctx)
	if ledger == nil {
		return 1
	}

	pub, ok := m.Memory().Read(pubPtr, pubLen)
	if !ok {
		return 1
	}

	if err := ledger.Transfer(append([]byte(nil), pub...), amount); err != nil {
		return 1
	}

	return 0
}

// nsDelete removes a key. Returns 0 on success, 1 on failure.
func nsDelete(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint32 {
	ns := contextNamespace(ctx)
	if ns == nil {
		return 1
	}

	key, ok := m.Memory().Read(keyPtr, keyLen)
	if !ok {
		return 1
	}

	if err := ns.Delete(key); err != nil {
		return 1
	}

	return 0
}
