// Package plugin hosts sandboxed WebAssembly directive transformers. A
// plugin is a pure function over the serialized directive stream: the
// host writes the encoded stream into the module's memory, calls its
// process export, and decodes the result. Modules must have zero imports,
// so a plugin has no filesystem, clock, or network surface at all.
package plugin

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/loader"
	"github.com/ledgerforge/rledger/telemetry"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	// defaultTimeout bounds one process call; a module that loops
	// forever is torn down when the deadline passes.
	defaultTimeout = 30 * time.Second

	// defaultMemoryPages caps module memory at 256 MiB (64 KiB pages).
	defaultMemoryPages = 4096
)

// Host loads and runs a chain of plugin modules. The output of plugin N
// is the input of plugin N+1.
type Host struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	plugins []*Plugin

	timeout     time.Duration
	memoryPages uint32
	instances   int
}

// Plugin is one loaded transformer module.
type Plugin struct {
	Name string
	Path string

	module api.Module
}

type Option func(*Host)

// WithTimeout overrides the per-call execution bound.
func WithTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}

// WithMemoryLimitPages overrides the module memory cap, in 64 KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(h *Host) { h.memoryPages = pages }
}

// NewHost creates an empty plugin host.
func NewHost(ctx context.Context, opts ...Option) *Host {
	h := &Host{timeout: defaultTimeout, memoryPages: defaultMemoryPages}
	for _, opt := range opts {
		opt(h)
	}
	h.runtime = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(h.memoryPages))
	return h
}

// Close releases every loaded module and the runtime itself.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runtime.Close(ctx)
}

// Load compiles, validates, and instantiates the module at path,
// appending it to the chain. Loading fails if the module declares any
// import, or misses one of the required exports (memory, alloc, process).
func (h *Host) Load(ctx context.Context, name, path string) (*Plugin, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin %s: %w", name, err)
	}
	p, err := h.load(ctx, name, path, wasm)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.plugins = append(h.plugins, p)
	h.mu.Unlock()
	return p, nil
}

func (h *Host) load(ctx context.Context, name, path string, wasm []byte) (*Plugin, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin %s: %w", name, err)
	}

	if imports := compiled.ImportedFunctions(); len(imports) > 0 {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("plugin %s declares %d imports; sandboxed plugins must import nothing", name, len(imports))
	}
	if imports := compiled.ImportedMemories(); len(imports) > 0 {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("plugin %s imports memory; sandboxed plugins must import nothing", name)
	}

	// Instance names must be unique within the runtime; reloads of the
	// same file get a fresh sequence number.
	h.mu.Lock()
	h.instances++
	instanceName := fmt.Sprintf("%s#%d", name, h.instances)
	h.mu.Unlock()

	module, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(instanceName).
		WithStartFunctions()) // no _start; plugins are pure libraries
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin %s: %w", name, err)
	}

	for _, export := range []string{"alloc", "process"} {
		if module.ExportedFunction(export) == nil {
			_ = module.Close(ctx)
			return nil, fmt.Errorf("plugin %s does not export %s", name, export)
		}
	}
	if module.Memory() == nil {
		_ = module.Close(ctx)
		return nil, fmt.Errorf("plugin %s does not export memory", name)
	}

	return &Plugin{Name: name, Path: path, module: module}, nil
}

// Transform runs the loaded chain over directives. A plugin that traps,
// times out, or produces undecodable output is skipped with its error
// recorded, leaving the prior plugins' output intact as the next
// plugin's input.
func (h *Host) Transform(ctx context.Context, directives ast.Directives) (ast.Directives, []error) {
	h.mu.Lock()
	plugins := append([]*Plugin(nil), h.plugins...)
	h.mu.Unlock()

	var errs []error
	current := directives
	for _, p := range plugins {
		timer := telemetry.StartTimer(ctx, fmt.Sprintf("plugin.process %s", p.Name))
		next, err := h.process(ctx, p, current)
		timer.End()
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name, err))
			continue
		}
		current = next
	}
	return current, errs
}

// process executes one plugin over one stream snapshot.
func (h *Host) process(ctx context.Context, p *Plugin, directives ast.Directives) (ast.Directives, error) {
	input, err := loader.MarshalDirectives(directives)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize directives: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	allocResults, err := p.module.ExportedFunction("alloc").Call(callCtx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("alloc failed: %w", err)
	}
	ptr := uint32(allocResults[0])

	if !p.module.Memory().Write(ptr, input) {
		return nil, fmt.Errorf("alloc returned an out-of-range pointer %d for %d bytes", ptr, len(input))
	}

	processResults, err := p.module.ExportedFunction("process").Call(callCtx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("process trapped: %w", err)
	}

	packed := processResults[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)

	output, ok := p.module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("process returned an out-of-range result (%d,%d)", outPtr, outLen)
	}

	transformed, err := loader.UnmarshalDirectives(output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode plugin output: %w", err)
	}
	return transformed, nil
}

// reload replaces p's module instance with a fresh compile of its file.
// On failure the previous instance stays live.
func (h *Host) reload(ctx context.Context, p *Plugin) error {
	wasm, err := os.ReadFile(p.Path)
	if err != nil {
		return fmt.Errorf("failed to re-read plugin %s: %w", p.Name, err)
	}
	fresh, err := h.load(ctx, p.Name, p.Path, wasm)
	if err != nil {
		return err
	}

	h.mu.Lock()
	old := p.module
	p.module = fresh.module
	h.mu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	return nil
}
