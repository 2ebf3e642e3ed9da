package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/chasmware/gangway"
	"github.com/chasmware/gangway/codec"
	"github.com/chasmware/gangway/handle"
	"github.com/chasmware/gangway/hostfunc"
	"github.com/chasmware/gangway/memview"
	"github.com/chasmware/gangway/trampoline"
)

// ErrClosed is returned for operations on a closed bridge.
var ErrClosed = errors.New("bridge: closed")

// Bridge owns one guest instance and everything that crosses its boundary:
// the handle table, the memory view cache, the pending-exception slot and
// the callback queue. All of these are single-threaded state; the bridge
// serializes outer entry points with a mutex and runs re-entrant host
// bindings on the same logical thread as the guest call that triggered
// them.
type Bridge struct {
	runtime wazero.Runtime // nil for a detached (test) bridge
	mod     api.Module
	guest   Guest

	table *handle.Table
	view  *memview.Cache
	log   *zap.Logger

	pending error

	timers    map[uint32]*timerTask
	queue     []*timerTask
	nextTimer uint32

	mu     sync.Mutex
	closed bool
}

var _ hostfunc.Env = (*Bridge)(nil)

// New compiles and instantiates wasm, exports the configured bindings to
// it under the "gangway" namespace, and wires the guest's bridge entry
// points. The module's own start function is not run; call Start.
func New(ctx context.Context, wasm []byte, opts ...Option) (*Bridge, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.memoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(cfg.memoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	b := newDetached(cfg)
	b.runtime = rt

	hb := rt.NewHostModuleBuilder(HostModule)
	for _, bind := range cfg.registry.All() {
		bind := bind
		hb.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				b.dispatch(ctx, bind, stack)
			}), bind.Params, bind.Results).
			Export(bind.Name)
	}
	hb.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.raise),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("raise")
	if _, err := hb.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	if cfg.wasi {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	mod, err := rt.InstantiateWithConfig(ctx, wasm,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	guest, err := newWazeroGuest(mod)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	b.attach(guest)
	b.mod = mod

	// Reactor-style modules initialize globals here, before any entry
	// point runs.
	if init := mod.ExportedFunction(exportInitialize); init != nil {
		if _, err := init.Call(ctx); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("%s: %w", exportInitialize, err)
		}
	}

	b.log.Debug("bridge ready", zap.Int("bindings", len(cfg.registry.All())))
	return b, nil
}

func newDetached(cfg config) *Bridge {
	return &Bridge{
		table:  handle.NewTable(),
		log:    cfg.logger,
		timers: make(map[uint32]*timerTask),
	}
}

func (b *Bridge) attach(guest Guest) {
	b.guest = guest
	b.view = memview.New(guest.Memory())
}

// Start marshals arg into guest memory and invokes the guest's start entry
// point. A guest-raised fatal surfaces as a *FatalError in the returned
// error chain.
func (b *Bridge) Start(ctx context.Context, arg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	ptr, length, err := b.EncodeString(ctx, arg)
	if err != nil {
		return fmt.Errorf("marshal start argument: %w", err)
	}
	if err := b.guest.Start(ctx, ptr, length); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Invoke calls an arbitrary exported guest function with raw argument
// words. Intended for tooling (the REPL); bindings use the typed seam.
func (b *Bridge) Invoke(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.mod == nil {
		return nil, errors.New("bridge: detached bridge has no module exports")
	}
	fn := b.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", errNoExport, name)
	}
	return fn.Call(ctx, args...)
}

// ExportNames lists the guest's exported functions, for tooling.
func (b *Bridge) ExportNames() []string {
	if b.mod == nil {
		return nil
	}
	defs := b.mod.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	return names
}

// Close cancels outstanding timers and releases the runtime.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	for id, task := range b.timers {
		delete(b.timers, id)
		task.cancelled = true
		if !task.tr.Retired() {
			err = multierr.Append(err, task.tr.Release(ctx))
		}
	}
	b.queue = nil

	if b.runtime != nil {
		err = multierr.Append(err, b.runtime.Close(ctx))
	}
	return err
}

// Table implements hostfunc.Env.
func (b *Bridge) Table() *handle.Table { return b.table }

// View implements hostfunc.Env.
func (b *Bridge) View() *memview.Cache { return b.view }

// Logger implements hostfunc.Env.
func (b *Bridge) Logger() *zap.Logger { return b.log }

// EncodeString implements hostfunc.Env. The guest's reallocating entry
// point, when present, selects the ASCII-fast-path growth encoding.
func (b *Bridge) EncodeString(ctx context.Context, s string) (uint32, uint32, error) {
	var realloc gangway.Reallocator
	if b.guest.HasRealloc() {
		realloc = func(ptr, oldSize, newSize uint32) (uint32, error) {
			return b.guest.Realloc(ctx, ptr, oldSize, newSize)
		}
	}
	return codec.EncodeString(b.view, b.allocator(ctx), realloc, s)
}

// DecodeString implements hostfunc.Env.
func (b *Bridge) DecodeString(ptr, length uint32) (string, error) {
	return codec.DecodeString(b.view, ptr, length)
}

// GuestBytes implements hostfunc.Env.
func (b *Bridge) GuestBytes(ptr, length uint32) ([]byte, error) {
	return codec.Bytes(b.view, ptr, length)
}

// WriteBytes implements hostfunc.Env.
func (b *Bridge) WriteBytes(ctx context.Context, data []byte) (uint32, uint32, error) {
	return codec.WriteBytes(b.view, b.allocator(ctx), data)
}

// NewCallback implements hostfunc.Env.
func (b *Bridge) NewCallback(a, w, dtor uint32) *trampoline.Trampoline {
	return trampoline.New(b.guest, a, w, dtor)
}

func (b *Bridge) allocator(ctx context.Context) gangway.Allocator {
	return func(size uint32) (uint32, error) {
		return b.guest.Malloc(ctx, size)
	}
}
