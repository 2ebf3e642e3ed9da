package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/chasmware/gangway"
	"github.com/chasmware/gangway/handle"
)

// HostModule is the import namespace guests bind host functions from.
const HostModule = "gangway"

// Export names of the guest entry points the bridge consumes.
const (
	ExportStart       = "gangway_start"
	ExportMalloc      = "gangway_malloc"
	ExportRealloc     = "gangway_realloc"
	ExportClosureCall = "gangway_closure_call"
	ExportClosureDrop = "gangway_closure_drop"
	ExportExnStore    = "gangway_exn_store"
	exportInitialize  = "_initialize"
)

var errNoExport = errors.New("bridge: guest does not export entry point")

// Guest is the set of module-exported entry points the bridge consumes.
// The wazero-backed implementation is created by New; tests substitute a
// FakeGuest.
type Guest interface {
	Memory() gangway.Memory

	// Start is the initialization entry point; it receives one marshaled
	// string argument.
	Start(ctx context.Context, ptr, length uint32) error

	// Malloc allocates size bytes of guest memory.
	Malloc(ctx context.Context, size uint32) (uint32, error)
	// HasRealloc reports whether the guest exports a reallocation entry
	// point. Without one, string encoding takes the one-shot path.
	HasRealloc() bool
	// Realloc grows a prior allocation, possibly moving it.
	Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error)

	// ClosureCall dispatches a wrapped closure: two opaque words plus the
	// call's argument word.
	ClosureCall(ctx context.Context, a, b uint32, arg uint64) (uint64, error)
	// ClosureDrop dispatches a closure destructor by index. Destructors
	// route through the guest because the host cannot index the guest
	// function table directly.
	ClosureDrop(ctx context.Context, dtor, a, b uint32) error

	// ExnStore hands a caught host exception, as a handle, to the guest's
	// error channel.
	ExnStore(ctx context.Context, h handle.Handle) error
}

type wazeroGuest struct {
	mod         api.Module
	start       api.Function
	malloc      api.Function
	realloc     api.Function
	closureCall api.Function
	closureDrop api.Function
	exnStore    api.Function
}

func newWazeroGuest(mod api.Module) (*wazeroGuest, error) {
	if mod.Memory() == nil {
		return nil, errors.New("bridge: guest exports no memory")
	}
	g := &wazeroGuest{
		mod:         mod,
		start:       mod.ExportedFunction(ExportStart),
		malloc:      mod.ExportedFunction(ExportMalloc),
		realloc:     mod.ExportedFunction(ExportRealloc),
		closureCall: mod.ExportedFunction(ExportClosureCall),
		closureDrop: mod.ExportedFunction(ExportClosureDrop),
		exnStore:    mod.ExportedFunction(ExportExnStore),
	}
	if g.malloc == nil {
		return nil, fmt.Errorf("%w: %s", errNoExport, ExportMalloc)
	}
	return g, nil
}

func (g *wazeroGuest) Memory() gangway.Memory { return g.mod.Memory() }

func (g *wazeroGuest) Start(ctx context.Context, ptr, length uint32) error {
	if g.start == nil {
		return fmt.Errorf("%w: %s", errNoExport, ExportStart)
	}
	_, err := g.start.Call(ctx, uint64(ptr), uint64(length))
	return err
}

func (g *wazeroGuest) Malloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := g.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ExportMalloc, err)
	}
	return api.DecodeU32(res[0]), nil
}

func (g *wazeroGuest) HasRealloc() bool { return g.realloc != nil }

func (g *wazeroGuest) Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error) {
	if g.realloc == nil {
		return 0, fmt.Errorf("%w: %s", errNoExport, ExportRealloc)
	}
	res, err := g.realloc.Call(ctx, uint64(ptr), uint64(oldSize), uint64(newSize))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ExportRealloc, err)
	}
	return api.DecodeU32(res[0]), nil
}

func (g *wazeroGuest) ClosureCall(ctx context.Context, a, b uint32, arg uint64) (uint64, error) {
	if g.closureCall == nil {
		return 0, fmt.Errorf("%w: %s", errNoExport, ExportClosureCall)
	}
	res, err := g.closureCall.Call(ctx, uint64(a), uint64(b), arg)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (g *wazeroGuest) ClosureDrop(ctx context.Context, dtor, a, b uint32) error {
	if g.closureDrop == nil {
		return fmt.Errorf("%w: %s", errNoExport, ExportClosureDrop)
	}
	_, err := g.closureDrop.Call(ctx, uint64(dtor), uint64(a), uint64(b))
	return err
}

func (g *wazeroGuest) ExnStore(ctx context.Context, h handle.Handle) error {
	if g.exnStore == nil {
		return fmt.Errorf("%w: %s", errNoExport, ExportExnStore)
	}
	_, err := g.exnStore.Call(ctx, uint64(h))
	return err
}
