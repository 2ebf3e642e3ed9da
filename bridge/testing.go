package bridge

import (
	"context"
	"fmt"

	"github.com/chasmware/gangway"
	"github.com/chasmware/gangway/handle"
)

// FakeMemory is a growable guest memory with a bump allocator, for testing
// bindings without a real wasm instance. Growth relocates the backing
// array, like a real memory, so view-invalidation behavior is exercised.
type FakeMemory struct {
	Data []byte
	next uint32
}

// NewFakeMemory returns a FakeMemory with the given initial size; the
// allocator starts handing out addresses from offset 8, keeping 0 special.
func NewFakeMemory(size uint32) *FakeMemory {
	if size < 8 {
		size = 8
	}
	return &FakeMemory{Data: make([]byte, size), next: 8}
}

func (m *FakeMemory) Size() uint32 { return uint32(len(m.Data)) }

func (m *FakeMemory) Read(offset, count uint32) ([]byte, bool) {
	if uint64(offset)+uint64(count) > uint64(len(m.Data)) {
		return nil, false
	}
	return m.Data[offset : offset+count : offset+count], true
}

// Alloc bump-allocates, growing and relocating the backing array when
// needed.
func (m *FakeMemory) Alloc(size uint32) (uint32, error) {
	ptr := m.next
	m.next += size
	if int(m.next) > len(m.Data) {
		fresh := make([]byte, m.next*2)
		copy(fresh, m.Data)
		m.Data = fresh
	}
	return ptr, nil
}

// Realloc copies the old region into a fresh allocation.
func (m *FakeMemory) Realloc(ptr, oldSize, newSize uint32) (uint32, error) {
	np, err := m.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(m.Data[np:np+oldSize], m.Data[ptr:ptr+oldSize])
	return np, nil
}

var _ gangway.Memory = (*FakeMemory)(nil)

// FakeGuest implements Guest entirely in host memory. It records every
// entry-point crossing so tests can assert on the traffic.
type FakeGuest struct {
	Mem *FakeMemory

	// StartArgs collects the (ptr, length) pairs passed to Start.
	StartArgs [][2]uint32
	// StartErr, when set, is returned by Start.
	StartErr error
	// NoRealloc makes the guest behave as if it exports no reallocation
	// entry point.
	NoRealloc bool

	// Closure, when set, implements gangway_closure_call.
	Closure func(a, b uint32, arg uint64) (uint64, error)
	// ClosureCalls counts dispatches; Dropped collects destructor a-words.
	ClosureCalls int
	Dropped      []uint32

	// Exns collects handles passed to the exception store. NoExnStore
	// simulates a guest without that export.
	Exns       []handle.Handle
	NoExnStore bool
}

// NewFakeGuest returns a FakeGuest over a fresh 64KiB FakeMemory.
func NewFakeGuest() *FakeGuest {
	return &FakeGuest{Mem: NewFakeMemory(65536)}
}

var _ Guest = (*FakeGuest)(nil)

func (g *FakeGuest) Memory() gangway.Memory { return g.Mem }

func (g *FakeGuest) Start(ctx context.Context, ptr, length uint32) error {
	g.StartArgs = append(g.StartArgs, [2]uint32{ptr, length})
	return g.StartErr
}

func (g *FakeGuest) Malloc(ctx context.Context, size uint32) (uint32, error) {
	return g.Mem.Alloc(size)
}

func (g *FakeGuest) HasRealloc() bool { return !g.NoRealloc }

func (g *FakeGuest) Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error) {
	if g.NoRealloc {
		return 0, fmt.Errorf("%w: %s", errNoExport, ExportRealloc)
	}
	return g.Mem.Realloc(ptr, oldSize, newSize)
}

func (g *FakeGuest) ClosureCall(ctx context.Context, a, b uint32, arg uint64) (uint64, error) {
	g.ClosureCalls++
	if g.Closure != nil {
		return g.Closure(a, b, arg)
	}
	return 0, nil
}

func (g *FakeGuest) ClosureDrop(ctx context.Context, dtor, a, b uint32) error {
	g.Dropped = append(g.Dropped, a)
	return nil
}

func (g *FakeGuest) ExnStore(ctx context.Context, h handle.Handle) error {
	if g.NoExnStore {
		return fmt.Errorf("%w: %s", errNoExport, ExportExnStore)
	}
	g.Exns = append(g.Exns, h)
	return nil
}

// NewTestBridge builds a detached bridge over guest: full marshaling,
// exception and timer machinery, but no wazero runtime underneath. Useful
// for testing bindings against a FakeGuest.
func NewTestBridge(guest Guest, opts ...Option) *Bridge {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	b := newDetached(cfg)
	b.attach(guest)
	return b
}
