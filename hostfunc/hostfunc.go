package hostfunc

import (
	"context"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/chasmware/gangway/handle"
	"github.com/chasmware/gangway/memview"
	"github.com/chasmware/gangway/trampoline"
)

// Env is the bridge surface a binding marshals through. Bindings never
// touch guest memory or the handle table directly except via these
// primitives; the bridge implements Env and serializes all access.
type Env interface {
	// Table is the handle table for this bridge instance.
	Table() *handle.Table
	// View is the validate-on-access view cache over guest memory.
	View() *memview.Cache

	// EncodeString marshals s into guest memory using the guest's own
	// allocator (and reallocator when it exports one).
	EncodeString(ctx context.Context, s string) (ptr, length uint32, err error)
	// DecodeString reads a guest UTF-8 range strictly.
	DecodeString(ptr, length uint32) (string, error)
	// GuestBytes returns a zero-copy view of guest memory, valid only for
	// the duration of the current call.
	GuestBytes(ptr, length uint32) ([]byte, error)
	// WriteBytes copies host bytes into a fresh guest allocation.
	WriteBytes(ctx context.Context, data []byte) (ptr, length uint32, err error)

	// NewCallback wraps a guest closure for host-side invocation.
	NewCallback(a, b, dtor uint32) *trampoline.Trampoline
	// StartTimer schedules a wrapped closure to fire after delay on the
	// bridge's queue, strictly between guest calls. It returns a timer id.
	StartTimer(a, b, dtor uint32, delay time.Duration) uint32
	// ClearTimer cancels a scheduled timer. A cleared timer's closure is
	// released (its guest destructor may run) and the late callback is
	// inert.
	ClearTimer(ctx context.Context, id uint32) bool

	Logger() *zap.Logger
}

// Binding is one host function exposed to the guest. Fn receives its
// arguments through Call and reports failure as an ordinary error; the
// bridge converts that error into the guest's pending exception and
// returns neutral results instead of unwinding across the boundary.
type Binding struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      func(ctx context.Context, call *Call) error
}

// Registry holds the bindings exported to a guest.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register adds or replaces a binding by name.
func (r *Registry) Register(b Binding) {
	r.mu.Lock()
	if _, exists := r.bindings[b.Name]; !exists {
		r.order = append(r.order, b.Name)
	}
	r.bindings[b.Name] = b
	r.mu.Unlock()
}

// RegisterAll adds every binding in bs.
func (r *Registry) RegisterAll(bs []Binding) {
	for _, b := range bs {
		r.Register(b)
	}
}

// Get returns the binding registered under name.
func (r *Registry) Get(name string) (Binding, bool) {
	r.mu.RLock()
	b, ok := r.bindings[name]
	r.mu.RUnlock()
	return b, ok
}

// All returns the bindings in registration order.
func (r *Registry) All() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.bindings[name])
	}
	return out
}
