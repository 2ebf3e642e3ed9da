package hostfunc

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

var (
	i32    = api.ValueTypeI32
	f64    = api.ValueTypeF64
	noneVT []api.ValueType
)

// Core returns the handle-maintenance and marshaling bindings every guest
// needs: dropping and cloning object references, moving strings and byte
// buffers across the boundary.
func Core() []Binding {
	return []Binding{
		{
			Name:   "object_drop",
			Params: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				return call.Env.Table().Drop(call.Handle(0))
			},
		},
		{
			Name:    "object_clone",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				ref, err := call.Ref(0)
				if err != nil {
					return err
				}
				call.ReturnRef(ref)
				return nil
			},
		},
		{
			// Guest string -> host string object, parked in the table.
			Name:    "string_new",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				s, err := call.String(0)
				if err != nil {
					return err
				}
				call.ReturnRef(s)
				return nil
			},
		},
		{
			// Host string object -> guest memory. Writes the resulting
			// (pointer, length) pair to the return area the guest supplies.
			Name:   "string_get",
			Params: []api.ValueType{i32, i32},
			Fn: func(ctx context.Context, call *Call) error {
				s, err := call.StringRef(0)
				if err != nil {
					return err
				}
				ptr, length, err := call.Env.EncodeString(ctx, s)
				if err != nil {
					return err
				}
				return writePair(call, call.Uint32(1), ptr, length)
			},
		},
		{
			// Guest bytes -> host []byte object. Copies, because the guest
			// view is invalid after the call.
			Name:    "buffer_new",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				view, err := call.Bytes(0)
				if err != nil {
					return err
				}
				buf := make([]byte, len(view))
				copy(buf, view)
				call.ReturnRef(buf)
				return nil
			},
		},
		{
			Name:    "buffer_len",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				buf, err := bufferRef(call, 0)
				if err != nil {
					return err
				}
				call.ReturnUint32(uint32(len(buf)))
				return nil
			},
		},
		{
			// Host []byte object -> guest range. Returns bytes written.
			Name:    "buffer_copy",
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				buf, err := bufferRef(call, 0)
				if err != nil {
					return err
				}
				dst, err := call.Env.GuestBytes(call.Uint32(1), call.Uint32(2))
				if err != nil {
					return err
				}
				call.ReturnUint32(uint32(copy(dst, buf)))
				return nil
			},
		},
	}
}

// Props returns reflect-backed property access over table-held host
// objects. These are worked examples of the per-API binding pattern; a
// real embedding registers typed bindings for its own objects instead.
func Props() []Binding {
	return []Binding{
		{
			// object_get(handle, keyPtr, keyLen) -> handle
			Name:    "object_get",
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				ref, err := call.Ref(0)
				if err != nil {
					return err
				}
				key, err := call.String(1)
				if err != nil {
					return err
				}
				v, err := property(ref, key)
				if err != nil {
					return err
				}
				call.ReturnRef(v)
				return nil
			},
		},
		{
			// object_index(handle, i) -> handle
			Name:    "object_index",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				ref, err := call.Ref(0)
				if err != nil {
					return err
				}
				v, err := element(ref, int(call.Int32(1)))
				if err != nil {
					return err
				}
				call.ReturnRef(v)
				return nil
			},
		},
	}
}

func property(ref any, key string) (any, error) {
	v := reflect.ValueOf(ref)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("hostfunc: %T is not keyed by strings", ref)
		}
		mv := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, fmt.Errorf("hostfunc: %T has no key %q", ref, key)
		}
		return mv.Interface(), nil
	case reflect.Struct:
		fv := v.FieldByName(key)
		if !fv.IsValid() || !fv.CanInterface() {
			return nil, fmt.Errorf("hostfunc: %T has no field %q", ref, key)
		}
		return fv.Interface(), nil
	}
	return nil, fmt.Errorf("hostfunc: cannot read property %q of %T", key, ref)
}

func element(ref any, i int) (any, error) {
	v := reflect.ValueOf(ref)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		if i < 0 || i >= v.Len() {
			return nil, fmt.Errorf("hostfunc: index %d out of range for %T of length %d", i, ref, v.Len())
		}
		return v.Index(i).Interface(), nil
	}
	return nil, fmt.Errorf("hostfunc: %T is not indexable", ref)
}

// Console returns logging bindings backed by the bridge logger.
func Console() []Binding {
	log := func(level func(*zap.Logger) func(string, ...zap.Field)) func(context.Context, *Call) error {
		return func(ctx context.Context, call *Call) error {
			msg, err := call.String(0)
			if err != nil {
				return err
			}
			level(call.Env.Logger())(msg, zap.String("source", "guest"))
			return nil
		}
	}
	return []Binding{
		{
			Name:   "console_log",
			Params: []api.ValueType{i32, i32},
			Fn:     log(func(l *zap.Logger) func(string, ...zap.Field) { return l.Info }),
		},
		{
			Name:   "console_error",
			Params: []api.ValueType{i32, i32},
			Fn:     log(func(l *zap.Logger) func(string, ...zap.Field) { return l.Error }),
		},
	}
}

// Clock returns wall-clock bindings.
func Clock() []Binding {
	return []Binding{
		{
			// Seconds since the Unix epoch, fractional.
			Name:    "time_now",
			Params:  noneVT,
			Results: []api.ValueType{f64},
			Fn: func(ctx context.Context, call *Call) error {
				call.ReturnFloat64(float64(time.Now().UnixNano()) / 1e9)
				return nil
			},
		},
		{
			// Local offset from UTC in hours, east positive.
			Name:    "time_offset",
			Params:  noneVT,
			Results: []api.ValueType{f64},
			Fn: func(ctx context.Context, call *Call) error {
				_, offset := time.Now().Zone()
				call.ReturnFloat64(float64(offset) / 3600)
				return nil
			},
		},
	}
}

// Timers returns bindings that schedule guest closures on the bridge
// queue. The closure fires strictly after the current guest call returns.
func Timers() []Binding {
	return []Binding{
		{
			// timeout_start(a, b, dtor, millis) -> id
			Name:    "timeout_start",
			Params:  []api.ValueType{i32, i32, i32, f64},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				delay := time.Duration(call.Float64(3) * float64(time.Millisecond))
				id := call.Env.StartTimer(call.Uint32(0), call.Uint32(1), call.Uint32(2), delay)
				call.ReturnUint32(id)
				return nil
			},
		},
		{
			Name:   "timeout_clear",
			Params: []api.ValueType{i32},
			Fn: func(ctx context.Context, call *Call) error {
				call.Env.ClearTimer(ctx, call.Uint32(0))
				return nil
			},
		},
	}
}

// Storage is an in-memory string store standing in for the persistent
// key-value storage a browser guest would reach through localStorage.
type Storage struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewStorage() *Storage {
	return &Storage{data: make(map[string]string)}
}

// Set stores a value host-side; handy for seeding state in tests and the
// CLI.
func (s *Storage) Set(key, value string) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

// Get returns the stored value.
func (s *Storage) Get(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	return v, ok
}

// Bindings exposes the store to the guest. storage_get writes a
// (pointer, length) pair to the supplied return area, (0, 0) for a missing
// key.
func (s *Storage) Bindings() []Binding {
	return []Binding{
		{
			Name:   "storage_set",
			Params: []api.ValueType{i32, i32, i32, i32},
			Fn: func(ctx context.Context, call *Call) error {
				key, err := call.String(0)
				if err != nil {
					return err
				}
				value, err := call.String(2)
				if err != nil {
					return err
				}
				s.Set(key, value)
				return nil
			},
		},
		{
			Name:   "storage_get",
			Params: []api.ValueType{i32, i32, i32},
			Fn: func(ctx context.Context, call *Call) error {
				key, err := call.String(0)
				if err != nil {
					return err
				}
				retPtr := call.Uint32(2)
				value, ok := s.Get(key)
				if !ok {
					return writePair(call, retPtr, 0, 0)
				}
				ptr, length, err := call.Env.EncodeString(ctx, value)
				if err != nil {
					return err
				}
				return writePair(call, retPtr, ptr, length)
			},
		},
		{
			Name:   "storage_remove",
			Params: []api.ValueType{i32, i32},
			Fn: func(ctx context.Context, call *Call) error {
				key, err := call.String(0)
				if err != nil {
					return err
				}
				s.mu.Lock()
				delete(s.data, key)
				s.mu.Unlock()
				return nil
			},
		},
	}
}

// Default returns a registry with every built-in binding set and a fresh
// Storage.
func Default() *Registry {
	r := NewRegistry()
	r.RegisterAll(Core())
	r.RegisterAll(Props())
	r.RegisterAll(Console())
	r.RegisterAll(Clock())
	r.RegisterAll(Timers())
	r.RegisterAll(NewStorage().Bindings())
	return r
}

func bufferRef(call *Call, i int) ([]byte, error) {
	ref, err := call.Ref(i)
	if err != nil {
		return nil, err
	}
	buf, ok := ref.([]byte)
	if !ok {
		return nil, fmt.Errorf("hostfunc: handle %d holds %T, not a byte buffer", call.Handle(i), ref)
	}
	return buf, nil
}

// writePair stores a (pointer, length) pair in the guest-supplied return
// area. The view is fetched after any encode so growth is already
// accounted for.
func writePair(call *Call, retPtr, ptr, length uint32) error {
	if err := call.Env.View().PutUint32(retPtr, ptr); err != nil {
		return err
	}
	return call.Env.View().PutUint32(retPtr+4, length)
}
