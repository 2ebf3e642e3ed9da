// Package hostfunc provides the binding layer between guest modules and
// host capabilities.
//
// A [Binding] is one host function exported to the guest. Bindings receive
// already-decoded arguments through [Call] and hand back results the same
// way; they never implement marshaling themselves: handles, strings and
// buffers all move through the [Env] primitives the bridge provides.
//
// # Registry
//
// The [Registry] collects the bindings a bridge will export. Use the
// built-in sets or register your own:
//
//	registry := hostfunc.Default()
//	registry.Register(hostfunc.Binding{
//	    Name:    "canvas_width",
//	    Results: []api.ValueType{api.ValueTypeI32},
//	    Fn: func(ctx context.Context, call *hostfunc.Call) error {
//	        call.ReturnUint32(1280)
//	        return nil
//	    },
//	})
//
// # Error behavior
//
// A binding that returns an error does not unwind into the guest. The
// bridge catches it, parks it in the handle table, transfers the handle to
// the guest's pending-exception slot, and completes the call with neutral
// results. Bindings should therefore return errors freely and never panic.
//
// # Built-in sets
//
// [Core] (object/string/buffer marshaling), [Props] (reflect-backed
// property access), [Console] (guest logging through the bridge logger),
// [Clock], [Timers] (scheduling guest closures on the bridge queue), and
// [Storage] (an in-memory stand-in for persistent key-value storage).
// [Default] bundles all of them.
package hostfunc
