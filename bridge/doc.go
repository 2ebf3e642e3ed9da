// Package bridge ties the gangway primitives to a running wazero guest.
//
// # Overview
//
// A [Bridge] owns one guest instance together with all the state that
// crosses its boundary: the handle table, the validate-on-access memory
// view cache, the single pending-exception slot, and the callback queue.
// It exports the configured [hostfunc] bindings to the guest under the
// "gangway" import namespace and consumes the guest's bridge entry points
// (start, malloc/realloc, closure dispatch, destructor dispatch, exception
// store).
//
//	b, err := bridge.New(ctx, wasmBytes,
//	    bridge.WithLogger(logger),
//	    bridge.WithRegistry(registry),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	if err := b.Start(ctx, "main-canvas"); err != nil {
//	    var fatal *bridge.FatalError
//	    if errors.As(err, &fatal) {
//	        // the guest raised; Message was decoded from guest memory
//	    }
//	}
//	b.Drain(ctx)
//
// # Error propagation
//
// Failures cross the boundary in both directions without unwinding through
// it. A binding that errors (or panics) is caught at the boundary; the
// error is parked in the handle table, transferred to the guest's
// exception store, and the call returns neutral results. A guest that
// invokes the raise entry point produces a [FatalError] that unwinds the
// host-side caller of whatever guest entry point was running.
//
// # Concurrency
//
// Everything is single-threaded and cooperative: one boundary crossing is
// in flight at a time, and callbacks scheduled by the guest (timers) fire
// only in [Bridge.Drain], between guest calls, in due order.
package bridge
