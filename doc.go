// Package gangway bridges a memory-isolated WebAssembly module and the Go
// host process that embeds it.
//
// # Overview
//
// A wasm guest has no native access to host objects, host strings, or host
// callbacks. gangway provides the four primitives that make interop possible:
//
//   - an opaque handle table, so guest code can hold indirect references to
//     host objects (handle.Table)
//   - a string/byte codec that marshals text across the boundary and
//     survives guest memory growth (codec)
//   - a closure trampoline that lets the host invoke guest-owned closures
//     with reference-counted lifetimes (trampoline.Trampoline)
//   - an exception bridge that carries failures in both directions without
//     unwinding across the boundary (bridge.Bridge)
//
// # Basic Usage
//
//	b, _ := bridge.New(ctx, wasmBytes)
//	defer b.Close(ctx)
//
//	if err := b.Start(ctx, "main-canvas"); err != nil {
//	    log.Fatal(err)
//	}
//	b.Drain(ctx) // run callbacks scheduled by the guest
//
// Per-API binding functions (graphics calls, DOM-style accessors, timers)
// are built on top of these primitives in the hostfunc package; they never
// implement marshaling themselves.
//
// See the bridge, handle, codec, memview, and trampoline packages for
// detailed API documentation.
package gangway
