// Package trampoline wraps guest-owned closures as host-invocable
// functions.
//
// A guest closure is identified by two opaque words (its environment
// pointer and code index) plus a destructor index. The host cannot hold the
// closure itself, so it holds a [Trampoline]: a reference-counted wrapper
// that dispatches invocations through the guest's closure-call entry point
// and guarantees the guest destructor runs exactly once, after the last
// reference is gone and never while a call into the closure is still
// executing.
package trampoline

import (
	"context"
	"errors"
)

var (
	// ErrRetired is returned when a trampoline is used after its final
	// release. Retired is terminal.
	ErrRetired = errors.New("trampoline: closure already retired")

	// ErrReentrant is returned when a trampoline is invoked while a call
	// into the same closure is still on the stack.
	ErrReentrant = errors.New("trampoline: recursive closure invocation")

	// ErrUnbalanced is returned for a release that has no matching prior
	// reference.
	ErrUnbalanced = errors.New("trampoline: unbalanced release")
)

// Dispatcher is the pair of guest entry points a trampoline needs: one to
// run a closure and one to destroy its environment. The destructor routes
// through the guest because the host cannot index the guest function table
// directly.
type Dispatcher interface {
	ClosureCall(ctx context.Context, a, b uint32, arg uint64) (uint64, error)
	ClosureDrop(ctx context.Context, dtor, a, b uint32) error
}

// Trampoline holds the state of one wrapped closure:
//
//	Live (refs > 0, a != 0) -> invocation -> InCall (a == 0)
//	InCall -> completion -> Live, or Retired when the count reached zero.
//
// The closure word a is cleared for the duration of a call. That is the
// reentrancy guard: a release that arrives mid-call only decrements the
// count, and the destructor runs in the call's cleanup step instead of
// under the executing closure.
//
// Not safe for concurrent use; the bridge serializes all boundary
// crossings.
type Trampoline struct {
	dispatch Dispatcher
	a, b     uint32
	dtor     uint32
	refs     int
	retired  bool
}

// New wraps the closure (a, b) with destructor index dtor. The reference
// count starts at one, owned by the caller. a must be nonzero; zero is the
// in-call sentinel.
func New(d Dispatcher, a, b, dtor uint32) *Trampoline {
	return &Trampoline{dispatch: d, a: a, b: b, dtor: dtor, refs: 1}
}

// Invoke runs the guest closure with arg. The closure may be invoked any
// number of times while references remain; invoking a retired trampoline
// is a contract violation surfaced as ErrRetired.
func (t *Trampoline) Invoke(ctx context.Context, arg uint64) (ret uint64, err error) {
	if t.retired {
		return 0, ErrRetired
	}
	if t.a == 0 {
		return 0, ErrReentrant
	}

	t.refs++
	a := t.a
	t.a = 0

	defer func() {
		t.refs--
		if t.refs == 0 {
			t.retired = true
			if dErr := t.dispatch.ClosureDrop(ctx, t.dtor, a, t.b); err == nil {
				err = dErr
			}
		} else {
			t.a = a
		}
	}()

	return t.dispatch.ClosureCall(ctx, a, t.b, arg)
}

// Release gives up one reference. When the count reaches zero the guest
// destructor is invoked and the trampoline retires; if a call is currently
// executing, retirement is deferred to that call's cleanup step.
func (t *Trampoline) Release(ctx context.Context) error {
	if t.retired {
		return ErrRetired
	}
	if t.a == 0 && t.refs == 1 {
		// The one remaining reference belongs to the executing call; it is
		// released in that call's cleanup step, never here.
		return ErrUnbalanced
	}
	t.refs--
	if t.refs > 0 {
		return nil
	}
	t.retired = true
	return t.dispatch.ClosureDrop(ctx, t.dtor, t.a, t.b)
}

// Retired reports whether the trampoline has reached its terminal state.
func (t *Trampoline) Retired() bool { return t.retired }

// Refs returns the current reference count. Diagnostic only.
func (t *Trampoline) Refs() int { return t.refs }
