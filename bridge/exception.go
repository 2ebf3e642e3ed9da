package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/chasmware/gangway/hostfunc"
)

// FatalError is a module-raised fatal condition: the guest wrote a message
// into its memory and invoked the raise entry point. It always unwinds the
// host-side caller of whichever guest entry point was executing.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "guest fatal: " + e.Message
}

// raise is the guest's fatal entry point. Decodes the message and panics
// natively; wazero converts the panic into the error returned by the guest
// call in progress, so host-side callers unwind normally.
func (b *Bridge) raise(ctx context.Context, _ api.Module, stack []uint64) {
	ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	msg, err := b.DecodeString(ptr, length)
	if err != nil {
		msg = fmt.Sprintf("unreadable fatal message: %v", err)
	}
	panic(&FatalError{Message: msg})
}

// dispatch runs one binding invocation. The boundary cannot carry
// exceptions, so any failure (error return or panic) is caught here,
// parked in the pending-exception slot as a handle, and handed to the
// guest's error channel; the wrapped call completes with neutral (zero)
// results. A *FatalError re-panics: that path must unwind.
func (b *Bridge) dispatch(ctx context.Context, bind hostfunc.Binding, stack []uint64) {
	err := runBinding(ctx, bind, hostfunc.NewCall(b, stack))
	if err == nil {
		return
	}
	for i := range bind.Results {
		stack[i] = 0
	}
	b.storeException(ctx, fmt.Errorf("%s: %w", bind.Name, err))
}

func runBinding(ctx context.Context, bind hostfunc.Binding, call *hostfunc.Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fatal, ok := r.(*FatalError); ok {
				panic(fatal)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return bind.Fn(ctx, call)
}

// storeException fills the single pending-exception slot and immediately
// transfers the exception, as a handle, into the guest's error channel.
// Calls are non-reentrant at the boundary, so one slot suffices. If the
// guest has no exception store the exception stays pending for host-side
// polling via PendingException.
func (b *Bridge) storeException(ctx context.Context, cause error) {
	b.pending = cause
	h := b.table.Add(cause)
	b.log.Debug("host exception captured",
		zap.Error(cause), zap.Uint32("handle", uint32(h)))

	if err := b.guest.ExnStore(ctx, h); err != nil {
		b.log.Warn("exception hand-off failed", zap.Error(err))
		return
	}
	b.pending = nil
}

// PendingException returns the captured host exception that could not be
// handed to the guest, or nil.
func (b *Bridge) PendingException() error {
	return b.pending
}
