package hostfunc

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/chasmware/gangway/handle"
)

// Call carries one binding invocation: the raw wasm value stack plus the
// Env to marshal through. Results are written back into the same stack,
// wazero-style.
type Call struct {
	Env   Env
	stack []uint64
}

// NewCall wraps a wasm value stack for a binding invocation.
func NewCall(env Env, stack []uint64) *Call {
	return &Call{Env: env, stack: stack}
}

// Arg returns the raw argument word at index i.
func (c *Call) Arg(i int) uint64 { return c.stack[i] }

// Uint32 decodes argument i as an i32.
func (c *Call) Uint32(i int) uint32 { return api.DecodeU32(c.stack[i]) }

// Int32 decodes argument i as a signed i32.
func (c *Call) Int32(i int) int32 { return api.DecodeI32(c.stack[i]) }

// Float64 decodes argument i as an f64.
func (c *Call) Float64(i int) float64 { return api.DecodeF64(c.stack[i]) }

// Handle decodes argument i as a handle.
func (c *Call) Handle(i int) handle.Handle {
	return handle.Handle(api.DecodeU32(c.stack[i]))
}

// Ref resolves argument i through the handle table.
func (c *Call) Ref(i int) (any, error) {
	return c.Env.Table().Get(c.Handle(i))
}

// String decodes the (pointer, length) pair at arguments i and i+1 as a
// guest UTF-8 string.
func (c *Call) String(i int) (string, error) {
	return c.Env.DecodeString(c.Uint32(i), c.Uint32(i+1))
}

// Bytes returns the guest byte range named by the (pointer, length) pair
// at arguments i and i+1. Zero-copy; valid only within this call.
func (c *Call) Bytes(i int) ([]byte, error) {
	return c.Env.GuestBytes(c.Uint32(i), c.Uint32(i+1))
}

// StringRef resolves argument i and requires the referenced host object to
// be a string.
func (c *Call) StringRef(i int) (string, error) {
	ref, err := c.Ref(i)
	if err != nil {
		return "", err
	}
	s, ok := ref.(string)
	if !ok {
		return "", fmt.Errorf("hostfunc: handle %d holds %T, not a string", c.Handle(i), ref)
	}
	return s, nil
}

// Return writes the raw result word.
func (c *Call) Return(v uint64) { c.stack[0] = v }

// ReturnUint32 encodes an i32 result.
func (c *Call) ReturnUint32(v uint32) { c.stack[0] = api.EncodeU32(v) }

// ReturnFloat64 encodes an f64 result.
func (c *Call) ReturnFloat64(v float64) { c.stack[0] = api.EncodeF64(v) }

// ReturnRef parks ref in the handle table and returns its handle.
func (c *Call) ReturnRef(ref any) {
	c.ReturnUint32(uint32(c.Env.Table().Add(ref)))
}

// ReturnHandle encodes an existing handle as the result.
func (c *Call) ReturnHandle(h handle.Handle) { c.ReturnUint32(uint32(h)) }
