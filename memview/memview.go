// Package memview provides cached typed views over guest linear memory.
//
// Guest memory can be resized by allocation calls during the lifetime of any
// cross-boundary call, and growth may relocate the backing buffer. A cached
// view is therefore valid only while the memory's size is unchanged; every
// accessor revalidates before use. There is no proactive invalidation event,
// only validate-on-access.
package memview

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/chasmware/gangway"
)

// ErrOutOfRange is returned for accesses past the end of guest memory.
var ErrOutOfRange = errors.New("memview: access out of range")

// Cache lazily materializes a byte view over the full guest memory and
// rebuilds it whenever the memory has grown since the view was captured.
// Wasm memory never shrinks, so a size comparison detects every resize.
//
// Not safe for concurrent use; the bridge serializes all access.
type Cache struct {
	mem  gangway.Memory
	buf  []byte
	size uint32
}

// New returns a cache over mem. No view is captured until first access.
func New(mem gangway.Memory) *Cache {
	return &Cache{mem: mem, size: math.MaxUint32}
}

// Bytes returns the current full-memory view, recapturing it if the memory
// was resized since the last access. The returned slice aliases guest
// memory and must not be retained across calls that may allocate.
func (c *Cache) Bytes() []byte {
	if cur := c.mem.Size(); c.size != cur {
		// Read of the full range cannot fail; a zero-sized memory yields an
		// empty view.
		c.buf, _ = c.mem.Read(0, cur)
		c.size = cur
	}
	return c.buf
}

// Range returns a zero-copy view over [ptr, ptr+length).
func (c *Cache) Range(ptr, length uint32) ([]byte, error) {
	buf := c.Bytes()
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(buf)) {
		return nil, ErrOutOfRange
	}
	return buf[ptr:end:end], nil
}

// Uint32 reads a little-endian 32-bit integer at ptr.
func (c *Cache) Uint32(ptr uint32) (uint32, error) {
	b, err := c.Range(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutUint32 writes a little-endian 32-bit integer at ptr.
func (c *Cache) PutUint32(ptr uint32, v uint32) error {
	b, err := c.Range(ptr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Float64 reads a little-endian 64-bit float at ptr.
func (c *Cache) Float64(ptr uint32) (float64, error) {
	b, err := c.Range(ptr, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// PutFloat64 writes a little-endian 64-bit float at ptr.
func (c *Cache) PutFloat64(ptr uint32, v float64) error {
	b, err := c.Range(ptr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return nil
}
