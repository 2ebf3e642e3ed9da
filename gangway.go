package gangway

// Memory is the host capability the bridge needs from guest linear memory:
// the current byte length (growth detection works by comparing sizes, since
// wasm memory never shrinks) and range reads that return views into the
// underlying buffer. wazero's api.Memory satisfies this interface.
type Memory interface {
	// Size returns the current length of the memory in bytes.
	Size() uint32
	// Read returns a view over [offset, offset+count). The view aliases the
	// underlying buffer and is invalidated by any memory growth; ok is false
	// when the range is out of bounds.
	Read(offset, count uint32) ([]byte, bool)
}

// Allocator allocates size bytes inside guest memory and returns the
// pointer. Backed by the guest's exported allocation entry point.
type Allocator func(size uint32) (uint32, error)

// Reallocator grows a prior allocation from oldSize to newSize bytes,
// returning the (possibly moved) pointer. Backed by the guest's exported
// reallocation entry point. A nil Reallocator selects the codec's one-shot
// encode path.
type Reallocator func(ptr, oldSize, newSize uint32) (uint32, error)
