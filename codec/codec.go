package codec

import (
	"errors"
	"unicode/utf8"

	"github.com/chasmware/gangway"
	"github.com/chasmware/gangway/memview"
)

// ErrInvalidUTF8 is returned by DecodeString when the byte range is not
// well-formed UTF-8. Decoding is strict: no replacement characters, so
// corruption is detectable and valid data round-trips exactly.
var ErrInvalidUTF8 = errors.New("codec: invalid UTF-8 sequence")

// errNoAllocator is returned when EncodeString is called without an
// allocator, which can only happen through a miswired bridge.
var errNoAllocator = errors.New("codec: nil allocator")

// EncodeString copies s into guest memory as UTF-8 and returns the
// (pointer, length) pair the guest understands. The returned length is the
// number of encoded bytes, not the allocated capacity.
//
// With a nil realloc the final size is known upfront and the string is
// copied in one pass into a single allocation. With a realloc an ASCII fast
// path writes one byte per code point into an initially rune-counted
// buffer; on the first non-ASCII code point the buffer is grown once, by
// the exact byte length of the remaining text, and the tail is encoded into
// the grown region.
//
// Both paths produce identical byte ranges for the same input. Allocation
// may grow guest memory; view revalidates on access, so no stale writes
// occur.
func EncodeString(view *memview.Cache, alloc gangway.Allocator, realloc gangway.Reallocator, s string) (uint32, uint32, error) {
	if alloc == nil {
		return 0, 0, errNoAllocator
	}
	if realloc == nil {
		return encodeOneShot(view, alloc, s)
	}
	return encodeGrow(view, alloc, realloc, s)
}

func encodeOneShot(view *memview.Cache, alloc gangway.Allocator, s string) (uint32, uint32, error) {
	size := uint32(len(s))
	ptr, err := alloc(size)
	if err != nil {
		return 0, 0, err
	}
	if size == 0 {
		return ptr, 0, nil
	}
	buf, err := view.Range(ptr, size)
	if err != nil {
		return 0, 0, err
	}
	copy(buf, s)
	return ptr, size, nil
}

func encodeGrow(view *memview.Cache, alloc gangway.Allocator, realloc gangway.Reallocator, s string) (uint32, uint32, error) {
	// One byte per code point is exact for ASCII; the fast path runs until
	// that assumption breaks.
	capacity := uint32(utf8.RuneCountInString(s))
	ptr, err := alloc(capacity)
	if err != nil {
		return 0, 0, err
	}
	if capacity == 0 {
		return ptr, 0, nil
	}

	buf, err := view.Range(ptr, capacity)
	if err != nil {
		return 0, 0, err
	}
	offset := uint32(0)
	for offset < uint32(len(s)) {
		b := s[offset]
		if b >= utf8.RuneSelf {
			break
		}
		buf[offset] = b
		offset++
	}
	if offset == uint32(len(s)) {
		// Pure ASCII, capacity was exact.
		return ptr, offset, nil
	}

	// Grow once: the remaining byte length is known exactly because host
	// strings are already UTF-8.
	size := uint32(len(s))
	ptr, err = realloc(ptr, capacity, size)
	if err != nil {
		return 0, 0, err
	}
	tail, err := view.Range(ptr+offset, size-offset)
	if err != nil {
		return 0, 0, err
	}
	copy(tail, s[offset:])
	return ptr, size, nil
}

// DecodeString reads the UTF-8 byte range [ptr, ptr+length) from guest
// memory and returns it as a host string. Malformed UTF-8 is a hard
// failure.
func DecodeString(view *memview.Cache, ptr, length uint32) (string, error) {
	b, err := view.Range(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// Bytes returns a zero-copy view over a guest byte buffer. The view is
// valid only for the duration of the current boundary crossing: any guest
// allocation afterwards may relocate the backing memory.
func Bytes(view *memview.Cache, ptr, length uint32) ([]byte, error) {
	return view.Range(ptr, length)
}

// WriteBytes copies host bytes into a fresh guest allocation and returns
// the (pointer, length) pair.
func WriteBytes(view *memview.Cache, alloc gangway.Allocator, data []byte) (uint32, uint32, error) {
	if alloc == nil {
		return 0, 0, errNoAllocator
	}
	size := uint32(len(data))
	ptr, err := alloc(size)
	if err != nil {
		return 0, 0, err
	}
	if size == 0 {
		return ptr, 0, nil
	}
	buf, err := view.Range(ptr, size)
	if err != nil {
		return 0, 0, err
	}
	copy(buf, data)
	return ptr, size, nil
}
