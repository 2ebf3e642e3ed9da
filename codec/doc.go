// Package codec marshals strings and byte buffers between host memory and
// guest linear memory.
//
// Text crosses the boundary as a (pointer, length) pair naming a UTF-8 byte
// range that the guest owns. Encoding allocates through the guest's own
// exported allocator, so the guest's memory manager stays in charge of
// every byte the host writes. Decoding is strict: malformed UTF-8 fails
// with [ErrInvalidUTF8] rather than being silently repaired, which keeps
// round trips exact and corruption observable.
//
// Byte buffers are exposed as zero-copy views over guest memory. A view is
// only valid until the next guest allocation, because growth can relocate
// the backing buffer; callers that need to retain data must copy it.
package codec
