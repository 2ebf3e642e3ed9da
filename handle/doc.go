// Package handle implements the opaque-handle table that lets guest code
// hold indirect, revocable references to host objects.
//
// Guest code cannot store host references in its linear memory, so every
// host object that crosses the boundary is parked in a [Table] slot and the
// slot index travels instead. Handles 0-3 are reserved for the constants
// undefined, null, true and false; dynamic handles start at 32. Freed slots
// are recycled through an intrusive free list, so a long-running guest that
// balances its Add and Drop calls never grows the table past its high-water
// mark of live references.
//
// Misusing a handle (reading one that was already taken or dropped) is a
// checked fault: operations return [ErrBadHandle] rather than corrupting
// the table.
package handle
