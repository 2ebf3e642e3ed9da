package handle

import "errors"

// Handle identifies a slot in a Table. Handles are the only form in which
// guest code ever sees a host object.
type Handle uint32

// Reserved handles. The guest may use these without ever calling Add.
const (
	Undefined Handle = 0
	Null      Handle = 1
	True      Handle = 2
	False     Handle = 3
)

// reserved is the first dynamically allocated slot index. Slots below it are
// permanently live: four constants plus a safety margin, never recycled.
const reserved = 32

// ErrBadHandle is returned when a handle does not name a live slot.
var ErrBadHandle = errors.New("handle: not a live handle")

type undefinedValue struct{}

// UndefinedValue is the host representation of the guest's "undefined"
// constant, distinct from nil (which represents null).
var UndefinedValue any = undefinedValue{}

// freeSlot marks a recycled slot and links it into the free list.
type freeSlot uint32

// Table is a growable slot array holding host-object references, indexed by
// the integer handles passed across the boundary. Free slots form an
// intrusive free list so handle churn stays O(1) and memory growth is
// bounded by the high-water mark of concurrently live references.
//
// Not safe for concurrent use; the bridge serializes all access.
type Table struct {
	slots []any
	next  uint32 // free-list head; == len(slots) when the list is empty
}

// NewTable returns a table with the reserved slots populated.
func NewTable() *Table {
	t := &Table{
		slots: make([]any, reserved),
		next:  reserved,
	}
	for i := range t.slots {
		t.slots[i] = UndefinedValue
	}
	t.slots[Null] = nil
	t.slots[True] = true
	t.slots[False] = false
	return t
}

// Add stores ref and returns a fresh handle, reusing a freed slot when one
// is available and appending (with the usual doubling growth) otherwise.
func (t *Table) Add(ref any) Handle {
	if t.next == uint32(len(t.slots)) {
		t.slots = append(t.slots, freeSlot(len(t.slots)+1))
	}
	idx := t.next
	t.next = uint32(t.slots[idx].(freeSlot))
	t.slots[idx] = ref
	return Handle(idx)
}

// Get returns the reference held by h without mutating table state.
func (t *Table) Get(h Handle) (any, error) {
	idx := uint32(h)
	if idx >= uint32(len(t.slots)) {
		return nil, ErrBadHandle
	}
	ref := t.slots[idx]
	if _, free := ref.(freeSlot); free {
		return nil, ErrBadHandle
	}
	return ref, nil
}

// Take returns the reference held by h and recycles the slot. Reserved
// slots are never recycled: Take on them behaves like Get.
func (t *Table) Take(h Handle) (any, error) {
	ref, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	if uint32(h) >= reserved {
		t.slots[h] = freeSlot(t.next)
		t.next = uint32(h)
	}
	return ref, nil
}

// Drop recycles the slot without returning the value.
func (t *Table) Drop(h Handle) error {
	_, err := t.Take(h)
	return err
}

// Live returns the number of occupied dynamic slots. Useful for leak checks
// in tests.
func (t *Table) Live() int {
	n := 0
	for _, ref := range t.slots[reserved:] {
		if _, free := ref.(freeSlot); !free {
			n++
		}
	}
	return n
}
