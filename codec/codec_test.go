package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chasmware/gangway/memview"
)

// guestMem simulates a guest with a bump allocator whose memory relocates
// on growth, like a real wasm instance behind exported malloc/realloc.
type guestMem struct {
	data []byte
	next uint32

	allocs   int
	reallocs []uint32 // new sizes requested
}

func newGuestMem() *guestMem {
	return &guestMem{data: make([]byte, 16), next: 8}
}

func (m *guestMem) Size() uint32 { return uint32(len(m.data)) }

func (m *guestMem) Read(offset, count uint32) ([]byte, bool) {
	if uint64(offset)+uint64(count) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+count : offset+count], true
}

func (m *guestMem) alloc(size uint32) (uint32, error) {
	m.allocs++
	ptr := m.next
	m.next += size
	if int(m.next) > len(m.data) {
		fresh := make([]byte, m.next*2)
		copy(fresh, m.data)
		m.data = fresh
	}
	return ptr, nil
}

func (m *guestMem) realloc(ptr, oldSize, newSize uint32) (uint32, error) {
	m.reallocs = append(m.reallocs, newSize)
	np, err := m.alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(m.data[np:np+oldSize], m.data[ptr:ptr+oldSize])
	return np, nil
}

func roundTrip(t *testing.T, s string, grow bool) {
	t.Helper()
	mem := newGuestMem()
	view := memview.New(mem)

	var ptr, length uint32
	var err error
	if grow {
		ptr, length, err = EncodeString(view, mem.alloc, mem.realloc, s)
	} else {
		ptr, length, err = EncodeString(view, mem.alloc, nil, s)
	}
	if err != nil {
		t.Fatalf("EncodeString(%q): %v", s, err)
	}

	got, err := DecodeString(view, ptr, length)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if got != s {
		t.Errorf("round trip = %q, want %q", got, s)
	}
}

func TestRoundTripASCII(t *testing.T) {
	roundTrip(t, "hello, bridge", false)
	roundTrip(t, "hello, bridge", true)
}

func TestRoundTripMultiByte(t *testing.T) {
	roundTrip(t, "café über 世界", false)
	roundTrip(t, "café über 世界", true)
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, "", false)
	roundTrip(t, "", true)
}

func TestCafeGrowthScenario(t *testing.T) {
	mem := newGuestMem()
	view := memview.New(mem)

	ptr, length, err := EncodeString(view, mem.alloc, mem.realloc, "café")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	if length != 5 {
		t.Fatalf("length = %d, want 5 encoded bytes", length)
	}

	got, err := Bytes(view, ptr, length)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := []byte{'c', 'a', 'f', 0xC3, 0xA9}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded = % x, want % x", got, want)
	}

	// The fast path consumed the 3 ASCII bytes of the 4-rune initial
	// allocation, then grew exactly once to the final size.
	if len(mem.reallocs) != 1 || mem.reallocs[0] != 5 {
		t.Errorf("reallocs = %v, want one growth to 5", mem.reallocs)
	}
}

func TestGrowthPathMatchesOneShot(t *testing.T) {
	for _, s := range []string{"plain ascii", "mix: café", "é leading", "emoji \U0001F600 tail"} {
		oneShot := newGuestMem()
		p1, l1, err := EncodeString(memview.New(oneShot), oneShot.alloc, nil, s)
		if err != nil {
			t.Fatalf("one-shot %q: %v", s, err)
		}

		grown := newGuestMem()
		p2, l2, err := EncodeString(memview.New(grown), grown.alloc, grown.realloc, s)
		if err != nil {
			t.Fatalf("growth %q: %v", s, err)
		}

		if !bytes.Equal(oneShot.data[p1:p1+l1], grown.data[p2:p2+l2]) {
			t.Errorf("%q: growth path bytes differ from one-shot", s)
		}
	}
}

func TestASCIIAvoidsRealloc(t *testing.T) {
	mem := newGuestMem()
	view := memview.New(mem)

	if _, _, err := EncodeString(view, mem.alloc, mem.realloc, "pure ascii"); err != nil {
		t.Fatal(err)
	}
	if len(mem.reallocs) != 0 {
		t.Errorf("reallocs = %v, want none for ASCII input", mem.reallocs)
	}
}

func TestDecodeStrict(t *testing.T) {
	mem := newGuestMem()
	view := memview.New(mem)

	ptr, _ := mem.alloc(3)
	copy(mem.data[ptr:], []byte{0xFF, 0xFE, 0x41})

	if _, err := DecodeString(view, ptr, 3); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("DecodeString(malformed): err = %v, want ErrInvalidUTF8", err)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	mem := newGuestMem()
	view := memview.New(mem)

	if _, err := DecodeString(view, mem.Size(), 4); !errors.Is(err, memview.ErrOutOfRange) {
		t.Errorf("DecodeString past end: err = %v, want ErrOutOfRange", err)
	}
}

func TestWriteBytesRoundTrip(t *testing.T) {
	mem := newGuestMem()
	view := memview.New(mem)

	data := []byte{0, 1, 2, 253, 254, 255}
	ptr, length, err := WriteBytes(view, mem.alloc, data)
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := Bytes(view, ptr, length)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("buffer = %v, want %v", got, data)
	}
}
