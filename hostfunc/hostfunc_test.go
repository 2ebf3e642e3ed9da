package hostfunc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chasmware/gangway/codec"
	"github.com/chasmware/gangway/handle"
	"github.com/chasmware/gangway/hostfunc"
	"github.com/chasmware/gangway/memview"
	"github.com/chasmware/gangway/trampoline"
)

// envMem is a bump-allocated guest memory that relocates on growth.
type envMem struct {
	data []byte
	next uint32
}

func (m *envMem) Size() uint32 { return uint32(len(m.data)) }

func (m *envMem) Read(offset, count uint32) ([]byte, bool) {
	if uint64(offset)+uint64(count) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+count : offset+count], true
}

func (m *envMem) alloc(size uint32) (uint32, error) {
	ptr := m.next
	m.next += size
	if int(m.next) > len(m.data) {
		fresh := make([]byte, m.next*2)
		copy(fresh, m.data)
		m.data = fresh
	}
	return ptr, nil
}

func (m *envMem) realloc(ptr, oldSize, newSize uint32) (uint32, error) {
	np, err := m.alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(m.data[np:np+oldSize], m.data[ptr:ptr+oldSize])
	return np, nil
}

type timerReq struct {
	a, b, dtor uint32
	delay      time.Duration
}

// fakeEnv implements hostfunc.Env over fake guest memory, standing in for
// the bridge.
type fakeEnv struct {
	table   *handle.Table
	view    *memview.Cache
	mem     *envMem
	log     *zap.Logger
	timers  []timerReq
	cleared []uint32
}

func newFakeEnv() *fakeEnv {
	mem := &envMem{data: make([]byte, 64), next: 16}
	return &fakeEnv{
		table: handle.NewTable(),
		view:  memview.New(mem),
		mem:   mem,
		log:   zap.NewNop(),
	}
}

func (e *fakeEnv) Table() *handle.Table { return e.table }
func (e *fakeEnv) View() *memview.Cache { return e.view }

func (e *fakeEnv) EncodeString(ctx context.Context, s string) (uint32, uint32, error) {
	return codec.EncodeString(e.view, e.mem.alloc, e.mem.realloc, s)
}

func (e *fakeEnv) DecodeString(ptr, length uint32) (string, error) {
	return codec.DecodeString(e.view, ptr, length)
}

func (e *fakeEnv) GuestBytes(ptr, length uint32) ([]byte, error) {
	return codec.Bytes(e.view, ptr, length)
}

func (e *fakeEnv) WriteBytes(ctx context.Context, data []byte) (uint32, uint32, error) {
	return codec.WriteBytes(e.view, e.mem.alloc, data)
}

type nopDispatch struct{}

func (nopDispatch) ClosureCall(ctx context.Context, a, b uint32, arg uint64) (uint64, error) {
	return 0, nil
}
func (nopDispatch) ClosureDrop(ctx context.Context, dtor, a, b uint32) error { return nil }

func (e *fakeEnv) NewCallback(a, b, dtor uint32) *trampoline.Trampoline {
	return trampoline.New(nopDispatch{}, a, b, dtor)
}

func (e *fakeEnv) StartTimer(a, b, dtor uint32, delay time.Duration) uint32 {
	e.timers = append(e.timers, timerReq{a, b, dtor, delay})
	return uint32(len(e.timers))
}

func (e *fakeEnv) ClearTimer(ctx context.Context, id uint32) bool {
	e.cleared = append(e.cleared, id)
	return true
}

func (e *fakeEnv) Logger() *zap.Logger { return e.log }

// invoke runs a binding against env with the given argument words and
// returns the result stack.
func invoke(t *testing.T, env hostfunc.Env, b hostfunc.Binding, args ...uint64) []uint64 {
	t.Helper()
	n := len(args)
	if len(b.Results) > n {
		n = len(b.Results)
	}
	stack := make([]uint64, n)
	copy(stack, args)
	require.NoError(t, b.Fn(context.Background(), hostfunc.NewCall(env, stack)), "binding %s", b.Name)
	return stack
}

func mustGet(t *testing.T, r *hostfunc.Registry, name string) hostfunc.Binding {
	t.Helper()
	b, ok := r.Get(name)
	require.True(t, ok, "binding %s not registered", name)
	return b
}

func TestRegistryOrderAndOverride(t *testing.T) {
	r := hostfunc.NewRegistry()
	r.RegisterAll(hostfunc.Core())
	first := r.All()[0].Name

	// Re-registering keeps position, replaces implementation.
	r.Register(hostfunc.Binding{Name: first, Fn: func(ctx context.Context, call *hostfunc.Call) error {
		return nil
	}})
	assert.Equal(t, first, r.All()[0].Name)
	assert.Len(t, r.All(), len(hostfunc.Core()))
}

func TestStringRoundTripThroughTable(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()

	// Guest writes "café" into its memory and hands it to string_new.
	ptr, length, err := env.EncodeString(context.Background(), "café")
	require.NoError(t, err)
	stack := invoke(t, env, mustGet(t, r, "string_new"), uint64(ptr), uint64(length))
	h := handle.Handle(api.DecodeU32(stack[0]))
	assert.GreaterOrEqual(t, uint32(h), uint32(32), "dynamic handle expected")

	ref, err := env.Table().Get(h)
	require.NoError(t, err)
	assert.Equal(t, "café", ref)

	// string_get writes the (ptr, len) pair to a guest return area.
	retPtr, _ := env.mem.alloc(8)
	invoke(t, env, mustGet(t, r, "string_get"), uint64(h), uint64(retPtr))

	outPtr, err := env.View().Uint32(retPtr)
	require.NoError(t, err)
	outLen, err := env.View().Uint32(retPtr + 4)
	require.NoError(t, err)
	got, err := env.DecodeString(outPtr, outLen)
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestStringGetRejectsNonString(t *testing.T) {
	env := newFakeEnv()
	b := mustGet(t, hostfunc.Default(), "string_get")

	h := env.Table().Add(42)
	stack := []uint64{uint64(h), 0}
	err := b.Fn(context.Background(), hostfunc.NewCall(env, stack))
	assert.ErrorContains(t, err, "not a string")
}

func TestObjectDropAndClone(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()

	h := env.Table().Add("obj")
	stack := invoke(t, env, mustGet(t, r, "object_clone"), uint64(h))
	clone := handle.Handle(api.DecodeU32(stack[0]))
	assert.NotEqual(t, h, clone)

	invoke(t, env, mustGet(t, r, "object_drop"), uint64(h))
	_, err := env.Table().Get(h)
	assert.ErrorIs(t, err, handle.ErrBadHandle)

	// The clone survives the drop.
	ref, err := env.Table().Get(clone)
	require.NoError(t, err)
	assert.Equal(t, "obj", ref)
}

func TestBufferBindings(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()

	data := []byte{10, 20, 30, 40}
	ptr, length, err := env.WriteBytes(context.Background(), data)
	require.NoError(t, err)

	stack := invoke(t, env, mustGet(t, r, "buffer_new"), uint64(ptr), uint64(length))
	h := stack[0]

	stack = invoke(t, env, mustGet(t, r, "buffer_len"), h)
	assert.Equal(t, uint32(4), api.DecodeU32(stack[0]))

	dst, _ := env.mem.alloc(4)
	stack = invoke(t, env, mustGet(t, r, "buffer_copy"), h, uint64(dst), 4)
	assert.Equal(t, uint32(4), api.DecodeU32(stack[0]))

	got, err := env.GuestBytes(dst, 4)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPropertyBindings(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()
	ctx := context.Background()

	type card struct {
		Word  string
		Score int
	}
	h := env.Table().Add(card{Word: "bridge", Score: 3})

	kPtr, kLen, err := env.EncodeString(ctx, "Word")
	require.NoError(t, err)
	stack := invoke(t, env, mustGet(t, r, "object_get"), uint64(h), uint64(kPtr), uint64(kLen))
	ref, err := env.Table().Get(handle.Handle(api.DecodeU32(stack[0])))
	require.NoError(t, err)
	assert.Equal(t, "bridge", ref)

	mapH := env.Table().Add(map[string]int{"score": 7})
	kPtr, kLen, err = env.EncodeString(ctx, "score")
	require.NoError(t, err)
	stack = invoke(t, env, mustGet(t, r, "object_get"), uint64(mapH), uint64(kPtr), uint64(kLen))
	ref, err = env.Table().Get(handle.Handle(api.DecodeU32(stack[0])))
	require.NoError(t, err)
	assert.Equal(t, 7, ref)

	// Missing key is a checked error, not a panic.
	mPtr, mLen, err := env.EncodeString(ctx, "missing")
	require.NoError(t, err)
	b := mustGet(t, r, "object_get")
	err = b.Fn(ctx, hostfunc.NewCall(env, []uint64{uint64(mapH), uint64(mPtr), uint64(mLen)}))
	assert.ErrorContains(t, err, "missing")

	sliceH := env.Table().Add([]string{"a", "b", "c"})
	stack = invoke(t, env, mustGet(t, r, "object_index"), uint64(sliceH), 1)
	ref, err = env.Table().Get(handle.Handle(api.DecodeU32(stack[0])))
	require.NoError(t, err)
	assert.Equal(t, "b", ref)

	idx := mustGet(t, r, "object_index")
	err = idx.Fn(ctx, hostfunc.NewCall(env, []uint64{uint64(sliceH), 5}))
	assert.ErrorContains(t, err, "out of range")
}

func TestStorageBindings(t *testing.T) {
	env := newFakeEnv()
	store := hostfunc.NewStorage()
	r := hostfunc.NewRegistry()
	r.RegisterAll(store.Bindings())
	ctx := context.Background()

	kPtr, kLen, err := env.EncodeString(ctx, "progress")
	require.NoError(t, err)
	vPtr, vLen, err := env.EncodeString(ctx, "lesson-12")
	require.NoError(t, err)
	invoke(t, env, mustGet(t, r, "storage_set"), uint64(kPtr), uint64(kLen), uint64(vPtr), uint64(vLen))

	v, ok := store.Get("progress")
	require.True(t, ok)
	assert.Equal(t, "lesson-12", v)

	retPtr, _ := env.mem.alloc(8)
	invoke(t, env, mustGet(t, r, "storage_get"), uint64(kPtr), uint64(kLen), uint64(retPtr))
	outPtr, _ := env.View().Uint32(retPtr)
	outLen, _ := env.View().Uint32(retPtr + 4)
	got, err := env.DecodeString(outPtr, outLen)
	require.NoError(t, err)
	assert.Equal(t, "lesson-12", got)

	// Missing key yields the (0, 0) pair.
	mPtr, mLen, err := env.EncodeString(ctx, "missing")
	require.NoError(t, err)
	invoke(t, env, mustGet(t, r, "storage_get"), uint64(mPtr), uint64(mLen), uint64(retPtr))
	outPtr, _ = env.View().Uint32(retPtr)
	outLen, _ = env.View().Uint32(retPtr + 4)
	assert.Zero(t, outPtr)
	assert.Zero(t, outLen)
}

func TestTimerBindings(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()

	stack := invoke(t, env, mustGet(t, r, "timeout_start"),
		uint64(0x10), uint64(0x20), uint64(7), api.EncodeF64(250))
	id := api.DecodeU32(stack[0])
	require.Len(t, env.timers, 1)
	assert.Equal(t, 250*time.Millisecond, env.timers[0].delay)
	assert.Equal(t, uint32(0x10), env.timers[0].a)

	invoke(t, env, mustGet(t, r, "timeout_clear"), uint64(id))
	assert.Equal(t, []uint32{id}, env.cleared)
}

func TestConsoleLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := newFakeEnv()
	env.log = zap.New(core)
	r := hostfunc.Default()

	ptr, length, err := env.EncodeString(context.Background(), "guest says hi")
	require.NoError(t, err)
	invoke(t, env, mustGet(t, r, "console_log"), uint64(ptr), uint64(length))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "guest says hi", entries[0].Message)
}

func TestClockBindings(t *testing.T) {
	env := newFakeEnv()
	r := hostfunc.Default()

	stack := invoke(t, env, mustGet(t, r, "time_now"))
	now := api.DecodeF64(stack[0])
	assert.InDelta(t, float64(time.Now().UnixNano())/1e9, now, 5)

	stack = invoke(t, env, mustGet(t, r, "time_offset"))
	offset := api.DecodeF64(stack[0])
	assert.LessOrEqual(t, offset, 14.0)
	assert.GreaterOrEqual(t, offset, -12.0)
}
