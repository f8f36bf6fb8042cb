package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type table struct {
	name string
}

type result struct {
	h   *Handle[uintptr, *table]
	err error
}

func getAsync(r *Registry[uintptr, *table], key uintptr) <-chan result {
	ch := make(chan result, 1)
	go func() {
		h, err := r.Get(context.Background(), key)
		ch <- result{h, err}
	}()
	return ch
}

func recv(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("lookup did not return")
		return result{}
	}
}

func TestCreateThenGet_Immediate(t *testing.T) {
	r := New[uintptr, *table]()
	ctx := context.Background()

	h, err := r.Create(ctx, 0x10, &table{name: "device"})
	require.NoError(t, err)
	require.True(t, h.Has())
	h.Release()

	// Zero wait budget: a published key must not need to wait.
	ctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	got, err := r.Get(ctx, 0x10)
	require.NoError(t, err)
	require.True(t, got.Has())
	defer got.Release()

	assert.Equal(t, "device", got.Value().name)
	assert.Equal(t, uintptr(0x10), got.Key())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.Pending())
}

func TestGet_AbsentIsPrompt(t *testing.T) {
	r := New[uintptr, *table](WithWaitTimeout(time.Minute))

	start := time.Now()
	h, err := r.Get(context.Background(), 0xdead)
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.False(t, h.Has())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Methods on an absent handle are safe.
	assert.Nil(t, h.Value())
	assert.Equal(t, uintptr(0), h.Key())
	h.Release()
}

func TestGet_WaitsForReservedKey(t *testing.T) {
	r := New[uintptr, *table]()
	c, err := r.Reserve(0x20)
	require.NoError(t, err)

	const lookups = 8
	chans := make([]<-chan result, lookups)
	for i := range chans {
		chans[i] = getAsync(r, 0x20)
	}

	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond,
		"all lookups for one key share one pending record")
	assert.Equal(t, 1, r.slots.InUse())

	h, err := c.Publish(context.Background(), &table{name: "late"})
	require.NoError(t, err)
	h.Release()

	for _, ch := range chans {
		res := recv(t, ch)
		require.NoError(t, res.err)
		require.True(t, res.h.Has())
		assert.Equal(t, "late", res.h.Value().name)
		res.h.Release()
	}
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, 0, r.slots.InUse())
}

func TestNoLostWakeup(t *testing.T) {
	r := New[uintptr, *table](WithWaitSlots(4), WithPendingCapacity(4))
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		key := uintptr(0x1000 + i)
		c, err := r.Reserve(key)
		require.NoError(t, err)

		want := &table{name: fmt.Sprint(i)}
		var g errgroup.Group
		var got atomic.Pointer[table]
		g.Go(func() error {
			h, err := r.Get(ctx, key)
			if err != nil {
				return err
			}
			if !h.Has() {
				return fmt.Errorf("key %#x reported absent", key)
			}
			got.Store(h.Value())
			h.Release()
			return nil
		})
		g.Go(func() error {
			h, err := c.Publish(ctx, want)
			h.Release()
			return err
		})
		require.NoError(t, g.Wait())
		require.Same(t, want, got.Load())
	}
	assert.Equal(t, 0, r.slots.InUse())
}

func TestCreate_SingleWriter(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := New[uintptr, *table]()
		var wg sync.WaitGroup
		var ok, misuse atomic.Int32
		for _, name := range []string{"v1", "v2"} {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				h, err := r.Create(context.Background(), 0x30, &table{name: name})
				switch {
				case err == nil:
					ok.Add(1)
					h.Release()
				case IsMisuse(err):
					misuse.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(name)
		}
		wg.Wait()
		require.Equal(t, int32(1), ok.Load())
		require.Equal(t, int32(1), misuse.Load())
		require.Equal(t, 1, r.Len())
	}
}

func TestReserve_Misuse(t *testing.T) {
	r := New[uintptr, *table]()
	_, err := r.Reserve(1)
	require.NoError(t, err)

	_, err = r.Reserve(1)
	assert.ErrorIs(t, err, ErrDuplicateCreate)
	assert.ErrorIs(t, err, ErrMisuse)

	h, err := r.Create(context.Background(), 2, &table{})
	require.NoError(t, err)
	h.Release()
	_, err = r.Reserve(2)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRemoveThenRecreate(t *testing.T) {
	r := New[uintptr, *table]()
	ctx := context.Background()

	h, err := r.Create(ctx, 0x40, &table{name: "v1"})
	require.NoError(t, err)
	h.Release()

	removed, err := r.Remove(ctx, 0x40)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Remove(ctx, 0x40)
	require.NoError(t, err)
	assert.False(t, removed)

	h, err = r.Get(ctx, 0x40)
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = r.Create(ctx, 0x40, &table{name: "v2"})
	require.NoError(t, err)
	h.Release()

	h, err = r.Get(ctx, 0x40)
	require.NoError(t, err)
	require.True(t, h.Has())
	assert.Equal(t, "v2", h.Value().name)
	h.Release()
}

func TestSlotReuse_WakesOnlyMatchingKey(t *testing.T) {
	r := New[uintptr, *table](WithWaitSlots(2))
	ctx := context.Background()
	const a, b, c = uintptr(0xa), uintptr(0xb), uintptr(0xc)

	creations := map[uintptr]*Creation[uintptr, *table]{}
	for _, k := range []uintptr{a, b, c} {
		cr, err := r.Reserve(k)
		require.NoError(t, err)
		creations[k] = cr
	}

	chA := getAsync(r, a)
	chB := getAsync(r, b)
	require.Eventually(t, func() bool { return r.Pending() == 2 }, time.Second, time.Millisecond)

	// Third distinct key: no slot left.
	_, err := r.Get(ctx, c)
	require.Error(t, err)
	assert.True(t, IsCapacity(err))

	hb, err := creations[b].Publish(ctx, &table{name: "b"})
	require.NoError(t, err)
	hb.Release()

	res := recv(t, chB)
	require.NoError(t, res.err)
	assert.Equal(t, "b", res.h.Value().name)
	res.h.Release()

	select {
	case res := <-chA:
		t.Fatalf("A woke on B's publish: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	// B's slot is free again; C can wait now and gets its own wakeup.
	chC := getAsync(r, c)
	require.Eventually(t, func() bool { return r.Pending() == 2 }, time.Second, time.Millisecond)

	hc, err := creations[c].Publish(ctx, &table{name: "c"})
	require.NoError(t, err)
	hc.Release()
	res = recv(t, chC)
	require.NoError(t, res.err)
	assert.Equal(t, "c", res.h.Value().name)
	res.h.Release()

	ha, err := creations[a].Publish(ctx, &table{name: "a"})
	require.NoError(t, err)
	ha.Release()
	res = recv(t, chA)
	require.NoError(t, res.err)
	assert.Equal(t, "a", res.h.Value().name)
	res.h.Release()
}

func TestAbort_WakesWaitersWithAbsent(t *testing.T) {
	r := New[uintptr, *table]()
	c, err := r.Reserve(0x50)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x50), c.Key())

	ch := getAsync(r, 0x50)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Abort())
	res := recv(t, ch)
	require.NoError(t, res.err)
	assert.Nil(t, res.h)

	err = c.Abort()
	assert.ErrorIs(t, err, ErrCreationClosed)
	_, err = c.Publish(context.Background(), &table{})
	assert.ErrorIs(t, err, ErrCreationClosed)

	// The key can be reserved again.
	_, err = r.Reserve(0x50)
	assert.NoError(t, err)
}

func TestGet_StuckAfterTimeout(t *testing.T) {
	r := New[uintptr, *table](WithWaitTimeout(30 * time.Millisecond))
	_, err := r.Reserve(0x60)
	require.NoError(t, err)

	h, err := r.Get(context.Background(), 0x60)
	assert.Nil(t, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStuck)

	var se *StuckError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "0x60", se.Key)
	assert.GreaterOrEqual(t, se.Waited, 30*time.Millisecond)

	assert.Equal(t, 0, r.Pending(), "timed out waiter must retire its record")
	assert.Equal(t, 0, r.slots.InUse())
}

func TestGet_ContextCanceled(t *testing.T) {
	r := New[uintptr, *table](WithWaitTimeout(0))
	_, err := r.Reserve(0x70)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = r.Get(ctx, 0x70)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrStuck)
	assert.Equal(t, 0, r.slots.InUse())
}

func TestRemove_WhilePendingIsMisuse(t *testing.T) {
	r := New[uintptr, *table]()
	ctx := context.Background()
	c, err := r.Reserve(0x80)
	require.NoError(t, err)

	removed, err := r.Remove(ctx, 0x80)
	require.NoError(t, err, "reserved key without waiters is simply not published")
	assert.False(t, removed)

	ch := getAsync(r, 0x80)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond)

	removed, err = r.Remove(ctx, 0x80)
	assert.False(t, removed)
	assert.ErrorIs(t, err, ErrPendingWait)

	h, err := c.Publish(ctx, &table{name: "ok"})
	require.NoError(t, err)
	h.Release()
	res := recv(t, ch)
	require.NoError(t, res.err)
	res.h.Release()
}

func TestShared_DestroyAfterLastRelease(t *testing.T) {
	var destroyed []string
	var mu sync.Mutex
	r := New[uintptr, *table](WithDestroy(func(k uintptr, v *table) {
		mu.Lock()
		defer mu.Unlock()
		destroyed = append(destroyed, v.name)
	}))
	ctx := context.Background()

	h, err := r.Create(ctx, 1, &table{name: "one"})
	require.NoError(t, err)
	h2, err := r.Get(ctx, 1)
	require.NoError(t, err)

	removed, err := r.Remove(ctx, 1)
	require.NoError(t, err)
	require.True(t, removed)

	h.Release()
	h.Release() // no double release
	mu.Lock()
	assert.Empty(t, destroyed, "a live handle keeps the payload")
	mu.Unlock()

	assert.Equal(t, "one", h2.Value().name)
	h2.Release()
	mu.Lock()
	assert.Equal(t, []string{"one"}, destroyed)
	mu.Unlock()
}

func TestWithDestroy_TypeMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		New[uintptr, *table](WithDestroy(func(k string, v int) {}))
	})
}

func TestExclusive_HandleBlocksOtherLookups(t *testing.T) {
	r := New[uintptr, *table](WithPolicy(PolicyExclusive))
	ctx := context.Background()

	// Publish both keys first; an exclusive handle must not be held while
	// calling back into the registry.
	assert.Equal(t, PolicyExclusive, r.Policy())
	h, err := r.Create(ctx, 1, &table{name: "one"})
	require.NoError(t, err)
	h.Release()
	h, err = r.Create(ctx, 2, &table{name: "two"})
	require.NoError(t, err)
	h.Release()

	held, err := r.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, held.Has())

	ch := getAsync(r, 2)
	select {
	case <-ch:
		t.Fatal("lookup proceeded while an exclusive handle was held")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()
	res := recv(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "two", res.h.Value().name)
	res.h.Release()
}

func TestExclusive_WaitForReservedKey(t *testing.T) {
	var destroyed atomic.Int32
	r := New[uintptr, *table](
		WithPolicy(PolicyExclusive),
		WithDestroy(func(uintptr, *table) { destroyed.Add(1) }),
	)
	ctx := context.Background()
	c, err := r.Reserve(3)
	require.NoError(t, err)

	ch := getAsync(r, 3)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond)

	h, err := c.Publish(ctx, &table{name: "three"})
	require.NoError(t, err)
	h.Release()

	res := recv(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "three", res.h.Value().name)
	res.h.Release()

	removed, err := r.Remove(ctx, 3)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, int32(1), destroyed.Load())
}

func TestClose_AbortsAndDestroys(t *testing.T) {
	var destroyed atomic.Int32
	r := New[uintptr, *table](WithDestroy(func(uintptr, *table) { destroyed.Add(1) }))
	ctx := context.Background()

	for k := uintptr(1); k <= 3; k++ {
		h, err := r.Create(ctx, k, &table{})
		require.NoError(t, err)
		h.Release()
	}
	c, err := r.Reserve(9)
	require.NoError(t, err)
	ch := getAsync(r, 9)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")

	res := recv(t, ch)
	require.NoError(t, res.err)
	assert.Nil(t, res.h)
	assert.Equal(t, int32(3), destroyed.Load())
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Reserve(4)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Remove(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Publish(ctx, &table{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPanicOnMisuse(t *testing.T) {
	r := New[uintptr, *table](WithPanicOnMisuse())
	_, err := r.Reserve(1)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = r.Reserve(1)
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyShared, false},
		{"shared", PolicyShared, false},
		{" Exclusive ", PolicyExclusive, false},
		{"mutex", PolicyShared, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "shared", PolicyShared.String())
	assert.Equal(t, "exclusive", PolicyExclusive.String())
	assert.Equal(t, "policy(7)", Policy(7).String())
}

func TestConcurrentCreateGetRemove(t *testing.T) {
	r := New[uintptr, *table](WithWaitSlots(16), WithPendingCapacity(16))
	ctx := context.Background()

	const objects = 64
	const readers = 4

	var g errgroup.Group
	for i := 0; i < objects; i++ {
		key := uintptr(0x5000 + i)
		c, err := r.Reserve(key)
		require.NoError(t, err)
		want := fmt.Sprintf("obj-%d", i)

		for j := 0; j < readers; j++ {
			g.Go(func() error {
				h, err := r.Get(ctx, key)
				if err != nil {
					if IsCapacity(err) {
						return nil
					}
					return err
				}
				defer h.Release()
				if !h.Has() || h.Value().name != want {
					return fmt.Errorf("key %#x: got %+v", key, h.Value())
				}
				return nil
			})
		}
		g.Go(func() error {
			time.Sleep(time.Duration(key%3) * time.Millisecond)
			h, err := c.Publish(ctx, &table{name: want})
			if err != nil {
				return err
			}
			h.Release()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, objects, r.Len())
	assert.Equal(t, 0, r.slots.InUse())

	for i := 0; i < objects; i++ {
		removed, err := r.Remove(ctx, uintptr(0x5000+i))
		require.NoError(t, err)
		assert.True(t, removed)
	}
	assert.Equal(t, 0, r.Len())
}

// captureHandler records log lines as JSON maps.
type captureHandler struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error {
	data := map[string]any{"level": rec.Level.String(), "msg": rec.Message}
	rec.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(&h.buf).Encode(data)
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(line, &m) == nil {
			out = append(out, m["msg"].(string))
		}
	}
	return out
}

func TestLogging_MisuseAndWait(t *testing.T) {
	h := &captureHandler{}
	r := New[uintptr, *table](WithLogger(slog.New(h)), WithName("devices"))
	assert.Equal(t, "devices", r.Name())
	ctx := context.Background()

	c, err := r.Reserve(1)
	require.NoError(t, err)
	_, err = r.Reserve(1)
	require.Error(t, err)

	ch := getAsync(r, 1)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, time.Millisecond)
	hd, err := c.Publish(ctx, &table{})
	require.NoError(t, err)
	hd.Release()
	res := recv(t, ch)
	require.NoError(t, res.err)
	res.h.Release()

	msgs := h.messages()
	assert.Contains(t, msgs, "registry protocol misuse")
	assert.Contains(t, msgs, "lookup waiting for creation")
	assert.Contains(t, msgs, "woke waiting lookups")
	assert.Contains(t, msgs, "lookup woken")
}

func TestErrors_Messages(t *testing.T) {
	ce := &CapacityError{Resource: "wait slots", Capacity: 2}
	assert.Equal(t, "registry: wait slots exhausted (capacity 2)", ce.Error())
	assert.True(t, errors.Is(ce, ErrCapacity))

	se := &StuckError{Key: "0x1", Waited: time.Second}
	assert.Equal(t, "registry: lookup for 0x1 stuck after 1s", se.Error())
	assert.False(t, IsMisuse(se))
}
