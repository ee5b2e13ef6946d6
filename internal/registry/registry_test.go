package registry

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeHandle records sends and closes so tests can observe registry side
// effects without a real socket.
type fakeHandle struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (f *fakeHandle) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterAndLookup(t *testing.T) {
	r := New(Chat, zerolog.Nop())
	h := &fakeHandle{}

	r.Register("a@x.com", h)

	got, ok := r.Lookup("a@x.com")
	require.True(t, ok)
	require.Same(t, h, got.(*fakeHandle))

	_, ok = r.Lookup("b@x.com")
	require.False(t, ok)
}

func TestRegisterReplacesAndClosesPrior(t *testing.T) {
	r := New(Chat, zerolog.Nop())
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}

	r.Register("a@x.com", h1)
	r.Register("a@x.com", h2)

	got, ok := r.Lookup("a@x.com")
	require.True(t, ok)
	require.Same(t, h2, got.(*fakeHandle))
	require.True(t, h1.isClosed(), "displaced handle must be closed")
	require.False(t, h2.isClosed())
	require.Equal(t, 1, r.Len())
}

func TestRegisterSwallowsCloseError(t *testing.T) {
	r := New(Notification, zerolog.Nop())
	h1 := &fakeHandle{sendErr: errors.New("unused")}
	h2 := &fakeHandle{}

	r.Register("a@x.com", h1)
	// Close errors on the displaced handle must not surface.
	r.Register("a@x.com", h2)

	got, ok := r.Lookup("a@x.com")
	require.True(t, ok)
	require.Same(t, h2, got.(*fakeHandle))
}

func TestUnregisterCompareAndRemove(t *testing.T) {
	r := New(Chat, zerolog.Nop())
	h1 := &fakeHandle{}
	h2 := &fakeHandle{}

	r.Register("a@x.com", h1)
	r.Register("a@x.com", h2)

	// A's stale disconnect handler must not evict B's newer registration.
	r.Unregister("a@x.com", h1)
	got, ok := r.Lookup("a@x.com")
	require.True(t, ok)
	require.Same(t, h2, got.(*fakeHandle))

	r.Unregister("a@x.com", h2)
	_, ok = r.Lookup("a@x.com")
	require.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(RTC, zerolog.Nop())
	r.Register("a@x.com", &fakeHandle{})
	r.Register("b@x.com", &fakeHandle{})

	snap := r.Snapshot()
	sort.Strings(snap)
	require.Equal(t, []string{"a@x.com", "b@x.com"}, snap)

	// Mutating the snapshot must not affect the registry.
	snap[0] = "mutated"
	got := r.Snapshot()
	sort.Strings(got)
	require.Equal(t, []string{"a@x.com", "b@x.com"}, got)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New(Chat, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := &fakeHandle{}
			r.Register("a@x.com", h)
			r.Lookup("a@x.com")
			r.Snapshot()
			r.Unregister("a@x.com", h)
		}()
	}
	wg.Wait()

	// After every goroutine unregistered its own handle, nothing remains.
	require.Equal(t, 0, r.Len())
}
