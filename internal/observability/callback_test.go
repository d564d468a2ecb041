package observability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidian-copilot/transport-core/pkg/types"
)

type fakeCallback struct {
	name       string
	onEvent    func(ctx context.Context, evt Event) error
	calls      int32
	shutdownCh chan struct{}
}

func (f *fakeCallback) Name() string { return f.name }

func (f *fakeCallback) OnEvent(ctx context.Context, evt Event) error {
	atomic.AddInt32(&f.calls, 1)
	if f.onEvent != nil {
		return f.onEvent(ctx, evt)
	}
	return nil
}

func (f *fakeCallback) Shutdown(ctx context.Context) error {
	if f.shutdownCh != nil {
		close(f.shutdownCh)
	}
	return nil
}

func TestDispatcher_RegisterAndCallbacks(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&fakeCallback{name: "a"})
	d.Register(&fakeCallback{name: "b"})

	assert.Equal(t, []string{"a", "b"}, d.Callbacks())
}

func TestDispatcher_Unregister(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&fakeCallback{name: "a"})
	d.Register(&fakeCallback{name: "b"})

	d.Unregister("a")
	assert.Equal(t, []string{"b"}, d.Callbacks())
}

func TestDispatcher_DispatchFansOutToAllCallbacks(t *testing.T) {
	d := NewDispatcher(nil)

	var wg sync.WaitGroup
	wg.Add(2)
	a := &fakeCallback{name: "a", onEvent: func(ctx context.Context, evt Event) error { wg.Done(); return nil }}
	b := &fakeCallback{name: "b", onEvent: func(ctx context.Context, evt Event) error { wg.Done(); return nil }}
	d.Register(a)
	d.Register(b)

	d.Dispatch(context.Background(), Event{Type: EventConnected, Transport: types.TransportHTTP})

	waitOrTimeout(t, &wg, time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&a.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.calls))
}

func TestDispatcher_DispatchDoesNotBlockCaller(t *testing.T) {
	d := NewDispatcher(nil)
	blocked := make(chan struct{})
	d.Register(&fakeCallback{name: "slow", onEvent: func(ctx context.Context, evt Event) error {
		<-blocked
		return nil
	}})
	defer close(blocked)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), Event{Type: EventConnected})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a slow callback")
	}
}

func TestDispatcher_OneCallbackFailingDoesNotAffectOthers(t *testing.T) {
	d := NewDispatcher(nil)

	var wg sync.WaitGroup
	wg.Add(2)
	failing := &fakeCallback{name: "failing", onEvent: func(ctx context.Context, evt Event) error {
		defer wg.Done()
		return errors.New("boom")
	}}
	ok := &fakeCallback{name: "ok", onEvent: func(ctx context.Context, evt Event) error { wg.Done(); return nil }}
	d.Register(failing)
	d.Register(ok)

	d.Dispatch(context.Background(), Event{Type: EventConnected})

	waitOrTimeout(t, &wg, time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ok.calls))
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	d := NewDispatcher(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register(&fakeCallback{name: "panics", onEvent: func(ctx context.Context, evt Event) error {
		defer wg.Done()
		panic("kaboom")
	}})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), Event{Type: EventConnected})
		waitOrTimeout(t, &wg, time.Second)
	})
}

func TestDispatcher_Shutdown(t *testing.T) {
	d := NewDispatcher(nil)
	ch1 := make(chan struct{})
	ch2 := make(chan struct{})
	d.Register(&fakeCallback{name: "a", shutdownCh: ch1})
	d.Register(&fakeCallback{name: "b", shutdownCh: ch2})

	require.NoError(t, d.Shutdown(context.Background()))

	select {
	case <-ch1:
	default:
		t.Fatal("callback a not shut down")
	}
	select {
	case <-ch2:
	default:
		t.Fatal("callback b not shut down")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callbacks")
	}
}
