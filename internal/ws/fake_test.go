package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Transport. The "server" side pushes frames and closes it.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	remote   CloseInfo
	written  [][]byte
	closedBy *CloseInfo // set when the client closed it
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, &CloseError{Code: c.remote.Code, Reason: c.remote.Reason}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.done:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closedBy = &CloseInfo{Code: code, Reason: reason}
	c.mu.Unlock()
	c.serverClose(code, reason)
	return nil
}

func (c *fakeConn) serverClose(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.remote = CloseInfo{Code: code, Reason: reason}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) push(frame string) { c.frames <- []byte(frame) }

func (c *fakeConn) clientClose() *CloseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedBy
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	urls  []string
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return Event{} // unreachable
	}
}

func recvNoEvent(t *testing.T, ch <-chan Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("expected no event within %v, got %s", within, ev.Name)
	case <-time.After(within):
	}
}

// record subscribes to names and funnels their events into one channel.
func record(b *Bus, names ...string) <-chan Event {
	ch := make(chan Event, 64)
	for _, n := range names {
		b.Subscribe(n, func(ev Event) { ch <- ev })
	}
	return ch
}
