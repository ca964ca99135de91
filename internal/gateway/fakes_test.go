package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/wellgate/internal/sshconn"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

var errBrokenPipe = errors.New("write: broken pipe")

// fakeHandle is a scripted connection. It flags any concurrent entry, which
// a real SSH handle does not tolerate.
type fakeHandle struct {
	name   string
	runFn  func(cmd string) (sshconn.ExecResult, error)
	chanFn func(cmd string) (sshconn.ExecResult, error)
	delay  time.Duration
	block  chan struct{}

	// dead makes the handle ignore keepalives while still accepting
	// channels, like a connection whose peer vanished silently.
	dead  atomic.Bool
	pings atomic.Int32

	inUse      atomic.Int32
	concurrent atomic.Bool
	closed     atomic.Bool

	mu       sync.Mutex
	commands []string
	channels []*fakeChannel
}

func (h *fakeHandle) enter() {
	if h.inUse.Add(1) > 1 {
		h.concurrent.Store(true)
	}
}

func (h *fakeHandle) leave() { h.inUse.Add(-1) }

func (h *fakeHandle) record(cmd string) {
	h.mu.Lock()
	h.commands = append(h.commands, cmd)
	h.mu.Unlock()
}

func (h *fakeHandle) Run(ctx context.Context, cmd string) (sshconn.ExecResult, error) {
	h.enter()
	defer h.leave()
	if h.closed.Load() {
		return sshconn.ExecResult{}, errors.New("ssh: use of closed connection")
	}
	h.record(cmd)
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return sshconn.ExecResult{}, ctx.Err()
		}
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.runFn == nil {
		return sshconn.ExecResult{Stdout: "ok\n"}, nil
	}
	return h.runFn(cmd)
}

func (h *fakeHandle) OpenChannel(ctx context.Context, cmd string) (sshconn.Channel, error) {
	h.enter()
	if h.closed.Load() {
		h.leave()
		return nil, errors.New("ssh: use of closed connection")
	}
	h.record(cmd)
	ch := &fakeChannel{handle: h, cmd: cmd}
	h.mu.Lock()
	h.channels = append(h.channels, ch)
	h.mu.Unlock()
	return ch, nil
}

func (h *fakeHandle) Alive(context.Context) bool {
	h.pings.Add(1)
	return !h.closed.Load() && !h.dead.Load()
}

func (h *fakeHandle) Close() error {
	if h.closed.Swap(true) {
		return errors.New("already closed")
	}
	return nil
}

func (h *fakeHandle) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func (h *fakeHandle) Channels() []*fakeChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeChannel(nil), h.channels...)
}

// fakeChannel captures whatever is written to stdin.
type fakeChannel struct {
	handle      *fakeHandle
	cmd         string
	input       bytes.Buffer
	stdinClosed bool
	released    bool
}

type fakeStdin struct{ ch *fakeChannel }

func (w fakeStdin) Write(p []byte) (int, error) {
	if w.ch.stdinClosed {
		return 0, errors.New("write after close")
	}
	return w.ch.input.Write(p)
}

func (w fakeStdin) Close() error {
	w.ch.stdinClosed = true
	return nil
}

func (c *fakeChannel) Stdin() io.WriteCloser { return fakeStdin{ch: c} }

func (c *fakeChannel) Wait() (sshconn.ExecResult, error) {
	if !c.stdinClosed {
		return sshconn.ExecResult{}, errors.New("wait before stdin closed")
	}
	if c.handle.delay > 0 {
		time.Sleep(c.handle.delay)
	}
	if c.handle.chanFn == nil {
		return sshconn.ExecResult{Stdout: "done\n"}, nil
	}
	return c.handle.chanFn(c.cmd)
}

func (c *fakeChannel) Close() error {
	if !c.released {
		c.released = true
		c.handle.leave()
	}
	return nil
}

func (c *fakeChannel) Input() string { return c.input.String() }

// fakeDialer hands out handles from next, counting every dial.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	creds []sshconn.Credentials
	next  func(n int) (sshconn.Handle, error)
}

func (d *fakeDialer) Dial(_ context.Context, creds sshconn.Credentials) (sshconn.Handle, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.creds = append(d.creds, creds)
	next := d.next
	d.mu.Unlock()
	if next == nil {
		return &fakeHandle{name: "default"}, nil
	}
	return next(n)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// handleSequence returns a dialer script yielding hs in order, then errors.
func handleSequence(hs ...*fakeHandle) func(int) (sshconn.Handle, error) {
	return func(n int) (sshconn.Handle, error) {
		if n > len(hs) {
			return nil, errors.New("dial tcp: connection refused")
		}
		return hs[n-1], nil
	}
}

// testClock is a manually advanced clock shared with the registry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	gw     *Gateway
	reg    *sshsession.Registry
	dialer *fakeDialer
	clock  *testClock
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEnv(hs ...*fakeHandle) *testEnv {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	reg := sshsession.NewRegistry()
	reg.SetClock(clock.Now)
	dialer := &fakeDialer{}
	if len(hs) > 0 {
		dialer.next = handleSequence(hs...)
	}
	gw := New(reg, dialer, Config{Host: "well.com", Port: 22})
	events := &eventLog{}
	gw.OnEvent(events.add)
	return &testEnv{gw: gw, reg: reg, dialer: dialer, clock: clock, events: events}
}

func (e *testEnv) connect() string {
	id, err := e.gw.Connect(context.Background(), "alice", "secret")
	if err != nil {
		panic("connect: " + err.Error())
	}
	return id
}

// currentHandle returns the session's live handle.
func (e *testEnv) currentHandle(id string) sshconn.Handle {
	s, ok := e.reg.Lookup(id)
	if !ok {
		return nil
	}
	s.Lock()
	defer s.Unlock()
	return s.Conn()
}
