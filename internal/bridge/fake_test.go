package bridge

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/dignet/gpsbridge/cmr"
	"github.com/dignet/gpsbridge/internal/mode"
	"github.com/juju/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2019, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type pollResult struct {
	b   []byte
	err error
}

// fakeLink replays scripted reads, idle poll advances clock by step.
type fakeLink struct {
	mu     sync.Mutex
	clock  *fakeClock
	step   time.Duration
	rx     []pollResult
	tx     bytes.Buffer
	closed bool
}

func newFakeLink(clock *fakeClock, step time.Duration) *fakeLink {
	return &fakeLink{clock: clock, step: step}
}

func (l *fakeLink) push(b []byte) *fakeLink {
	l.mu.Lock()
	l.rx = append(l.rx, pollResult{b: b})
	l.mu.Unlock()
	return l
}

func (l *fakeLink) pushPacket(p cmr.Packet) *fakeLink { return l.push(cmr.MustMarshal(p)) }

func (l *fakeLink) pushError(err error) *fakeLink {
	l.mu.Lock()
	l.rx = append(l.rx, pollResult{err: err})
	l.mu.Unlock()
	return l
}

func (l *fakeLink) Poll(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.New("closed")
	}
	if len(l.rx) == 0 {
		if l.clock != nil {
			l.clock.Advance(l.step)
		}
		return 0, nil
	}
	r := l.rx[0]
	l.rx = l.rx[1:]
	return copy(b, r.b), r.err
}

func (l *fakeLink) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.New("closed")
	}
	return l.tx.Write(b)
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.tx.Bytes()...)
}

// sent decodes CMR traffic written to link.
func (l *fakeLink) sent() []cmr.Packet {
	d := cmr.NewDecoder(0)
	d.Feed(l.written())
	ps := make([]cmr.Packet, 0, d.Len())
	for {
		p, ok := d.Pop()
		if !ok {
			return ps
		}
		ps = append(ps, p)
	}
}

// fakeDialer hands out links in order, then fails.
type fakeDialer struct {
	mu        sync.Mutex
	links     []*fakeLink
	addresses []string
}

func (d *fakeDialer) Dial(ctx context.Context, address string) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses = append(d.addresses, address)
	if len(d.links) == 0 {
		return nil, errors.New("connection refused")
	}
	l := d.links[0]
	d.links = d.links[1:]
	return l, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// fakeHandler records events. stop decides Verdict for idle and packet events.
type fakeHandler struct {
	mu          sync.Mutex
	events      []string
	packets     []cmr.Packet
	serial      []byte
	idleOnline  int
	idleOffline int
	timeouts    int
	timeoutDt   time.Duration
	disconnects int
	stop        func(h *fakeHandler, env mode.Env) bool
}

var _ mode.Handler = &fakeHandler{}

func (h *fakeHandler) record(e string) {
	h.events = append(h.events, e)
}

func (h *fakeHandler) Startup() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("startup")
	return nil
}

func (h *fakeHandler) Connect(env mode.Env) (mode.Verdict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("connect")
	return mode.Continue, nil
}

func (h *fakeHandler) Packet(env mode.Env, p cmr.Packet) (mode.Verdict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("packet " + p.String())
	h.packets = append(h.packets, p)
	switch p.Text() {
	case "boom":
		panic("boom")
	case "fail":
		return mode.Continue, errors.New("bad packet")
	case "stop":
		return mode.Stop, nil
	}
	return mode.Continue, nil
}

func (h *fakeHandler) Serial(env mode.Env, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serial = append(h.serial, b...)
	return nil
}

func (h *fakeHandler) Idle(env mode.Env) (mode.Verdict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if env.Online() {
		h.idleOnline++
	} else {
		h.idleOffline++
	}
	if h.stop != nil && h.stop(h, env) {
		return mode.Stop, nil
	}
	return mode.Continue, nil
}

func (h *fakeHandler) Timeout(env mode.Env, last, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("timeout")
	h.timeouts++
	h.timeoutDt = now.Sub(last)
	return env.Send(cmr.NewDignet(mode.TimeoutMessage(last, now)))
}

func (h *fakeHandler) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("disconnect")
	h.disconnects++
}

func (h *fakeHandler) count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
