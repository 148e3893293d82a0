package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/remoterender/conn"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mut    sync.Mutex
	sent   []string
	closed bool
}

func (t *fakeTransport) Send(ctx context.Context, payload []byte) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.closed {
		return conn.ErrNotConnected
	}
	t.sent = append(t.sent, string(payload))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) Sent() []string {
	t.mut.Lock()
	defer t.mut.Unlock()
	return append([]string(nil), t.sent...)
}

// Cases returns the Case tag of every sent message, or the event name for event records.
func (t *fakeTransport) Cases() []string {
	var cases []string
	for _, s := range t.Sent() {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			cases = append(cases, s)
			continue
		}
		if c, ok := m["Case"].(string); ok {
			cases = append(cases, c)
		} else if name, ok := m["name"].(string); ok {
			cases = append(cases, "event:"+name)
		} else {
			cases = append(cases, s)
		}
	}
	return cases
}

type fakeConn struct {
	url       string
	handler   conn.Handler
	transport *fakeTransport
}

func (c *fakeConn) open()          { c.handler.OnOpen() }
func (c *fakeConn) text(s string)  { c.handler.OnMessage([]byte(s), false) }
func (c *fakeConn) frame(b []byte) { c.handler.OnMessage(b, true) }
func (c *fakeConn) drop(err error) { c.handler.OnClose(err) }
func (c *fakeConn) sent() []string { return c.transport.Sent() }

func (c *fakeConn) cases() []string { return c.transport.Cases() }

func (c *fakeConn) closedLocally() bool {
	c.transport.mut.Lock()
	defer c.transport.mut.Unlock()
	return c.transport.closed
}

type fakeOpener struct {
	mut   sync.Mutex
	conns []*fakeConn
	ch    chan *fakeConn
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{ch: make(chan *fakeConn, 16)}
}

func (o *fakeOpener) Open(ctx context.Context, url string, h conn.Handler) (conn.Transport, error) {
	c := &fakeConn{url: url, handler: h, transport: &fakeTransport{}}
	o.mut.Lock()
	o.conns = append(o.conns, c)
	o.mut.Unlock()
	o.ch <- c
	return c.transport, nil
}

func (o *fakeOpener) count() int {
	o.mut.Lock()
	defer o.mut.Unlock()
	return len(o.conns)
}

func (o *fakeOpener) next(t *testing.T) *fakeConn {
	select {
	case c := <-o.ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

type recordingPresenter struct {
	mut      sync.Mutex
	fadeIns  int
	fadeOuts int
	rates    []float64
}

func (p *recordingPresenter) FadeIn()  { p.mut.Lock(); p.fadeIns++; p.mut.Unlock() }
func (p *recordingPresenter) FadeOut() { p.mut.Lock(); p.fadeOuts++; p.mut.Unlock() }
func (p *recordingPresenter) FrameRate(fps float64) {
	p.mut.Lock()
	p.rates = append(p.rates, fps)
	p.mut.Unlock()
}

func (p *recordingPresenter) counts() (int, int) {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.fadeIns, p.fadeOuts
}

type fakeClock struct {
	mut sync.Mutex
	t   time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	session   *Session
	opener    *fakeOpener
	conn      *fakeConn
	presenter *recordingPresenter
	input     *InputHub
	surface   *FixedSurface
	clock     *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	h := &harness{
		opener:    newFakeOpener(),
		presenter: &recordingPresenter{},
		input:     NewInputHub(),
		surface:   NewFixedSurface(640.4, 479.6),
		clock:     &fakeClock{t: time.Unix(1000, 0)},
	}
	opts = append([]Option{
		WithOpener(h.opener),
		WithPresenter(h.presenter),
		WithInputSource(h.input),
		WithSurface(h.surface),
		WithClock(h.clock.Now),
	}, opts...)
	s, err := New(context.Background(), Config{
		URL:       "ws://renderer:4321/",
		SurfaceID: "surface-1",
		Token:     "token-1",
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	h.session = s
	h.conn = h.opener.next(t)
	return h
}
