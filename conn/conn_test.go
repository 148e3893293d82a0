package conn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/remoterender/internal/rendertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type message struct {
	payload string
	binary  bool
}

type recordingHandler struct {
	opened   chan struct{}
	messages chan message
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan message, 16),
		closed:   make(chan error, 1),
	}
}

func (h *recordingHandler) OnOpen() { h.opened <- struct{}{} }

func (h *recordingHandler) OnMessage(payload []byte, binary bool) {
	h.messages <- message{payload: string(payload), binary: binary}
}

func (h *recordingHandler) OnClose(err error) { h.closed <- err }

func startServer(t *testing.T) *rendertest.Server {
	s := rendertest.New()
	s.Start()
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestSendBeforeOpen(t *testing.T) {
	c := New("ws://127.0.0.1:1/render/x", newRecordingHandler())
	err := c.Send(context.Background(), []byte("hello"))
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateConnecting, c.State())
}

func TestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := startServer(t)

	h := newRecordingHandler()
	c := New(s.URL()+"/render/surface-1?session=abc", h)
	c.Open(ctx)

	rc, err := s.NextRender(ctx)
	require.NoError(t, err)
	assert.Equal(t, "surface-1", rc.Surface)
	assert.Equal(t, "abc", rc.Query.Get("session"))

	<-h.opened
	assert.Equal(t, StateOpen, c.State())

	require.NoError(t, c.Send(ctx, []byte(`{"Case":"Rendered"}`)))
	tag, _, err := rc.ReadCase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rendered", tag)

	require.NoError(t, rc.SendFrame(ctx, []byte{0xff, 0xd8}))
	require.NoError(t, rc.SendText(ctx, `{"Case":"Invalidate"}`))
	assert.Equal(t, message{payload: "\xff\xd8", binary: true}, <-h.messages)
	assert.Equal(t, message{payload: `{"Case":"Invalidate"}`, binary: false}, <-h.messages)

	require.NoError(t, c.Close())
	require.NoError(t, <-h.closed)
	<-c.Done()
	assert.Equal(t, StateClosed, c.State())

	err = c.Send(ctx, []byte("late"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestServerDrop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := startServer(t)

	h := newRecordingHandler()
	c := New(s.URL()+"/render/surface-1", h)
	c.Open(ctx)

	rc, err := s.NextRender(ctx)
	require.NoError(t, err)
	<-h.opened

	rc.CloseWith(websocket.StatusInternalError, "renderer crashed")
	err = <-h.closed
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := startServer(t)

	h := newRecordingHandler()
	c := New(s.URL()+"/nope", h)
	c.Open(ctx)

	err := <-h.closed
	require.Error(t, err)
	assert.Contains(t, err.Error(), "establishing WebSocket conn")
	select {
	case <-h.opened:
		t.Fatal("OnOpen called for failed dial")
	default:
	}
}

func TestDialer(t *testing.T) {
	d := &Dialer{}
	_, err := d.Open(context.Background(), "ftp://example.com", newRecordingHandler())
	require.Error(t, err)
	_, err = d.Open(context.Background(), "::", newRecordingHandler())
	require.Error(t, err)
}

type lockingHandler struct {
	mut    *sync.Mutex
	closed chan error
}

func (h *lockingHandler) OnOpen()                 {}
func (h *lockingHandler) OnMessage([]byte, bool) {}

func (h *lockingHandler) OnClose(err error) {
	h.mut.Lock()
	defer h.mut.Unlock()
	h.closed <- err
}

func TestDialerCallsHandlerAfterOpenReturns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mut sync.Mutex
	h := &lockingHandler{mut: &mut, closed: make(chan error, 1)}

	mut.Lock()
	tr, err := (&Dialer{}).Open(ctx, "ws://127.0.0.1:1/render/x", h)
	require.NoError(t, err)
	require.NotNil(t, tr)
	mut.Unlock()

	select {
	case err := <-h.closed:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("OnClose not delivered for failed dial")
	}
}

func TestHandshakeThroughRetryableClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s := startServer(t)

	h := newRecordingHandler()
	d := &Dialer{Options: []Option{
		WithHTTPClient(NewHTTPClient(defaultLogger, HTTPClientOptions{RetryMax: 1})),
	}}
	tr, err := d.Open(ctx, s.URL()+"/render/surface-2", h)
	require.NoError(t, err)

	_, err = s.NextRender(ctx)
	require.NoError(t, err)
	<-h.opened
	require.NoError(t, tr.Close())
	require.NoError(t, <-h.closed)
}

func TestClientTLSConfig(t *testing.T) {
	cfg, err := ClientTLSConfig(nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)

	_, err = ClientTLSConfig([]byte("not a cert"), nil, nil)
	require.Error(t, err)

	_, err = ClientTLSConfig(nil, []byte("cert"), nil)
	require.ErrorContains(t, err, "parsing client key pair")
}
