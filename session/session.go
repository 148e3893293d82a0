package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/guseggert/remoterender/conn"
	"github.com/guseggert/remoterender/display"
	"github.com/guseggert/remoterender/protocol"
	"go.uber.org/zap"
)

type State = conn.State

const (
	StateConnecting = conn.StateConnecting
	StateOpen       = conn.StateOpen
	StateClosed     = conn.StateClosed
)

// Config identifies a session and the scene it starts with.
type Config struct {
	// URL is the renderer's base WebSocket URL, e.g. ws://renderer:4321/.
	URL       string
	SurfaceID string
	// Token identifies the client process to the renderer.
	Token string
	// Scene defaults to SurfaceID.
	Scene string
	// Samples defaults to 1.
	Samples int
}

// RenderURL returns the endpoint of a surface's render connection.
func RenderURL(base, surfaceID, token, scene string, samples int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing renderer URL: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u = u.JoinPath("render", surfaceID)
	q := u.Query()
	q.Set("session", token)
	q.Set("scene", scene)
	q.Set("samples", strconv.Itoa(samples))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Session is the client side of one surface's render connection.
//
// It buffers outgoing messages until the connection opens, acknowledges every frame it receives,
// and turns renderer subscriptions into forwarded input events. A dropped connection leaves the
// session closed unless its ReconnectPolicy dials again.
type Session struct {
	log   *zap.SugaredLogger
	id    string
	token string
	base  string

	opener    conn.Opener
	surface   Surface
	sink      display.Sink
	presenter Presenter
	input     InputSource
	reconnect ReconnectPolicy
	now       func() time.Time

	ctx    context.Context
	cancel func()

	registry *Registry

	mut       sync.Mutex
	state     State
	scene     string
	samples   int
	transport conn.Transport
	gen       int
	buffer    Buffer
	loading   bool
	frames    FrameCounter
	frameRate float64
	frameSeq  uint64
	attempts  int
	retry     *time.Timer
	closed    bool
}

type Option func(s *Session)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithOpener sets how connections are opened. Defaults to a conn.Dialer.
func WithOpener(o conn.Opener) Option {
	return func(s *Session) {
		s.opener = o
	}
}

func WithSurface(surface Surface) Option {
	return func(s *Session) {
		s.surface = surface
	}
}

func WithSink(sink display.Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

func WithPresenter(p Presenter) Option {
	return func(s *Session) {
		s.presenter = p
	}
}

func WithInputSource(in InputSource) Option {
	return func(s *Session) {
		s.input = in
	}
}

// WithReconnectPolicy sets the policy applied when the connection drops. Defaults to NoReconnect.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(s *Session) {
		s.reconnect = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a session and starts connecting. It returns once the dial has been started.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.SurfaceID == "" {
		return nil, errors.New("surface ID required")
	}
	if cfg.Token == "" {
		return nil, errors.New("session token required")
	}
	if cfg.Samples < 0 {
		return nil, fmt.Errorf("invalid sample count %d", cfg.Samples)
	}
	if cfg.Scene == "" {
		cfg.Scene = cfg.SurfaceID
	}
	if cfg.Samples == 0 {
		cfg.Samples = 1
	}

	s := &Session{
		log:       defaultLogger,
		id:        cfg.SurfaceID,
		token:     cfg.Token,
		base:      cfg.URL,
		surface:   NewFixedSurface(0, 0),
		sink:      display.Discard{},
		presenter: NopPresenter{},
		reconnect: NoReconnect{},
		now:       time.Now,
		scene:     cfg.Scene,
		samples:   cfg.Samples,
		loading:   true,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("render_session").With("Surface", s.id)
	if s.opener == nil {
		s.opener = &conn.Dialer{Options: []conn.Option{conn.WithLogger(s.log)}}
	}
	if s.input == nil {
		s.input = NewInputHub()
	}
	s.registry = NewRegistry(s.log, s.input, s.forward)
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mut.Lock()
	err := s.dialLocked()
	s.mut.Unlock()
	if err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

func (s *Session) dialLocked() error {
	u, err := RenderURL(s.base, s.id, s.token, s.scene, s.samples)
	if err != nil {
		s.state = StateClosed
		return err
	}
	s.gen++
	s.state = StateConnecting
	s.frames.Reset()
	t, err := s.opener.Open(s.ctx, u, &connHandler{s: s, gen: s.gen})
	if err != nil {
		s.state = StateClosed
		return fmt.Errorf("opening render connection: %w", err)
	}
	s.transport = t
	s.log.Debugw("connecting", "URL", u)
	return nil
}

// connHandler routes one connection's callbacks to the session.
// Callbacks from a connection the session has since replaced are ignored.
type connHandler struct {
	s   *Session
	gen int
}

func (h *connHandler) OnOpen()                               { h.s.onOpen(h.gen) }
func (h *connHandler) OnMessage(payload []byte, binary bool) { h.s.onMessage(h.gen, payload, binary) }
func (h *connHandler) OnClose(err error)                     { h.s.onClose(h.gen, err) }

func (s *Session) onOpen(gen int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if gen != s.gen || s.state != StateConnecting {
		return
	}
	n := s.buffer.Len()
	err := s.buffer.Drain(func(m []byte) error {
		return s.transport.Send(s.ctx, m)
	})
	if err != nil {
		s.log.Debugf("error flushing buffered messages: %s", err)
	}
	s.state = StateOpen
	s.attempts = 0
	s.log.Debugw("connection open", "Flushed", n)
	s.requestImageLocked()
}

func (s *Session) onMessage(gen int, payload []byte, binary bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if gen != s.gen || s.state != StateOpen {
		return
	}
	if binary {
		s.onFrameLocked(payload)
		return
	}
	s.onCommandLocked(payload)
}

func (s *Session) onFrameLocked(payload []byte) {
	if rate, ok := s.frames.Tick(s.now()); ok {
		s.frameRate = rate
		s.presenter.FrameRate(rate)
	}

	s.frameSeq++
	if err := s.sink.Show(s.ctx, display.NewFrame(s.id, s.frameSeq, payload, nil)); err != nil {
		s.log.Warnf("error displaying frame %d: %s", s.frameSeq, err)
	}

	rendered, err := protocol.EncodeRendered()
	if err != nil {
		s.log.Errorf("encoding frame acknowledgement: %s", err)
		return
	}
	s.sendLocked(rendered)

	if s.loading {
		s.loading = false
		s.log.Debug("first frame received")
		s.presenter.FadeIn()
	}
}

func (s *Session) onCommandLocked(payload []byte) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		s.log.Warnf("unexpected message: %s", err)
		return
	}
	switch c := cmd.(type) {
	case protocol.Invalidate:
		s.requestImageLocked()
	case protocol.Subscribe:
		if err := s.registry.Subscribe(c.EventName); err != nil {
			s.log.Debugf("ignoring subscription: %s", err)
		}
	case protocol.Unsubscribe:
		if err := s.registry.Unsubscribe(c.EventName); err != nil {
			s.log.Debugf("ignoring unsubscription: %s", err)
		}
	}
}

func (s *Session) onClose(gen int, err error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if gen != s.gen {
		return
	}
	s.state = StateClosed
	s.transport = nil
	if n := s.buffer.Reset(); n > 0 {
		s.log.Debugf("dropped %d buffered messages", n)
	}
	if s.closed {
		return
	}
	if err != nil {
		s.log.Warnf("render connection lost: %s", err)
	} else {
		s.log.Info("render connection closed")
	}
	if !s.loading {
		s.loading = true
		s.presenter.FadeOut()
	}
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	delay, ok := s.reconnect.Next(s.attempts)
	if !ok {
		return
	}
	s.attempts++
	gen := s.gen
	s.log.Infow("reconnecting", "Attempt", s.attempts, "Delay", delay)
	s.retry = time.AfterFunc(delay, func() { s.redial(gen) })
}

func (s *Session) redial(gen int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed || gen != s.gen || s.state != StateClosed {
		return
	}
	if err := s.dialLocked(); err != nil {
		s.log.Warnf("reconnect failed: %s", err)
		s.scheduleReconnectLocked()
	}
}

// Send transmits payload if the connection is open and buffers it while connecting.
// On a closed session the payload is dropped.
func (s *Session) Send(payload []byte) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.sendLocked(payload)
}

func (s *Session) sendLocked(payload []byte) {
	switch s.state {
	case StateOpen:
		if err := s.transport.Send(s.ctx, payload); err != nil {
			s.log.Debugf("send error: %s", err)
		}
	case StateConnecting:
		s.buffer.Push(payload)
	default:
		s.log.Debugw("dropping message on closed session", "Bytes", len(payload))
	}
}

// Change switches the session to another scene or sample count.
// Nothing is sent if both are unchanged. The local scene is updated without waiting for the renderer.
func (s *Session) Change(scene string, samples int) error {
	if samples < 1 {
		return fmt.Errorf("invalid sample count %d", samples)
	}
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.scene == scene && s.samples == samples {
		return nil
	}
	b, err := protocol.EncodeChange(scene, samples)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	s.log.Infow("changing scene", "Scene", scene, "Samples", samples)
	s.sendLocked(b)
	s.scene, s.samples = scene, samples
	return nil
}

// RequestImage asks the renderer for a frame sized to the surface.
func (s *Session) RequestImage() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.requestImageLocked()
}

// Resized is called by the host when the surface changed size.
func (s *Session) Resized() {
	s.RequestImage()
}

func (s *Session) requestImageLocked() {
	w, h := s.surface.Size()
	b, err := protocol.EncodeRequestImage(w, h)
	if err != nil {
		s.log.Errorf("encoding image request: %s", err)
		return
	}
	s.sendLocked(b)
}

// ForwardEvent sends an input event record for this surface.
func (s *Session) ForwardEvent(name string, args ...any) error {
	b, err := protocol.EncodeEvent(s.id, name, args...)
	if err != nil {
		return err
	}
	s.Send(b)
	return nil
}

func (s *Session) forward(name EventName, args ...any) {
	if err := s.ForwardEvent(string(name), args...); err != nil {
		s.log.Warnf("error forwarding event: %s", err)
	}
}

// Close closes the connection without reconnecting and removes all input listeners.
func (s *Session) Close() error {
	// unblocks a sink or write holding the lock
	s.cancel()
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	t := s.transport
	s.transport = nil
	if s.retry != nil {
		s.retry.Stop()
	}
	s.buffer.Reset()
	s.mut.Unlock()

	s.registry.Close()
	var err error
	if t != nil {
		err = t.Close()
	}
	return err
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.state
}

// Scene returns the current scene and sample count.
func (s *Session) Scene() (string, int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.scene, s.samples
}

// Loading reports whether the session is waiting for its first frame.
func (s *Session) Loading() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.loading
}

// FrameRate returns the most recently measured frame rate.
func (s *Session) FrameRate() float64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.frameRate
}

// Frames returns the number of frames received over the session's lifetime.
func (s *Session) Frames() uint64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.frameSeq
}

// Buffered returns the number of messages waiting for the connection to open.
func (s *Session) Buffered() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.buffer.Len()
}

func (s *Session) Registry() *Registry {
	return s.registry
}
