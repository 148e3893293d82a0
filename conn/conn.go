package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// DefaultReadLimit bounds a single incoming message. Frame images are large.
const DefaultReadLimit = 16 << 20

// ErrNotConnected is returned by Send when the connection is not open.
var ErrNotConnected = errors.New("not connected")

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler receives connection events.
// All calls for one Conn are made from the same goroutine, in the order
// OnOpen, OnMessage..., OnClose. OnOpen is skipped if the dial fails.
// That goroutine is never the one calling Opener.Open, so handlers may take
// locks their owner holds while opening.
type Handler interface {
	OnOpen()
	OnMessage(payload []byte, binary bool)
	// OnClose is called exactly once. err is nil when the connection was
	// closed by Close or with a normal closure status.
	OnClose(err error)
}

// Opener opens connections. It is the seam between a session and the transport.
// Open must return before any Handler call is made; failures discovered after
// Open has returned, including a failed dial, are reported through OnClose.
type Opener interface {
	Open(ctx context.Context, url string, h Handler) (Transport, error)
}

// Transport is the sending half of an opened connection.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Conn is a single WebSocket connection. It never reconnects on its own.
type Conn struct {
	log         *zap.SugaredLogger
	url         string
	handler     Handler
	httpClient  *http.Client
	readLimit   int64
	compression websocket.CompressionMode

	ctx    context.Context
	cancel func()
	done   chan struct{}

	mut    sync.Mutex
	state  State
	ws     *websocket.Conn
	closed bool

	closeConnOnce sync.Once
}

type Option func(c *Conn)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Conn) {
		c.log = l.Named("conn")
	}
}

// WithHTTPClient sets the client used for the opening handshake.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Conn) {
		c.httpClient = h
	}
}

func WithReadLimit(n int64) Option {
	return func(c *Conn) {
		c.readLimit = n
	}
}

func WithCompressionMode(m websocket.CompressionMode) Option {
	return func(c *Conn) {
		c.compression = m
	}
}

// New constructs a connection to rawURL. Nothing is dialed until Open is called.
func New(rawURL string, h Handler, opts ...Option) *Conn {
	c := &Conn{
		log:         defaultLogger.Named("conn"),
		url:         rawURL,
		handler:     h,
		readLimit:   DefaultReadLimit,
		compression: websocket.CompressionDisabled,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open starts dialing in the background and returns immediately.
// The handler learns about the outcome through OnOpen or OnClose.
func (c *Conn) Open(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

// Done is closed once OnClose has returned.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) State() State {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.state
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.cancel()

	c.log.Debugw("dialing WebSocket", "URL", c.url)
	ws, _, err := websocket.Dial(c.ctx, c.url, &websocket.DialOptions{
		HTTPClient:      c.httpClient,
		CompressionMode: c.compression,
	})
	if err != nil {
		c.log.Debugf("dial error: %s", err)
		c.mut.Lock()
		closedLocally := c.closed
		c.mut.Unlock()
		if closedLocally {
			c.finish(nil)
			return
		}
		c.finish(fmt.Errorf("establishing WebSocket conn: %w", err))
		return
	}
	ws.SetReadLimit(c.readLimit)

	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		ws.Close(websocket.StatusNormalClosure, "")
		c.finish(nil)
		return
	}
	c.ws = ws
	c.state = StateOpen
	c.mut.Unlock()

	c.handler.OnOpen()
	c.finish(c.readMessages(ws))
}

func (c *Conn) readMessages(ws *websocket.Conn) error {
	for {
		typ, b, err := ws.Read(c.ctx)
		if err != nil {
			c.mut.Lock()
			closedLocally := c.closed
			c.mut.Unlock()
			if closedLocally || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.log.Debug("connection closed normally")
				return nil
			}
			c.log.Debugf("message reader got error: %s", err)
			c.close(websocket.StatusInternalError, err.Error())
			return fmt.Errorf("reading message: %w", err)
		}
		c.handler.OnMessage(b, typ == websocket.MessageBinary)
	}
}

func (c *Conn) finish(err error) {
	c.mut.Lock()
	c.state = StateClosed
	c.mut.Unlock()
	c.handler.OnClose(err)
}

// Send writes a text message. It fails with ErrNotConnected unless the connection is open.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.mut.Lock()
	ws, state := c.ws, c.state
	c.mut.Unlock()
	if state != StateOpen {
		return ErrNotConnected
	}
	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Close closes the connection with a normal closure. It is safe to call more than once
// and before the dial has completed.
func (c *Conn) Close() error {
	c.mut.Lock()
	c.closed = true
	ws := c.ws
	c.mut.Unlock()
	if ws == nil {
		if c.cancel != nil {
			c.cancel()
		}
		return nil
	}
	c.close(websocket.StatusNormalClosure, "")
	return nil
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		c.mut.Lock()
		ws := c.ws
		c.mut.Unlock()
		err := ws.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

// Dialer is the default Opener, producing Conns that share one set of options.
type Dialer struct {
	Options []Option
}

func (d *Dialer) Open(ctx context.Context, u string, h Handler) (Transport, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	c := New(u, h, d.Options...)
	c.Open(ctx)
	return c, nil
}
