package rendertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server is an in-process renderer endpoint.
// It accepts render connections on /render/:surface and the shared event connection on /events.
// Tests drive the accepted connections by hand; ListenAndServe with WithAutoRender serves stub frames.
type Server struct {
	log        *zap.SugaredLogger
	autoRender bool
	frames     FrameSource

	router     *httprouter.Router
	testServer *httptest.Server
	httpServer *http.Server

	renderCh chan *RenderConn
	eventCh  chan *EventConn

	mut      sync.Mutex
	accepted []*wsConn
}

type Option func(s *Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l.Named("rendertest")
	}
}

// WithAutoRender makes the server answer render connections itself instead of handing them to tests.
func WithAutoRender(frames FrameSource) Option {
	return func(s *Server) {
		s.autoRender = true
		s.frames = frames
	}
}

func New(opts ...Option) *Server {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("error constructing logger: %s", err))
	}
	s := &Server{
		log:      logger.Sugar().Named("rendertest"),
		renderCh: make(chan *RenderConn, 16),
		eventCh:  make(chan *EventConn, 16),
	}
	for _, o := range opts {
		o(s)
	}

	router := httprouter.New()
	router.GET("/render/:surface", s.render)
	router.GET("/events", s.events)
	s.router = router
	return s
}

// Start serves on a random localhost port. Use URL to get the base WebSocket URL.
func (s *Server) Start() {
	s.testServer = httptest.NewServer(s.router)
}

// ListenAndServe serves on addr until Stop is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	s.log.Infow("listening", "Addr", l.Addr().String())
	server := &http.Server{Handler: s.router}
	s.mut.Lock()
	s.httpServer = server
	s.mut.Unlock()
	err = server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// URL returns the ws:// base URL of a started server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.testServer.URL, "http")
}

func (s *Server) Stop() error {
	s.mut.Lock()
	accepted := s.accepted
	s.accepted = nil
	httpServer := s.httpServer
	s.mut.Unlock()
	for _, c := range accepted {
		c.Close()
	}
	if s.testServer != nil {
		s.testServer.Close()
	}
	if httpServer != nil {
		return httpServer.Close()
	}
	return nil
}

// NextRender waits for the next accepted render connection.
func (s *Server) NextRender(ctx context.Context) (*RenderConn, error) {
	select {
	case c := <-s.renderCh:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NextEvents waits for the next accepted event connection.
func (s *Server) NextEvents(ctx context.Context) (*EventConn, error) {
	select {
	case c := <-s.eventCh:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return nil, err
	}
	ws.SetReadLimit(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{ws: ws, ctx: ctx, cancel: cancel, Query: r.URL.Query()}
	s.mut.Lock()
	s.accepted = append(s.accepted, c)
	s.mut.Unlock()
	s.log.Debugw("accepted WebSocket conn", "Path", r.URL.Path)
	return c, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.accept(w, r)
	if err != nil {
		return
	}
	rc := &RenderConn{wsConn: c, Surface: params.ByName("surface")}
	if s.autoRender {
		go s.serveFrames(rc)
	} else {
		s.renderCh <- rc
	}
	<-c.ctx.Done()
}

func (s *Server) events(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.accept(w, r)
	if err != nil {
		return
	}
	if s.autoRender {
		go c.drain()
	} else {
		s.eventCh <- &EventConn{wsConn: c}
	}
	<-c.ctx.Done()
}

type wsConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel func()
	once   sync.Once

	// Query holds the query parameters of the handshake request.
	Query url.Values
}

// ReadText reads the next message, failing if it is not a text message.
func (c *wsConn) ReadText(ctx context.Context) ([]byte, error) {
	typ, b, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("expected text message, got %s", typ)
	}
	return b, nil
}

// ReadJSON reads the next text message as a JSON object.
func (c *wsConn) ReadJSON(ctx context.Context) (map[string]any, error) {
	b, err := c.ReadText(ctx)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", b, err)
	}
	return m, nil
}

func (c *wsConn) SendText(ctx context.Context, s string) error {
	return c.ws.Write(ctx, websocket.MessageText, []byte(s))
}

func (c *wsConn) SendJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, c.ws, v)
}

// Close closes the connection normally.
func (c *wsConn) Close() {
	c.CloseWith(websocket.StatusNormalClosure, "")
}

// CloseWith closes the connection with the given status.
func (c *wsConn) CloseWith(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		c.ws.Close(code, reason)
		c.cancel()
	})
}

func (c *wsConn) drain() {
	defer c.Close()
	for {
		if _, _, err := c.ws.Read(c.ctx); err != nil {
			return
		}
	}
}

// RenderConn is an accepted render connection.
type RenderConn struct {
	*wsConn
	Surface string
}

// ReadCase reads the next message and returns its Case tag along with the full object.
func (c *RenderConn) ReadCase(ctx context.Context) (string, map[string]any, error) {
	m, err := c.ReadJSON(ctx)
	if err != nil {
		return "", nil, err
	}
	tag, _ := m["Case"].(string)
	return tag, m, nil
}

// SendFrame sends one binary frame image.
func (c *RenderConn) SendFrame(ctx context.Context, b []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, b)
}

// EventConn is an accepted shared event connection.
type EventConn struct {
	*wsConn
}

// SendEnvelope sends a channel envelope using the structured-message prefix.
func (c *EventConn) SendEnvelope(ctx context.Context, targetID, channel string, data any) error {
	b, err := json.Marshal(map[string]any{"targetId": targetID, "channel": channel, "data": data})
	if err != nil {
		return err
	}
	return c.SendText(ctx, "#"+string(b))
}
