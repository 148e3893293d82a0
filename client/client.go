// Package client holds the state one process shares across its render sessions:
// the session token, the channel multiplexer, the shared event connection, and the sessions by surface.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/remoterender/channel"
	"github.com/guseggert/remoterender/conn"
	"github.com/guseggert/remoterender/session"
	"go.uber.org/zap"
)

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar()
}

// NewToken returns a fresh session token identifying this process to the renderer.
func NewToken() string {
	return uuid.NewString()
}

type Client struct {
	log         *zap.SugaredLogger
	base        string
	token       string
	opener      conn.Opener
	sessionOpts []session.Option
	mux         *channel.Mux

	mut      sync.Mutex
	sessions map[string]*session.Session
	events   *channel.EventConn
}

type Option func(c *Client)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithToken sets the session token. Defaults to NewToken().
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithOpener sets how render and event connections are opened.
func WithOpener(o conn.Opener) Option {
	return func(c *Client) {
		c.opener = o
	}
}

// WithSessionOptions sets options applied to every session the client creates, before any per-session options.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// New creates a client for the renderer at baseURL, e.g. ws://renderer:4321/.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("renderer URL required")
	}
	c := &Client{
		log:      defaultLogger,
		base:     baseURL,
		sessions: map[string]*session.Session{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.token == "" {
		c.token = NewToken()
	}
	c.log = c.log.Named("client")
	c.mux = channel.NewMux(c.log)
	return c, nil
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Mux() *channel.Mux {
	return c.mux
}

// Renderer returns the session of cfg.SurfaceID, creating and connecting it if there is none.
// cfg.URL and cfg.Token are filled in by the client. An existing session is returned as is,
// even if it has been closed.
func (c *Client) Renderer(ctx context.Context, cfg session.Config, opts ...session.Option) (*session.Session, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if s, ok := c.sessions[cfg.SurfaceID]; ok {
		return s, nil
	}
	cfg.URL = c.base
	cfg.Token = c.token

	all := []session.Option{session.WithLogger(c.log)}
	if c.opener != nil {
		all = append(all, session.WithOpener(c.opener))
	}
	all = append(all, c.sessionOpts...)
	all = append(all, opts...)
	s, err := session.New(ctx, cfg, all...)
	if err != nil {
		return nil, fmt.Errorf("creating session for surface %q: %w", cfg.SurfaceID, err)
	}
	c.sessions[cfg.SurfaceID] = s
	return s, nil
}

// Surfaces returns the ids of all surfaces with a session, sorted.
func (c *Client) Surfaces() []string {
	c.mut.Lock()
	defer c.mut.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connect opens the shared event connection at path. If one is already open or opening it is returned.
func (c *Client) Connect(ctx context.Context, path string) (*channel.EventConn, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.events != nil && c.events.State() != conn.StateClosed {
		return c.events, nil
	}
	opts := []channel.Option{channel.WithLogger(c.log)}
	if c.opener != nil {
		opts = append(opts, channel.WithOpener(c.opener))
	}
	ec, err := channel.Connect(ctx, c.mux, c.base, path, c.token, opts...)
	if err != nil {
		return nil, err
	}
	c.events = ec
	return ec, nil
}

// ProcessEvent forwards an input event over the shared event connection.
// Without a connection the event is dropped.
func (c *Client) ProcessEvent(sender, name string, args ...any) error {
	c.mut.Lock()
	ec := c.events
	c.mut.Unlock()
	if ec == nil {
		c.log.Warnw("not connected, dropping event", "Sender", sender, "Event", name)
		return nil
	}
	return ec.ProcessEvent(sender, name, args...)
}

// Close closes every session and the event connection.
func (c *Client) Close() error {
	c.mut.Lock()
	sessions := c.sessions
	c.sessions = map[string]*session.Session{}
	ec := c.events
	c.events = nil
	c.mut.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %q: %w", id, err))
		}
	}
	if ec != nil {
		if err := ec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
