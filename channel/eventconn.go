package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/guseggert/remoterender/conn"
	"github.com/guseggert/remoterender/protocol"
	"go.uber.org/zap"
)

// ErrExecutableRejected is reported for event connection payloads carrying raw executable configuration.
var ErrExecutableRejected = errors.New("executable payload rejected")

// EventURL returns the endpoint of the shared event connection.
func EventURL(base, path, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing renderer URL: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u = u.JoinPath(strings.TrimPrefix(path, "/"))
	q := u.Query()
	q.Set("session", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EventConn is the process-wide connection carrying channel envelopes from the renderer
// and input event records to it.
type EventConn struct {
	log    *zap.SugaredLogger
	mux    *Mux
	opener conn.Opener
	url    string

	mut       sync.Mutex
	state     conn.State
	transport conn.Transport
	done      chan struct{}
}

type Option func(e *EventConn)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *EventConn) {
		e.log = l
	}
}

// WithOpener sets how the connection is opened. Defaults to a conn.Dialer.
func WithOpener(o conn.Opener) Option {
	return func(e *EventConn) {
		e.opener = o
	}
}

// Connect starts opening the event connection at {base}/{path}?session={token}.
// Envelopes received on it are dispatched to mux.
func Connect(ctx context.Context, mux *Mux, base, path, token string, opts ...Option) (*EventConn, error) {
	u, err := EventURL(base, path, token)
	if err != nil {
		return nil, err
	}
	e := &EventConn{
		log:   mux.log,
		mux:   mux,
		url:   u,
		state: conn.StateConnecting,
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.Named("event_conn")
	if e.opener == nil {
		e.opener = &conn.Dialer{Options: []conn.Option{conn.WithLogger(e.log)}}
	}

	e.mut.Lock()
	defer e.mut.Unlock()
	t, err := e.opener.Open(ctx, u, eventHandler{e})
	if err != nil {
		return nil, fmt.Errorf("opening event connection: %w", err)
	}
	e.transport = t
	e.log.Debugw("connecting", "URL", u)
	return e, nil
}

type eventHandler struct {
	e *EventConn
}

func (h eventHandler) OnOpen() {
	h.e.mut.Lock()
	defer h.e.mut.Unlock()
	if h.e.state == conn.StateConnecting {
		h.e.state = conn.StateOpen
		h.e.log.Debug("event connection open")
	}
}

func (h eventHandler) OnMessage(payload []byte, binary bool) {
	if binary {
		h.e.log.Warnf("ignoring binary message of %d bytes", len(payload))
		return
	}
	if err := h.e.handle(string(payload)); err != nil {
		h.e.log.Warnf("discarding event message: %s", err)
	}
}

func (h eventHandler) OnClose(err error) {
	h.e.mut.Lock()
	defer h.e.mut.Unlock()
	if h.e.state == conn.StateClosed {
		return
	}
	h.e.state = conn.StateClosed
	h.e.transport = nil
	close(h.e.done)
	if err != nil {
		h.e.log.Warnf("event connection lost: %s", err)
	} else {
		h.e.log.Debug("event connection closed")
	}
}

func (e *EventConn) handle(msg string) error {
	prefix, body, err := protocol.SplitControl(msg)
	if err != nil {
		return err
	}
	if prefix == protocol.ExecutablePrefix {
		return fmt.Errorf("%w (%d bytes)", ErrExecutableRejected, len(body))
	}
	env, err := protocol.DecodeEnvelope([]byte(body))
	if err != nil {
		return err
	}
	e.mux.Dispatch(env.TargetID, env.Channel, env.Data)
	return nil
}

// ProcessEvent forwards an input event record over the event connection.
// Before the connection opens the record is dropped with a warning; after it closes, silently.
func (e *EventConn) ProcessEvent(sender, name string, args ...any) error {
	b, err := protocol.EncodeEvent(sender, name, args...)
	if err != nil {
		return err
	}
	e.mut.Lock()
	defer e.mut.Unlock()
	switch e.state {
	case conn.StateConnecting:
		e.log.Warnw("event connection not open, dropping event", "Sender", sender, "Event", name)
		return nil
	case conn.StateClosed:
		return nil
	}
	if err := e.transport.Send(context.Background(), b); err != nil {
		e.log.Debugf("send error: %s", err)
	}
	return nil
}

func (e *EventConn) State() conn.State {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.state
}

func (e *EventConn) URL() string {
	return e.url
}

// Done is closed once the connection has ended.
func (e *EventConn) Done() <-chan struct{} {
	return e.done
}

// Close closes the connection. Events processed afterwards are dropped.
func (e *EventConn) Close() error {
	e.mut.Lock()
	t := e.transport
	e.transport = nil
	if e.state != conn.StateClosed {
		e.state = conn.StateClosed
		close(e.done)
	}
	e.mut.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}
