// Package channel multiplexes application data from the renderer onto named channels.
//
// A channel is addressed by the id of the element it targets and a channel name. Channels are
// created on first use by either side and live until the renderer sends the teardown sentinel.
package channel

import (
	"sync"

	"github.com/guseggert/remoterender/protocol"
	"go.uber.org/zap"
)

// Key identifies a channel.
type Key struct {
	TargetID string
	Name     string
}

func (k Key) String() string {
	return k.TargetID + "_" + k.Name
}

// Channel is one named channel. It has at most one receive handler.
type Channel struct {
	key Key

	mut     sync.Mutex
	handler func(data string)
}

func (c *Channel) Key() Key {
	return c.key
}

// OnMessage sets the receive handler, replacing any previous one. A nil fn removes it.
func (c *Channel) OnMessage(fn func(data string)) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.handler = fn
}

func (c *Channel) receive(data string) bool {
	c.mut.Lock()
	fn := c.handler
	c.mut.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// Mux holds the channels of one client process.
type Mux struct {
	log *zap.SugaredLogger

	mut      sync.Mutex
	channels map[Key]*Channel
}

func NewMux(log *zap.SugaredLogger) *Mux {
	return &Mux{
		log:      log.Named("channel_mux"),
		channels: map[Key]*Channel{},
	}
}

// GetOrCreate returns the channel for (targetID, name), creating it if needed.
// Repeated calls return the same Channel until it is torn down.
func (m *Mux) GetOrCreate(targetID, name string) *Channel {
	key := Key{TargetID: targetID, Name: name}
	m.mut.Lock()
	defer m.mut.Unlock()
	if c, ok := m.channels[key]; ok {
		return c
	}
	c := &Channel{key: key}
	m.channels[key] = c
	m.log.Debugw("created channel", "Channel", key)
	return c
}

// Lookup returns the channel for (targetID, name) if it exists.
func (m *Mux) Lookup(targetID, name string) (*Channel, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	c, ok := m.channels[Key{TargetID: targetID, Name: name}]
	return c, ok
}

// Dispatch delivers data to the channel's handler and reports whether a handler ran.
// The teardown sentinel removes the channel instead. Data for unknown channels is dropped.
func (m *Mux) Dispatch(targetID, name, data string) bool {
	key := Key{TargetID: targetID, Name: name}
	m.mut.Lock()
	c, ok := m.channels[key]
	if ok && data == protocol.TeardownSentinel {
		delete(m.channels, key)
	}
	m.mut.Unlock()

	if !ok {
		m.log.Debugw("dropping data for unknown channel", "Channel", key)
		return false
	}
	if data == protocol.TeardownSentinel {
		m.log.Debugw("channel was closed", "Channel", key)
		return false
	}
	return c.receive(data)
}

func (m *Mux) Len() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.channels)
}
