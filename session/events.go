package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownEvent is returned when a renderer asks for an input event this client does not support.
var ErrUnknownEvent = errors.New("unknown event")

// EventName is one of the input events a renderer may subscribe to.
type EventName string

const (
	EventMouseDown   EventName = "mousedown"
	EventMouseUp     EventName = "mouseup"
	EventMouseMove   EventName = "mousemove"
	EventMouseEnter  EventName = "mouseenter"
	EventMouseOut    EventName = "mouseout"
	EventMouseWheel  EventName = "mousewheel"
	EventClick       EventName = "click"
	EventContextMenu EventName = "contextmenu"
	EventDblClick    EventName = "dblclick"
	EventKeyDown     EventName = "keydown"
	EventKeyUp       EventName = "keyup"
	EventKeyPress    EventName = "keypress"
)

// InputEvent is a local input occurrence on a surface.
// Only the fields relevant to the event kind are set.
type InputEvent struct {
	// X and Y are relative to the surface's top-left corner.
	X, Y   float64
	Button int
	// WheelDelta is the wheel movement; only forwarded while Focused.
	WheelDelta float64
	Focused    bool
	KeyCode    int
	Key        string
}

// normalize turns an input event into the args forwarded to the renderer.
// It returns false if the event should not be forwarded.
type normalize func(e InputEvent) ([]any, bool)

func pointerButton(e InputEvent) ([]any, bool) { return []any{e.X, e.Y, e.Button}, true }
func pointerPosition(e InputEvent) ([]any, bool) { return []any{e.X, e.Y}, true }

var events = map[EventName]normalize{
	EventMouseDown:   pointerButton,
	EventMouseUp:     pointerButton,
	EventClick:       pointerButton,
	EventContextMenu: pointerButton,
	EventDblClick:    pointerButton,
	EventMouseMove:   pointerPosition,
	EventMouseEnter:  pointerPosition,
	EventMouseOut:    pointerPosition,
	EventMouseWheel: func(e InputEvent) ([]any, bool) {
		if !e.Focused {
			return nil, false
		}
		return []any{e.WheelDelta}, true
	},
	EventKeyDown:  func(e InputEvent) ([]any, bool) { return []any{e.KeyCode}, true },
	EventKeyUp:    func(e InputEvent) ([]any, bool) { return []any{e.KeyCode}, true },
	EventKeyPress: func(e InputEvent) ([]any, bool) { return []any{e.Key}, true },
}

// ParseEventName validates a wire event name.
func ParseEventName(s string) (EventName, error) {
	name := EventName(s)
	if _, ok := events[name]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownEvent, s)
	}
	return name, nil
}

// EventNames returns all supported event names, sorted.
func EventNames() []EventName {
	names := make([]EventName, 0, len(events))
	for n := range events {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// InputSource is the host capability that delivers local input for one surface.
type InputSource interface {
	// Listen registers fn for events of the given kind and returns a function removing it.
	Listen(name EventName, fn func(InputEvent)) (cancel func())
}

type activation struct {
	cancel func()
}

// Registry maps subscribed event names to active input listeners.
// Each listener forwards its normalized args through forward.
type Registry struct {
	log     *zap.SugaredLogger
	source  InputSource
	forward func(name EventName, args ...any)

	mut    sync.Mutex
	active map[EventName]*activation
}

// NewRegistry builds a registry listening on source. forward must not call back into the registry.
func NewRegistry(log *zap.SugaredLogger, source InputSource, forward func(name EventName, args ...any)) *Registry {
	return &Registry{
		log:     log.Named("event_registry"),
		source:  source,
		forward: forward,
		active:  map[EventName]*activation{},
	}
}

// Subscribe activates the listener for name, replacing any listener already active for it.
// Unknown names are logged and reported with ErrUnknownEvent.
func (r *Registry) Subscribe(s string) error {
	name, err := ParseEventName(s)
	if err != nil {
		r.log.Warnf("cannot subscribe to event: %s", err)
		return err
	}
	norm := events[name]

	r.mut.Lock()
	defer r.mut.Unlock()

	if prev, ok := r.active[name]; ok {
		prev.cancel()
	}
	act := &activation{}
	act.cancel = r.source.Listen(name, func(e InputEvent) {
		if !r.isActive(name, act) {
			return
		}
		args, ok := norm(e)
		if !ok {
			return
		}
		r.forward(name, args...)
	})
	r.active[name] = act
	r.log.Debugw("subscribed", "Event", name)
	return nil
}

// Unsubscribe deactivates the listener for name. It is a no-op if none is active.
func (r *Registry) Unsubscribe(s string) error {
	name, err := ParseEventName(s)
	if err != nil {
		r.log.Warnf("cannot unsubscribe from event: %s", err)
		return err
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	act, ok := r.active[name]
	if !ok {
		return nil
	}
	act.cancel()
	delete(r.active, name)
	r.log.Debugw("unsubscribed", "Event", name)
	return nil
}

func (r *Registry) isActive(name EventName, act *activation) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.active[name] == act
}

func (r *Registry) Active(name EventName) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	_, ok := r.active[name]
	return ok
}

// Subscriptions returns the active event names, sorted.
func (r *Registry) Subscriptions() []EventName {
	r.mut.Lock()
	defer r.mut.Unlock()
	names := make([]EventName, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Close deactivates every listener.
func (r *Registry) Close() {
	r.mut.Lock()
	defer r.mut.Unlock()
	for name, act := range r.active {
		act.cancel()
		delete(r.active, name)
	}
}
