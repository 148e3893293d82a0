package session

import "sync"

// InputHub is an InputSource fed by the host, which calls Emit for every local input event.
type InputHub struct {
	mut       sync.Mutex
	nextID    int
	listeners map[EventName]map[int]func(InputEvent)
}

func NewInputHub() *InputHub {
	return &InputHub{listeners: map[EventName]map[int]func(InputEvent){}}
}

func (h *InputHub) Listen(name EventName, fn func(InputEvent)) func() {
	h.mut.Lock()
	defer h.mut.Unlock()
	id := h.nextID
	h.nextID++
	if h.listeners[name] == nil {
		h.listeners[name] = map[int]func(InputEvent){}
	}
	h.listeners[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mut.Lock()
			defer h.mut.Unlock()
			delete(h.listeners[name], id)
		})
	}
}

// Emit delivers e to every listener of name and returns how many there were.
func (h *InputHub) Emit(name EventName, e InputEvent) int {
	h.mut.Lock()
	fns := make([]func(InputEvent), 0, len(h.listeners[name]))
	for _, fn := range h.listeners[name] {
		fns = append(fns, fn)
	}
	h.mut.Unlock()

	for _, fn := range fns {
		fn(e)
	}
	return len(fns)
}

// Listeners returns the number of listeners registered for name.
func (h *InputHub) Listeners(name EventName) int {
	h.mut.Lock()
	defer h.mut.Unlock()
	return len(h.listeners[name])
}
