package protocol

// Case tags used on the wire.
const (
	CaseRequestImage = "RequestImage"
	CaseChange       = "Change"
	CaseRendered     = "Rendered"

	CaseInvalidate  = "Invalidate"
	CaseSubscribe   = "Subscribe"
	CaseUnsubscribe = "Unsubscribe"
)

// TeardownSentinel is the channel payload that tells the client to drop the channel.
const TeardownSentinel = "commit-suicide"

// ExecutablePrefix marks an event connection payload as raw executable configuration.
const ExecutablePrefix = 'x'

// Size is a pixel size, serialized with the renderer's X/Y field names.
type Size struct {
	X int `json:"X"`
	Y int `json:"Y"`
}

type requestImageMessage struct {
	Case string `json:"Case"`
	Size Size   `json:"size"`
}

type changeMessage struct {
	Case    string `json:"Case"`
	Scene   string `json:"scene"`
	Samples int    `json:"samples"`
}

type renderedMessage struct {
	Case string `json:"Case"`
}

// EventRecord forwards one local input event to the renderer.
// Every arg is itself a JSON document, encoded as a string.
type EventRecord struct {
	Sender string   `json:"sender"`
	Name   string   `json:"name"`
	Args   []string `json:"args"`
}

// commandMessage is the union of all renderer-to-session command fields.
type commandMessage struct {
	Case      string `json:"Case"`
	EventName string `json:"eventName,omitempty"`
}

// Command is a decoded renderer-to-session command.
type Command interface {
	Case() string
}

// Invalidate asks the session to request a fresh image.
type Invalidate struct{}

func (Invalidate) Case() string { return CaseInvalidate }

// Subscribe asks the session to start forwarding an input event.
type Subscribe struct {
	EventName string
}

func (Subscribe) Case() string { return CaseSubscribe }

// Unsubscribe asks the session to stop forwarding an input event.
type Unsubscribe struct {
	EventName string
}

func (Unsubscribe) Case() string { return CaseUnsubscribe }

// Envelope is a payload routed to a named channel of a target.
type Envelope struct {
	TargetID string `json:"targetId"`
	Channel  string `json:"channel"`
	Data     string `json:"data"`
}
