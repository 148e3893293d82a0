package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformed is returned for payloads that are not valid protocol JSON.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownCommand is returned for well-formed payloads carrying an unsupported tag.
	ErrUnknownCommand = errors.New("unknown command")
)

// DecodeError describes a payload that could not be decoded.
type DecodeError struct {
	Case string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Case == "" {
		return fmt.Sprintf("decoding command: %s", e.Err)
	}
	return fmt.Sprintf("decoding command %q: %s", e.Case, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeRequestImage encodes a request for a frame of the given size.
// Fractional sizes are rounded to whole pixels.
func EncodeRequestImage(width, height float64) ([]byte, error) {
	return json.Marshal(requestImageMessage{
		Case: CaseRequestImage,
		Size: Size{X: pixels(width), Y: pixels(height)},
	})
}

// pixels rounds v to a pixel count in [0, math.MaxInt32]. NaN counts as 0.
func pixels(v float64) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(v))
}

func EncodeChange(scene string, samples int) ([]byte, error) {
	return json.Marshal(changeMessage{Case: CaseChange, Scene: scene, Samples: samples})
}

// EncodeRendered encodes the frame acknowledgement.
func EncodeRendered() ([]byte, error) {
	return json.Marshal(renderedMessage{Case: CaseRendered})
}

// EncodeEvent encodes an input event record. Each arg is JSON-encoded separately
// and carried as a string, so the renderer can decode them with their own types.
func EncodeEvent(sender, name string, args ...any) ([]byte, error) {
	rec := EventRecord{Sender: sender, Name: name, Args: make([]string, 0, len(args))}
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding arg %d of event %q: %w", i, name, err)
		}
		rec.Args = append(rec.Args, string(b))
	}
	return json.Marshal(rec)
}

// DecodeCommand decodes a renderer-to-session text payload.
// The returned error wraps ErrMalformed or ErrUnknownCommand.
func DecodeCommand(b []byte) (Command, error) {
	var msg commandMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %s", ErrMalformed, err)}
	}
	switch msg.Case {
	case CaseInvalidate:
		return Invalidate{}, nil
	case CaseSubscribe:
		if msg.EventName == "" {
			return nil, &DecodeError{Case: msg.Case, Err: fmt.Errorf("%w: missing eventName", ErrMalformed)}
		}
		return Subscribe{EventName: msg.EventName}, nil
	case CaseUnsubscribe:
		if msg.EventName == "" {
			return nil, &DecodeError{Case: msg.Case, Err: fmt.Errorf("%w: missing eventName", ErrMalformed)}
		}
		return Unsubscribe{EventName: msg.EventName}, nil
	default:
		return nil, &DecodeError{Case: msg.Case, Err: ErrUnknownCommand}
	}
}

type envelopeMessage struct {
	TargetID string          `json:"targetId"`
	Channel  string          `json:"channel"`
	Data     json.RawMessage `json:"data"`
}

// DecodeEnvelope decodes a channel envelope.
// String data is unquoted; any other JSON value is passed through as its raw text.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var msg envelopeMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if msg.TargetID == "" || msg.Channel == "" {
		return Envelope{}, fmt.Errorf("%w: envelope without targetId or channel", ErrMalformed)
	}
	env := Envelope{TargetID: msg.TargetID, Channel: msg.Channel}
	if len(msg.Data) > 0 {
		var s string
		if err := json.Unmarshal(msg.Data, &s); err == nil {
			env.Data = s
		} else {
			env.Data = string(msg.Data)
		}
	}
	return env, nil
}

// SplitControl splits an event connection payload into its control prefix and body.
func SplitControl(s string) (byte, string, error) {
	if s == "" {
		return 0, "", fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	return s[0], s[1:], nil
}

// FormatRate renders a frame rate the way it is shown on the overlay.
func FormatRate(fps float64) string {
	return fmt.Sprintf("%.2f fps", fps)
}
