package session

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDrain(t *testing.T) {
	var b Buffer
	b.Push([]byte("a"))
	b.Push([]byte("b"))
	b.Push([]byte("c"))
	require.Equal(t, 3, b.Len())

	var got []string
	errB := errors.New("b failed")
	err := b.Drain(func(m []byte) error {
		got = append(got, string(m))
		switch string(m) {
		case "b":
			return errB
		case "c":
			return errors.New("c failed")
		}
		return nil
	})
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, b.Len())

	calls := 0
	require.NoError(t, b.Drain(func([]byte) error { calls++; return nil }))
	assert.Equal(t, 0, calls)
}

func TestBufferReset(t *testing.T) {
	var b Buffer
	assert.Equal(t, 0, b.Reset())
	b.Push([]byte("a"))
	b.Push([]byte("b"))
	assert.Equal(t, 2, b.Reset())
	assert.Equal(t, 0, b.Len())
}

func TestBufferFlushOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("messages sent while connecting arrive once, in order, before the image request", prop.ForAll(
		func(msgs []string) bool {
			h := newHarness(t)
			for _, m := range msgs {
				h.session.Send([]byte(m))
			}
			if len(h.conn.sent()) != 0 {
				return false
			}
			h.conn.open()

			sent := h.conn.sent()
			if len(sent) != len(msgs)+1 {
				return false
			}
			for i, m := range msgs {
				if sent[i] != m {
					return false
				}
			}
			return h.conn.cases()[len(msgs)] == "RequestImage" && h.session.Buffered() == 0
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
