package client

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/remoterender/conn"
	"github.com/guseggert/remoterender/internal/rendertest"
	"github.com/guseggert/remoterender/protocol"
	"github.com/guseggert/remoterender/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestNew(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	c, err := New("ws://host/", WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token())

	c, err = New("ws://host/", WithLogger(zap.NewNop().Sugar()), WithToken("fixed"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.Token())
	require.NoError(t, c.ProcessEvent("el", "click", 1))
}

func TestClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := zap.NewNop().Sugar()
	server := rendertest.New(rendertest.WithLogger(log))
	server.Start()
	t.Cleanup(func() { server.Stop() })

	c, err := New(server.URL(),
		WithLogger(log),
		WithToken("tok"),
		WithSessionOptions(session.WithSurface(session.NewFixedSurface(64, 48))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	left, err := c.Renderer(ctx, session.Config{SurfaceID: "left"})
	require.NoError(t, err)
	right, err := c.Renderer(ctx, session.Config{SurfaceID: "right", Scene: "box", Samples: 2})
	require.NoError(t, err)
	again, err := c.Renderer(ctx, session.Config{SurfaceID: "left", Scene: "ignored"})
	require.NoError(t, err)
	assert.Same(t, left, again)
	assert.Equal(t, []string{"left", "right"}, c.Surfaces())

	surfaces := make(chan string, 2)
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 2; i++ {
		group.Go(func() error {
			rc, err := server.NextRender(gctx)
			if err != nil {
				return err
			}
			tag, _, err := rc.ReadCase(gctx)
			if err != nil {
				return err
			}
			if tag != protocol.CaseRequestImage {
				t.Errorf("expected RequestImage, got %q", tag)
			}
			if rc.Query.Get("session") != "tok" {
				t.Errorf("unexpected session token %q", rc.Query.Get("session"))
			}
			surfaces <- rc.Surface
			return nil
		})
	}
	require.NoError(t, group.Wait())
	close(surfaces)
	var got []string
	for s := range surfaces {
		got = append(got, s)
	}
	assert.ElementsMatch(t, []string{"left", "right"}, got)

	ec, err := c.Connect(ctx, "/events")
	require.NoError(t, err)
	same, err := c.Connect(ctx, "/events")
	require.NoError(t, err)
	assert.Same(t, ec, same)

	sc, err := server.NextEvents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ec.State() == conn.StateOpen }, 5*time.Second, 10*time.Millisecond)

	msgs := make(chan string, 1)
	c.Mux().GetOrCreate("left", "camera").OnMessage(func(data string) { msgs <- data })
	require.NoError(t, sc.SendEnvelope(ctx, "left", "camera", "moved"))
	select {
	case m := <-msgs:
		assert.Equal(t, "moved", m)
	case <-ctx.Done():
		t.Fatal("no channel message")
	}

	require.NoError(t, c.ProcessEvent("left", "keydown", 65))
	m, err := sc.ReadJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, "keydown", m["name"])

	require.NoError(t, c.Close())
	assert.Equal(t, session.StateClosed, left.State())
	assert.Equal(t, session.StateClosed, right.State())
	assert.Equal(t, conn.StateClosed, ec.State())
	assert.Empty(t, c.Surfaces())
}
