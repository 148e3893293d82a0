package rendertest

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"
	"time"

	"github.com/guseggert/remoterender/internal/netutil"
	"github.com/guseggert/remoterender/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestGradientFrames(t *testing.T) {
	b, err := GradientFrames(protocol.Size{X: 32, Y: 16}, 3)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	b, err = GradientFrames(protocol.Size{}, 0)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Bounds().Dx())
}

func TestAutoRender(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr, err := netutil.FreeLocalAddr()
	require.NoError(t, err)

	server := New(WithLogger(zap.NewNop().Sugar()), WithAutoRender(GradientFrames))
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.ListenAndServe(addr) })

	var ws *websocket.Conn
	require.Eventually(t, func() bool {
		ws, _, err = websocket.Dial(groupCtx, "ws://"+addr+"/render/s1?session=tok&scene=s1&samples=1", nil)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	ws.SetReadLimit(1 << 20)

	var sub map[string]string
	require.NoError(t, wsjson.Read(ctx, ws, &sub))
	assert.Equal(t, map[string]string{"Case": "Subscribe", "eventName": "click"}, sub)

	req, err := protocol.EncodeRequestImage(40, 30)
	require.NoError(t, err)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, req))

	typ, b, err := ws.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, typ)
	img, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	rendered, err := protocol.EncodeRendered()
	require.NoError(t, err)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, rendered))
	typ, next, err := ws.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, typ)
	assert.NotEqual(t, b, next)

	ws.Close(websocket.StatusNormalClosure, "")
	require.NoError(t, server.Stop())
	require.NoError(t, group.Wait())
}
