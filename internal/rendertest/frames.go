package rendertest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/guseggert/remoterender/protocol"
)

// FrameSource produces a frame image of the requested size. seq counts frames on one connection.
type FrameSource func(size protocol.Size, seq int) ([]byte, error)

// GradientFrames renders a moving gradient as JPEG.
func GradientFrames(size protocol.Size, seq int) ([]byte, error) {
	w, h := size.X, size.Y
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + seq) * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8(seq),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// serveFrames answers RequestImage with a frame and sends the next frame only after the
// previous one has been acknowledged with Rendered.
func (s *Server) serveFrames(rc *RenderConn) {
	defer rc.Close()
	log := s.log.With("Surface", rc.Surface)
	ctx := rc.ctx

	err := rc.SendJSON(ctx, map[string]string{"Case": protocol.CaseSubscribe, "eventName": "click"})
	if err != nil {
		log.Debugf("error subscribing: %s", err)
		return
	}

	var (
		size     protocol.Size
		seq      int
		inFlight bool
	)
	sendFrame := func() error {
		b, err := s.frames(size, seq)
		if err != nil {
			return err
		}
		seq++
		inFlight = true
		return rc.SendFrame(ctx, b)
	}

	for {
		tag, m, err := rc.ReadCase(ctx)
		if err != nil {
			log.Debugf("read error: %s", err)
			return
		}
		switch tag {
		case protocol.CaseRequestImage:
			if sz, ok := m["size"].(map[string]any); ok {
				x, _ := sz["X"].(float64)
				y, _ := sz["Y"].(float64)
				size = protocol.Size{X: int(x), Y: int(y)}
			}
			if !inFlight {
				err = sendFrame()
			}
		case protocol.CaseRendered:
			inFlight = false
			err = sendFrame()
		case protocol.CaseChange:
			log.Infow("scene changed", "Scene", m["scene"], "Samples", m["samples"])
			if !inFlight {
				err = sendFrame()
			}
		case "":
			log.Infow("event", "Name", m["name"], "Args", m["args"])
		default:
			log.Debugw("ignoring message", "Case", tag)
		}
		if err != nil {
			log.Debugf("error sending frame: %s", err)
			return
		}
	}
}
