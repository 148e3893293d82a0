package session

import (
	"github.com/guseggert/remoterender/protocol"
	"go.uber.org/zap"
)

// Presenter shows the session's loading state and frame rate. It is purely presentational.
type Presenter interface {
	// FadeIn is called when the first frame after a (re)connect arrives.
	FadeIn()
	// FadeOut is called when a session that was showing frames loses its connection.
	FadeOut()
	// FrameRate is called about once per second while frames arrive.
	FrameRate(fps float64)
}

type NopPresenter struct{}

func (NopPresenter) FadeIn()           {}
func (NopPresenter) FadeOut()          {}
func (NopPresenter) FrameRate(float64) {}

// LogPresenter logs presentation changes.
type LogPresenter struct {
	Log *zap.SugaredLogger
}

func (p LogPresenter) FadeIn()  { p.Log.Info("render control initialized") }
func (p LogPresenter) FadeOut() { p.Log.Info("render control closed") }

func (p LogPresenter) FrameRate(fps float64) {
	p.Log.Debugw("frame rate", "FPS", protocol.FormatRate(fps))
}

// Presenters fans out to several presenters.
type Presenters []Presenter

func (ps Presenters) FadeIn() {
	for _, p := range ps {
		p.FadeIn()
	}
}

func (ps Presenters) FadeOut() {
	for _, p := range ps {
		p.FadeOut()
	}
}

func (ps Presenters) FrameRate(fps float64) {
	for _, p := range ps {
		p.FrameRate(fps)
	}
}
