// Package metrics exports render session state to Prometheus.
package metrics

import (
	"context"

	"github.com/guseggert/remoterender/display"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Config struct {
	// Namespace is the metrics namespace (default: "remoterender").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the per-surface render metrics of one client.
type Metrics struct {
	frameRate *prometheus.GaugeVec
	loading   *prometheus.GaugeVec
	fades     *prometheus.CounterVec
	frames    *prometheus.CounterVec
}

func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "remoterender",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		frameRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "frame_rate",
			Help:      "Most recently measured frames per second",
		}, []string{"surface"}),

		loading: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "loading",
			Help:      "1 while the surface waits for its first frame after connecting",
		}, []string{"surface"}),

		fades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "transitions_total",
			Help:      "Total number of fade in and fade out transitions",
		}, []string{"surface", "direction"}),

		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "frames_total",
			Help:      "Total number of frames displayed",
		}, []string{"surface"}),
	}
}

// Presenter returns a session presenter recording the state of surface.
func (m *Metrics) Presenter(surface string) *Presenter {
	p := &Presenter{
		frameRate: m.frameRate.WithLabelValues(surface),
		loading:   m.loading.WithLabelValues(surface),
		fadeIns:   m.fades.WithLabelValues(surface, "in"),
		fadeOuts:  m.fades.WithLabelValues(surface, "out"),
	}
	p.loading.Set(1)
	return p
}

// Sink wraps next, counting every frame shown by surface.
func (m *Metrics) Sink(next display.Sink) display.Sink {
	return &countingSink{next: next, frames: m.frames}
}

type Presenter struct {
	frameRate prometheus.Gauge
	loading   prometheus.Gauge
	fadeIns   prometheus.Counter
	fadeOuts  prometheus.Counter
}

func (p *Presenter) FadeIn() {
	p.loading.Set(0)
	p.fadeIns.Inc()
}

func (p *Presenter) FadeOut() {
	p.loading.Set(1)
	p.frameRate.Set(0)
	p.fadeOuts.Inc()
}

func (p *Presenter) FrameRate(fps float64) {
	p.frameRate.Set(fps)
}

type countingSink struct {
	next   display.Sink
	frames *prometheus.CounterVec
}

func (s *countingSink) Show(ctx context.Context, f *display.Frame) error {
	s.frames.WithLabelValues(f.Surface).Inc()
	return s.next.Show(ctx, f)
}
