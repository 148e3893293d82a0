package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/guseggert/remoterender/client"
	"github.com/guseggert/remoterender/conn"
	"github.com/guseggert/remoterender/display"
	"github.com/guseggert/remoterender/internal/rendertest"
	"github.com/guseggert/remoterender/metrics"
	"github.com/guseggert/remoterender/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "renderclient",
		Usage: "a thin client for remote rendering sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			connectCommand,
			fakeRendererCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}

var connectCommand = &cli.Command{
	Name:  "connect",
	Usage: "open render sessions for one or more surfaces and keep their frames",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "url",
			Usage:    "The renderer's base WebSocket URL.",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:     "surface",
			Usage:    "A surface to render. May be repeated.",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "scene",
			Usage: "The scene to render. Defaults to the surface id.",
		},
		&cli.IntFlag{
			Name:  "samples",
			Usage: "The number of samples per pixel.",
			Value: 1,
		},
		&cli.Float64Flag{
			Name:  "width",
			Usage: "The surface width in pixels.",
			Value: 1024,
		},
		&cli.Float64Flag{
			Name:  "height",
			Usage: "The surface height in pixels.",
			Value: 768,
		},
		&cli.StringFlag{
			Name:  "events-path",
			Usage: "If set, also open the shared event connection at this path.",
		},
		&cli.StringFlag{
			Name:  "out-dir",
			Usage: "If set, the latest frame of each surface is written to <out-dir>/<surface>/latest.jpg.",
		},
		&cli.StringFlag{
			Name:  "s3-bucket",
			Usage: "If set, frames are archived to this S3 bucket.",
		},
		&cli.StringFlag{
			Name:  "s3-prefix",
			Usage: "The key prefix of archived frames.",
			Value: "frames",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "The region of the S3 bucket.",
			Value: "us-east-1",
		},
		&cli.Uint64Flag{
			Name:  "s3-every",
			Usage: "Archive only every Nth frame.",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "reconnect-attempts",
			Usage: "How many times to redial a dropped session. 0 disables reconnecting.",
		},
		&cli.DurationFlag{
			Name:  "reconnect-max-wait",
			Usage: "The longest wait between reconnect attempts.",
			Value: 10 * time.Second,
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "If set, serve Prometheus metrics on this address.",
		},
		&cli.StringFlag{
			Name:  "ca-cert",
			Usage: "Path to a PEM CA cert to trust for wss:// renderers.",
		},
		&cli.StringFlag{
			Name:  "cert",
			Usage: "Path to a PEM client cert.",
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: "Path to the PEM key of the client cert.",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		log, err := newLogger(cliCtx.String("log-level"))
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpClient, err := handshakeClient(log, cliCtx.String("ca-cert"), cliCtx.String("cert"), cliCtx.String("key"))
		if err != nil {
			return err
		}
		opener := &conn.Dialer{Options: []conn.Option{
			conn.WithLogger(log),
			conn.WithHTTPClient(httpClient),
		}}

		registry := prometheus.NewRegistry()
		m := metrics.New(metrics.WithRegistry(registry))

		var reconnect session.ReconnectPolicy = session.NoReconnect{}
		if n := cliCtx.Int("reconnect-attempts"); n > 0 {
			reconnect = session.Backoff{MaxAttempts: n, Min: 500 * time.Millisecond, Max: cliCtx.Duration("reconnect-max-wait")}
		}

		c, err := client.New(cliCtx.String("url"),
			client.WithLogger(log),
			client.WithOpener(opener),
			client.WithSessionOptions(
				session.WithSurface(session.NewFixedSurface(cliCtx.Float64("width"), cliCtx.Float64("height"))),
				session.WithReconnectPolicy(reconnect),
			),
		)
		if err != nil {
			return fmt.Errorf("building client: %w", err)
		}
		defer c.Close()
		log.Infow("client token", "Token", c.Token())

		var closers []func() error
		for _, surface := range cliCtx.StringSlice("surface") {
			sink, sinkClosers, err := buildSink(cliCtx, surface)
			if err != nil {
				return err
			}
			closers = append(closers, sinkClosers...)
			_, err = c.Renderer(ctx, session.Config{
				SurfaceID: surface,
				Scene:     cliCtx.String("scene"),
				Samples:   cliCtx.Int("samples"),
			},
				session.WithSink(m.Sink(sink)),
				session.WithPresenter(session.Presenters{
					session.LogPresenter{Log: log.Named(surface)},
					m.Presenter(surface),
				}),
			)
			if err != nil {
				return err
			}
		}

		if path := cliCtx.String("events-path"); path != "" {
			if _, err := c.Connect(ctx, path); err != nil {
				return fmt.Errorf("connecting event channel: %w", err)
			}
		}

		group, groupCtx := errgroup.WithContext(ctx)
		if addr := cliCtx.String("metrics-addr"); addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			server := &http.Server{Addr: addr, Handler: mux}
			group.Go(func() error {
				log.Infow("serving metrics", "Addr", addr)
				err := server.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			group.Go(func() error {
				<-groupCtx.Done()
				return server.Close()
			})
		}
		group.Go(func() error {
			<-groupCtx.Done()
			log.Info("shutting down")
			errs := []error{c.Close()}
			for _, closeSink := range closers {
				errs = append(errs, closeSink())
			}
			return errors.Join(errs...)
		})
		return group.Wait()
	},
}

func handshakeClient(log *zap.SugaredLogger, caCertPath, certPath, keyPath string) (*http.Client, error) {
	var pems [3][]byte
	for i, p := range []string{caCertPath, certPath, keyPath} {
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		pems[i] = b
	}
	tlsConfig, err := conn.ClientTLSConfig(pems[0], pems[1], pems[2])
	if err != nil {
		return nil, err
	}
	return conn.NewHTTPClient(log, conn.HTTPClientOptions{
		TLSConfig:    tlsConfig,
		RetryMax:     3,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}), nil
}

func buildSink(cliCtx *cli.Context, surface string) (display.Sink, []func() error, error) {
	var (
		sinks   display.Tee
		closers []func() error
	)
	if dir := cliCtx.String("out-dir"); dir != "" {
		fs := &display.FileSink{Path: filepath.Join(dir, surface, "latest.jpg")}
		sinks = append(sinks, fs)
		closers = append(closers, fs.Close)
	}
	if bucket := cliCtx.String("s3-bucket"); bucket != "" {
		s3Sink, err := display.NewS3Sink(cliCtx.String("s3-region"), bucket, cliCtx.String("s3-prefix"))
		if err != nil {
			return nil, nil, err
		}
		s3Sink.Every = cliCtx.Uint64("s3-every")
		sinks = append(sinks, s3Sink)
		closers = append(closers, s3Sink.Close)
	}
	switch len(sinks) {
	case 0:
		return display.Discard{}, nil, nil
	case 1:
		return sinks[0], closers, nil
	default:
		return sinks, closers, nil
	}
}

var fakeRendererCommand = &cli.Command{
	Name:  "fake-renderer",
	Usage: "serve stub gradient frames to render clients, for local testing",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the renderer to listen on.",
			Value: "127.0.0.1:4321",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		log, err := newLogger(cliCtx.String("log-level"))
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := rendertest.New(
			rendertest.WithLogger(log),
			rendertest.WithAutoRender(rendertest.GradientFrames),
		)
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return server.ListenAndServe(cliCtx.String("listen-addr"))
		})
		group.Go(func() error {
			<-groupCtx.Done()
			return server.Stop()
		})
		return group.Wait()
	},
}
