package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blackbox/pkg/blackbox"
	"blackbox/pkg/bridge/foxglove"
	"blackbox/pkg/config"
	"blackbox/pkg/engine"
	"blackbox/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(opts *globalOptions) *cobra.Command {
	var (
		src         sourceFlags
		jsonlPath   string
		wsAddr      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Decode a live stream and publish it",
		Long: `Serve reads the configured source and fans reconstructed snapshots out to a
JSONL log, a Foxglove websocket and a Prometheus /metrics endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if jsonlPath != "" {
				cfg.Recorder.JSONL = jsonlPath
			}
			if wsAddr != "" {
				cfg.Foxglove.WSAddr = wsAddr
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := src.apply(&cfg); err != nil {
				return err
			}
			log, err := opts.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd.Context(), cfg, opts, log)
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", `JSONL output path, "-" for stdout`)
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "foxglove websocket listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "prometheus listen address")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, opts *globalOptions, log *zap.SugaredLogger) (err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := blackbox.NewMetrics(blackbox.WithRegistry(reg))

	hub := engine.NewHub(engine.WithClientBuffer(cfg.Source.Buf))
	promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: "blackbox",
		Name:      "hub_dropped_total",
		Help:      "Records not delivered because a consumer was behind.",
	}, func() float64 { return float64(hub.Dropped()) })

	fox := foxglove.NewServer(foxglove.Config{
		Name:          "bbtool",
		SnapshotTopic: cfg.Foxglove.SnapshotTopic,
		AttitudeTopic: cfg.Foxglove.AttitudeTopic,
		BatteryTopic:  cfg.Foxglove.BatteryTopic,
		ParentFrameID: cfg.Foxglove.ParentFrame,
		FrameID:       cfg.Foxglove.FrameID,
	}, hub, foxglove.WithLogger(log.Named("foxglove")))

	servers, err := listen(newRouters(cfg, fox.Handler(), promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	if err != nil {
		return err
	}

	var jsonl *logger.JSONLWriter
	if cfg.Recorder.JSONL != "" {
		out, closeOut, err := openOutput(cfg.Recorder.JSONL, opts.stdout)
		if err != nil {
			closeListeners(servers)
			return err
		}
		defer func() { err = multierr.Append(err, closeOut()) }()
		jsonl = logger.NewJSONLWriter(out)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if jsonl != nil {
		// Subscribe before the source starts so no record is missed.
		sub := hub.Subscribe()
		g.Go(func() error {
			return jsonl.Consume(gctx, sub)
		})
	}

	g.Go(func() error {
		return fox.Run(gctx)
	})

	for _, s := range servers {
		g.Go(func() error {
			log.Infow("listening", "addr", s.ln.Addr().String(), "routes", s.routes)
			if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.srv.Shutdown(shutdownCtx)
		})
	}

	reader := blackbox.NewReader(blackbox.WithReaderLogger(log.Named("reader")), blackbox.WithReaderMetrics(metrics))
	g.Go(func() error {
		err := pumpSource(gctx, cfg, reader, log, func(rec engine.Record) error {
			return hub.PublishContext(gctx, rec)
		})
		if err = ignoreCanceled(gctx, err); err != nil {
			return err
		}
		if gctx.Err() == nil {
			log.Infow("source finished", "frames", reader.Stats().FramesDecoded)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type httpServer struct {
	ln     net.Listener
	srv    *http.Server
	routes []string
}

type routeSet struct {
	mux    *chi.Mux
	routes []string
}

// newRouters groups the websocket and metrics routes by listen address, so
// both can share one port.
func newRouters(cfg config.Config, ws, metrics http.Handler) map[string]*routeSet {
	byAddr := map[string]*routeSet{}
	get := func(addr string) *routeSet {
		rt, ok := byAddr[addr]
		if !ok {
			mux := chi.NewRouter()
			mux.Use(middleware.Recoverer)
			mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
			})
			rt = &routeSet{mux: mux}
			byAddr[addr] = rt
		}
		return rt
	}

	rt := get(cfg.Foxglove.WSAddr)
	rt.mux.Handle("/", ws)
	rt.routes = append(rt.routes, "/")

	rt = get(cfg.Metrics.Addr)
	rt.mux.Handle("/metrics", metrics)
	rt.routes = append(rt.routes, "/metrics")
	return byAddr
}

func listen(byAddr map[string]*routeSet) ([]httpServer, error) {
	var servers []httpServer
	for addr, rt := range byAddr {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			closeListeners(servers)
			return nil, err
		}
		servers = append(servers, httpServer{
			ln:     ln,
			routes: rt.routes,
			srv: &http.Server{
				Handler:           rt.mux,
				ReadHeaderTimeout: 10 * time.Second,
			},
		})
	}
	return servers, nil
}

func closeListeners(servers []httpServer) {
	for _, s := range servers {
		_ = s.ln.Close()
	}
}
