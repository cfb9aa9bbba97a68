package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksbridge/internal/config"
	"github.com/die-net/socksbridge/internal/logging"
	"github.com/die-net/socksbridge/internal/metrics"
	"github.com/die-net/socksbridge/internal/proxy"
)

var (
	// Reduce GC overhead by setting a minimum GC heap size;
	// GOGC+GOMEMLIMIT can't express this.  This only allocates virtual
	// memory, not RSS.  Ignore it in memory profiles.
	ballast = make([]byte, 0, 25_000_000)
	_       = ballast
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "socksbridge.yaml", "Path to the YAML configuration file")

		debugListen   = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout   = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect on direct listeners")
		watch         = pflag.Bool("watch", true, "Reload listeners when the configuration file changes")
		watchDebounce = pflag.Duration("watch-debounce", config.DefaultDebounce, "Quiet period after a configuration change before reloading")
		logLevel      = pflag.String("log-level", "info", "Log level: trace|debug|info|warn|error")
		logJSON       = pflag.Bool("log-json", false, "Log JSON lines instead of console output")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel, JSON: *logJSON})
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	store, err := config.NewFileStore(*configPath, logger)
	if err != nil {
		return fmt.Errorf("invalid --config: %w", err)
	}
	store.Debounce = *watchDebounce

	if _, err := store.Read(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mgr := proxy.NewManager(ctx, store, proxy.Options{
		DialTimeout: *dialTimeout,
		Metrics:     metrics.New(reg),
		Logger:      logger,
	})
	if err := mgr.Start(); err != nil {
		if errors.Is(err, proxy.ErrTLSMaterial) {
			return fmt.Errorf("refusing to start without TLS material: %w", err)
		}
		return fmt.Errorf("start listeners: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		mgr.Close()
		return nil
	})

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	if *watch {
		g.Go(func() error {
			return store.Watch(ctx, func() {
				// Keep serving the old set rather than stopping on a bad edit.
				if _, err := store.Read(); err != nil {
					logger.Error().Err(err).Msg("ignoring invalid config change")
					return
				}
				mgr.Reload()
			})
		})
	}

	g.Go(func() error {
		return reloadOnHangup(ctx, mgr, logger)
	})

	err = g.Wait()

	logger.Info().Msg("shutting down")
	return err
}

// reloadOnHangup reloads the listener set on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, mgr *proxy.Manager, logger zerolog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info().Msg("SIGHUP received, reloading")
			mgr.Reload()
		}
	}
}
