package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/api"
	"github.com/zhengshuai-xiao/RelayS/pkg/bundle"
	"github.com/zhengshuai-xiao/RelayS/pkg/calibration"
	"github.com/zhengshuai-xiao/RelayS/pkg/daemon"
	"github.com/zhengshuai-xiao/RelayS/pkg/egress"
	"github.com/zhengshuai-xiao/RelayS/pkg/ingest"
	"github.com/zhengshuai-xiao/RelayS/pkg/meta"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/registry"
	"github.com/zhengshuai-xiao/RelayS/pkg/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func cmdServe() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Action:    serve,
		Category:  "SERVICE",
		Usage:     "Start the upload and download relay",
		ArgsUsage: " ",
		Description: `
			Relays instrument uploads into S3-compatible storage and serves stored objects and
			bundles back to clients. The storage credentials are read from RELAYS_ACCESS_KEY and
			RELAYS_SECRET_KEY, falling back to MINIO_ROOT_USER and MINIO_ROOT_PASSWORD.

			Examples:
			$ export RELAYS_ACCESS_KEY=admin
			$ export RELAYS_SECRET_KEY=12345678
			$ relays serve --meta-addr 127.0.0.1:6379/1 --backend-addr http://127.0.0.1:9000`,
		Flags: serveFlags(),
	}
}

func serve(c *cli.Context) error {
	setupLogging(c)
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	if shouldExit, err := handleBackgroundMode(c, conf); err != nil {
		logger.Fatalf("Failed to start in background: %v", err)
	} else if shouldExit {
		return nil
	}

	if conf.LogDir != "" {
		internal.SetOutFile(filepath.Join(conf.LogDir, "relays.log"))
	}
	if c.IsSet("loglevel") || !c.Bool("verbose") && !c.Bool("trace") && !c.Bool("quiet") {
		internal.SetLogLevel(internal.ParseLogLevel(conf.LogLevel))
	}
	if conf.Backend.AccessKey == "" || conf.Backend.SecretKey == "" {
		logger.Warnf("storage credentials are not set, requests to %s will be anonymous", conf.Backend.Endpoint)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, unix.SIGTERM)
	defer stop()

	metaConf := meta.DefaultConfig()
	if conf.AccessLogCap > 0 {
		metaConf.AccessLogCap = conf.AccessLogCap
	}
	store, err := meta.NewRedisMeta(conf.MetaAddr, metaConf)
	if err != nil {
		return fmt.Errorf("connect repository %s: %w", internal.RemovePassword(conf.MetaAddr), err)
	}
	defer store.Shutdown()

	backend, err := storage.NewBackend(ctx, conf.Backend)
	if err != nil {
		return err
	}
	buckets := storage.NewBucketResolver(conf.Buckets)
	if c.Bool("make-buckets") {
		for _, b := range buckets.Buckets() {
			if err := backend.MakeBucket(ctx, b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry)

	reg := registry.New(store, conf.Retention())
	streamer := egress.New(store, store, backend, buckets, m)
	srv := api.New(api.Options{
		Registry:    reg,
		Ingestor:    ingest.New(reg, store, backend, buckets, m),
		Streamer:    streamer,
		Bundler:     bundle.New(store, backend, buckets, conf.ArchiveFormat, m),
		Calibration: calibration.New(store),
		Auth:        api.HeaderAuthenticator{Header: conf.SiteHeader},
		Metrics:     m,
		Gatherer:    promRegistry,
		Ping:        store.Ping,
	})

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("relays %s listening on %s, meta %s, %s backend %s",
			internal.Version(), conf.Listen, internal.RemovePassword(conf.MetaAddr), backend.Name(), conf.Backend.Endpoint)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), internal.GlobalShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		streamer.Wait()
		return err
	})
	return g.Wait()
}

// handleBackgroundMode daemonizes the process when --background is set. It
// returns true in the parent, which should exit.
func handleBackgroundMode(c *cli.Context, conf *internal.Config) (shouldExit bool, err error) {
	if daemon.WasReborn() {
		daemon.UnsetMark()
		return false, nil
	}
	if !c.Bool("background") {
		return false, nil
	}

	logDir := conf.LogDir
	if logDir == "" {
		logDir = internal.GetDefaultLogDir()
	}
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return false, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}
	pidFile := filepath.Join(logDir, "relays.pid")
	if err := daemon.CheckPidFile(pidFile); err != nil {
		return false, err
	}

	d, err := daemon.Daemonize(pidFile, filepath.Join(logDir, "relays.out"), daemon.StripBackground(os.Args))
	if err != nil {
		return false, fmt.Errorf("unable to run in background: %w", err)
	}
	return d != nil, nil
}
