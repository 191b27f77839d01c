// Command sockoptd serves a control socket backed by an in-memory command
// store: SET saves the body under the command id, GET returns it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"sockopt/config"
	"sockopt/logging"
	"sockopt/metrics"
	"sockopt/middleware"
	"sockopt/registry"
	"sockopt/server"
)

type options struct {
	configPath string
	socket     string
	cmdMin     int
	cmdMax     int
	maxEntries int
}

func main() {
	var opts options
	app := cli.NewApp()
	app.Name = "sockoptd"
	app.Usage = "serve a sockopt control socket backed by an in-memory store"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "TOML config file", Destination: &opts.configPath},
		cli.StringFlag{Name: "socket", Usage: "control socket path (overrides config)", Destination: &opts.socket},
		cli.IntFlag{Name: "cmd-min", Value: 1, Usage: "first command id served", Destination: &opts.cmdMin},
		cli.IntFlag{Name: "cmd-max", Value: 1023, Usage: "last command id served", Destination: &opts.cmdMax},
		cli.IntFlag{Name: "max-entries", Value: 4096, Usage: "stored command ids, 0 for no limit", Destination: &opts.maxEntries},
	}
	app.Action = func(*cli.Context) error { return run(opts) }

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sockoptd: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.socket != "" {
		cfg.SocketPath = opts.socket
	}
	if cfg.SocketPath == "" {
		return errors.New("no socket path configured")
	}
	if opts.cmdMin > opts.cmdMax || opts.cmdMin < -1<<31 || opts.cmdMax > 1<<31-1 {
		return fmt.Errorf("bad command range [%d,%d]", opts.cmdMin, opts.cmdMax)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svrOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxBody(cfg.MaxBodyBytes),
		server.WithSocketMode(fs.FileMode(cfg.Server.SocketMode)),
		server.WithMetrics(m),
	}
	if cfg.Registry.Enabled() {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()
		svrOpts = append(svrOpts, server.WithRegistry(etcd, cfg.Registry.Service, cfg.Registry.TTL, 10))
	}

	svr := server.NewServer(svrOpts...)
	svr.Use(middleware.LoggingMiddleware(logger))
	svr.Use(middleware.MetricsMiddleware(m))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.HandlerTimeout))
	}
	// Innermost, so a panic is answered on the handler's goroutine and the
	// reply still passes through logging and metrics.
	svr.Use(middleware.RecoverMiddleware(logger))
	if err := svr.Register(newStore(opts.maxEntries).sockopt(int32(opts.cmdMin), int32(opts.cmdMax))); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.Server.MetricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(cfg.SocketPath) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := svr.Shutdown(5 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return <-errc
}
