package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/api"
	"github.com/gaspardpetit/skybridge/internal/config"
	"github.com/gaspardpetit/skybridge/internal/idmap"
	"github.com/gaspardpetit/skybridge/internal/mapstore"
	"github.com/gaspardpetit/skybridge/internal/metrics"
	"github.com/gaspardpetit/skybridge/internal/server"
	"github.com/gaspardpetit/skybridge/internal/serverstate"
	"github.com/gaspardpetit/skybridge/internal/session"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// loadConfig resolves settings with file < env < flags precedence. Flags
// are parsed twice: once to find the config file, once over the file's
// values.
func loadConfig(args []string) (config.BridgeConfig, bool, error) {
	parse := func(cfg *config.BridgeConfig) (bool, error) {
		fs := flag.NewFlagSet("skybridge", flag.ContinueOnError)
		showVersion := fs.Bool("version", false, "print version and exit")
		cfg.BindFlags(fs)
		fs.Usage = func() {
			_, _ = fmt.Fprintf(fs.Output(), "skybridge version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
			fs.PrintDefaults()
		}
		err := fs.Parse(args)
		return *showVersion, err
	}

	var first config.BridgeConfig
	first.SetDefaults()
	first.ApplyEnv()
	if v, err := parse(&first); err != nil || v {
		return first, v, err
	}

	var cfg config.BridgeConfig
	if err := cfg.LoadFile(first.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, false, fmt.Errorf("load config %s: %w", first.ConfigFile, err)
	}
	cfg.ConfigFile = first.ConfigFile
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if _, err := parse(&cfg); err != nil {
		return cfg, false, err
	}
	return cfg, false, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.BridgeConfig) (mapstore.Store, error) {
	if cfg.RedisAddr == "" {
		logx.Log.Warn().Msg("no redis configured; mappings and sessions live in process memory")
		return mapstore.NewMemoryStore(), nil
	}
	kv, err := mapstore.NewRedisStore(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis mapping store")
	return kv, nil
}

func main() {
	cfg, showVersion, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if showVersion {
		fmt.Printf("skybridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("config")
	}
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := openStore(ctx, cfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("open mapping store")
	}
	defer func() { _ = kv.Close() }()

	ids, err := idmap.New(kv, idmap.Options{
		KeyPrefix:     cfg.KeyPrefix,
		NodeID:        int64(cfg.NodeID),
		MaxAttempts:   cfg.MaxCollisionAttempts,
		LocalCacheTTL: cfg.CacheTTL(),
		LocalCacheMB:  cfg.LocalCacheMB,
	})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("id mapping service")
	}
	factory := session.NewFactory(cfg.UpstreamHost, session.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
	handlers := &api.Handlers{
		IDs:      ids,
		Sessions: session.NewStore(kv, cfg.KeyPrefix, cfg.SessionTTL),
		Factory:  factory,
		Timeout:  cfg.RequestTimeout,
	}

	handler, preg := server.New(cfg, handlers)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logx.Log.Info().Int("port", cfg.Port).Str("upstream", cfg.UpstreamHost).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		// A second signal now terminates the process.
		stop()
		serverstate.StartDrain()
		logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(sctx)
		}
		if err := srv.Shutdown(sctx); err != nil {
			logx.Log.Warn().Err(err).Msg("drain timeout exceeded; terminating")
			_ = srv.Close()
		}
		return nil
	})
	serverstate.SetState(serverstate.Ready)

	if err := g.Wait(); err != nil {
		logx.Log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logx.Log.Info().Int("open_sessions", factory.Registry().Len()).Msg("server stopped")
}
