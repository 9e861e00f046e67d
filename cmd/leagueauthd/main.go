// Command leagueauthd serves the authentication API for a league
// platform deployment: tenant-aware login, MFA, password resets and
// per-league user administration over HTTP, backed by SQL and Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openleague/leagueauth"
	"github.com/openleague/leagueauth/httpapi"
	"github.com/openleague/leagueauth/internal/appconfig"
	"github.com/openleague/leagueauth/metrics/prom"
)

func main() {
	configPath := flag.String("config", "leagueauthd.toml", "path to the TOML config file")
	listen := flag.String("listen", "", "listen address, overrides the config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log, *configPath, *listen); err != nil {
		log.Error("leagueauthd exiting", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, configPath, listenOverride string) error {
	cfg, found, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}
	if !found {
		log.Info("no config file, starting with defaults", "path", configPath)
	}
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := appconfig.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	sender, err := appconfig.BuildSender(cfg.Mail, os.Stdout)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	engine, err := leagueauth.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithRedis(rdb).
		WithEmailSender(sender).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prom.NewCollector(engine))
	httpMetrics := prom.NewHTTPMetrics(reg)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	api := httpapi.NewServer(engine, cfg.APIConfig(), log)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.Router(metricsHandler, httpMetrics.Middleware),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if found {
		if watcher := watchConfig(configPath, log); watcher != nil {
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			"addr", srv.Addr,
			"store", cfg.Store.Driver,
			"mail", cfg.Mail.Mode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// watchConfig logs a notice when the config file changes on disk. The
// daemon does not hot-reload; settings apply on the next restart. The
// watch covers the directory because editors replace files on save.
func watchConfig(path string, log *slog.Logger) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watch unavailable", "err", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.Warn("config watch unavailable", "err", err)
		watcher.Close()
		return nil
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Info("config file changed, restart to apply", "path", path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "err", err)
			}
		}
	}()
	return watcher
}
