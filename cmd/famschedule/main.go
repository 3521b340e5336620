package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"famschedule/internal/config"
	"famschedule/internal/feedsync"
	"famschedule/internal/ics"
	appLog "famschedule/internal/log"
	"famschedule/internal/store"
	"famschedule/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	// A missing .env is fine; the FAMSCHEDULE_* variables may come from the
	// environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to read .env", "err", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("famschedule starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"feeds", len(conf.Feeds),
		"sync", conf.Sync,
		"demo_busy", conf.DemoBusy,
		"once", flags.once,
	)

	st, err := store.Open(conf.Database)
	if err != nil {
		appLog.Error("failed to open database", err, "path", conf.Database)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var syncer *feedsync.Syncer
	if len(conf.Feeds) > 0 {
		syncer = feedsync.NewSyncer(st.Events, ics.NewFetcher(conf.CacheDir), conf)
	}

	if flags.once {
		if syncer == nil {
			appLog.Info("no feeds configured; nothing to sync")
			return
		}
		if _, err := syncer.SyncAll(ctx); err != nil {
			appLog.Error("feed sync failed", err)
			os.Exit(1)
		}
		return
	}

	if syncer != nil {
		sched := feedsync.NewScheduler(syncer, conf.Sync)
		if err := sched.Start(ctx); err != nil {
			appLog.Error("failed to start feed scheduler", err)
			os.Exit(1)
		}
		defer sched.Stop()

		go func() {
			if _, err := syncer.SyncAll(ctx); err != nil {
				appLog.Warn("initial feed sync had errors", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, st, syncer).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("famschedule exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./famschedule.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Sync all feeds once and exit")

	flag.Parse()

	return cfg
}
