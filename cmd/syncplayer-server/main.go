// Command syncplayer-server runs the Sync-Player media-playback
// synchronization server: HTTP API, WebSocket event channel, and the
// room registry, all served from one process. Flag layout and the
// CLI-subcommand-before-flag-parsing dance are carried from the
// teacher's root main.go.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"syncplayer/internal/cliops"
	"syncplayer/internal/config"
	"syncplayer/internal/httpapi"
	"syncplayer/internal/jsonstore"
	"syncplayer/internal/probe"
	"syncplayer/internal/ratelimit"
	"syncplayer/internal/registry"
	"syncplayer/internal/roomlog"
	"syncplayer/internal/router"
	"syncplayer/internal/thumbnail"
	"syncplayer/internal/tlsutil"
)

func main() {
	defaultStorePath := "syncplayer.store.json"
	if len(os.Args) > 1 {
		paths := cliops.Paths{
			StorePath:   defaultStorePath,
			StoreKeyEnv: "SYNC_STORE_KEY",
			RoomLogPath: "syncplayer.roomlog.db",
			ConfigPath:  "syncplayer.conf",
		}
		if cliops.Run(os.Args[1:], paths) {
			return
		}
	}

	addr := flag.String("addr", ":8443", "HTTP(S)/WebSocket listen address")
	configPath := flag.String("config", "syncplayer.conf", "key-colon-value configuration file")
	storePath := flag.String("store", defaultStorePath, "encrypted admin/client/BSL-match store path")
	storeKeyEnv := flag.String("store-key-env", "SYNC_STORE_KEY", "environment variable holding the store encryption key")
	roomLogPath := flag.String("roomlog", "syncplayer.roomlog.db", "SQLite room event log path")
	mediaDir := flag.String("media-dir", "media", "directory containing playable media files")
	probeBin := flag.String("probe-bin", "ffprobe", "path to the ffprobe-compatible metadata probe binary")
	thumbBin := flag.String("thumbnail-bin", "ffmpeg", "path to the ffmpeg-compatible thumbnail encoder binary")
	cacheDir := flag.String("thumbnail-cache-dir", "thumbnails", "thumbnail cache directory")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	store, err := jsonstore.Open(*storePath, *storeKeyEnv, logger)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}

	roomLog, err := roomlog.Open(*roomLogPath)
	if err != nil {
		logger.Error("open room log", "error", err)
		os.Exit(1)
	}
	defer roomLog.Close()

	if err := os.MkdirAll(*mediaDir, 0o755); err != nil {
		logger.Error("create media dir", "error", err)
		os.Exit(1)
	}

	reg := registry.New(logger)
	limiter := ratelimit.New()
	prober := probe.New(*probeBin, *mediaDir)
	thumbs := thumbnail.New(*thumbBin, *mediaDir, *cacheDir, prober)

	rt := router.New(cfg, reg, store, roomLog, limiter, prober, *mediaDir, logger)

	api := httpapi.New(cfg, reg, rt, *mediaDir, prober, thumbs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	var bootstrapTLS *tlsutil.Bootstrap
	if cfg.UseHTTPS {
		hostname := ""
		if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
			hostname = host
		}
		bootstrapTLS, err = tlsutil.Generate(*certValidity, hostname)
		if err != nil {
			logger.Error("generate tls bootstrap", "error", err)
			os.Exit(1)
		}
		logger.Info("tls certificate fingerprint", "fingerprint", bootstrapTLS.Fingerprint)
	}

	var tlsCfg *tls.Config
	if bootstrapTLS != nil {
		tlsCfg = bootstrapTLS.Config
	}

	logger.Info("listening", "addr", *addr, "https", cfg.UseHTTPS, "server_mode", cfg.ServerMode)
	if err := api.Run(ctx, *addr, tlsCfg); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
