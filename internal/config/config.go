// Package config loads and validates the server's configuration record.
//
// Values are read first from SYNC_-prefixed environment variables, then from
// a key-colon-value file, the way bken's internal/config cached settings
// from SQLite behind a read-write mutex; here the backing store is the file
// plus environment overrides instead of a database, and the whole record is
// frozen after load rather than mutated at runtime.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// JoinMode controls what a late joiner sees.
type JoinMode string

const (
	JoinSync  JoinMode = "sync"
	JoinReset JoinMode = "reset"
)

// BSLMode controls how "BSL-active" is aggregated per playlist entry.
type BSLMode string

const (
	BSLAny BSLMode = "any"
	BSLAll BSLMode = "all"
)

// Config is the immutable, validated configuration record for one process
// lifetime (§4.1). Build it once with Load and never mutate it.
type Config struct {
	Port                     int
	VolumeStep               int
	SkipSeconds              int
	JoinMode                 JoinMode
	UseHTTPS                 bool
	BSLMode                  BSLMode
	BSLAdvancedMatch         bool
	BSLAdvancedMatchThresh   int
	VideoAutoplay            bool
	AdminFingerprintLock     bool
	ServerMode               bool
	ClientControlsDisabled   bool
	ClientSyncDisabled       bool
	ChatEnabled              bool
	MaxVolume                int
	SkipIntroSeconds         int
	DataHydration            bool
	Debug                    bool
}

func defaults() Config {
	return Config{
		Port:                   3000,
		VolumeStep:             5,
		SkipSeconds:            5,
		JoinMode:               JoinSync,
		UseHTTPS:               false,
		BSLMode:                BSLAny,
		BSLAdvancedMatch:       true,
		BSLAdvancedMatchThresh: 1,
		VideoAutoplay:          false,
		AdminFingerprintLock:   false,
		ServerMode:             false,
		ClientControlsDisabled: false,
		ClientSyncDisabled:     false,
		ChatEnabled:            true,
		MaxVolume:              100,
		SkipIntroSeconds:       87,
		DataHydration:          true,
		Debug:                  false,
	}
}

// raw holds the merged string values from file and environment before
// validation, keyed by the option name as it appears in the file (e.g.
// "volume_step"). Environment variables are SYNC_VOLUME_STEP etc.
type raw map[string]string

// Load reads path (if non-empty and present), overlays SYNC_-prefixed
// environment variables, validates every recognized key, and returns the
// immutable record. Unknown keys are ignored; invalid values are logged at
// Warn and the default is kept, matching §4.1 ("Invalid values emit a
// warning and revert to the default").
func Load(path string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := raw{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("open config file: %w", err)
			}
		} else {
			defer f.Close()
			parseKeyColonValue(f, r)
		}
	}
	overlayEnv(r)

	cfg := defaults()
	cfg.Port = clampInt(r, "port", cfg.Port, 1024, 49151, logger)
	cfg.VolumeStep = clampInt(r, "volume_step", cfg.VolumeStep, 1, 20, logger)
	cfg.SkipSeconds = clampInt(r, "skip_seconds", cfg.SkipSeconds, 5, 60, logger)
	cfg.JoinMode = JoinMode(oneOf(r, "join_mode", string(cfg.JoinMode), []string{"sync", "reset"}, logger))
	cfg.UseHTTPS = boolOpt(r, "use_https", cfg.UseHTTPS, logger)
	cfg.BSLMode = BSLMode(oneOf(r, "bsl_s2_mode", string(cfg.BSLMode), []string{"any", "all"}, logger))
	cfg.BSLAdvancedMatch = boolOpt(r, "bsl_advanced_match", cfg.BSLAdvancedMatch, logger)
	cfg.BSLAdvancedMatchThresh = clampInt(r, "bsl_advanced_match_threshold", cfg.BSLAdvancedMatchThresh, 1, 4, logger)
	cfg.VideoAutoplay = boolOpt(r, "video_autoplay", cfg.VideoAutoplay, logger)
	cfg.AdminFingerprintLock = boolOpt(r, "admin_fingerprint_lock", cfg.AdminFingerprintLock, logger)
	cfg.ServerMode = boolOpt(r, "server_mode", cfg.ServerMode, logger)
	cfg.ClientControlsDisabled = boolOpt(r, "client_controls_disabled", cfg.ClientControlsDisabled, logger)
	cfg.ClientSyncDisabled = boolOpt(r, "client_sync_disabled", cfg.ClientSyncDisabled, logger)
	cfg.ChatEnabled = boolOpt(r, "chat_enabled", cfg.ChatEnabled, logger)
	cfg.MaxVolume = clampInt(r, "max_volume", cfg.MaxVolume, 100, 1000, logger)
	cfg.SkipIntroSeconds = clampIntMin(r, "skip_intro_seconds", cfg.SkipIntroSeconds, 1, logger)
	cfg.DataHydration = boolOpt(r, "data_hydration", cfg.DataHydration, logger)
	cfg.Debug = boolOpt(r, "debug", cfg.Debug, logger)

	return cfg, nil
}

func parseKeyColonValue(f *os.File, r raw) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" {
			r[key] = val
		}
	}
}

func overlayEnv(r raw) {
	for _, kv := range os.Environ() {
		idx := strings.Index(kv, "=")
		if idx < 0 {
			continue
		}
		k, v := kv[:idx], kv[idx+1:]
		if !strings.HasPrefix(k, "SYNC_") {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, "SYNC_"))
		r[key] = v
	}
}

func clampInt(r raw, key string, def, min, max int, logger *slog.Logger) int {
	v, ok := r[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min || n > max {
		logger.Warn("invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func clampIntMin(r raw, key string, def, min int, logger *slog.Logger) int {
	v, ok := r[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		logger.Warn("invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func boolOpt(r raw, key string, def bool, logger *slog.Logger) bool {
	v, ok := r[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		logger.Warn("invalid config value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func oneOf(r raw, key, def string, allowed []string, logger *slog.Logger) string {
	v, ok := r[key]
	if !ok {
		return def
	}
	v = strings.TrimSpace(strings.ToLower(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	logger.Warn("invalid config value, using default", "key", key, "value", v, "default", def)
	return def
}
