// Package config parses CLI flags and environment variables into a single
// Config and builds the process logger.
package config

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Config holds every tunable the binary accepts.
type Config struct {
	DBPath          string
	ListenAddr      string
	MetricsAddr     string
	Interface       string
	WGBinary        string
	TickInterval    time.Duration
	MaxHandshakeAge time.Duration
	Debug           bool
}

// Load reads .env (if present), then parses flags, applying the usual
// flag > env > default precedence for each field.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{}
	flag.StringVar(&cfg.DBPath, "db", envOr("WGMANAGE_DB_PATH", "wgmanage.db"), "path to the SQLite database file")
	flag.StringVar(&cfg.ListenAddr, "addr", envOr("WGMANAGE_ADDR", ":8000"), "HTTP listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr("WGMANAGE_METRICS_ADDR", ""), "Prometheus metrics listen address, empty disables")
	flag.StringVar(&cfg.Interface, "interface", envOr("WGMANAGE_INTERFACE", "wg0"), "WireGuard interface name")
	flag.StringVar(&cfg.WGBinary, "wg-binary", envOr("WGMANAGE_WG_BINARY", "wg"), "path to the wg binary")
	interval := flag.Int("interval", envOrInt("WGMANAGE_INTERVAL_SECONDS", 10), "tick interval in seconds")
	maxHandshakeAge := flag.Int("max-handshake-age", envOrInt("WGMANAGE_MAX_HANDSHAKE_AGE_SECONDS", 180), "handshake freshness threshold in seconds")
	flag.BoolVar(&cfg.Debug, "debug", os.Getenv("WGMANAGE_DEBUG") == "1", "enable debug logging")
	flag.Parse()

	cfg.TickInterval = time.Duration(*interval) * time.Second
	cfg.MaxHandshakeAge = time.Duration(*maxHandshakeAge) * time.Second
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// NewLogger builds a tint-colorized slog.Logger.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
