package main

import (
	"flag"
	"os"
	"time"
)

// config is the process configuration: flags first, environment second,
// built-in defaults last.
type config struct {
	Addr          string
	SessionsRoot  string
	WatchDebounce time.Duration
}

func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("webide", flag.ContinueOnError)
	var cfg config
	fs.StringVar(&cfg.Addr, "addr",
		envString("WEBIDE_ADDR", ":8000"), "Listen address")
	fs.StringVar(&cfg.SessionsRoot, "sessions-root",
		envString("WEBIDE_SESSIONS_ROOT", "/tmp/sessions"), "Directory holding per-session workspaces")
	fs.DurationVar(&cfg.WatchDebounce, "watch-debounce",
		envDuration("WEBIDE_WATCH_DEBOUNCE", 300*time.Millisecond), "Quiet window before broadcasting file changes")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
