package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Best effort: a missing .env is fine, and real environment variables
	// win over .env entries.
	if err := godotenv.Load(); err == nil {
		log.Printf("[BOOT] Loaded .env")
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.SessionsRoot, 0o755); err != nil {
		log.Fatalf("[BOOT] Failed to create sessions root %s: %v", cfg.SessionsRoot, err)
	}

	srv := newServer(cfg)
	log.Printf("[BOOT] Listening on %s (sessions root: %s)", cfg.Addr, cfg.SessionsRoot)
	if err := http.ListenAndServe(cfg.Addr, srv.routes()); err != nil {
		log.Fatal(err)
	}
}
