package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"linechat/pkg/logging"
	"linechat/pkg/server"
	"linechat/pkg/store"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override its values)")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "TCP bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite credential database path")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.BoolVar(&cfg.HashPasswords, "hash-passwords", cfg.HashPasswords, "store new passwords as argon2id hashes")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	flag.Parse()

	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
			os.Exit(1)
		}
		// Explicitly passed flags win over the config file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "addr":
				loaded.ListenAddr = cfg.ListenAddr
			case "db":
				loaded.DBPath = cfg.DBPath
			case "metrics":
				loaded.MetricsAddr = cfg.MetricsAddr
			case "hash-passwords":
				loaded.HashPasswords = cfg.HashPasswords
			case "log-level":
				loaded.LogLevel = cfg.LogLevel
			case "log-format":
				loaded.LogFormat = cfg.LogFormat
			}
		})
		cfg = loaded
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	srv := server.New(cfg, st)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
