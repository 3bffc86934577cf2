package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/NicolasHaas/gowarden/pkg/auth"
	"github.com/NicolasHaas/gowarden/pkg/bansync"
	"github.com/NicolasHaas/gowarden/pkg/datastore"
	"github.com/NicolasHaas/gowarden/pkg/logging"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/registry"
	"github.com/NicolasHaas/gowarden/pkg/server"
	"github.com/NicolasHaas/gowarden/pkg/store"
	"github.com/NicolasHaas/gowarden/pkg/version"
	"github.com/NicolasHaas/gowarden/pkg/writeback"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address for the API")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.TokensFile, "tokens-file", cfg.TokensFile, "YAML file with API tokens (created with an admin token if missing)")
	flag.StringVar(&cfg.SettingsFile, "settings-file", "", "YAML file with initial settings (stored settings take precedence)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.BoolVar(&cfg.TLS, "tls", false, "Serve the API over HTTPS")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for global ban sync (empty to disable)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("GOWARDEN_REDIS_PASSWORD"), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flag.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "Requests per window and client IP (0 to disable)")
	flag.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "Rate limit window")
	flag.IntVar(&cfg.ActivitySize, "activity-size", cfg.ActivitySize, "Activity feed capacity")
	flag.BoolVar(&cfg.ExportSettings, "export-settings", false, "Export the stored settings as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	logger, err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg server.Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Export command (run and exit)
	if cfg.ExportSettings {
		defer st.Close()
		settings, ok, err := st.NonTx().LoadSettings(ctx)
		if err != nil {
			return fmt.Errorf("export settings: %w", err)
		}
		if !ok {
			settings = model.DefaultSettings()
		}
		data, err := server.ExportSettingsYAML(settings)
		if err != nil {
			return fmt.Errorf("export settings: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	tokens, adminToken, err := auth.Bootstrap(cfg.TokensFile)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("tokens file: %w", err)
	}
	if adminToken != "" {
		// Printed once; only the hash is stored.
		fmt.Println("================================================")
		fmt.Println("  ADMIN TOKEN (save this, shown only once):")
		fmt.Printf("  %s\n", adminToken)
		fmt.Println("================================================")
		logger.Info("admin token created", "tokens_file", cfg.TokensFile)
	}
	authn, err := auth.NewAuthenticator(tokens)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("tokens file: %w", err)
	}

	initial := model.DefaultSettings()
	if cfg.SettingsFile != "" {
		initial, err = server.LoadSettingsFromYAML(cfg.SettingsFile, initial)
		if err != nil {
			_ = st.Close()
			return err
		}
	}
	settings, err := registry.NewSettingsStore(initial)
	if err != nil {
		_ = st.Close()
		return err
	}

	deps := server.Dependencies{Auth: authn, Data: st, Logger: logger}

	var syncer bansync.Syncer = bansync.Noop{}
	var remote bansync.Checker
	if cfg.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := bansync.NewRedisSyncer(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("ban sync: %w", err)
		}
		syncer = rs
		remote = rs
		deps.Syncer = rs
		logger.Info("global ban sync enabled", "redis", cfg.RedisAddr, "channel", bansync.Channel)
	}

	queue := writeback.New(writeback.Options{Logger: logger.With("component", "writeback")})
	deps.Queue = queue

	reg, err := registry.New(registry.Options{
		Store:    store.NewMemory(),
		Settings: settings,
		Activity: registry.NewActivityLog(cfg.ActivitySize),
		Data:     st,
		Syncer:   syncer,
		Remote:   remote,
		Queue:    queue,
		Logger:   logger.With("component", "registry"),
	})
	if err != nil {
		_ = queue.Close(ctx)
		_ = st.Close()
		return err
	}
	if err := reg.Load(ctx); err != nil {
		_ = queue.Close(ctx)
		_ = st.Close()
		return err
	}
	deps.Registry = reg

	srv := server.New(cfg, deps)
	return srv.Run()
}
