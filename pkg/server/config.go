package server

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Addr         string // HTTP bind address for the /api endpoints (e.g. ":8080")
	MetricsAddr  string // HTTP bind address for /metrics (empty = disabled)
	DBPath       string // SQLite database path
	TokensFile   string // YAML file with API tokens, created on first run
	SettingsFile string // YAML file with initial settings (optional)
	DataDir      string // directory for generated certs

	TLS      bool   // serve /api over HTTPS
	CertFile string // TLS certificate file path
	KeyFile  string // TLS private key file path

	RedisAddr     string // Redis address for global ban sync (empty = disabled)
	RedisPassword string
	RedisDB       int

	RateLimit    int           // requests per RateWindow and client IP (0 = unlimited)
	RateWindow   time.Duration // rate limit window
	ActivitySize int           // activity feed capacity
	MaxBodyBytes int64         // request body limit

	// CLI-only action (run and exit)
	ExportSettings bool // print the stored settings as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		MetricsAddr:  ":9602",
		DBPath:       "gowarden.db",
		TokensFile:   "tokens.yaml",
		DataDir:      ".",
		RateLimit:    600,
		RateWindow:   time.Minute,
		ActivitySize: 200,
		MaxBodyBytes: 1 << 20,
	}
}

// LoadSettingsFromYAML reads a settings file. Keys missing from the file keep
// their value from base.
func LoadSettingsFromYAML(path string, base model.Settings) (model.Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator-provided CLI flag
	if err != nil {
		return model.Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ImportSettingsYAML(data, base)
}

// ImportSettingsYAML overlays YAML data onto base and validates the result.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
func ImportSettingsYAML(data []byte, base model.Settings) (model.Settings, error) {
	settings := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return model.Settings{}, fmt.Errorf("parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

// ExportSettingsYAML renders settings in the format ImportSettingsYAML reads.
func ExportSettingsYAML(settings model.Settings) ([]byte, error) {
	return yaml.Marshal(&settings)
}
