package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Shotgun  ShotgunConfig
	Exporter ExporterConfig
	Database DatabaseConfig
}

type ShotgunConfig struct {
	APIKey      string
	OrganizerID string
	BaseURL     string
	// IncludeCohostedEvents widens the tickets/sold query to events the
	// organizer co-hosts but does not own.
	IncludeCohostedEvents bool
	RequestTimeout        time.Duration
}

type ExporterConfig struct {
	Port               int
	ScrapeInterval     time.Duration
	EventsInterval     time.Duration
	FullScanInterval   time.Duration
	VictoriaMetricsURL string
}

type DatabaseConfig struct {
	Path string
}

var AppConfig *Config

var ErrMissingCredentials = errors.New("SHOTGUN_API_KEY and SHOTGUN_ORGANIZER_ID must be set")

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Shotgun:  GetShotgunConfig(),
		Exporter: GetExporterConfig(),
		Database: GetDatabaseConfig(),
	}

	if cfg.Shotgun.APIKey == "" || cfg.Shotgun.OrganizerID == "" {
		return nil, ErrMissingCredentials
	}

	AppConfig = cfg
	return cfg, nil
}

func LoadTestConfig() *Config {
	return &Config{
		Shotgun: ShotgunConfig{
			APIKey:         "test-key",
			OrganizerID:    "42",
			BaseURL:        "http://localhost:9999/api/shotgun",
			RequestTimeout: 5 * time.Second,
		},
		Exporter: ExporterConfig{
			Port:             9090,
			ScrapeInterval:   time.Second,
			EventsInterval:   time.Second,
			FullScanInterval: time.Hour,
		},
		Database: DatabaseConfig{
			// Shared cache so every pool connection sees the same database.
			Path: "file::memory:?mode=memory&cache=shared",
		},
	}
}

func GetShotgunConfig() ShotgunConfig {
	return ShotgunConfig{
		APIKey:                getEnv("SHOTGUN_API_KEY", ""),
		OrganizerID:           getEnv("SHOTGUN_ORGANIZER_ID", ""),
		BaseURL:               getEnv("SHOTGUN_BASE_URL", "https://smartboard-api.shotgun.live/api/shotgun"),
		IncludeCohostedEvents: getEnvBool("INCLUDE_COHOSTED_EVENTS", false),
		RequestTimeout:        getEnvSeconds("SHOTGUN_REQUEST_TIMEOUT", 120),
	}
}

func GetExporterConfig() ExporterConfig {
	return ExporterConfig{
		Port:               getEnvInt("EXPORTER_PORT", 9090),
		ScrapeInterval:     getEnvSeconds("SCRAPE_INTERVAL", 60),
		EventsInterval:     getEnvSeconds("EVENTS_FETCH_INTERVAL", 3600),
		FullScanInterval:   getEnvSeconds("FULL_SCAN_INTERVAL", 86400),
		VictoriaMetricsURL: getEnv("VICTORIA_METRICS_URL", "http://victoria-metrics:8428"),
	}
}

func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path: getEnv("DB_PATH", "/data/shotgun_tickets.db"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(err)
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		panic(err)
	}
	return b
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
