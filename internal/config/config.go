package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Connectors ConnectorsConfig
	Broker     BrokerConfig
	Providers  ProvidersConfig
	Front      FrontConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig describes how to reach Postgres. URL is empty when neither
// DATABASE_URL nor a Cloud SQL instance is configured.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// ConnectorsConfig holds connectors service settings.
type ConnectorsConfig struct {
	Secret            string
	ProviderTimeout   time.Duration
	SyncInterval      time.Duration
	ReconcileSchedule string
}

// BrokerConfig configures the connection broker client.
type BrokerConfig struct {
	URL               string
	SecretKey         string
	SlackIntegration  string
	NotionIntegration string
}

// ProvidersConfig carries optional API endpoint overrides.
type ProvidersConfig struct {
	SlackAPIURL  string
	NotionAPIURL string
}

// FrontConfig holds front service settings.
type FrontConfig struct {
	Port          string
	ConnectorsAPI string
	DatabaseURL   string
}

const (
	defaultPort            = "3002"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections = 25

	defaultProviderTimeout   = 30 * time.Second
	defaultSyncInterval      = 5 * time.Minute
	defaultReconcileSchedule = "@every 5m"

	defaultBrokerURL         = "https://api.nango.dev"
	defaultSlackIntegration  = "slack"
	defaultNotionIntegration = "notion"
	defaultNotionAPIURL      = "https://api.notion.com"

	defaultFrontPort     = "3000"
	defaultConnectorsAPI = "http://127.0.0.1:3002"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			MaxConnections: defaultMaxConnections,
		},
		Connectors: ConnectorsConfig{
			Secret:            os.Getenv("CONNECTORS_SECRET"),
			ProviderTimeout:   defaultProviderTimeout,
			SyncInterval:      defaultSyncInterval,
			ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", defaultReconcileSchedule),
		},
		Broker: BrokerConfig{
			URL:               strings.TrimRight(getEnv("NANGO_API_URL", defaultBrokerURL), "/"),
			SecretKey:         os.Getenv("NANGO_SECRET_KEY"),
			SlackIntegration:  getEnv("NANGO_SLACK_CONNECTOR_ID", defaultSlackIntegration),
			NotionIntegration: getEnv("NANGO_NOTION_CONNECTOR_ID", defaultNotionIntegration),
		},
		Providers: ProvidersConfig{
			SlackAPIURL:  os.Getenv("SLACK_API_URL"),
			NotionAPIURL: strings.TrimRight(getEnv("NOTION_API_URL", defaultNotionAPIURL), "/"),
		},
		Front: FrontConfig{
			Port:          getEnv("FRONT_PORT", defaultFrontPort),
			ConnectorsAPI: strings.TrimRight(getEnv("CONNECTORS_API", defaultConnectorsAPI), "/"),
			DatabaseURL:   os.Getenv("FRONT_DATABASE_URL"),
		},
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT_SECONDS", &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT_SECONDS", &cfg.Server.WriteTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeout},
		{"PROVIDER_TIMEOUT_SECONDS", &cfg.Connectors.ProviderTimeout},
		{"SYNC_INTERVAL_SECONDS", &cfg.Connectors.SyncInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if cfg.Connectors.ProviderTimeout == 0 {
		return Config{}, fmt.Errorf("invalid PROVIDER_TIMEOUT_SECONDS: must be positive")
	}
	if cfg.Connectors.SyncInterval == 0 {
		return Config{}, fmt.Errorf("invalid SYNC_INTERVAL_SECONDS: must be positive")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid DB_MAX_CONNECTIONS: must be a positive integer")
		}
		cfg.Database.MaxConnections = n
	}

	dbURL, err := databaseURL()
	if err != nil {
		return Config{}, err
	}
	cfg.Database.URL = dbURL

	return cfg, nil
}

// databaseURL builds a Postgres connection string from DATABASE_URL, or from
// the Cloud SQL variables when running on Cloud Run, where instances are
// mounted as unix sockets under /cloudsql.
func databaseURL() (string, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	if instance == "" {
		return "", nil
	}

	user := os.Getenv("DB_USER")
	name := os.Getenv("DB_NAME")
	if user == "" || name == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socket := fmt.Sprintf("/cloudsql/%s", instance)
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable", socket, user, password, name), nil
	}
	// IAM authentication, no password.
	return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socket, user, name), nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
