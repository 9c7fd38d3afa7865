package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// ServiceNames lists the known upstream services, in display order. Each maps
// to a pair of environment variables: <NAME>_URL and <NAME>_API_KEY.
var ServiceNames = []string{"sonarr", "radarr", "lidarr", "readarr", "prowlarr", "bazarr"}

// CategoryServices maps a dashboard category to the services that feed it.
var CategoryServices = map[string][]string{
	"tv":     {"sonarr"},
	"movies": {"radarr"},
	"music":  {"lidarr"},
}

// Service holds the connection settings for one upstream manager.
// A service missing either its URL or API key is "not configured" and is
// excluded from every operation.
type Service struct {
	Name   string
	URL    string
	APIKey string
}

// Configured reports whether this service has both a URL and an API key.
func (s Service) Configured() bool {
	return s.URL != "" && s.APIKey != ""
}

// QBittorrent holds the download client connection settings.
// Username/password may be empty for deployments that allow anonymous local
// access; an empty URL means the client is not configured at all.
type QBittorrent struct {
	URL      string
	Username string
	Password string
}

// Configured reports whether the download client has a URL set.
func (q QBittorrent) Configured() bool {
	return q.URL != ""
}

// Config holds all application configuration loaded from environment variables.
// It is loaded once at startup, never mutated afterwards, and injected into
// the components that need it.
type Config struct {
	// Port is the HTTP server listen port (default: 3000)
	Port string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// LogDir is the directory for rotated log files (default: <cwd>/logs)
	LogDir string

	// UpstreamTimeout is the default per-request timeout for upstream calls (default: 10s)
	UpstreamTimeout time.Duration

	// LogBufferSize is the capacity of the in-memory ring buffer of the
	// aggregator's own log lines (default: 500)
	LogBufferSize int

	// Services maps service name to its connection settings. Every name in
	// ServiceNames has an entry, configured or not.
	Services map[string]Service

	// QBittorrent is the download client configuration.
	QBittorrent QBittorrent

	// NotifyURLs are shoutrrr URLs to send service up/down notifications to.
	// Empty disables notifications.
	NotifyURLs []string

	// HealthCheckSchedule is the cron expression for the background health
	// monitor (default: every minute). Empty disables the monitor.
	HealthCheckSchedule string

	// CORSOrigin is the allowed CORS origin. "*" allows everything,
	// empty enforces same-origin, anything else is a comma-separated
	// allowlist.
	CORSOrigin string
}

// ConfiguredServices returns the names of configured services in
// ServiceNames order.
func (c *Config) ConfiguredServices() []string {
	var names []string
	for _, name := range ServiceNames {
		if c.Services[name].Configured() {
			names = append(names, name)
		}
	}
	return names
}

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	logDir := getEnvOrDefault("HYDRARR_LOG_DIR", "")
	if logDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			logDir = filepath.Join(cwd, "logs")
		} else {
			logDir = "./logs"
		}
	}

	services := make(map[string]Service, len(ServiceNames))
	for _, name := range ServiceNames {
		upper := strings.ToUpper(name)
		services[name] = Service{
			Name:   name,
			URL:    strings.TrimRight(os.Getenv(upper+"_URL"), "/"),
			APIKey: os.Getenv(upper + "_API_KEY"),
		}
	}

	var notifyURLs []string
	for _, u := range strings.Split(getEnvOrDefault("HYDRARR_NOTIFY_URLS", ""), ",") {
		if u = strings.TrimSpace(u); u != "" {
			notifyURLs = append(notifyURLs, u)
		}
	}

	cfg := &Config{
		Port:            getEnvOrDefault("HYDRARR_PORT", getEnvOrDefault("PORT", "3000")),
		LogLevel:        strings.ToLower(getEnvOrDefault("HYDRARR_LOG_LEVEL", "info")),
		LogDir:          logDir,
		UpstreamTimeout: getEnvDurationOrDefault("HYDRARR_UPSTREAM_TIMEOUT", 10*time.Second),
		LogBufferSize:   getEnvIntOrDefault("HYDRARR_LOG_BUFFER_SIZE", 500),
		Services:        services,
		QBittorrent: QBittorrent{
			URL:      strings.TrimRight(os.Getenv("QBITTORRENT_URL"), "/"),
			Username: os.Getenv("QBITTORRENT_USERNAME"),
			Password: os.Getenv("QBITTORRENT_PASSWORD"),
		},
		NotifyURLs:          notifyURLs,
		HealthCheckSchedule: getEnvOrDefault("HYDRARR_HEALTH_CHECK_SCHEDULE", "@every 1m"),
		CORSOrigin:          os.Getenv("HYDRARR_CORS_ORIGIN"),
	}

	// Validate log level
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		cfg.LogLevel = "info"
	}

	if cfg.LogBufferSize < 1 {
		cfg.LogBufferSize = 500
	}

	return cfg
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port                *string
	LogLevel            *string
	LogDir              *string
	UpstreamTimeout     *time.Duration
	HealthCheckSchedule *string
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil values with non-default flag values will override.
func (c *Config) ApplyFlags(flags FlagOverrides) {
	if flags.Port != nil && *flags.Port != "" {
		c.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		c.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.LogDir != nil && *flags.LogDir != "" {
		c.LogDir = *flags.LogDir
	}
	if flags.UpstreamTimeout != nil && *flags.UpstreamTimeout != 0 {
		c.UpstreamTimeout = *flags.UpstreamTimeout
	}
	if flags.HealthCheckSchedule != nil && *flags.HealthCheckSchedule != "" {
		c.HealthCheckSchedule = *flags.HealthCheckSchedule
	}
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	services := make(map[string]Service, len(ServiceNames))
	for _, name := range ServiceNames {
		services[name] = Service{Name: name}
	}
	return &Config{
		Port:                "8080",
		LogLevel:            "debug",
		UpstreamTimeout:     10 * time.Second,
		LogBufferSize:       100,
		Services:            services,
		HealthCheckSchedule: "",
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "10s", "5m".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
