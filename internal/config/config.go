// Package config loads scheduler configuration from environment variables,
// with an optional YAML file superseding field-by-field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the scheduler needs to start.
type Config struct {
	DBPath string `yaml:"dbname"`

	// Kept for config-file compatibility with non-SQLite deployments;
	// unused by the SQLite store.
	DBUser     string `yaml:"dbuser"`
	DBPassword string `yaml:"dbpassword"`
	DBHost     string `yaml:"dbhost"`
	DBPort     int    `yaml:"dbport"`

	LogFile   string `yaml:"logfile"`
	LogSizeMB int    `yaml:"logsize"`
	LogCount  int    `yaml:"logcount"`
	LogFormat string `yaml:"logformat"`
	LogLevel  string `yaml:"loglevel"`

	PollInterval   time.Duration `yaml:"-"`
	ShutdownGrace  time.Duration `yaml:"-"`
	LoadThreshold  float64       `yaml:"loadthreshold"`
	ReleaseOnStart bool          `yaml:"releaseonstart"`

	PollIntervalMS  int64 `yaml:"pollinterval"`
	ShutdownGraceMS int64 `yaml:"shutdowngrace"`
}

// Default returns a Config populated with the daemon's built-in defaults.
func Default() *Config {
	return &Config{
		DBPath:          "./data/schedulerd.db",
		DBHost:          "localhost",
		DBPort:          5432,
		LogFile:         "scheduler.log",
		LogSizeMB:       50,
		LogCount:        5,
		LogFormat:       "text",
		LogLevel:        "info",
		PollIntervalMS:  100,
		ShutdownGraceMS: 3000,
		PollInterval:    100 * time.Millisecond,
		ShutdownGrace:   3000 * time.Millisecond,
		LoadThreshold:   0,
		ReleaseOnStart:  true,
	}
}

// Load builds a Config from defaults, then environment variables, then
// (when SCHEDULERD_CONFIG or configPath names an existing file) a YAML
// document whose fields supersede everything before it.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if configPath == "" {
		configPath = os.Getenv("SCHEDULERD_CONFIG")
	}
	if configPath != "" {
		if err := cfg.applyYAMLFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.PollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	cfg.ShutdownGrace = time.Duration(cfg.ShutdownGraceMS) * time.Millisecond
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = getEnv("SCHEDULERD_DB_PATH", c.DBPath)
	c.DBUser = getEnv("SCHEDULERD_DB_USER", c.DBUser)
	c.DBPassword = getEnv("SCHEDULERD_DB_PASSWORD", c.DBPassword)
	c.DBHost = getEnv("SCHEDULERD_DB_HOST", c.DBHost)
	c.DBPort = getEnvInt("SCHEDULERD_DB_PORT", c.DBPort)

	c.LogFile = getEnv("SCHEDULERD_LOG_FILE", c.LogFile)
	c.LogSizeMB = getEnvInt("SCHEDULERD_LOG_SIZE_MB", c.LogSizeMB)
	c.LogCount = getEnvInt("SCHEDULERD_LOG_BACKUPS", c.LogCount)
	c.LogFormat = getEnv("SCHEDULERD_LOG_FORMAT", c.LogFormat)
	c.LogLevel = getEnv("SCHEDULERD_LOG_LEVEL", c.LogLevel)

	c.PollIntervalMS = getEnvInt64("SCHEDULERD_POLL_INTERVAL_MS", c.PollIntervalMS)
	c.ShutdownGraceMS = getEnvInt64("SCHEDULERD_SHUTDOWN_GRACE_MS", c.ShutdownGraceMS)
	c.LoadThreshold = getEnvFloat("SCHEDULERD_LOAD_THRESHOLD_PERCENT", c.LoadThreshold)
	c.ReleaseOnStart = getEnvBool("SCHEDULERD_RELEASE_ON_START", c.ReleaseOnStart)
}

func (c *Config) applyYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay Config
	overlay.PollIntervalMS = c.PollIntervalMS
	overlay.ShutdownGraceMS = c.ShutdownGraceMS
	overlay.ReleaseOnStart = c.ReleaseOnStart
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	merged := *c
	mergeString(&merged.DBPath, overlay.DBPath)
	mergeString(&merged.DBUser, overlay.DBUser)
	mergeString(&merged.DBPassword, overlay.DBPassword)
	mergeString(&merged.DBHost, overlay.DBHost)
	if overlay.DBPort != 0 {
		merged.DBPort = overlay.DBPort
	}
	mergeString(&merged.LogFile, overlay.LogFile)
	if overlay.LogSizeMB != 0 {
		merged.LogSizeMB = overlay.LogSizeMB
	}
	if overlay.LogCount != 0 {
		merged.LogCount = overlay.LogCount
	}
	mergeString(&merged.LogFormat, overlay.LogFormat)
	mergeString(&merged.LogLevel, overlay.LogLevel)
	if overlay.LoadThreshold != 0 {
		merged.LoadThreshold = overlay.LoadThreshold
	}
	if overlay.PollIntervalMS != 0 {
		merged.PollIntervalMS = overlay.PollIntervalMS
	}
	if overlay.ShutdownGraceMS != 0 {
		merged.ShutdownGraceMS = overlay.ShutdownGraceMS
	}
	merged.ReleaseOnStart = overlay.ReleaseOnStart

	*c = merged
	return nil
}

func mergeString(dst *string, overlay string) {
	if overlay != "" {
		*dst = overlay
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
