package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// FLOWBENCH_SERVER_PORT or FLOWBENCH_ORCHESTRATOR_BASEURL.
const envPrefix = "FLOWBENCH"

// Loader reads and merges configuration from defaults, an optional YAML
// file and the environment.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets the configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

// NewLoader creates a Loader with the given options.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{v: viper.New()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the Config. Environment variables take precedence over the
// config file, which takes precedence over defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	var warnings []string
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	} else {
		l.v.SetConfigName("flowbench")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath("/etc/flowbench")
		l.v.AddConfigPath(".")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			warnings = append(warnings, "no config file found, using defaults and environment")
		}
	}

	cfg := &Config{Warnings: warnings}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) setDefaults() {
	// Server
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8090)
	l.v.SetDefault("server.basepath", "/api")

	// Database
	l.v.SetDefault("database.host", "localhost")
	l.v.SetDefault("database.port", 5432)
	l.v.SetDefault("database.name", "flowbench")
	l.v.SetDefault("database.user", "flowbench")
	l.v.SetDefault("database.password", "flowbench")
	l.v.SetDefault("database.sslmode", "disable")
	l.v.SetDefault("database.maxconns", 10)

	// Orchestrator
	l.v.SetDefault("orchestrator.baseurl", "http://localhost:8080")
	l.v.SetDefault("orchestrator.username", "airflow")
	l.v.SetDefault("orchestrator.password", "airflow")
	l.v.SetDefault("orchestrator.requesttimeout", 30*time.Second)
	l.v.SetDefault("orchestrator.registertimeout", 10*time.Second)
	l.v.SetDefault("orchestrator.registerinterval", 500*time.Millisecond)
	l.v.SetDefault("orchestrator.dagdir", "/opt/orchestrator/dags")
	l.v.SetDefault("orchestrator.networkmode", "bridge")
	l.v.SetDefault("orchestrator.localstoragepath", "/tmp/flowbench-data")

	// Object store defaults for FILE ports
	l.v.SetDefault("objectstore.host", "minio")
	l.v.SetDefault("objectstore.port", 9000)
	l.v.SetDefault("objectstore.accesskey", "minioadmin")
	l.v.SetDefault("objectstore.secretkey", "minioadmin")
	l.v.SetDefault("objectstore.bucket", "flowbench")
	l.v.SetDefault("objectstore.filepath", "data")
	l.v.SetDefault("objectstore.usessl", false)
	l.v.SetDefault("objectstore.urlexpiry", 24*time.Hour)

	// Relational defaults for PGTABLE ports
	l.v.SetDefault("relational.user", "flowbench")
	l.v.SetDefault("relational.password", "flowbench")
	l.v.SetDefault("relational.host", "postgres")
	l.v.SetDefault("relational.port", 5432)

	// Manifests and templates
	l.v.SetDefault("manifest.clonetimeout", 60*time.Second)

	// Auth
	l.v.SetDefault("auth.tokenttl", 24*time.Hour)

	// Logging
	l.v.SetDefault("log.debug", false)
	l.v.SetDefault("log.format", "text")
}
