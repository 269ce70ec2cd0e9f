package config

import (
	"fmt"
	"time"
)

// Config holds the overall configuration for the control plane. It is
// loaded once at startup and passed explicitly into components; nothing
// reads it through package globals.
type Config struct {
	Server       Server
	Database     Database
	Orchestrator Orchestrator
	ObjectStore  ObjectStore
	Relational   Relational
	Manifest     Manifest
	Templates    Templates
	Auth         Auth
	Log          Log
	Warnings     []string
}

// Server holds the HTTP server settings.
type Server struct {
	Host        string
	Port        int
	BasePath    string
	AllowedCORS []string
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Database holds the connection settings for the graph store.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int
}

// DSN returns the connection string for the pgx stdlib driver.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Orchestrator holds the settings for the external workflow engine.
type Orchestrator struct {
	BaseURL  string
	Username string
	Password string
	// RequestTimeout bounds every HTTP call to the engine.
	RequestTimeout time.Duration
	// RegisterTimeout bounds the wait loop after a DAG artifact is
	// written; RegisterInterval is the poll cadence within it.
	RegisterTimeout  time.Duration
	RegisterInterval time.Duration
	// DAGDir is the directory the engine scans for DAG artifacts.
	DAGDir string
	// NetworkMode and LocalStoragePath are baked into every rendered
	// task node.
	NetworkMode      string
	LocalStoragePath string
}

// ObjectStore holds the default data-plane settings for FILE ports.
type ObjectStore struct {
	Host      string
	Port      int
	AccessKey string
	SecretKey string
	Bucket    string
	FilePath  string
	// ExternalEndpoint replaces the internal host:port when minting
	// URLs for clients outside the internal network. Empty disables
	// rewriting.
	ExternalEndpoint string
	UseSSL           bool
	// URLExpiry is the lifetime of minted access URLs.
	URLExpiry time.Duration
}

// Endpoint returns the internal host:port of the store.
func (o ObjectStore) Endpoint() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Relational holds the default data-plane settings for PGTABLE ports.
type Relational struct {
	User     string
	Password string
	Host     string
	Port     int
}

// Manifest holds the settings for fetching block manifests.
type Manifest struct {
	// CacheDir caches cloned source repositories; empty disables the
	// cache and every fetch clones into a scratch directory.
	CacheDir     string
	CloneTimeout time.Duration
}

// Templates holds the settings for workflow templates.
type Templates struct {
	RepoURL string
}

// Auth holds the settings for bearer-token authentication.
type Auth struct {
	Secret   string
	TokenTTL time.Duration
}

// Log holds the logging settings.
type Log struct {
	Debug  bool
	Format string
}

// Validate checks settings that would only fail deep inside a request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Orchestrator.BaseURL == "" {
		return fmt.Errorf("orchestrator base URL is required")
	}
	if c.Orchestrator.DAGDir == "" {
		return fmt.Errorf("orchestrator DAG directory is required")
	}
	return nil
}
