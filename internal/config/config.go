package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendDapr     = "dapr"
	BackendMemory   = "memory"
)

type Settings struct {
	Application ApplicationSettings `yaml:"application"`
	Database    DatabaseSettings    `yaml:"database"`
	Store       StoreSettings       `yaml:"store"`
	LogLevel    string              `yaml:"log_level"`
	GinMode     string              `yaml:"gin_mode"`
}

type ApplicationSettings struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ServiceName     string        `yaml:"service_name"`
	ServiceVersion  string        `yaml:"service_version"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseSettings struct {
	// URL, when set, is used verbatim instead of the discrete fields.
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DatabaseName    string        `yaml:"database_name"`
	RequireSSL      bool          `yaml:"require_ssl"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	Migrate         bool          `yaml:"migrate"`
}

type StoreSettings struct {
	Backend       string `yaml:"backend"`
	DaprStoreName string `yaml:"dapr_store_name"`
	// WriteTimeout bounds a single insert, including pool acquisition.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func Default() *Settings {
	return &Settings{
		Application: ApplicationSettings{
			Host:            "0.0.0.0",
			Port:            8000,
			ServiceName:     "subscriber-api",
			ServiceVersion:  "1.0.0",
			MaxBodyBytes:    16 << 10,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseSettings{
			Host:            "localhost",
			Port:            5432,
			Username:        "postgres",
			Password:        "password",
			DatabaseName:    "newsletter",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 10 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			Migrate:         true,
		},
		Store: StoreSettings{
			Backend:       BackendPostgres,
			DaprStoreName: "statestore",
			WriteTimeout:  5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides and validates the result. A missing file is not
// an error so the service can be configured from the environment alone.
func Load(path string) (*Settings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config load: %w", err)
		default:
			if err := yaml.Unmarshal(data, settings); err != nil {
				return nil, fmt.Errorf("config load: parse %s: %w", path, err)
			}
		}
	}

	if err := settings.applyEnv(); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	settings.Store.Backend = strings.ToLower(settings.Store.Backend)

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return settings, nil
}

func (s *Settings) applyEnv() error {
	if v := os.Getenv("APP_HOST"); v != "" {
		s.Application.Host = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for APP_PORT=%q: %w", v, err)
		}
		s.Application.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		s.Database.URL = v
	}
	if v := os.Getenv("DATABASE_MIGRATE"); v != "" {
		migrate, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for DATABASE_MIGRATE=%q: %w", v, err)
		}
		s.Database.Migrate = migrate
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		s.Store.Backend = v
	}
	if v := os.Getenv("DAPR_STORE_NAME"); v != "" {
		s.Store.DaprStoreName = v
	}
	if v := os.Getenv("STORE_WRITE_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid value for STORE_WRITE_TIMEOUT=%q: %w", v, err)
		}
		s.Store.WriteTimeout = timeout
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		s.GinMode = v
	}
	return nil
}

// Validate reports every problem at once.
func (s *Settings) Validate() error {
	var errs []string

	if s.Application.Port < 0 || s.Application.Port > 65535 {
		errs = append(errs, fmt.Sprintf("application.port (%d) must be 0-65535", s.Application.Port))
	}
	if s.Application.MaxBodyBytes <= 0 {
		errs = append(errs, "application.max_body_bytes must be positive")
	}
	if s.Application.ShutdownTimeout <= 0 {
		errs = append(errs, "application.shutdown_timeout must be positive")
	}

	if s.Store.WriteTimeout <= 0 {
		errs = append(errs, "store.write_timeout must be positive")
	}

	switch s.Store.Backend {
	case BackendPostgres:
		if s.Database.URL == "" && (s.Database.Host == "" || s.Database.DatabaseName == "") {
			errs = append(errs, "database.host and database.database_name are required when DATABASE_URL is unset")
		}
		if s.Database.MaxConns <= 0 {
			errs = append(errs, "database.max_conns must be positive")
		}
		if s.Database.MinConns < 0 || s.Database.MinConns > s.Database.MaxConns {
			errs = append(errs, fmt.Sprintf("database.min_conns (%d) must be between 0 and max_conns (%d)",
				s.Database.MinConns, s.Database.MaxConns))
		}
	case BackendDapr:
		if s.Store.DaprStoreName == "" {
			errs = append(errs, "store.dapr_store_name is required for the dapr backend")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("store.backend (%q) must be one of: postgres, dapr, memory", s.Store.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (a ApplicationSettings) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ConnectionString returns the Postgres URL for the configured database.
func (d DatabaseSettings) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}

	sslMode := "disable"
	if d.RequireSSL {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.DatabaseName,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// String masks credentials so the settings can be logged.
func (s *Settings) String() string {
	return fmt.Sprintf("Settings{Application: {Addr: %s, MaxBodyBytes: %d}, Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, Store: {Backend: %s}, LogLevel: %q}",
		s.Application.Addr(), s.Application.MaxBodyBytes,
		s.Database.MaxConns, s.Database.MinConns, s.Store.Backend, s.LogLevel)
}
