/*
config.go - Server configuration

PURPOSE:
  Collects every runtime setting of the server in one struct.

PRECEDENCE (lowest to highest):
  1. Defaults
  2. .env file in the working directory (optional)
  3. Environment variables
  4. Command-line flags

ENVIRONMENT:
  CASHFLOW_PORT             HTTP port (8080)
  CASHFLOW_DB_DRIVER        sqlite | postgres (sqlite)
  CASHFLOW_DB_DSN           SQLite path or Postgres URL (cashflow.db)
  CASHFLOW_LOG_LEVEL        debug | info | warn | error (info)
  CASHFLOW_LOG_FORMAT       json | console (json)
  CASHFLOW_REPAIR_INTERVAL  Go duration, 0 disables the scheduler (1h)
  CASHFLOW_ROLE_CACHE_TTL   Go duration (5m)
  CASHFLOW_REQUIRE_ADMIN    guard admin routes with the role check (false)
  CASHFLOW_ALLOWED_ORIGINS  comma separated CORS origins

SEE ALSO:
  - cmd/server/main.go: consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port           int
	DBDriver       string
	DBDSN          string
	LogLevel       string
	LogFormat      string
	RepairInterval time.Duration
	RoleCacheTTL   time.Duration
	RequireAdmin   bool
	AllowedOrigins []string
}

func Default() Config {
	return Config{
		Port:           8080,
		DBDriver:       DriverSQLite,
		DBDSN:          "cashflow.db",
		LogLevel:       "info",
		LogFormat:      "json",
		RepairInterval: time.Hour,
		RoleCacheTTL:   5 * time.Minute,
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Load reads .env (if present), then the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database driver: sqlite or postgres")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "SQLite path (\":memory:\" for in-memory) or Postgres URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or console")
	fs.DurationVar(&cfg.RepairInterval, "repair-interval", cfg.RepairInterval, "ledger repair interval, 0 disables")
	fs.BoolVar(&cfg.RequireAdmin, "require-admin", cfg.RequireAdmin, "require the admin role on admin routes")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CASHFLOW_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASHFLOW_PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("CASHFLOW_DB_DRIVER"); ok {
		c.DBDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("CASHFLOW_DB_DSN"); ok {
		c.DBDSN = v
	}
	if v, ok := lookup("CASHFLOW_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("CASHFLOW_LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("CASHFLOW_REPAIR_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASHFLOW_REPAIR_INTERVAL: %w", err)
		}
		c.RepairInterval = d
	}
	if v, ok := lookup("CASHFLOW_ROLE_CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASHFLOW_ROLE_CACHE_TTL: %w", err)
		}
		c.RoleCacheTTL = d
	}
	if v, ok := lookup("CASHFLOW_REQUIRE_ADMIN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CASHFLOW_REQUIRE_ADMIN: %w", err)
		}
		c.RequireAdmin = b
	}
	if v, ok := lookup("CASHFLOW_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("database DSN is empty")
	}
	if c.RepairInterval < 0 {
		return errors.New("repair interval must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
