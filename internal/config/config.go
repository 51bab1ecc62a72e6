// Package config
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. A missing file at this
// path is not an error.
const DefaultPath = "config.yaml"

const (
	SinkConsole  = "console"
	SinkWorkbook = "workbook"
	SinkPostgres = "postgres"
)

type Config struct {
	Inventory  InventoryConfig  `yaml:"inventory"`
	Collection CollectionConfig `yaml:"collection"`
	Connection ConnectionConfig `yaml:"connection"`
	Output     OutputConfig     `yaml:"output"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type InventoryConfig struct {
	HostsFile       string `yaml:"hosts_file" validate:"required"`
	CredentialsFile string `yaml:"credentials_file" validate:"required"`
}

type CollectionConfig struct {
	Variant  string            `yaml:"variant" validate:"oneof=errors packets"`
	Commands map[string]string `yaml:"commands"`
}

type JumpHostConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type StrategyConfig struct {
	TimeoutMS     int            `yaml:"timeout_ms" validate:"gt=0"`
	ReadTimeoutMS int            `yaml:"read_timeout_ms" validate:"gt=0"`
	JumpHost      JumpHostConfig `yaml:"jump_host"`
}

type ConnectionConfig struct {
	Port           int            `yaml:"port" validate:"gt=0,lte=65535"`
	SessionLogDir  string         `yaml:"session_log_dir" validate:"required"`
	KnownHostsFile string         `yaml:"known_hosts_file"`
	Primary        StrategyConfig `yaml:"primary"`
	Fallback       StrategyConfig `yaml:"fallback"`
}

type OutputConfig struct {
	Sinks        []string `yaml:"sinks" validate:"min=1,dive,oneof=console workbook postgres"`
	WorkbookPath string   `yaml:"workbook_path"`
}

// PoolConfig defines connection pool settings
type PoolConfig struct {
	MaxConns                 int `yaml:"max_conns"`
	MinConns                 int `yaml:"min_conns"`
	MaxConnLifetimeMinutes   int `yaml:"max_conn_lifetime_minutes"`
	MaxConnIdleTimeMinutes   int `yaml:"max_conn_idle_time_minutes"`
	HealthCheckPeriodSeconds int `yaml:"health_check_period_seconds"`
}

type DatabaseConfig struct {
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	DBName   string     `yaml:"dbname"`
	SSLMode  string     `yaml:"ssl_mode"`
	Pool     PoolConfig `yaml:"pool"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format" validate:"omitempty,oneof=text json"`
	ErrorLog string `yaml:"error_log"`
}

var validate = validator.New()

// Default returns the settings used when no configuration file exists.
func Default() *Config {
	return &Config{
		Inventory: InventoryConfig{
			HostsFile:       "hosts.csv",
			CredentialsFile: "config.ini",
		},
		Collection: CollectionConfig{
			Variant: "errors",
		},
		Connection: ConnectionConfig{
			Port:          22,
			SessionLogDir: "session_logs",
			Primary: StrategyConfig{
				TimeoutMS:     30000,
				ReadTimeoutMS: 30000,
			},
			Fallback: StrategyConfig{
				TimeoutMS:     90000,
				ReadTimeoutMS: 90000,
			},
		},
		Output: OutputConfig{
			Sinks:        []string{SinkConsole, SinkWorkbook},
			WorkbookPath: "output.xlsx",
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			ErrorLog: "error.log",
		},
	}
}

// Load reads configuration from file and applies environment variable overrides.
// When required is false a missing file yields the defaults.
func Load(configPath string, required bool) (*Config, error) {
	cfg := Default()

	// Read config file
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Parse YAML over the defaults
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q validation (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	if c.HasSink(SinkWorkbook) && c.Output.WorkbookPath == "" {
		return fmt.Errorf("output.workbook_path is required for the workbook sink")
	}

	// Validate database config
	if c.HasSink(SinkPostgres) && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database host and dbname are required for the postgres sink")
	}

	return nil
}

// HasSink reports whether the named sink is enabled.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Output.Sinks, name)
}

// applyEnvOverrides checks for environment variables with IFSTATS_ prefix
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IFSTATS_HOSTS_FILE"); v != "" {
		cfg.Inventory.HostsFile = v
	}
	if v := os.Getenv("IFSTATS_CREDENTIALS_FILE"); v != "" {
		cfg.Inventory.CredentialsFile = v
	}
	if v := os.Getenv("IFSTATS_VARIANT"); v != "" {
		cfg.Collection.Variant = v
	}
	if v := os.Getenv("IFSTATS_WORKBOOK_PATH"); v != "" {
		cfg.Output.WorkbookPath = v
	}

	// Jump host overrides
	if v := os.Getenv("IFSTATS_PRIMARY_JUMP_HOST"); v != "" {
		cfg.Connection.Primary.JumpHost.Address = v
	}
	if v := os.Getenv("IFSTATS_FALLBACK_JUMP_HOST"); v != "" {
		cfg.Connection.Fallback.JumpHost.Address = v
	}

	// Database overrides
	if v := os.Getenv("IFSTATS_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("IFSTATS_DATABASE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv("IFSTATS_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("IFSTATS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Timeout returns the dial and handshake timeout as a duration
func (s *StrategyConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// ReadTimeout returns the command read timeout as a duration
func (s *StrategyConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// Command returns the device command for a variant, falling back to def.
func (c *CollectionConfig) Command(variant, def string) string {
	if cmd := strings.TrimSpace(c.Commands[variant]); cmd != "" {
		return cmd
	}
	return def
}

// ConnString returns the PostgreSQL connection string in postgres:// URL format
func (d *DatabaseConfig) ConnString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}

	query := url.Values{}
	if d.SSLMode != "" {
		query.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// ApplyDefaults sets default values for pool configuration
func (p *PoolConfig) ApplyDefaults() {
	// A batch run holds one connection at a time
	if p.MaxConns == 0 {
		p.MaxConns = 4
	}
	if p.MinConns == 0 {
		p.MinConns = 1
	}
	if p.MaxConnLifetimeMinutes == 0 {
		p.MaxConnLifetimeMinutes = 30
	}
	if p.MaxConnIdleTimeMinutes == 0 {
		p.MaxConnIdleTimeMinutes = 5
	}
	if p.HealthCheckPeriodSeconds == 0 {
		p.HealthCheckPeriodSeconds = 45
	}
}

// MaxConnLifetime returns the max connection lifetime as a duration
func (p *PoolConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}

// MaxConnIdleTime returns the max connection idle time as a duration
func (p *PoolConfig) MaxConnIdleTime() time.Duration {
	return time.Duration(p.MaxConnIdleTimeMinutes) * time.Minute
}

// HealthCheckPeriod returns the health check period as a duration
func (p *PoolConfig) HealthCheckPeriod() time.Duration {
	return time.Duration(p.HealthCheckPeriodSeconds) * time.Second
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := Default()
	example.Collection.Commands = map[string]string{
		"errors":  "show interfaces extensive | display json | no-more",
		"packets": "show interfaces extensive | display json | no-more",
	}
	example.Connection.Primary.JumpHost = JumpHostConfig{
		Address: "10.10.0.51",
		Port:    22,
	}
	example.Connection.Fallback.JumpHost = JumpHostConfig{
		Address: "10.10.0.222",
		Port:    22,
	}
	example.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "ifstats",
		Password: "changeme",
		DBName:   "ifstats",
		SSLMode:  "disable",
		Pool: PoolConfig{
			MaxConns:                 4,
			MinConns:                 1,
			MaxConnLifetimeMinutes:   30,
			MaxConnIdleTimeMinutes:   5,
			HealthCheckPeriodSeconds: 45,
		},
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(example); err != nil {
		return fmt.Errorf("failed to encode example config: %w", err)
	}
	return enc.Close()
}
