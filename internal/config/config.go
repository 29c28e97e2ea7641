// Package config provides application configuration loaded from environment
// variables, an optional .env file and an optional config file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/diewo77/go-ledger/internal/validation"
)

// EnvPrefix is prepended to every namespaced environment variable
// (LEDGER_SERVER_PORT, LEDGER_LEDGER_BASE_CURRENCY, ...).
const EnvPrefix = "LEDGER"

// maxTolerance caps the payment tolerance at one base currency unit.
const maxTolerance = 1.0

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	App        AppConfig        `mapstructure:"app"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Production ProductionConfig `mapstructure:"production"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig selects the driver and its connection. DSN wins over the
// individual parts when set.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Debug    bool   `mapstructure:"debug"`
	Retries  int    `mapstructure:"retries"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Env           string `mapstructure:"env"`
	Migrations    bool   `mapstructure:"migrations"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	Seed          bool   `mapstructure:"seed"`
}

// LedgerConfig holds the accounting knobs.
type LedgerConfig struct {
	BaseCurrency      string  `mapstructure:"base_currency"`
	LowStockThreshold int64   `mapstructure:"low_stock_threshold"`
	Tolerance         float64 `mapstructure:"tolerance"`
}

// ProductionConfig drives the stale production order watcher.
type ProductionConfig struct {
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LogConfig mirrors logger.LogConfig so config stays free of logging imports.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ConnString returns the driver specific connection string.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return strings.Trim(strings.TrimSpace(d.DSN), "\"'")
	}
	switch d.Driver {
	case "sqlite":
		name := d.Name
		if name == "" {
			name = "ledger.db"
		}
		return name
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name)
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
}

// ToleranceDecimal returns the payment tolerance as an exact amount.
func (l LedgerConfig) ToleranceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(l.Tolerance).Round(4)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "ledger")
	v.SetDefault("database.password", "ledger")
	v.SetDefault("database.name", "ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.retries", 5)

	v.SetDefault("app.env", "development")
	v.SetDefault("app.migrations", false)
	v.SetDefault("app.migrations_dir", "migrations")
	v.SetDefault("app.seed", true)

	v.SetDefault("ledger.base_currency", "USD")
	v.SetDefault("ledger.low_stock_threshold", 5)
	v.SetDefault("ledger.tolerance", 0.01)

	v.SetDefault("production.stale_after", 72*time.Hour)
	v.SetDefault("production.poll_interval", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// Load reads configuration. Precedence: explicit env var > .env file >
// config file (LEDGER_CONFIG) > default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept from the deployment conventions.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_DSN")
	_ = v.BindEnv("database.debug", EnvPrefix+"_DATABASE_DEBUG", "DB_DEBUG")
	_ = v.BindEnv("app.migrations", EnvPrefix+"_APP_MIGRATIONS", "MIGRATIONS")
	_ = v.BindEnv("app.seed", EnvPrefix+"_APP_SEED", "DB_SEED")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the services cannot start with. Every offending
// key is reported.
func (c *Config) Validate() error {
	v := validation.Violations{}
	switch c.Database.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		v["database.driver"] = "unsupported"
	}
	if len(c.Ledger.BaseCurrency) != 3 {
		v["ledger.base_currency"] = "invalid"
	}
	if c.Ledger.LowStockThreshold < 0 {
		v["ledger.low_stock_threshold"] = "must_not_be_negative"
	}
	validation.RangeFloat("ledger.tolerance", c.Ledger.Tolerance, 0, maxTolerance, v)
	validation.PositiveFloat("production.stale_after", c.Production.StaleAfter.Seconds(), v)
	if v.Empty() {
		return nil
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return fmt.Errorf("invalid config: %s", strings.Join(parts, ", "))
}
