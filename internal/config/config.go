package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Persistence backend selection
	Store StoreConfig `env:",prefix=STORE_"`

	// Quota, cooldown and batch sizing
	Redemption RedemptionConfig `env:",prefix=REDEEM_"`

	// Claimed-number export destination
	Export ExportConfig `env:",prefix=EXPORT_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
	// Per-IP request rate for the public lead procedures
	PublicRPS   float64 `env:"PUBLIC_RPS,default=5"`
	PublicBurst int     `env:"PUBLIC_BURST,default=10"`
	// Browser origins allowed to call the RPC endpoints
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=*"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=leadpool"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
	Migrate  bool   `env:"MIGRATE,default=true"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=console"`
	Debug       bool   `env:"DEBUG,default=false"`
	AdminToken  string `env:"ADMIN_TOKEN"`
	// IANA zone used for upload-date filtering
	Location string `env:"LOCATION,default=Local"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `env:"DRIVER,default=file"` // memory, file or postgres
	Dir    string `env:"DIR,default=./data"`
}

// RedemptionConfig holds the allocation limits
type RedemptionConfig struct {
	MaxTimes  int           `env:"MAX_TIMES,default=3"`
	Cooldown  time.Duration `env:"COOLDOWN,default=6h"`
	BatchSize int           `env:"BATCH_SIZE,default=10"`
}

// ExportConfig holds the claimed-number export sink
type ExportConfig struct {
	Sink     string `env:"SINK,default=file"` // file or s3
	Path     string `env:"PATH,default=./data/marked_phones.txt"`
	Bucket   string `env:"BUCKET"`
	Key      string `env:"KEY,default=exports/marked_phones.txt"`
	Region   string `env:"REGION,default=us-east-1"`
	Endpoint string `env:"ENDPOINT"`
}

// Load reads an optional .env file, then loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith loads configuration from the given lookuper
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.Redemption.MaxTimes < 1 {
		return fmt.Errorf("REDEEM_MAX_TIMES must be positive, got %d", c.Redemption.MaxTimes)
	}
	if c.Redemption.BatchSize < 1 {
		return fmt.Errorf("REDEEM_BATCH_SIZE must be positive, got %d", c.Redemption.BatchSize)
	}
	if c.Redemption.Cooldown < 0 {
		return fmt.Errorf("REDEEM_COOLDOWN must not be negative, got %s", c.Redemption.Cooldown)
	}
	switch c.Store.Driver {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Export.Sink {
	case "file":
	case "s3":
		if c.Export.Bucket == "" {
			return fmt.Errorf("EXPORT_BUCKET is required for the s3 export sink")
		}
	default:
		return fmt.Errorf("unknown EXPORT_SINK %q", c.Export.Sink)
	}
	if _, err := time.LoadLocation(c.App.Location); err != nil {
		return fmt.Errorf("invalid APP_LOCATION: %w", err)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// GetLocation returns the configured time zone, falling back to time.Local
func (c *AppConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
