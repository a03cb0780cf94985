package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8023"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":8024"`

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	// StoreDriver selects the account/ledger store: postgres or memory.
	StoreDriver string   `env:"STORE_DRIVER" envDefault:"postgres"`
	DB          DBConfig `envPrefix:"DB_"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"redis:6379"`
	RedisPass string `env:"REDIS_PASS"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"kafka:9092" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ledger.events"`
	// EventsSink is where domain events go: log, redis or kafka.
	EventsSink   string   `env:"EVENTS_SINK" envDefault:"log"`

	IdempotencyCacheTTL time.Duration `env:"IDEMPOTENCY_CACHE_TTL" envDefault:"24h"`

	DefaultTimezone        string `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	CheckingOverdraftLimit int64  `env:"CHECKING_OVERDRAFT_LIMIT_CENTS" envDefault:"0"`
	SavingsOverdraftLimit  int64  `env:"SAVINGS_OVERDRAFT_LIMIT_CENTS" envDefault:"0"`
	MaxActiveCards         int    `env:"MAX_ACTIVE_CARDS" envDefault:"3"`

	PendingTransferTimeout time.Duration `env:"PENDING_TRANSFER_TIMEOUT" envDefault:"1m"`
	ReconcileInterval      time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type DBConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"ledger"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`

	MaxConns       int32 `env:"MAX_CONNS" envDefault:"50"`
	MinConns       int32 `env:"MIN_CONNS" envDefault:"10"`
	ConnectRetries int   `env:"CONNECT_RETRIES" envDefault:"5"`
}

// URL renders the pgx connection string.
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Load parses AppConfig from the environment and validates the enumerations.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	switch c.EventsSink {
	case "log", "redis", "kafka":
	default:
		return fmt.Errorf("EVENTS_SINK must be log, redis or kafka, got %q", c.EventsSink)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if c.CheckingOverdraftLimit < 0 || c.SavingsOverdraftLimit < 0 {
		return fmt.Errorf("overdraft limits must not be negative")
	}
	if c.MaxActiveCards < 1 {
		return fmt.Errorf("MAX_ACTIVE_CARDS must be at least 1")
	}
	if c.PendingTransferTimeout <= 0 || c.ReconcileInterval <= 0 {
		return fmt.Errorf("PENDING_TRANSFER_TIMEOUT and RECONCILE_INTERVAL must be positive")
	}
	return nil
}
