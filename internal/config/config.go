// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	Negotiation NegotiationConfig
	Authority   AuthorityConfig
	Audit       AuditConfig
	DB          DBConfig
	Redis       RedisConfig
	RabbitMQURL string
	RateLimit   RateLimitConfig
}

// NegotiationConfig tunes the customer coordinators.
type NegotiationConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// AuthorityConfig tunes the inventory authority.
type AuthorityConfig struct {
	SelfCheckInterval time.Duration
	AlternativeLimit  int
	ReplyCacheSize    int
	LayoutFile        string // YAML seat layout; empty means the built-in layout
}

// AuditConfig selects where conversation records go.
type AuditConfig struct {
	Sinks       []string // any of csv, amqp, redis, mysql
	CSVPath     string
	Buffer      int
	Queue       string
	RedisStream string
	RedisMaxLen int64
}

// DBConfig locates the MySQL server used by the mysql audit sink.
type DBConfig struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// Enabled reports whether any database settings were given.
func (c DBConfig) Enabled() bool { return c.Host != "" && c.Name != "" }

// DSN renders the go-sql-driver/mysql data source name.
// parseTime=true maps DATETIME to time.Time; loc=UTC keeps times consistent.
func (c DBConfig) DSN() string {
	auth := c.User
	if c.Pass != "" {
		auth = fmt.Sprintf("%s:%s", c.User, c.Pass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, c.Host, c.Port, c.Name)
}

var knownSinks = map[string]bool{"csv": true, "amqp": true, "redis": true, "mysql": true}

// Load reads a .env file when present and then the environment.  Unset
// variables take their defaults; malformed or contradictory values are
// reported as an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: envStr("APP_PORT", "8080"),
		Negotiation: NegotiationConfig{
			Timeout:    envDur("NEGOTIATION_TIMEOUT", 30*time.Second),
			RetryDelay: envDur("NEGOTIATION_RETRY_DELAY", time.Second),
			MaxRetries: envInt("NEGOTIATION_MAX_RETRIES", 3),
		},
		Authority: AuthorityConfig{
			SelfCheckInterval: envDur("SELF_CHECK_INTERVAL", 10*time.Second),
			AlternativeLimit:  envInt("ALTERNATIVE_LIMIT", 5),
			ReplyCacheSize:    envInt("REPLY_CACHE_SIZE", 1024),
			LayoutFile:        os.Getenv("SEAT_LAYOUT_FILE"),
		},
		Audit: AuditConfig{
			Sinks:       splitList(envStr("AUDIT_SINKS", "csv")),
			CSVPath:     envStr("AUDIT_CSV_PATH", "logs/conversation_log.csv"),
			Buffer:      envInt("AUDIT_BUFFER", 256),
			Queue:       envStr("AUDIT_QUEUE", "negotiation.audit"),
			RedisStream: envStr("AUDIT_REDIS_STREAM", "negotiation:audit"),
			RedisMaxLen: int64(envInt("AUDIT_REDIS_MAXLEN", 10000)),
		},
		DB: DBConfig{
			User: envStr("DB_USER", "root"),
			Pass: os.Getenv("DB_PASS"),
			Host: os.Getenv("DB_HOST"),
			Port: envStr("DB_PORT", "3306"),
			Name: os.Getenv("DB_NAME"),
		},
		Redis:       LoadRedisConfig(),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		RateLimit:   LoadRateLimitConfig(),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.Negotiation.Timeout <= 0 {
		errs = append(errs, errors.New("NEGOTIATION_TIMEOUT must be positive"))
	}
	if c.Negotiation.RetryDelay < 0 {
		errs = append(errs, errors.New("NEGOTIATION_RETRY_DELAY must not be negative"))
	}
	if c.Negotiation.MaxRetries < 0 {
		errs = append(errs, errors.New("NEGOTIATION_MAX_RETRIES must not be negative"))
	}
	if c.Authority.AlternativeLimit < 1 {
		errs = append(errs, errors.New("ALTERNATIVE_LIMIT must be at least 1"))
	}
	if c.Authority.ReplyCacheSize < 1 {
		errs = append(errs, errors.New("REPLY_CACHE_SIZE must be at least 1"))
	}
	if c.Audit.Buffer < 1 {
		errs = append(errs, errors.New("AUDIT_BUFFER must be at least 1"))
	}
	for _, s := range c.Audit.Sinks {
		if !knownSinks[s] {
			errs = append(errs, fmt.Errorf("AUDIT_SINKS: unknown sink %q", s))
		}
	}
	if c.HasSink("amqp") && c.RabbitMQURL == "" {
		errs = append(errs, errors.New("AUDIT_SINKS includes amqp but RABBITMQ_URL is empty"))
	}
	if c.HasSink("mysql") && !c.DB.Enabled() {
		errs = append(errs, errors.New("AUDIT_SINKS includes mysql but DB_HOST/DB_NAME are empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HasSink reports whether the named audit sink is enabled.
func (c Config) HasSink(name string) bool {
	for _, s := range c.Audit.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
