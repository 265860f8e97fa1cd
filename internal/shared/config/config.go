package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	KurrentDB KurrentDBConfig `yaml:"kurrentdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	AI        AIConfig        `yaml:"ai"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Chat      ChatConfig      `yaml:"chat"`
	Intake    IntakeConfig    `yaml:"intake"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	Env             string        `yaml:"env"              env:"ENV"                     env-default:"development"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// IsProduction reports whether the admin API must require authentication.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

// DatabaseConfig holds PostgreSQL connection settings. InMemory switches every
// repository to the in-process implementation.
type DatabaseConfig struct {
	InMemory        bool          `yaml:"in_memory"          env:"DB_IN_MEMORY"          env-default:"false"`
	Host            string        `yaml:"host"               env:"DB_HOST"               env-default:"localhost"`
	Port            int           `yaml:"port"               env:"DB_PORT"               env-default:"5432"`
	User            string        `yaml:"user"               env:"DB_USER"               env-default:"fincas"`
	Password        string        `yaml:"password"           env:"DB_PASSWORD"           env-default:"fincas"`
	Database        string        `yaml:"name"               env:"DB_NAME"               env-default:"fincas"`
	SSLMode         string        `yaml:"sslmode"            env:"DB_SSLMODE"            env-default:"disable"`
	MaxConns        int32         `yaml:"max_conns"          env:"DB_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DB_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DB_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" env-default:"30m"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"    env:"DB_CONNECT_TIMEOUT"    env-default:"30s"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB). When
// disabled, case events are published to the in-process bus only.
type KurrentDBConfig struct {
	Enabled      bool   `yaml:"enabled"       env:"KURRENTDB_ENABLED"       env-default:"false"`
	Host         string `yaml:"host"          env:"KURRENTDB_HOST"          env-default:"localhost"`
	Port         int    `yaml:"port"          env:"KURRENTDB_PORT"          env-default:"2113"`
	Insecure     bool   `yaml:"insecure"      env:"KURRENTDB_INSECURE"      env-default:"true"`
	Username     string `yaml:"username"      env:"KURRENTDB_USERNAME"`
	Password     string `yaml:"password"      env:"KURRENTDB_PASSWORD"`
	StreamPrefix string `yaml:"stream_prefix" env:"KURRENTDB_STREAM_PREFIX" env-default:"fincas"`
}

// RedisConfig configures the message-id claim store. An empty Addr disables it.
type RedisConfig struct {
	Addr      string        `yaml:"addr"       env:"REDIS_ADDR"`
	Password  string        `yaml:"password"   env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db"         env:"REDIS_DB"         env-default:"0"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl" env:"REDIS_DEDUPE_TTL" env-default:"168h"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"dev-secret-change-in-prod"`
}

// AIConfig points at an OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	Enabled           bool          `yaml:"enabled"             env:"AI_ENABLED"             env-default:"true"`
	BaseURL           string        `yaml:"base_url"            env:"AI_BASE_URL"            env-default:"https://api.openai.com/v1"`
	APIKey            string        `yaml:"api_key"             env:"AI_API_KEY"`
	Model             string        `yaml:"model"               env:"AI_MODEL"               env-default:"gpt-4o-mini"`
	Temperature       float64       `yaml:"temperature"         env:"AI_TEMPERATURE"         env-default:"0.3"`
	Timeout           time.Duration `yaml:"timeout"             env:"AI_TIMEOUT"             env-default:"30s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"AI_REQUESTS_PER_SECOND" env-default:"2"`
}

type SMTPConfig struct {
	Host            string `yaml:"host"              env:"SMTP_HOST"`
	Port            int    `yaml:"port"              env:"SMTP_PORT"              env-default:"587"`
	Username        string `yaml:"username"          env:"SMTP_USERNAME"`
	Password        string `yaml:"password"          env:"SMTP_PASSWORD"`
	FromAddress     string `yaml:"from_address"      env:"SMTP_FROM_ADDRESS"      env-default:"incidencias@fincas.local"`
	FromName        string `yaml:"from_name"         env:"SMTP_FROM_NAME"         env-default:"Administración de Fincas"`
	MessageIDDomain string `yaml:"message_id_domain" env:"SMTP_MESSAGE_ID_DOMAIN" env-default:"fincas-agent"`
}

// ChatConfig configures the outbound chat gateway. An empty GatewayURL
// routes chat notifications to the log.
type ChatConfig struct {
	GatewayURL string        `yaml:"gateway_url" env:"CHAT_GATEWAY_URL"`
	Token      string        `yaml:"token"       env:"CHAT_GATEWAY_TOKEN"`
	From       string        `yaml:"from"        env:"CHAT_FROM"`
	Timeout    time.Duration `yaml:"timeout"     env:"CHAT_TIMEOUT"     env-default:"10s"`
}

// IntakeConfig holds the case resolution windows and webhook limits.
type IntakeConfig struct {
	EmailStaleAfter  time.Duration `yaml:"email_stale_after"  env:"INTAKE_EMAIL_STALE_AFTER"  env-default:"720h"`
	SameSenderWindow time.Duration `yaml:"same_sender_window" env:"INTAKE_SAME_SENDER_WINDOW" env-default:"48h"`
	ChatFreshness    time.Duration `yaml:"chat_freshness"     env:"INTAKE_CHAT_FRESHNESS"     env-default:"24h"`
	DeliveryAttempts uint          `yaml:"delivery_attempts"  env:"INTAKE_DELIVERY_ATTEMPTS"  env-default:"3"`
	WebhookRPS       int           `yaml:"webhook_rps"        env:"INTAKE_WEBHOOK_RPS"        env-default:"5"`
	WebhookBurst     int           `yaml:"webhook_burst"      env:"INTAKE_WEBHOOK_BURST"      env-default:"20"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// Validate performs business-rule validation on the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production (got %d)", len(c.Auth.JWTSecret))
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		c.AI.Enabled = false
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be within [0, 2] (got %v)", c.AI.Temperature)
	}
	if c.Intake.EmailStaleAfter <= 0 || c.Intake.SameSenderWindow <= 0 || c.Intake.ChatFreshness <= 0 {
		return fmt.Errorf("intake windows must be positive")
	}
	if c.Intake.DeliveryAttempts == 0 {
		return fmt.Errorf("intake.delivery_attempts must be >= 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}
	if c.SMTP.FromAddress != "" {
		c.SMTP.FromAddress = strings.ToLower(strings.TrimSpace(c.SMTP.FromAddress))
	}
	return nil
}
