package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	auth "github.com/goliatone/go-project-auth"
)

const minSigningKeyLength = 32

// Config is the root configuration of the auth server
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Mail     MailConfig     `yaml:"mail"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	Debug       bool          `yaml:"debug"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// The getters below let DatabaseConfig configure the persistence client

func (d DatabaseConfig) GetDebug() bool                { return d.Debug }
func (d DatabaseConfig) GetDriver() string             { return d.Driver }
func (d DatabaseConfig) GetServer() string             { return d.DSN }
func (d DatabaseConfig) GetDSN() string                { return d.DSN }
func (d DatabaseConfig) GetPingTimeout() time.Duration { return d.PingTimeout }
func (d DatabaseConfig) GetOtelIdentifier() string     { return "auth" }

// AuthConfig holds token and session settings
type AuthConfig struct {
	SigningKey           string        `yaml:"signing_key"`
	SigningKeyID         string        `yaml:"signing_key_id"`
	Issuer               string        `yaml:"issuer"`
	Audience             []string      `yaml:"audience"`
	ContextKey           string        `yaml:"context_key"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl"`
	RotateRefreshTokens  bool          `yaml:"rotate_refresh_tokens"`
	RefreshCookieName    string        `yaml:"refresh_cookie_name"`
	RefreshCookiePath    string        `yaml:"refresh_cookie_path"`
	RefreshCookieSecure  bool          `yaml:"refresh_cookie_secure"`
	LoginRateLimit       float64       `yaml:"login_rate_limit"`
	LoginBurst           int           `yaml:"login_burst"`
	PublicURL            string        `yaml:"public_url"`
	PurgeInterval        time.Duration `yaml:"purge_interval"`
	HashidUserIDs        bool          `yaml:"hashid_user_ids"`
}

var _ auth.Config = (*AuthConfig)(nil)

func (a *AuthConfig) GetSigningKey() string                  { return a.SigningKey }
func (a *AuthConfig) GetSigningKeyID() string                { return a.SigningKeyID }
func (a *AuthConfig) GetIssuer() string                      { return a.Issuer }
func (a *AuthConfig) GetAudience() []string                  { return a.Audience }
func (a *AuthConfig) GetContextKey() string                  { return a.ContextKey }
func (a *AuthConfig) GetAccessTokenTTL() time.Duration       { return a.AccessTokenTTL }
func (a *AuthConfig) GetRefreshTokenTTL() time.Duration      { return a.RefreshTokenTTL }
func (a *AuthConfig) GetPasswordResetTTL() time.Duration     { return a.PasswordResetTTL }
func (a *AuthConfig) GetEmailVerificationTTL() time.Duration { return a.EmailVerificationTTL }
func (a *AuthConfig) GetRotateRefreshTokens() bool           { return a.RotateRefreshTokens }
func (a *AuthConfig) GetRefreshCookieName() string           { return a.RefreshCookieName }
func (a *AuthConfig) GetRefreshCookiePath() string           { return a.RefreshCookiePath }
func (a *AuthConfig) GetRefreshCookieSecure() bool           { return a.RefreshCookieSecure }
func (a *AuthConfig) GetLoginRateLimit() float64             { return a.LoginRateLimit }
func (a *AuthConfig) GetLoginBurst() int                     { return a.LoginBurst }
func (a *AuthConfig) GetPublicURL() string                   { return a.PublicURL }

// LedgerConfig selects the token ledger backend
type LedgerConfig struct {
	// Driver is sql or redis
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MetricsConfig exposes prometheus metrics on a listener of its own
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// MailConfig selects the mailer. Provider console prints messages, http
// posts them to an email API.
type MailConfig struct {
	Provider string        `yaml:"provider"`
	From     string        `yaml:"from"`
	APIURL   string        `yaml:"api_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig sets the log level. trace and debug switch to the pretty
// console logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "reading config file")
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "parsing config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a Config with development defaults. It has no signing key
// and does not validate as is.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			DSN:         "file:auth.db?cache=shared",
			PingTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			SigningKeyID:         "primary",
			Issuer:               "go-project-auth",
			ContextKey:           auth.DefaultContextKey,
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			PasswordResetTTL:     30 * time.Minute,
			EmailVerificationTTL: 24 * time.Hour,
			RefreshCookieName:    "refresh_token",
			RefreshCookiePath:    "/api/v1/auth",
			RefreshCookieSecure:  true,
			LoginRateLimit:       0.2,
			LoginBurst:           5,
			PublicURL:            "http://localhost:3000",
			PurgeInterval:        time.Hour,
		},
		Ledger: LedgerConfig{
			Driver: "sql",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "auth",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "go-project-auth",
			TopicPrefix: "auth/activity",
			QoS:         1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Mail: MailConfig{
			Provider: "console",
			From:     "no-reply@localhost",
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTH_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AUTH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("AUTH_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AUTH_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("AUTH_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("AUTH_SIGNING_KEY_ID"); v != "" {
		cfg.Auth.SigningKeyID = v
	}
	if v := os.Getenv("AUTH_PUBLIC_URL"); v != "" {
		cfg.Auth.PublicURL = v
	}
	if v := os.Getenv("AUTH_ROTATE_REFRESH_TOKENS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.RotateRefreshTokens = b
		}
	}
	if v := os.Getenv("AUTH_REFRESH_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.RefreshCookieSecure = b
		}
	}

	if v := os.Getenv("AUTH_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("AUTH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AUTH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("AUTH_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("AUTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("AUTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	if v := os.Getenv("AUTH_MAIL_API_KEY"); v != "" {
		cfg.Mail.APIKey = v
	}
	if v := os.Getenv("AUTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration. All problems are reported together
// in the error metadata.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "database.driver must be sqlite or postgres")
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}

	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required (set AUTH_SIGNING_KEY environment variable)")
	} else if len(c.Auth.SigningKey) < minSigningKeyLength {
		errs = append(errs, "auth.signing_key must be at least 32 characters")
	}
	if strings.TrimSpace(c.Auth.SigningKeyID) == "" {
		errs = append(errs, "auth.signing_key_id is required")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, "auth token lifetimes must be positive")
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		errs = append(errs, "auth.access_token_ttl must be shorter than auth.refresh_token_ttl")
	}

	switch c.Ledger.Driver {
	case "sql":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis ledger")
		}
	default:
		errs = append(errs, "ledger.driver must be sql or redis")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Addr == "" || !strings.HasPrefix(c.Metrics.Path, "/")) {
		errs = append(errs, "metrics.addr and an absolute metrics.path are required when metrics are enabled")
	}

	switch c.Mail.Provider {
	case "console":
	case "http":
		if c.Mail.APIURL == "" {
			errs = append(errs, "mail.api_url is required for the http provider")
		}
	default:
		errs = append(errs, "mail.provider must be console or http")
	}

	if len(errs) > 0 {
		return goerrors.New("configuration errors: "+strings.Join(errs, "; "), goerrors.CategoryValidation).
			WithMetadata(map[string]any{"errors": errs})
	}

	return nil
}
