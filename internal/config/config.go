package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceREST     = "rest"
	SourcePostgres = "postgres"

	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	Source            string        `mapstructure:"SOURCE"`
	RecordsAPIURL     string        `mapstructure:"RECORDS_API_URL"`
	RecordsAPIToken   string        `mapstructure:"RECORDS_API_TOKEN"`
	RecordsAPITimeout time.Duration `mapstructure:"RECORDS_API_TIMEOUT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	PageSize              int           `mapstructure:"PAGE_SIZE"`
	CurrencySymbol        string        `mapstructure:"CURRENCY_SYMBOL"`
	InvoiceTitle          string        `mapstructure:"INVOICE_TITLE"`
	LedgerRefreshInterval time.Duration `mapstructure:"LEDGER_REFRESH_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"SOURCE", "RECORDS_API_URL", "RECORDS_API_TOKEN", "RECORDS_API_TIMEOUT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"PAGE_SIZE", "CURRENCY_SYMBOL", "INVOICE_TITLE", "LEDGER_REFRESH_INTERVAL",
}

// Load reads the environment, with an optional .env file underneath it.
// It does not validate; call Validate before using the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("SOURCE", SourceREST)
	v.SetDefault("RECORDS_API_URL", "http://localhost:5000/api")
	v.SetDefault("RECORDS_API_TIMEOUT", "10s")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1MB")
	v.SetDefault("PAGE_SIZE", 10)
	v.SetDefault("CURRENCY_SYMBOL", "$")
	v.SetDefault("INVOICE_TITLE", "Hospital Management System")
	v.SetDefault("LEDGER_REFRESH_INTERVAL", "0s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" in
// development and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Validate checks the configuration for the given command. Source settings
// are only required by commands that talk to a source.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthModeJWT:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if err := c.ValidateSource(); err != nil {
		return err
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.LedgerRefreshInterval < 0 {
		return fmt.Errorf("LEDGER_REFRESH_INTERVAL must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// ValidateSource checks only the settings of the configured bill source.
func (c *Config) ValidateSource() error {
	switch c.Source {
	case SourceREST:
		u, err := url.Parse(c.RecordsAPIURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("RECORDS_API_URL must be an http(s) URL, got %q", c.RecordsAPIURL)
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SOURCE is \"postgres\"")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("SOURCE must be %q or %q, got %q", SourceREST, SourcePostgres, c.Source)
	}
	return nil
}

// Warnings lists settings that are allowed but unsafe outside a laptop.
func (c *Config) Warnings() []string {
	var w []string
	if c.ResolvedAuthMode() == AuthModeDevelopment {
		w = append(w, "development auth is active: requests without X-Dev-Roles get admin access")
	}
	if c.Source == SourceREST && c.RecordsAPIToken == "" {
		w = append(w, "RECORDS_API_TOKEN is empty: records API calls will fail until a session is initialised")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" {
			w = append(w, "CORS_ORIGINS allows any origin")
		}
	}
	return w
}
