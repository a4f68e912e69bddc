package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cbclite/cbclite/pkg/fhirmodels"
)

// Satu Sehat staging endpoints. Production deployments override both.
const (
	DefaultSatuSehatAuthURL = "https://api-satusehat-stg.dto.kemkes.go.id/oauth2/v1/accesstoken"
	DefaultSatuSehatFHIRURL = "https://api-satusehat-stg.dto.kemkes.go.id/fhir-r4/v1"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SatuSehatAuthURL      string        `mapstructure:"SATUSEHAT_AUTH_URL"`
	SatuSehatFHIRURL      string        `mapstructure:"SATUSEHAT_FHIR_URL"`
	SatuSehatClientID     string        `mapstructure:"SATUSEHAT_CLIENT_ID"`
	SatuSehatClientSecret string        `mapstructure:"SATUSEHAT_CLIENT_SECRET"`
	SatuSehatTimeout      time.Duration `mapstructure:"SATUSEHAT_TIMEOUT"`
	SatuSehatNIKSystem    string        `mapstructure:"SATUSEHAT_NIK_SYSTEM"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SATUSEHAT_AUTH_URL", "SATUSEHAT_FHIR_URL", "SATUSEHAT_CLIENT_ID",
	"SATUSEHAT_CLIENT_SECRET", "SATUSEHAT_TIMEOUT", "SATUSEHAT_NIK_SYSTEM",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SATUSEHAT_AUTH_URL", DefaultSatuSehatAuthURL)
	v.SetDefault("SATUSEHAT_FHIR_URL", DefaultSatuSehatFHIRURL)
	v.SetDefault("SATUSEHAT_TIMEOUT", "15s")
	v.SetDefault("SATUSEHAT_NIK_SYSTEM", fhirmodels.SystemNIK)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.SatuSehatFHIRURL = strings.TrimRight(cfg.SatuSehatFHIRURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: running in development mode without AUTH_SIGNING_KEY, API is unauthenticated")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.SatuSehatTimeout <= 0 {
		return fmt.Errorf("SATUSEHAT_TIMEOUT must be positive, got %s", c.SatuSehatTimeout)
	}
	for name, raw := range map[string]string{
		"SATUSEHAT_AUTH_URL":   c.SatuSehatAuthURL,
		"SATUSEHAT_FHIR_URL":   c.SatuSehatFHIRURL,
		"SATUSEHAT_NIK_SYSTEM": c.SatuSehatNIKSystem,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
