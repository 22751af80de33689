package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CronToken   string   `mapstructure:"CRON_TOKEN"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	SMSGateway  string   `mapstructure:"SMS_GATEWAY_URL"`
	SMSAPIKey   string   `mapstructure:"SMS_API_KEY"`
	SMSSender   string   `mapstructure:"SMS_SENDER"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SMS_SENDER", "CareLink")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CRON_TOKEN")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SMS_GATEWAY_URL")
	v.BindEnv("SMS_API_KEY")
	v.BindEnv("SMS_SENDER")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is mandatory, and the invoice cron endpoint refuses to exist
// without a shared token.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && c.CronToken == "" {
		return fmt.Errorf("CRON_TOKEN is required in production for the invoice cron endpoint")
	}
	if c.SMSGateway != "" && c.SMSAPIKey == "" {
		return fmt.Errorf("SMS_API_KEY is required when SMS_GATEWAY_URL is set")
	}
	return nil
}
