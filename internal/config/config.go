package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	AuthSecret         string   `mapstructure:"AUTH_SECRET"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	ReservationTTLMin  int      `mapstructure:"RESERVATION_TTL_MINUTES"`
	ExpiringWindowDays int      `mapstructure:"EXPIRING_WINDOW_DAYS"`
	StockRetryAttempts int      `mapstructure:"STOCK_RETRY_ATTEMPTS"`
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
	v.SetDefault("RESERVATION_TTL_MINUTES", 30)
	v.SetDefault("EXPIRING_WINDOW_DAYS", 30)
	v.SetDefault("STOCK_RETRY_ATTEMPTS", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RESERVATION_TTL_MINUTES")
	v.BindEnv("EXPIRING_WINDOW_DAYS")
	v.BindEnv("STOCK_RETRY_ATTEMPTS")

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

	if cfg.ReservationTTLMin < 0 {
		return nil, fmt.Errorf("RESERVATION_TTL_MINUTES must not be negative")
	}
	if cfg.StockRetryAttempts < 1 {
		return nil, fmt.Errorf("STOCK_RETRY_ATTEMPTS must be at least 1")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server running in DEVELOPMENT mode; dev auth grants admin to every request.")
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
