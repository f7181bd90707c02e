package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/etnz/taxlot"
)

// Environment variables read by LoadConfig.
const (
	EnvDB           = "TLX_DB"
	EnvEODHDAPIKey  = "EODHD_API_KEY"
	EnvIncome       = "TLX_INCOME"
	EnvFilingStatus = "TLX_FILING_STATUS"
	EnvState        = "TLX_STATE"
	EnvPriceTTL     = "TLX_PRICE_TTL"
	EnvCacheDir     = "TLX_CACHE_DIR"
	EnvLogLevel     = "LOG_LEVEL"
)

// Config holds the settings of the tlx application.
type Config struct {
	DBPath      string
	EODHDAPIKey string
	PriceTTL    time.Duration
	CacheDir    string // daily cache of EODHD responses, disabled when empty
	LogLevel    string
	Profile     taxlot.TaxProfile
}

// LoadConfig reads the configuration from getenv, usually os.Getenv.
// Unset variables take their default value.
func LoadConfig(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		DBPath:      env(EnvDB, "taxlot.db"),
		EODHDAPIKey: env(EnvEODHDAPIKey, ""),
		CacheDir:    env(EnvCacheDir, ""),
		LogLevel:    env(EnvLogLevel, "info"),
		Profile:     taxlot.DefaultTaxProfile(),
	}

	var err error
	if cfg.PriceTTL, err = time.ParseDuration(env(EnvPriceTTL, "15m")); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", EnvPriceTTL, err)
	}
	if v := env(EnvIncome, ""); v != "" {
		if cfg.Profile.Income, err = taxlot.ParseMoney(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvIncome, err)
		}
	}
	if v := env(EnvFilingStatus, ""); v != "" {
		if cfg.Profile.FilingStatus, err = taxlot.ParseFilingStatus(v); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvFilingStatus, err)
		}
	}
	if v := env(EnvState, ""); v != "" {
		cfg.Profile.State = strings.ToUpper(v)
	}
	return cfg, nil
}
