// Package config builds the single validated configuration record the
// engine starts from. Invalid values abort before the scheduler starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quantarc/signal-engine/pkg/types"
)

// Config is the validated startup configuration.
type Config struct {
	// Provider
	ProviderBaseURL string
	ProviderAPIKey  string
	CryptoExchange  string

	// Persistence
	DatabaseURL string
	DataDir     string

	// Alerts
	AlertEmailKey string

	// Scanner
	Symbols      []string
	MinGrade     types.Grade
	ScanInterval time.Duration

	// User defaults
	AccountSize float64
	RiskPercent float64

	// Server
	Host        string
	Port        int
	LogLevel    string
	MetricsPath string
}

// Load reads environment configuration through viper and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PROVIDER_BASE_URL", "https://api.twelvedata.com")
	v.SetDefault("CRYPTO_EXCHANGE", "Binance")
	v.SetDefault("DRAWDOWN_STATE_DIR", "./data")
	v.SetDefault("SCAN_SYMBOLS", "EURUSD,GBPUSD,USDJPY,AUDUSD,XAUUSD,BTCUSD")
	v.SetDefault("SCAN_MIN_GRADE", "B")
	v.SetDefault("SCAN_INTERVAL", "5m")
	v.SetDefault("ACCOUNT_SIZE", 10000.0)
	v.SetDefault("RISK_PERCENT", 2.0)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_PATH", "/metrics")

	cfg := &Config{
		ProviderBaseURL: v.GetString("PROVIDER_BASE_URL"),
		ProviderAPIKey:  v.GetString("DATA_PROVIDER_API_KEY"),
		CryptoExchange:  v.GetString("CRYPTO_EXCHANGE"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		DataDir:         v.GetString("DRAWDOWN_STATE_DIR"),
		AlertEmailKey:   v.GetString("ALERT_EMAIL_KEY"),
		MinGrade:        types.Grade(v.GetString("SCAN_MIN_GRADE")),
		ScanInterval:    v.GetDuration("SCAN_INTERVAL"),
		AccountSize:     v.GetFloat64("ACCOUNT_SIZE"),
		RiskPercent:     v.GetFloat64("RISK_PERCENT"),
		Host:            v.GetString("HOST"),
		Port:            v.GetInt("PORT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		MetricsPath:     v.GetString("METRICS_PATH"),
	}

	for _, raw := range strings.Split(v.GetString("SCAN_SYMBOLS"), ",") {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol != "" {
			cfg.Symbols = append(cfg.Symbols, symbol)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the startup invariants.
func (c *Config) Validate() error {
	if c.ProviderAPIKey == "" {
		return fmt.Errorf("DATA_PROVIDER_API_KEY is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SCAN_SYMBOLS must name at least one symbol")
	}
	for _, symbol := range c.Symbols {
		if strings.Contains(symbol, "::") {
			return fmt.Errorf("symbol %q contains the reserved batch delimiter", symbol)
		}
	}
	switch c.MinGrade {
	case types.GradeAPlus, types.GradeA, types.GradeBPlus, types.GradeB, types.GradeC:
	default:
		return fmt.Errorf("SCAN_MIN_GRADE %q is not a valid grade", c.MinGrade)
	}
	if c.ScanInterval < time.Minute {
		return fmt.Errorf("SCAN_INTERVAL must be at least one minute, got %s", c.ScanInterval)
	}
	if c.AccountSize <= 0 {
		return fmt.Errorf("ACCOUNT_SIZE must be positive")
	}
	if c.RiskPercent <= 0 || c.RiskPercent > 10 {
		return fmt.Errorf("RISK_PERCENT must be in (0, 10], got %g", c.RiskPercent)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	return nil
}
