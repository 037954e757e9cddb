// internal/config/config.go
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCURL        string `mapstructure:"rpc_url"`
	WebSocketURL  string `mapstructure:"websocket_url"`
	PostgresURL   string `mapstructure:"postgres_url"`
	PrivateKey    string `mapstructure:"private_key"`
	DLMMProgramID string `mapstructure:"dlmm_program_id"`
	QuoteAPIURL   string `mapstructure:"quote_api_url"`
	DebugLogging  bool   `mapstructure:"debug_logging"`
	LogFile       string `mapstructure:"log_file"`

	// Dispatch pipeline.
	RefreshIntervalMs int `mapstructure:"refresh_interval_ms"`
	TickIntervalMs    int `mapstructure:"tick_interval_ms"`
	EventBuffer       int `mapstructure:"event_buffer"`

	// Swap execution.
	SwapRetries      int    `mapstructure:"swap_retries"`
	SwapRetryDelayMs int    `mapstructure:"swap_retry_delay_ms"`
	SlippageBps      uint16 `mapstructure:"slippage_bps"`

	// Transaction submission.
	SubmitBackend      string `mapstructure:"submit_backend"` // "rpc" or "jito"
	SubmitRetries      int    `mapstructure:"submit_retries"`
	ConfirmTimeoutMs   int    `mapstructure:"confirm_timeout_ms"`
	ComputeUnitLimit   uint32 `mapstructure:"compute_unit_limit"`
	MinPriorityFee     uint64 `mapstructure:"min_priority_fee"` // micro-lamports per CU
	JitoBlockEngineURL string `mapstructure:"jito_block_engine_url"`
}

const (
	DefaultRefreshIntervalMs = 3000
	DefaultTickIntervalMs    = 1000
	DefaultEventBuffer       = 256
	DefaultSwapRetries       = 10
	DefaultSwapRetryDelayMs  = 2000
	DefaultSlippageBps       = 500
	DefaultSubmitRetries     = 5
	DefaultConfirmTimeoutMs  = 45000
	DefaultComputeUnitLimit  = 400_000
	DefaultMinPriorityFee    = 10_000
	DefaultQuoteAPIURL       = "https://quote-api.jup.ag/v6"

	// Meteora DLMM program on mainnet.
	DefaultDLMMProgramID = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"refresh_interval_ms": DefaultRefreshIntervalMs,
		"tick_interval_ms":    DefaultTickIntervalMs,
		"event_buffer":        DefaultEventBuffer,
		"swap_retries":        DefaultSwapRetries,
		"swap_retry_delay_ms": DefaultSwapRetryDelayMs,
		"slippage_bps":        DefaultSlippageBps,
		"submit_backend":      "rpc",
		"submit_retries":      DefaultSubmitRetries,
		"confirm_timeout_ms":  DefaultConfirmTimeoutMs,
		"compute_unit_limit":  DefaultComputeUnitLimit,
		"min_priority_fee":    DefaultMinPriorityFee,
		"quote_api_url":       DefaultQuoteAPIURL,
		"dlmm_program_id":     DefaultDLMMProgramID,
		"log_file":            "logs/sniper.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("missing rpc_url in configuration")
	}
	if err := validateURLWithCache(cfg.RPCURL, "http"); err != nil {
		return errors.New("invalid RPC URL protocol")
	}
	if cfg.WebSocketURL == "" {
		return errors.New("missing websocket_url in configuration")
	}
	if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
		return errors.New("invalid WebSocket URL protocol")
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.PrivateKey == "" {
		return errors.New("missing private_key in configuration")
	}
	if cfg.DLMMProgramID == "" {
		return errors.New("missing dlmm_program_id in configuration")
	}
	if cfg.SubmitBackend != "rpc" && cfg.SubmitBackend != "jito" {
		return errors.New("submit_backend must be \"rpc\" or \"jito\"")
	}
	if cfg.SubmitBackend == "jito" && cfg.JitoBlockEngineURL == "" {
		return errors.New("jito backend requires jito_block_engine_url")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.RefreshIntervalMs <= 0 {
		return errors.New("invalid refresh_interval_ms")
	}
	if cfg.TickIntervalMs <= 0 {
		return errors.New("invalid tick_interval_ms")
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if cfg.SwapRetries < 1 {
		return errors.New("invalid swap_retries")
	}
	if cfg.SwapRetryDelayMs <= 0 {
		return errors.New("invalid swap_retry_delay_ms")
	}
	if cfg.SlippageBps == 0 || cfg.SlippageBps > 10000 {
		return errors.New("slippage_bps must be between 1 and 10000")
	}
	if cfg.SubmitRetries < 1 {
		return errors.New("invalid submit_retries")
	}
	if cfg.ConfirmTimeoutMs <= 0 {
		return errors.New("invalid confirm_timeout_ms")
	}
	return nil
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) SwapRetryDelay() time.Duration {
	return time.Duration(c.SwapRetryDelayMs) * time.Millisecond
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutMs) * time.Millisecond
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("PRIVATE_KEY"); envKey != "" {
		cfg.PrivateKey = envKey
	}
	if envRPC := v.GetString("RPC_URL"); envRPC != "" {
		cfg.RPCURL = strings.TrimSpace(envRPC)
	}
	if envWS := v.GetString("WEBSOCKET_URL"); envWS != "" {
		cfg.WebSocketURL = strings.TrimSpace(envWS)
	}
	if envPG := v.GetString("POSTGRES_URL"); envPG != "" {
		cfg.PostgresURL = envPG
	}
}
