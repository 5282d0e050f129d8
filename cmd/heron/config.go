package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr        string `env:"HERON_ADDR" envDefault:":8080"`
	CometPrefix string `env:"HERON_COMET_PREFIX" envDefault:"/comet"`
	StorePrefix string `env:"HERON_STORE_PREFIX" envDefault:"/dictionary"`

	// Push Core timing; receive_timeout must be less than client_timeout
	ClientTimeout  time.Duration `env:"HERON_CLIENT_TIMEOUT" envDefault:"60s"`
	ReceiveTimeout time.Duration `env:"HERON_RECEIVE_TIMEOUT" envDefault:"20s"`
	CheckPeriod    time.Duration `env:"HERON_CHECK_PERIOD" envDefault:"60s"`

	// Store persistence
	DBPath string `env:"HERON_DB_PATH,required"`

	// Hook dispatch pool
	HookPoolSize  int `env:"HERON_HOOK_POOL_SIZE" envDefault:"4"`
	HookQueueSize int `env:"HERON_HOOK_QUEUE_SIZE" envDefault:"1024"`

	// Logging
	LogLevel  string `env:"HERON_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"HERON_LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"HERON_ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// Load .env file (optional - OK if it doesn't exist)
	// In production (containers), we use environment variables directly
	// In development, .env file provides convenience
	if err := godotenv.Load(); err != nil {
		// Only log, don't fail - we can run without .env file
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}

	// Parse environment variables into struct
	// This validates types and applies defaults
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validation
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	// Required fields (no sensible defaults)
	if c.Addr == "" {
		return fmt.Errorf("HERON_ADDR is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("HERON_DB_PATH is required")
	}

	// Logical checks
	if c.ReceiveTimeout >= c.ClientTimeout {
		return fmt.Errorf("HERON_RECEIVE_TIMEOUT (%s) must be less than HERON_CLIENT_TIMEOUT (%s)",
			c.ReceiveTimeout, c.ClientTimeout)
	}
	if c.CheckPeriod <= 0 {
		return fmt.Errorf("HERON_CHECK_PERIOD must be > 0, got %s", c.CheckPeriod)
	}

	// Range checks
	if c.HookPoolSize < 1 {
		return fmt.Errorf("HERON_HOOK_POOL_SIZE must be > 0, got %d", c.HookPoolSize)
	}
	if c.HookQueueSize < 1 {
		return fmt.Errorf("HERON_HOOK_QUEUE_SIZE must be > 0, got %d", c.HookQueueSize)
	}

	// Enum checks
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("HERON_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("HERON_LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Print logs configuration for debugging (human-readable format)
// For production, use LogConfig() with structured logging
func (c *Config) Print() {
	fmt.Println("=== Heron Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Address:         %s\n", c.Addr)
	fmt.Printf("Comet Prefix:    %s\n", c.CometPrefix)
	fmt.Printf("Store Prefix:    %s\n", c.StorePrefix)
	fmt.Println("\n=== Timing ===")
	fmt.Printf("Client Timeout:  %s\n", c.ClientTimeout)
	fmt.Printf("Receive Timeout: %s\n", c.ReceiveTimeout)
	fmt.Printf("Check Period:    %s\n", c.CheckPeriod)
	fmt.Println("\n=== Persistence ===")
	fmt.Printf("DB Path:         %s\n", c.DBPath)
	fmt.Println("\n=== Hook Dispatch ===")
	fmt.Printf("Pool Size:       %d\n", c.HookPoolSize)
	fmt.Printf("Queue Size:      %d\n", c.HookQueueSize)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("============================")
}

// LogConfig logs configuration using structured logging
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("comet_prefix", c.CometPrefix).
		Str("store_prefix", c.StorePrefix).
		Dur("client_timeout", c.ClientTimeout).
		Dur("receive_timeout", c.ReceiveTimeout).
		Dur("check_period", c.CheckPeriod).
		Str("db_path", c.DBPath).
		Int("hook_pool_size", c.HookPoolSize).
		Int("hook_queue_size", c.HookQueueSize).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Heron configuration loaded")
}
