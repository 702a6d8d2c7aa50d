// Package config loads guestbook configuration from command-line flags,
// environment variables and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORE_BACKEND.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendDynamo = "dynamo"
	BackendMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Store    StoreConfig
	Dynamo   DynamoConfig
	Commit   CommitConfig
	Greeting GreetingConfig
	List     ListConfig

	// Args are the positional arguments left after flag parsing.
	Args []string
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StoreConfig selects and locates the storage backend.
type StoreConfig struct {
	Backend string
	// DataPath is the directory holding on-disk stores (default: ~/Guestbook/data).
	DataPath string
}

// DynamoConfig holds DynamoDB settings. Region and credentials come from
// the standard AWS environment.
type DynamoConfig struct {
	TablePrefix string
	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string
}

// CommitConfig tunes group commit retries.
type CommitConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// GreetingConfig holds greeting policy.
type GreetingConfig struct {
	// MaxLength caps greeting content in characters; 0 is unlimited.
	MaxLength int
	// RateLimit is greetings per second per book; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// ListConfig bounds list operations.
type ListConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	flags := flag.NewFlagSet("guestbook", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	env := flags.String("env", "", "Environment (development, staging, production)")
	logLevel := flags.String("log-level", "", "Log level (debug, info, warn, error)")
	backend := flags.String("store", "", "Storage backend (badger, sqlite, bolt, dynamo, memory)")
	dataPath := flags.String("data-path", "", "Directory for on-disk stores")
	tablePrefix := flags.String("dynamodb-table-prefix", "", "Prefix for DynamoDB table names")
	endpoint := flags.String("dynamodb-endpoint", "", "DynamoDB endpoint override")

	// Commit flags
	maxRetries := flags.String("commit-max-retries", "", "Retries for a conflicting commit (default: 10)")
	initialBackoff := flags.String("commit-initial-backoff", "", "First retry delay (default: 5ms)")
	maxBackoff := flags.String("commit-max-backoff", "", "Longest retry delay (default: 250ms)")
	commitTimeout := flags.String("commit-timeout", "", "Deadline for a commit including retries (default: 5s)")

	// Greeting flags
	maxLength := flags.String("greeting-max-length", "", "Maximum greeting length, 0 for unlimited (default: 2000)")
	rateLimit := flags.String("greeting-rate-limit", "", "Greetings per second per book, 0 to disable (default: 0)")
	rateBurst := flags.String("greeting-rate-burst", "", "Greeting burst per book (default: 5)")

	listDefault := flags.String("list-default-limit", "", "Page size when none is given (default: 20)")
	listMax := flags.String("list-max-limit", "", "Largest accepted page size (default: 1000)")

	envFile := flags.String("env-file", ".env", "Path to .env file")

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Variables already in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getConfigValue(*backend, "STORE_BACKEND", BackendBadger)),
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Dynamo: DynamoConfig{
			TablePrefix: getConfigValue(*tablePrefix, "DYNAMODB_TABLE_PREFIX", "guestbook_"),
			Endpoint:    getConfigValue(*endpoint, "DYNAMODB_ENDPOINT", ""),
		},
		Commit: CommitConfig{
			MaxRetries: getIntConfigValue(*maxRetries, "COMMIT_MAX_RETRIES", 10),
		},
		Greeting: GreetingConfig{
			MaxLength: getIntConfigValue(*maxLength, "GREETING_MAX_LENGTH", 2000),
			RateBurst: getIntConfigValue(*rateBurst, "GREETING_RATE_BURST", 5),
		},
		List: ListConfig{
			DefaultLimit: getIntConfigValue(*listDefault, "LIST_DEFAULT_LIMIT", 20),
			MaxLimit:     getIntConfigValue(*listMax, "LIST_MAX_LIMIT", 1000),
		},
		Args: flags.Args(),
	}

	var err error
	if cfg.Commit.InitialBackoff, err = getDurationConfigValue(*initialBackoff, "COMMIT_INITIAL_BACKOFF", "5ms"); err != nil {
		return nil, err
	}
	if cfg.Commit.MaxBackoff, err = getDurationConfigValue(*maxBackoff, "COMMIT_MAX_BACKOFF", "250ms"); err != nil {
		return nil, err
	}
	if cfg.Commit.Timeout, err = getDurationConfigValue(*commitTimeout, "COMMIT_TIMEOUT", "5s"); err != nil {
		return nil, err
	}

	rateStr := getConfigValue(*rateLimit, "GREETING_RATE_LIMIT", "0")
	if cfg.Greeting.RateLimit, err = strconv.ParseFloat(rateStr, 64); err != nil {
		return nil, fmt.Errorf("invalid greeting rate limit %q: %w", rateStr, err)
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Store.Backend {
	case BackendBadger, BackendSQLite, BackendBolt:
		if c.Store.DataPath == "" {
			return fmt.Errorf("data path is required for the %s backend", c.Store.Backend)
		}
	case BackendDynamo:
		if c.Dynamo.TablePrefix == "" {
			return errors.New("DYNAMODB_TABLE_PREFIX cannot be empty")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid store backend: %s (must be badger, sqlite, bolt, dynamo, or memory)", c.Store.Backend)
	}

	if c.Commit.MaxRetries < 0 {
		return fmt.Errorf("commit max retries cannot be negative: %d", c.Commit.MaxRetries)
	}
	if c.Commit.InitialBackoff <= 0 {
		return fmt.Errorf("commit initial backoff must be positive: %s", c.Commit.InitialBackoff)
	}
	if c.Commit.MaxBackoff < c.Commit.InitialBackoff {
		return fmt.Errorf("commit max backoff %s is shorter than initial backoff %s", c.Commit.MaxBackoff, c.Commit.InitialBackoff)
	}
	if c.Commit.Timeout < 0 {
		return fmt.Errorf("commit timeout cannot be negative: %s", c.Commit.Timeout)
	}

	if c.Greeting.MaxLength < 0 {
		return fmt.Errorf("greeting max length cannot be negative: %d", c.Greeting.MaxLength)
	}
	if c.Greeting.RateLimit < 0 {
		return fmt.Errorf("greeting rate limit cannot be negative: %g", c.Greeting.RateLimit)
	}
	if c.Greeting.RateLimit > 0 && c.Greeting.RateBurst < 1 {
		return fmt.Errorf("greeting rate burst must be at least 1 when rate limiting: %d", c.Greeting.RateBurst)
	}

	if c.List.DefaultLimit < 1 || c.List.MaxLimit < 1 {
		return fmt.Errorf("list limits must be positive: default %d, max %d", c.List.DefaultLimit, c.List.MaxLimit)
	}
	if c.List.DefaultLimit > c.List.MaxLimit {
		return fmt.Errorf("list default limit %d exceeds max limit %d", c.List.DefaultLimit, c.List.MaxLimit)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
// Defaults to ~/Guestbook/data for the on-disk backends.
func (c *Config) expandDataPath() error {
	defaultPath := ""
	if c.Store.DataPath == "" && c.usesDisk() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		defaultPath = filepath.Join(homeDir, "Guestbook", "data")
	}

	expanded, err := expandPath(c.Store.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Store.DataPath = expanded
	return nil
}

func (c *Config) usesDisk() bool {
	switch c.Store.Backend {
	case BackendBadger, BackendSQLite, BackendBolt:
		return true
	default:
		return false
	}
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
// Unparseable values fall back to the default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

// getDurationConfigValue parses a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(strings.ReplaceAll(envKey, "_", " ")), strValue, err)
	}
	return d, nil
}
