package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Store: StoreConfig{
			Backend:  BackendBadger,
			DataPath: "/some/path",
		},
		Dynamo: DynamoConfig{TablePrefix: "guestbook_"},
		Commit: CommitConfig{
			MaxRetries:     10,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     250 * time.Millisecond,
			Timeout:        5 * time.Second,
		},
		Greeting: GreetingConfig{MaxLength: 2000, RateBurst: 5},
		List:     ListConfig{DefaultLimit: 20, MaxLimit: 1000},
	}
}

// noEnvFile points LoadConfig at a file that does not exist so a developer's
// .env cannot leak into the test.
func noEnvFile(t *testing.T) string {
	t.Helper()
	return "-env-file=" + filepath.Join(t.TempDir(), "missing.env")
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_AllLogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"DEBUG", true},
		{"trace", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		dataPath string
		valid    bool
	}{
		{"badger", BackendBadger, "/data", true},
		{"sqlite", BackendSQLite, "/data", true},
		{"bolt", BackendBolt, "/data", true},
		{"badger without path", BackendBadger, "", false},
		{"memory without path", BackendMemory, "", true},
		{"dynamo without path", BackendDynamo, "", true},
		{"unknown", "postgres", "/data", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Store.Backend = tt.backend
			cfg.Store.DataPath = tt.dataPath

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_Limits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.Commit.MaxRetries = -1 }},
		{"zero initial backoff", func(c *Config) { c.Commit.InitialBackoff = 0 }},
		{"max below initial", func(c *Config) { c.Commit.MaxBackoff = time.Millisecond }},
		{"negative timeout", func(c *Config) { c.Commit.Timeout = -time.Second }},
		{"negative max length", func(c *Config) { c.Greeting.MaxLength = -1 }},
		{"negative rate", func(c *Config) { c.Greeting.RateLimit = -1 }},
		{"rate without burst", func(c *Config) { c.Greeting.RateLimit = 1; c.Greeting.RateBurst = 0 }},
		{"zero default limit", func(c *Config) { c.List.DefaultLimit = 0 }},
		{"default above max", func(c *Config) { c.List.DefaultLimit = 2000 }},
		{"dynamo empty prefix", func(c *Config) { c.Store.Backend = BackendDynamo; c.Dynamo.TablePrefix = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadConfig([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, filepath.Join(home, "Guestbook", "data"), cfg.Store.DataPath)
	assert.Equal(t, "guestbook_", cfg.Dynamo.TablePrefix)
	assert.Equal(t, 10, cfg.Commit.MaxRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.Commit.InitialBackoff)
	assert.Equal(t, 250*time.Millisecond, cfg.Commit.MaxBackoff)
	assert.Equal(t, 5*time.Second, cfg.Commit.Timeout)
	assert.Equal(t, 2000, cfg.Greeting.MaxLength)
	assert.Zero(t, cfg.Greeting.RateLimit)
	assert.Equal(t, 20, cfg.List.DefaultLimit)
	assert.Equal(t, 1000, cfg.List.MaxLimit)
	assert.Empty(t, cfg.Args)
}

func TestLoadConfig_FlagsBeatEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("COMMIT_MAX_RETRIES", "3")

	dataDir := t.TempDir()
	cfg, err := LoadConfig([]string{
		noEnvFile(t),
		"-log-level", "debug",
		"-store", "bolt",
		"-data-path", dataDir,
		"sign", "book-x", "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, BackendBolt, cfg.Store.Backend)
	assert.Equal(t, dataDir, cfg.Store.DataPath)
	assert.Equal(t, 3, cfg.Commit.MaxRetries)
	assert.Equal(t, []string{"sign", "book-x", "hello"}, cfg.Args)
}

func TestLoadConfig_EnvValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("COMMIT_TIMEOUT", "750ms")
	t.Setenv("GREETING_RATE_LIMIT", "2.5")
	t.Setenv("GREETING_RATE_BURST", "3")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")

	cfg, err := LoadConfig([]string{noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Empty(t, cfg.Store.DataPath)
	assert.Equal(t, 750*time.Millisecond, cfg.Commit.Timeout)
	assert.InDelta(t, 2.5, cfg.Greeting.RateLimit, 1e-9)
	assert.Equal(t, 3, cfg.Greeting.RateBurst)
	assert.Equal(t, "http://localhost:8000", cfg.Dynamo.Endpoint)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "# guestbook\nLOG_LEVEL=debug\nLIST_DEFAULT_LIMIT=7\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("LIST_DEFAULT_LIMIT") })

	cfg, err := LoadConfig([]string{"-env-file", path, "-store", "memory"})
	require.NoError(t, err)

	// The environment wins over the file.
	assert.Equal(t, "error", cfg.Logger.Level)
	assert.Equal(t, 7, cfg.List.DefaultLimit)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("COMMIT_MAX_BACKOFF", "soon")

	_, err := LoadConfig([]string{noEnvFile(t), "-store", "memory"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit max backoff")
}

func TestLoadConfig_InvalidRate(t *testing.T) {
	_, err := LoadConfig([]string{noEnvFile(t), "-store", "memory", "-greeting-rate-limit", "fast"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestLoadConfig_UnknownFlag(t *testing.T) {
	_, err := LoadConfig([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	_, err := LoadConfig([]string{noEnvFile(t), "-store", "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store backend")
}

func TestGetIntConfigValue(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, getIntConfigValue("", "TEST_INT", 1))
	assert.Equal(t, 7, getIntConfigValue("7", "TEST_INT", 1))

	t.Setenv("TEST_INT", "many")
	assert.Equal(t, 1, getIntConfigValue("", "TEST_INT", 1))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/books", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "books"), got)

	got, err = expandPath("", "/default")
	require.NoError(t, err)
	assert.Equal(t, "/default", got)

	got, err = expandPath("/a/b/../c", "")
	require.NoError(t, err)
	assert.Equal(t, "/a/c", got)
}
