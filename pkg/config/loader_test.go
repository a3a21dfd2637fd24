package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchdojo/notifybridge/pkg/config"
)

type brokerConfig struct {
	URL         string        `env:"TEST_CFG_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	PollTimeout time.Duration `env:"TEST_CFG_POLL_TIMEOUT" envDefault:"1s"`
	MaxRestarts int           `env:"TEST_CFG_MAX_RESTARTS" envDefault:"10"`
}

type requiredConfig struct {
	Required string `env:"TEST_CFG_REQUIRED,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg brokerConfig
	require.NoError(t, config.Load(&cfg, config.WithEnvFiles()))

	assert.Equal(t, "redis://localhost:6379/0", cfg.URL)
	assert.Equal(t, time.Second, cfg.PollTimeout)
	assert.Equal(t, 10, cfg.MaxRestarts)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("TEST_CFG_REDIS_URL", "redis://redis:6379/1")
	t.Setenv("TEST_CFG_POLL_TIMEOUT", "250ms")

	var cfg brokerConfig
	require.NoError(t, config.Load(&cfg, config.WithEnvFiles()))

	assert.Equal(t, "redis://redis:6379/1", cfg.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)
}

func TestLoad_NotCached(t *testing.T) {
	t.Setenv("TEST_CFG_MAX_RESTARTS", "3")
	var first brokerConfig
	require.NoError(t, config.Load(&first, config.WithEnvFiles()))

	t.Setenv("TEST_CFG_MAX_RESTARTS", "7")
	var second brokerConfig
	require.NoError(t, config.Load(&second, config.WithEnvFiles()))

	assert.Equal(t, 3, first.MaxRestarts)
	assert.Equal(t, 7, second.MaxRestarts)
}

func TestLoad_Prefix(t *testing.T) {
	t.Setenv("WORKER_TEST_CFG_REDIS_URL", "redis://worker:6379/2")

	var cfg brokerConfig
	require.NoError(t, config.Load(&cfg, config.WithEnvFiles(), config.WithPrefix("WORKER_")))
	assert.Equal(t, "redis://worker:6379/2", cfg.URL)
}

func TestLoad_EnvFile(t *testing.T) {
	os.Unsetenv("TEST_CFG_REQUIRED")
	t.Cleanup(func() { os.Unsetenv("TEST_CFG_REQUIRED") })

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_CFG_REQUIRED=from-file\n"), 0o600))

	var cfg requiredConfig
	require.NoError(t, config.Load(&cfg, config.WithEnvFiles(path)))
	assert.Equal(t, "from-file", cfg.Required)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	var cfg brokerConfig
	err := config.Load(&cfg, config.WithEnvFiles(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, err)
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("TEST_CFG_REQUIRED")

	var cfg requiredConfig
	err := config.Load(&cfg, config.WithEnvFiles())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	var cfg *brokerConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
}

func TestMustLoad_Panics(t *testing.T) {
	os.Unsetenv("TEST_CFG_REQUIRED")

	var cfg requiredConfig
	assert.Panics(t, func() { config.MustLoad(&cfg, config.WithEnvFiles()) })
}
