package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "openclaw", cfg.Driver.Backend)
	assert.Equal(t, "openclaw", cfg.Driver.Profile)
	assert.Equal(t, 1, cfg.Driver.GatewayRestarts)
	assert.True(t, cfg.Access.Enabled)
	assert.True(t, cfg.Access.Persist)
	assert.Equal(t, 240, cfg.Access.VideoCooldownMinutes)
	assert.Equal(t, 120, cfg.Access.UserCooldownMinutes)
	assert.Equal(t, 120000, cfg.Access.MaxEntries)
	assert.Equal(t, 400, cfg.Access.SweepEvery)
	assert.Equal(t, []string{"xhs"}, cfg.Acquire.Platforms)
	assert.Equal(t, DefaultKeywords, cfg.Acquire.Keywords)
	assert.Equal(t, 6, cfg.Acquire.MaxPostsPerKeyword)
	assert.Equal(t, 24, cfg.Acquire.MaxCommentsPerPost)
	assert.Equal(t, "both", cfg.Acquire.SortMode)
	assert.Equal(t, 420, cfg.Acquire.PlatformTimeoutSecs)
	assert.Equal(t, 2400, cfg.Acquire.GlobalTimeoutSecs)
	assert.False(t, cfg.Funnel.Enabled)
	assert.Equal(t, 58, cfg.Funnel.MinConfidence)
	assert.Equal(t, 2, cfg.Funnel.TopK)
	assert.Equal(t, "study_abroad", cfg.Funnel.Vertical)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.Artifacts.TopN)
	assert.Equal(t, "@every 12h", cfg.Schedule.Cron)
	assert.InDelta(t, 0.5, cfg.Monitoring.BlockedRatioWarning, 0.001)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
acquire:
  platforms: [xhs, douyin]
  max_posts_per_keyword: 3
funnel:
  enabled: true
platforms:
  - name: forum
    search_url: "https://forum.example.com/search?q={q}"
    post_markers: ["/t/"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"xhs", "douyin"}, cfg.Acquire.Platforms)
	assert.Equal(t, 3, cfg.Acquire.MaxPostsPerKeyword)
	assert.True(t, cfg.Funnel.Enabled)
	require.Len(t, cfg.Platforms, 1)
	assert.Equal(t, "forum", cfg.Platforms[0].Name)
	assert.Equal(t, []string{"/t/"}, cfg.Platforms[0].PostMarkers)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Acquire.MaxCommentsPerPost)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LEADSCOUT_ACQUIRE_GLOBAL_TIMEOUT_SECS", "900")
	t.Setenv("LEADSCOUT_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Acquire.GlobalTimeoutSecs)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Driver.Backend = "openclaw"
	cfg.Store.Driver = "sqlite"
	cfg.Acquire.MaxPostsPerKeyword = 6
	cfg.Acquire.MaxCommentsPerPost = 24
	cfg.Acquire.PlatformTimeoutSecs = 420
	cfg.Acquire.GlobalTimeoutSecs = 2400
	cfg.Acquire.PaceMinMs = 500
	cfg.Acquire.PaceMaxMs = 1300
	cfg.Funnel.MinConfidence = 58
	cfg.Artifacts.OutDir = "out"
	return cfg
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Driver.Backend = "selenium"
	cfg.Store.Driver = "mysql"
	cfg.Funnel.MinConfidence = 120
	cfg.Acquire.PaceMaxMs = 100

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.backend")
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "funnel.min_confidence")
	assert.Contains(t, err.Error(), "pace_max_ms")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Enabled = true
	cfg.Store.Driver = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "database_url")

	cfg.Store.DatabaseURL = "postgres://localhost/leads"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ExtraPlatformNeedsSearchURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Platforms = []PlatformConfig{{Name: "forum"}}
	assert.ErrorContains(t, cfg.Validate(), "platforms[0]")
}
