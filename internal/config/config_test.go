package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts, err := cfg.Renderer.OverlayOptions()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 239, G: 68, B: 68, A: 255}, opts.Highlight)
	assert.Equal(t, 0.2, opts.BoxFillOpacity)
	assert.Equal(t, 0.6, opts.MaskOpacity)
	assert.Equal(t, 300*time.Second, cfg.Analyzer.Timeout())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Analyzer.Provider = "mystery" }},
		{"gemini without key", func(c *Config) { c.Analyzer.Provider = "gemini" }},
		{"ollama without url", func(c *Config) { c.Analyzer.URL = "" }},
		{"bad url", func(c *Config) { c.Analyzer.URL = "not a url" }},
		{"quality out of range", func(c *Config) { c.Analyzer.Quality = 101 }},
		{"mask opacity above one", func(c *Config) { c.Renderer.MaskOpacity = 1.5 }},
		{"bad colour", func(c *Config) { c.Renderer.HighlightColor = "red" }},
		{"unknown backend", func(c *Config) { c.History.Backend = "s3" }},
		{"file backend without path", func(c *Config) { c.History.Path = "" }},
		{"redis backend without addr", func(c *Config) {
			c.History.Backend = "redis"
			c.History.Redis.Addr = ""
		}},
		{"report scale below two", func(c *Config) { c.Report.Scale = 1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGeminiWithKeyIsValid(t *testing.T) {
	cfg := Default()
	cfg.Analyzer.Provider = "gemini"
	cfg.Analyzer.URL = ""
	cfg.Analyzer.APIKey = "key"
	cfg.Analyzer.Model = "gemini-2.5-flash"
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Analyzer.Model = "minicpm-v"
			cfg.Report.Scale = 3
			cfg.History.Backend = "memory"

			require.NoError(t, cfg.SaveToFile(path))
			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  provider: llamacpp\n  url: http://localhost:8080\n"), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "llamacpp", cfg.Analyzer.Provider)
	assert.Equal(t, "llava:13b", cfg.Analyzer.Model)
	assert.Equal(t, 0.6, cfg.Renderer.MaskOpacity)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCAN_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("GEMINI_MODEL_NAME", "gemini-2.5-flash")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SCAN_LOG_LEVEL", "debug")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "absent.env")))

	assert.Equal(t, "gemini", cfg.Analyzer.Provider)
	assert.Equal(t, "secret", cfg.Analyzer.APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.Analyzer.Model)
	assert.Equal(t, "redis:6379", cfg.History.Redis.Addr)
	assert.Equal(t, 3, cfg.History.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCAN_REPORT_DIR=/tmp/reports\n"), 0600))
	// godotenv never overrides variables that are already set
	t.Setenv("SCAN_REPORT_DIR", "")
	require.NoError(t, os.Unsetenv("SCAN_REPORT_DIR"))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envFile))
	assert.Equal(t, "/tmp/reports", cfg.Report.OutputDir)
}

func TestApplyEnvBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	assert.Error(t, Default().ApplyEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#f00")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, c)

	_, err = ParseHexColor("#12345")
	assert.Error(t, err)
	_, err = ParseHexColor("#zzzzzz")
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.json", filepath.Base(GetConfigPath()))
}
