package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/scan-annotator/pkg/overlay"
)

// Config holds the application configuration
type Config struct {
	Analyzer AnalyzerConfig `json:"analyzer" yaml:"analyzer"`
	Renderer RendererConfig `json:"renderer" yaml:"renderer"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Report   ReportConfig   `json:"report" yaml:"report"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// AnalyzerConfig selects and tunes the vision model backend
type AnalyzerConfig struct {
	Provider          string  `json:"provider" yaml:"provider" validate:"oneof=ollama llamacpp gemini"`
	URL               string  `json:"url" yaml:"url" validate:"omitempty,url"`
	Model             string  `json:"model" yaml:"model" validate:"required"`
	APIKey            string  `json:"api_key,omitempty" yaml:"api_key,omitempty" validate:"required_if=Provider gemini"`
	Prompt            string  `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	MaxDimension      int     `json:"max_dimension" yaml:"max_dimension" validate:"gte=0"`
	Quality           int     `json:"quality" yaml:"quality" validate:"gte=1,lte=100"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" yaml:"burst" validate:"gte=0"`
}

// RendererConfig holds overlay colours and opacities
type RendererConfig struct {
	HighlightColor string  `json:"highlight_color" yaml:"highlight_color" validate:"hexcolor"`
	MinStroke      float64 `json:"min_stroke" yaml:"min_stroke" validate:"gt=0"`
	StrokeRatio    float64 `json:"stroke_ratio" yaml:"stroke_ratio" validate:"gte=0,lte=1"`
	BoxFillOpacity float64 `json:"box_fill_opacity" yaml:"box_fill_opacity" validate:"gte=0,lte=1"`
	MaskOpacity    float64 `json:"mask_opacity" yaml:"mask_opacity" validate:"gte=0,lte=1"`
}

// HistoryConfig selects where past results are kept
type HistoryConfig struct {
	Backend string      `json:"backend" yaml:"backend" validate:"oneof=file redis memory"`
	Path    string      `json:"path" yaml:"path" validate:"required_if=Backend file"`
	Key     string      `json:"key" yaml:"key" validate:"required"`
	Redis   RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig holds redis connection settings for the redis history backend
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// ReportConfig holds report export settings
type ReportConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir" validate:"required"`
	Scale     int    `json:"scale" yaml:"scale" validate:"gte=2"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level    string `json:"level" yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	NoColors bool   `json:"no_colors" yaml:"no_colors"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			Provider:          "ollama",
			URL:               "http://localhost:11434",
			Model:             "llava:13b",
			TimeoutSeconds:    300,
			MaxDimension:      0,
			Quality:           90,
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Renderer: RendererConfig{
			HighlightColor: "#ef4444",
			MinStroke:      2,
			StrokeRatio:    0.005,
			BoxFillOpacity: 0.2,
			MaskOpacity:    0.6,
		},
		History: HistoryConfig{
			Backend: "file",
			Path:    filepath.Join(configDir(), "history.json"),
			Key:     "analysisHistory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "scan-annotator:",
			},
		},
		Report: ReportConfig{
			OutputDir: ".",
			Scale:     2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by extension.
// Values missing from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv loads .env files (missing files are ignored) and applies environment overrides
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	setString(&c.Analyzer.Provider, "SCAN_PROVIDER")
	setString(&c.Analyzer.URL, "SCAN_ANALYZER_URL")
	setString(&c.Analyzer.Model, "SCAN_MODEL")
	setString(&c.History.Backend, "SCAN_HISTORY_BACKEND")
	setString(&c.History.Path, "SCAN_HISTORY_PATH")
	setString(&c.Report.OutputDir, "SCAN_REPORT_DIR")
	setString(&c.Log.Level, "SCAN_LOG_LEVEL")
	setString(&c.Log.File, "SCAN_LOG_FILE")

	setString(&c.Analyzer.APIKey, "GEMINI_API_KEY")
	if c.Analyzer.Provider == "gemini" {
		setString(&c.Analyzer.Model, "GEMINI_MODEL_NAME")
	}

	setString(&c.History.Redis.Addr, "REDIS_ADDRESS")
	setString(&c.History.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.History.Redis.DB = db
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// SaveToFile saves configuration to a JSON or YAML file, chosen by extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Analyzer.Provider != "gemini" && c.Analyzer.URL == "" {
		return fmt.Errorf("analyzer.url is required for the %s provider", c.Analyzer.Provider)
	}

	if c.History.Backend == "redis" && c.History.Redis.Addr == "" {
		return fmt.Errorf("history.redis.addr is required for the redis backend")
	}

	if _, err := ParseHexColor(c.Renderer.HighlightColor); err != nil {
		return fmt.Errorf("renderer.highlight_color: %w", err)
	}

	return nil
}

// Timeout returns the analyzer timeout as a duration
func (a AnalyzerConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// OverlayOptions converts the renderer section to overlay options
func (r RendererConfig) OverlayOptions() (overlay.Options, error) {
	highlight, err := ParseHexColor(r.HighlightColor)
	if err != nil {
		return overlay.Options{}, err
	}
	return overlay.Options{
		Highlight:      highlight,
		MinStroke:      r.MinStroke,
		StrokeRatio:    r.StrokeRatio,
		BoxFillOpacity: r.BoxFillOpacity,
		MaskOpacity:    r.MaskOpacity,
	}, nil
}

// ParseHexColor parses #rgb or #rrggbb into an opaque colour
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(configDir(), "config.json")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "scan-annotator")
}
