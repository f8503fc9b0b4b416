package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/site-analyzer/pkg/detection"
	"github.com/menta2k/site-analyzer/pkg/dispatch"
	"github.com/menta2k/site-analyzer/pkg/geometry"
	"github.com/menta2k/site-analyzer/pkg/processing"
	"github.com/menta2k/site-analyzer/pkg/recovery"
)

// Supported vision backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendGemini   = "gemini"
)

// Environment variables read by LoadEnv
const (
	EnvBackend     = "SITE_ANALYZER_BACKEND"
	EnvURL         = "SITE_ANALYZER_URL"
	EnvModel       = "SITE_ANALYZER_MODEL"
	EnvConcurrency = "SITE_ANALYZER_CONCURRENCY"
	EnvGeminiKey   = "GEMINI_API_KEY"
)

// ErrInvalidConfig wraps every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	Backend    BackendConfig             `json:"backend" yaml:"backend"`
	Analysis   AnalysisConfig            `json:"analysis" yaml:"analysis"`
	Recovery   RecoveryConfig            `json:"recovery" yaml:"recovery"`
	Processing processing.PrepareOptions `json:"processing" yaml:"processing"`
	Output     OutputConfig              `json:"output" yaml:"output"`
}

// BackendConfig selects the vision service
type BackendConfig struct {
	Type   string `json:"type" yaml:"type"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// AnalysisConfig holds dispatch and extraction settings
type AnalysisConfig struct {
	Concurrency  int    `json:"concurrency" yaml:"concurrency"`
	Mode         string `json:"mode" yaml:"mode"`
	Prompt       string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	CoordSystem  string `json:"coord_system,omitempty" yaml:"coord_system,omitempty"`
	Origin       string `json:"origin,omitempty" yaml:"origin,omitempty"`
	MinImageSize int    `json:"min_image_size" yaml:"min_image_size"`
}

// RecoveryConfig tunes the response repair step
type RecoveryConfig struct {
	PayloadKeys []string `json:"payload_keys" yaml:"payload_keys"`
	Sentinels   []string `json:"sentinels" yaml:"sentinels"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir    string   `json:"output_dir" yaml:"output_dir"`
	Formats      []string `json:"formats" yaml:"formats"`
	DebugOverlay bool     `json:"debug_overlay" yaml:"debug_overlay"`
	DebugFormat  string   `json:"debug_format" yaml:"debug_format"`
	Crops        bool     `json:"crops" yaml:"crops"`
	CropPadding  float64  `json:"crop_padding" yaml:"crop_padding"`
}

// Export formats understood by the CLI
var exportFormats = []string{"json", "yaml", "csv", "detections"}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:  BackendOllama,
			Model: "openbmb/minicpm-v4.5",
		},
		Analysis: AnalysisConfig{
			Concurrency:  dispatch.DefaultConcurrency,
			Mode:         string(detection.ModeSite),
			MinImageSize: 32,
		},
		Recovery: RecoveryConfig{
			PayloadKeys: append([]string(nil), recovery.DefaultPayloadKeys...),
			Sentinels:   append([]string(nil), recovery.DefaultSentinels...),
		},
		Processing: processing.DefaultPrepareOptions(),
		Output: OutputConfig{
			OutputDir:   "./output",
			Formats:     []string{"json", "csv"},
			DebugFormat: "png",
			CropPadding: 0.05,
		},
	}
}

// DefaultURL returns the conventional endpoint of a backend
func DefaultURL(backend string) string {
	switch backend {
	case BackendOllama:
		return "http://localhost:11435/api/chat"
	case BackendLlamaCpp:
		return "http://localhost:8080"
	default:
		return ""
	}
}

// LoadFromFile loads configuration from a JSON or YAML file. Fields missing
// from the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as JSON, or YAML for .yaml/.yml files
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
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

// LoadEnv reads the given dotenv files (".env" when none are named) and
// applies the environment on top of c. Missing files are skipped.
func (c *Config) LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend.Type = strings.ToLower(v)
	}
	if v := os.Getenv(EnvURL); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv(EnvGeminiKey); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConcurrency, err)
		}
		c.Analysis.Concurrency = n
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendOllama, BackendLlamaCpp:
	case BackendGemini:
		if strings.TrimSpace(c.Backend.APIKey) == "" {
			return fmt.Errorf("%w: backend.api_key is required for gemini (set %s)", ErrInvalidConfig, EnvGeminiKey)
		}
	default:
		return fmt.Errorf("%w: backend.type must be one of ollama, llamacpp, gemini", ErrInvalidConfig)
	}

	if strings.TrimSpace(c.Backend.Model) == "" {
		return fmt.Errorf("%w: backend.model cannot be empty", ErrInvalidConfig)
	}

	if c.Analysis.Concurrency < 0 {
		return fmt.Errorf("%w: analysis.concurrency cannot be negative", ErrInvalidConfig)
	}

	if !detection.Mode(c.Analysis.Mode).Valid() {
		return fmt.Errorf("%w: analysis.mode must be items or site", ErrInvalidConfig)
	}

	if c.Analysis.CoordSystem != "" && !geometry.CoordSystem(c.Analysis.CoordSystem).Valid() {
		return fmt.Errorf("%w: analysis.coord_system must be pixel or normalized_0_1000", ErrInvalidConfig)
	}

	if c.Analysis.Origin != "" && !geometry.Origin(c.Analysis.Origin).Valid() {
		return fmt.Errorf("%w: analysis.origin must be top-left or bottom-left", ErrInvalidConfig)
	}

	if c.Processing.Quality < 1 || c.Processing.Quality > 100 {
		return fmt.Errorf("%w: processing.quality must be between 1 and 100", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Processing.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("%w: processing.format must be jpg, png or webp", ErrInvalidConfig)
	}

	if c.Processing.Resize.TargetShortSide < 1 {
		return fmt.Errorf("%w: processing.resize.target_short_side must be positive", ErrInvalidConfig)
	}

	for _, f := range c.Output.Formats {
		if !contains(exportFormats, f) {
			return fmt.Errorf("%w: unknown output format %q", ErrInvalidConfig, f)
		}
	}

	if c.Output.CropPadding < 0 || c.Output.CropPadding > 1 {
		return fmt.Errorf("%w: output.crop_padding must be between 0 and 1", ErrInvalidConfig)
	}

	return nil
}

// ResolvedURL returns the configured URL or the backend default
func (c *Config) ResolvedURL() string {
	if c.Backend.URL != "" {
		return c.Backend.URL
	}
	return DefaultURL(c.Backend.Type)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "site-analyzer", "config.yaml")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
